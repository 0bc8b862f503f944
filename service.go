package xmlmode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gobeaver/beaver-kit/config"
)

// Global instance
var (
	defaultResolver *Resolver
	defaultOnce     sync.Once
	defaultErr      error
)

// Builder provides a way to create resolvers with custom env prefixes
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Init initializes the global resolver using the builder's prefix
func (b *Builder) Init() error {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return err
	}
	return Init(cfg)
}

// New creates a new resolver using the builder's prefix
func (b *Builder) New(options ...Option) (*Resolver, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return New(cfg, options...)
}

// Init initializes the global resolver instance
func Init(configs ...*Config) error {
	defaultOnce.Do(func() {
		var cfg *Config
		if len(configs) > 0 {
			cfg = configs[0]
		} else {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}

		defaultResolver, defaultErr = New(cfg)
	})

	return defaultErr
}

// Default returns the global resolver, initializing it from the
// environment on first use.
func Default() (*Resolver, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return defaultResolver, nil
}

// Reset clears the global instance (for testing)
func Reset() {
	defaultResolver = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}

// ModeFor resolves the validation mode of path with the global resolver.
func ModeFor(ctx context.Context, path string) (ValidationMode, error) {
	r, err := Default()
	if err != nil {
		return ValidationAuto, err
	}
	return r.ModeFor(ctx, path)
}

// New creates a resolver from config. Options given here are applied
// after the ones derived from cfg.
func New(cfg *Config, options ...Option) (*Resolver, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	source, err := CreateSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return NewResolver(source, append(opts, options...)...)
}

// validateConfig checks configuration validity
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Driver == "" {
		return errors.New("driver is required")
	}
	if _, err := ParseValidationMode(cfg.ValidationMode); err != nil {
		return err
	}
	if _, err := lookupCharset(cfg.Encoding); err != nil {
		return err
	}
	if cfg.MaxLineLength <= 0 {
		return fmt.Errorf("max line length must be positive (got %d)", cfg.MaxLineLength)
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive (got %d)", cfg.Concurrency)
	}
	if cfg.CacheTTLSeconds < 0 {
		return fmt.Errorf("cache ttl must not be negative (got %d)", cfg.CacheTTLSeconds)
	}
	if cfg.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll interval must not be negative (got %d)", cfg.PollIntervalSeconds)
	}
	return nil
}
