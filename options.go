package xmlmode

import (
	"time"

	"go.uber.org/zap"
)

// DefaultMaxLineLength bounds a single line of a scanned document.
const DefaultMaxLineLength = 16 * 1024 * 1024

// DefaultConcurrency is the number of documents DetectAll scans at once.
const DefaultConcurrency = 4

// Option represents a configuration option
type Option func(*Options)

// Options contains all possible options for detectors and resolvers
type Options struct {
	// Encoding names the character encoding of scanned documents.
	// Empty means UTF-8. A byte order mark overrides it.
	Encoding string

	// MaxLineLength is the longest line the scanner accepts
	MaxLineLength int

	// Logger receives debug output; nil means no logging
	Logger *zap.Logger

	// ValidationMode is the configured mode. Anything but ValidationAuto
	// is returned by a Resolver without reading the document.
	ValidationMode ValidationMode

	// Cache stores detected modes; nil disables caching
	Cache *ModeCache

	// CacheTTL is how long a cached mode stays valid (0 = no expiry)
	CacheTTL time.Duration

	// Concurrency bounds parallel scans in DetectAll
	Concurrency int
}

func defaultOptions() *Options {
	return &Options{
		MaxLineLength:  DefaultMaxLineLength,
		Logger:         zap.NewNop(),
		ValidationMode: ValidationAuto,
		Concurrency:    DefaultConcurrency,
	}
}

func processOptions(options ...Option) *Options {
	opts := defaultOptions()
	for _, opt := range options {
		opt(opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// WithEncoding sets the character encoding of scanned documents
func WithEncoding(encoding string) Option {
	return func(o *Options) {
		o.Encoding = encoding
	}
}

// WithMaxLineLength sets the longest line the scanner accepts
func WithMaxLineLength(n int) Option {
	return func(o *Options) {
		o.MaxLineLength = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithValidationMode sets the configured validation mode
func WithValidationMode(mode ValidationMode) Option {
	return func(o *Options) {
		o.ValidationMode = mode
	}
}

// WithCache enables caching of detected modes
func WithCache(cache *ModeCache) Option {
	return func(o *Options) {
		o.Cache = cache
	}
}

// WithCacheTTL sets how long cached modes stay valid
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.CacheTTL = ttl
	}
}

// WithConcurrency sets how many documents DetectAll scans at once
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.Concurrency = n
	}
}
