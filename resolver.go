package xmlmode

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of detecting one document in DetectAll.
type Result struct {
	Path string
	Mode ValidationMode
	Err  error
}

// Resolver decides the validation mode for documents held by a Source.
// It is safe for concurrent use.
type Resolver struct {
	source      Source
	detector    *Detector
	mode        ValidationMode
	cache       *ModeCache
	cacheTTL    time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewResolver creates a resolver reading documents from source.
func NewResolver(source Source, options ...Option) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}

	opts := processOptions(options...)
	if _, ok := modeNames[opts.ValidationMode]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(opts.ValidationMode))
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive (got %d)", opts.Concurrency)
	}

	detector, err := NewDetector(options...)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		source:      source,
		detector:    detector,
		mode:        opts.ValidationMode,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}, nil
}

// Source returns the source documents are read from.
func (r *Resolver) Source() Source {
	return r.source
}

// Cache returns the resolver's cache, or nil when caching is off.
func (r *Resolver) Cache() *ModeCache {
	return r.cache
}

// ModeFor returns the validation mode to use for the document at path.
//
// A configured mode other than ValidationAuto is returned as is. Otherwise
// the document is scanned; if the scan cannot decide, ValidationXSD is
// used since no DOCTYPE was found before detection stopped.
func (r *Resolver) ModeFor(ctx context.Context, path string) (ValidationMode, error) {
	if r.mode != ValidationAuto {
		return r.mode, nil
	}

	detected, err := r.detect(ctx, path)
	if err != nil {
		return ValidationAuto, fmt.Errorf("unable to determine validation mode for %s: %w", path, err)
	}
	if detected != ValidationAuto {
		return detected, nil
	}

	r.logger.Info("no clear validation mode, assuming xsd", zap.String("path", path))
	return ValidationXSD, nil
}

func (r *Resolver) detect(ctx context.Context, path string) (ValidationMode, error) {
	var key uint64
	if r.cache != nil {
		info, err := r.source.Stat(ctx, path)
		if err != nil {
			return ValidationAuto, err
		}
		if info.IsDir {
			return ValidationAuto, &PathError{Op: "detect", Path: path, Err: ErrIsDir}
		}
		key = Fingerprint(info)
		if mode, ok := r.cache.Get(key); ok {
			r.logger.Debug("validation mode from cache",
				zap.String("path", path),
				zap.Stringer("mode", mode))
			return mode, nil
		}
	}

	rc, err := r.source.Read(ctx, path)
	if err != nil {
		return ValidationAuto, err
	}
	mode, err := r.detector.Detect(rc)
	if err != nil {
		return ValidationAuto, err
	}

	if r.cache != nil {
		r.cache.Set(key, mode, r.cacheTTL)
	}
	r.logger.Debug("detected validation mode",
		zap.String("path", path),
		zap.Stringer("mode", mode))
	return mode, nil
}

// DetectAll resolves the mode of every document under dir whose path
// relative to dir matches pattern. Per-document failures are reported in
// Result.Err; only a cancelled context aborts the run. Results are sorted
// by path.
func (r *Resolver) DetectAll(ctx context.Context, dir, pattern string) ([]Result, error) {
	if pattern == "" {
		pattern = "**.xml"
	}
	sel, err := Glob(pattern, dir)
	if err != nil {
		return nil, err
	}
	return r.DetectSelected(ctx, dir, sel)
}

// DetectSelected is like DetectAll but visits the documents sel accepts.
func (r *Resolver) DetectSelected(ctx context.Context, dir string, sel Selector) ([]Result, error) {
	entries, err := ListSelected(ctx, r.source, dir, sel)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, entry.Path)
	}
	sort.Strings(paths)

	results := make([]Result, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for i, docPath := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			mode, err := r.ModeFor(egCtx, docPath)
			results[i] = Result{Path: docPath, Mode: mode, Err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// WatchInvalidate clears the cache whenever a document matching pattern
// changes, until ctx is done. It blocks; run it in its own goroutine.
func (r *Resolver) WatchInvalidate(ctx context.Context, pattern string) error {
	watcher, ok := r.source.(CanWatch)
	if !ok {
		return fmt.Errorf("%w: source cannot watch", ErrNotSupported)
	}
	if r.cache == nil {
		return errors.New("cache is disabled")
	}

	err := OnChange(ctx,
		func(ctx context.Context) (ChangeToken, error) { return watcher.Watch(ctx, pattern) },
		func() {
			r.logger.Debug("documents changed, clearing validation mode cache",
				zap.String("pattern", pattern))
			r.cache.Clear()
		},
	)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func relativeTo(dir, p string) string {
	dir = path.Clean("/" + dir)
	p = path.Clean("/" + p)
	if dir == "/" {
		return strings.TrimPrefix(p, "/")
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, dir), "/")
}
