package xmlmode

import (
	"context"
	"io"
	"time"
)

// FileInfo represents document/directory metadata
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Source hands out document streams. It is the read-only slice of a
// filesystem the resolver needs; drivers live under driver/.
type Source interface {
	// Read returns a stream for reading document content.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns document/directory metadata.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// ListContents lists directory contents.
	// If recursive is true, includes all descendants.
	ListContents(ctx context.Context, path string, recursive bool) ([]FileInfo, error)
}

// ChangeToken represents a change notification token.
//
// Consumers can either poll HasChanged() or register a callback via
// RegisterChangeCallback().
type ChangeToken interface {
	// HasChanged returns true if a change has occurred.
	// Once true, it remains true (tokens are single-use).
	HasChanged() bool

	// ActiveChangeCallbacks indicates if the token proactively raises callbacks.
	ActiveChangeCallbacks() bool

	// RegisterChangeCallback registers a callback to be invoked when change occurs.
	// Returns a function to unregister the callback.
	RegisterChangeCallback(callback func()) (unregister func())
}

// CanWatch indicates the source supports change notifications.
//
//	if watcher, ok := src.(CanWatch); ok {
//	    token, err := watcher.Watch(ctx, "**.xml")
//	    ...
//	}
type CanWatch interface {
	// Watch creates a change token for the specified glob pattern.
	// The token signals when any matching document is created, modified,
	// or deleted.
	Watch(ctx context.Context, pattern string) (ChangeToken, error)
}
