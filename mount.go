package xmlmode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrMountNotFound is returned when no mount point matches the path
	ErrMountNotFound = errors.New("no mount point found for path")
	// ErrMountExists is returned when trying to mount at an existing path
	ErrMountExists = errors.New("mount point already exists")
	// ErrInvalidMountPath is returned when the mount path is empty or
	// overlaps another mount
	ErrInvalidMountPath = errors.New("invalid mount path")
	// ErrNilSource is returned when trying to mount a nil source
	ErrNilSource = errors.New("source cannot be nil")
)

// MountSource presents several sources under virtual path prefixes, the
// way a classpath combines directories and archives. Mount paths may not
// be nested inside one another.
//
//	mounts := xmlmode.NewMountSource()
//	mounts.Mount("classes", localAdapter)
//	mounts.Mount("lib/app.jar", zipAdapter)
//	resolver, _ := xmlmode.NewResolver(mounts)
type MountSource struct {
	mu     sync.RWMutex
	mounts map[string]Source
}

// NewMountSource creates an empty mount source.
func NewMountSource() *MountSource {
	return &MountSource{
		mounts: make(map[string]Source),
	}
}

// Mount attaches src at mountPath.
func (m *MountSource) Mount(mountPath string, src Source) error {
	if src == nil {
		return ErrNilSource
	}

	mountPath = normalizeMountPath(mountPath)
	if mountPath == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMountPath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.mounts[mountPath]; exists {
		return fmt.Errorf("%w: %s", ErrMountExists, mountPath)
	}
	for existing := range m.mounts {
		if isPathPrefix(existing, mountPath) || isPathPrefix(mountPath, existing) {
			return fmt.Errorf("%w: %s overlaps %s", ErrInvalidMountPath, mountPath, existing)
		}
	}

	m.mounts[mountPath] = src
	return nil
}

// Unmount detaches the source at mountPath.
func (m *MountSource) Unmount(mountPath string) error {
	mountPath = normalizeMountPath(mountPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.mounts[mountPath]; !exists {
		return fmt.Errorf("%w: %s", ErrMountNotFound, mountPath)
	}
	delete(m.mounts, mountPath)
	return nil
}

// MountPaths returns all mount paths, sorted.
func (m *MountSource) MountPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.mounts))
	for p := range m.mounts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close closes every mounted source that holds resources.
func (m *MountSource) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, src := range m.mounts {
		if closer, ok := src.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// resolve finds the mount holding p and the path relative to it.
func (m *MountSource) resolve(p string) (Source, string, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for mountPath, src := range m.mounts {
		if p == mountPath || strings.HasPrefix(p, mountPath+"/") {
			rel := strings.TrimPrefix(strings.TrimPrefix(p, mountPath), "/")
			return src, mountPath, rel, true
		}
	}
	return nil, "", "", false
}

// isVirtualDir reports whether p is a directory implied by mount paths.
func (m *MountSource) isVirtualDir(p string) bool {
	if p == "" {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for mountPath := range m.mounts {
		if strings.HasPrefix(mountPath, p+"/") {
			return true
		}
	}
	return false
}

// Read implements Source
func (m *MountSource) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	filePath = normalizeMountPath(filePath)
	src, _, rel, ok := m.resolve(filePath)
	if !ok {
		return nil, &PathError{Op: "read", Path: filePath, Err: ErrNotExist}
	}
	return src.Read(ctx, rel)
}

// Stat implements Source
func (m *MountSource) Stat(ctx context.Context, filePath string) (*FileInfo, error) {
	filePath = normalizeMountPath(filePath)
	src, mountPath, rel, ok := m.resolve(filePath)
	if !ok {
		if m.isVirtualDir(filePath) {
			return &FileInfo{Name: path.Base(filePath), Path: filePath, IsDir: true}, nil
		}
		return nil, &PathError{Op: "stat", Path: filePath, Err: ErrNotExist}
	}

	info, err := src.Stat(ctx, rel)
	if err != nil {
		return nil, err
	}
	mounted := *info
	mounted.Path = path.Join(mountPath, info.Path)
	if rel == "" {
		mounted.Name = path.Base(mountPath)
	}
	return &mounted, nil
}

// ListContents implements Source. Listing a virtual directory shows the
// mount points below it and, when recursive, everything they hold.
func (m *MountSource) ListContents(ctx context.Context, dirPath string, recursive bool) ([]FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dirPath = normalizeMountPath(dirPath)
	if src, mountPath, rel, ok := m.resolve(dirPath); ok {
		files, err := src.ListContents(ctx, rel, recursive)
		if err != nil {
			return nil, err
		}
		return prefixPaths(mountPath, files), nil
	}
	if !m.isVirtualDir(dirPath) {
		return nil, &PathError{Op: "listcontents", Path: dirPath, Err: ErrNotExist}
	}

	m.mu.RLock()
	mounts := make(map[string]Source, len(m.mounts))
	for mountPath, src := range m.mounts {
		if dirPath == "" || strings.HasPrefix(mountPath, dirPath+"/") {
			mounts[mountPath] = src
		}
	}
	m.mu.RUnlock()

	seen := make(map[string]bool)
	var files []FileInfo
	addDir := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, FileInfo{Name: path.Base(p), Path: p, IsDir: true})
		}
	}

	for mountPath, src := range mounts {
		rest := strings.TrimPrefix(strings.TrimPrefix(mountPath, dirPath), "/")
		if !recursive {
			child := strings.SplitN(rest, "/", 2)[0]
			addDir(path.Join(dirPath, child))
			continue
		}

		// Every directory between dirPath and the mount point
		parts := strings.Split(rest, "/")
		for i := range parts {
			addDir(path.Join(dirPath, path.Join(parts[:i+1]...)))
		}
		children, err := src.ListContents(ctx, "", true)
		if err != nil {
			return nil, err
		}
		files = append(files, prefixPaths(mountPath, children)...)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// Watch implements CanWatch. A pattern that starts with a mount path is
// handed to that mount; any other pattern is watched on every mount that
// can watch.
func (m *MountSource) Watch(ctx context.Context, pattern string) (ChangeToken, error) {
	pattern = strings.TrimPrefix(pattern, "/")

	m.mu.RLock()
	mounts := make(map[string]Source, len(m.mounts))
	for mountPath, src := range m.mounts {
		mounts[mountPath] = src
	}
	m.mu.RUnlock()

	for mountPath, src := range mounts {
		if strings.HasPrefix(pattern, mountPath+"/") {
			watcher, ok := src.(CanWatch)
			if !ok {
				return nil, &PathError{Op: "watch", Path: pattern, Err: ErrNotSupported}
			}
			return watcher.Watch(ctx, strings.TrimPrefix(pattern, mountPath+"/"))
		}
	}

	var tokens []ChangeToken
	for _, src := range mounts {
		watcher, ok := src.(CanWatch)
		if !ok {
			continue
		}
		token, err := watcher.Watch(ctx, pattern)
		if err != nil {
			continue
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		return nil, &PathError{Op: "watch", Path: pattern, Err: ErrNotSupported}
	}
	return NewCompositeChangeToken(tokens...), nil
}

func prefixPaths(mountPath string, files []FileInfo) []FileInfo {
	out := make([]FileInfo, len(files))
	for i, f := range files {
		f.Path = path.Join(mountPath, f.Path)
		out[i] = f
	}
	return out
}

// isPathPrefix reports whether dir is p or one of its ancestors.
func isPathPrefix(dir, p string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// normalizeMountPath cleans p into the slash-separated, root-relative form
// sources use.
func normalizeMountPath(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Ensure MountSource implements interfaces
var (
	_ Source   = (*MountSource)(nil)
	_ CanWatch = (*MountSource)(nil)
)
