package memory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/xmlmode"
	"github.com/gobwas/glob"
)

// memoryFile represents a document stored in memory
type memoryFile struct {
	content []byte
	modTime time.Time
}

// watchEntry represents a single watch subscription
type watchEntry struct {
	filter glob.Glob
	token  *xmlmode.CallbackChangeToken
}

// Adapter provides an in-memory xmlmode.Source.
// Useful for testing and for documents that never touch disk.
type Adapter struct {
	mu      sync.RWMutex
	files   map[string]*memoryFile
	dirs    map[string]time.Time
	maxSize int64 // Maximum total storage size (0 = unlimited)
	size    int64 // Current total size

	// Watch support
	watchMu sync.RWMutex
	watches []*watchEntry
}

// Config holds configuration for the memory adapter
type Config struct {
	// MaxSize is the maximum total storage size in bytes (0 = unlimited)
	MaxSize int64
}

// New creates a new in-memory adapter
func New(cfg ...Config) *Adapter {
	var maxSize int64
	if len(cfg) > 0 {
		maxSize = cfg[0].MaxSize
	}

	a := &Adapter{
		files:   make(map[string]*memoryFile),
		dirs:    make(map[string]time.Time),
		maxSize: maxSize,
	}
	a.dirs[""] = time.Now()

	return a
}

// Write stores content at path, replacing any existing document.
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	filePath = normalizePath(filePath)
	if !isValidPath(filePath) {
		return &xmlmode.PathError{
			Op:   "write",
			Path: filePath,
			Err:  xmlmode.ErrNotAllowed,
		}
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return &xmlmode.PathError{
			Op:   "write",
			Path: filePath,
			Err:  err,
		}
	}

	a.mu.Lock()
	if _, isDir := a.dirs[filePath]; isDir {
		a.mu.Unlock()
		return &xmlmode.PathError{Op: "write", Path: filePath, Err: xmlmode.ErrIsDir}
	}

	newSize := a.size + int64(len(data))
	if existing, exists := a.files[filePath]; exists {
		newSize -= int64(len(existing.content))
	}
	if a.maxSize > 0 && newSize > a.maxSize {
		a.mu.Unlock()
		return &xmlmode.PathError{
			Op:   "write",
			Path: filePath,
			Err:  xmlmode.ErrNotAllowed,
		}
	}

	a.ensureParentDirs(filePath)
	a.files[filePath] = &memoryFile{
		content: data,
		modTime: time.Now(),
	}
	a.size = newSize
	a.mu.Unlock()

	a.notifyWatchers(filePath)

	return nil
}

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath = normalizePath(filePath)

	a.mu.RLock()
	defer a.mu.RUnlock()

	file, exists := a.files[filePath]
	if !exists {
		return nil, &xmlmode.PathError{
			Op:   "read",
			Path: filePath,
			Err:  xmlmode.ErrNotExist,
		}
	}

	// Stored content is never mutated in place, so the reader can share it
	return io.NopCloser(bytes.NewReader(file.content)), nil
}

// Delete removes a document
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	filePath = normalizePath(filePath)

	a.mu.Lock()
	file, exists := a.files[filePath]
	if !exists {
		a.mu.Unlock()
		return &xmlmode.PathError{
			Op:   "delete",
			Path: filePath,
			Err:  xmlmode.ErrNotExist,
		}
	}
	a.size -= int64(len(file.content))
	delete(a.files, filePath)
	a.mu.Unlock()

	a.notifyWatchers(filePath)

	return nil
}

// Stat implements xmlmode.Source
func (a *Adapter) Stat(ctx context.Context, filePath string) (*xmlmode.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath = normalizePath(filePath)

	a.mu.RLock()
	defer a.mu.RUnlock()

	if file, exists := a.files[filePath]; exists {
		return &xmlmode.FileInfo{
			Name:    path.Base(filePath),
			Path:    filePath,
			Size:    int64(len(file.content)),
			ModTime: file.modTime,
		}, nil
	}

	if modTime, exists := a.dirs[filePath]; exists {
		return &xmlmode.FileInfo{
			Name:    path.Base(filePath),
			Path:    filePath,
			ModTime: modTime,
			IsDir:   true,
		}, nil
	}

	return nil, &xmlmode.PathError{
		Op:   "stat",
		Path: filePath,
		Err:  xmlmode.ErrNotExist,
	}
}

// ListContents implements xmlmode.Source
func (a *Adapter) ListContents(ctx context.Context, dirPath string, recursive bool) ([]xmlmode.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dirPath = normalizePath(dirPath)

	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, exists := a.dirs[dirPath]; !exists {
		if _, isFile := a.files[dirPath]; isFile {
			return nil, &xmlmode.PathError{
				Op:   "listcontents",
				Path: dirPath,
				Err:  xmlmode.ErrNotDir,
			}
		}
		return nil, &xmlmode.PathError{
			Op:   "listcontents",
			Path: dirPath,
			Err:  xmlmode.ErrNotExist,
		}
	}

	prefix := ""
	if dirPath != "" {
		prefix = dirPath + "/"
	}

	// child reports whether p sits under dirPath, directly unless recursive
	child := func(p string) bool {
		if p == dirPath || !strings.HasPrefix(p, prefix) {
			return false
		}
		return recursive || !strings.Contains(strings.TrimPrefix(p, prefix), "/")
	}

	var files []xmlmode.FileInfo
	for filePath, file := range a.files {
		if child(filePath) {
			files = append(files, xmlmode.FileInfo{
				Name:    path.Base(filePath),
				Path:    filePath,
				Size:    int64(len(file.content)),
				ModTime: file.modTime,
			})
		}
	}
	for subDir, modTime := range a.dirs {
		if subDir != "" && child(subDir) {
			files = append(files, xmlmode.FileInfo{
				Name:    path.Base(subDir),
				Path:    subDir,
				ModTime: modTime,
				IsDir:   true,
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// Clear removes all documents
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.files = make(map[string]*memoryFile)
	a.dirs = map[string]time.Time{"": time.Now()}
	a.size = 0
}

// Size returns the total size of stored documents
func (a *Adapter) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// FileCount returns the number of stored documents
func (a *Adapter) FileCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.files)
}

// Watch implements xmlmode.CanWatch. Supports glob patterns like
// "**.xml", "*.xml", "config/*"; '*' stops at '/'.
func (a *Adapter) Watch(ctx context.Context, filter string) (xmlmode.ChangeToken, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	g, err := glob.Compile(filter, '/')
	if err != nil {
		return nil, &xmlmode.PathError{
			Op:   "watch",
			Path: filter,
			Err:  err,
		}
	}

	token := xmlmode.NewCallbackChangeToken()
	entry := &watchEntry{filter: g, token: token}

	a.watchMu.Lock()
	a.watches = append(a.watches, entry)
	a.watchMu.Unlock()

	// Clean up when context is cancelled or the token fires
	unregister := token.RegisterChangeCallback(func() {
		go a.removeWatch(entry)
	})
	go func() {
		<-ctx.Done()
		unregister()
		a.removeWatch(entry)
	}()

	return token, nil
}

// notifyWatchers signals all watchers whose filter matches the given path
func (a *Adapter) notifyWatchers(filePath string) {
	a.watchMu.RLock()
	matched := make([]*watchEntry, 0, len(a.watches))
	for _, entry := range a.watches {
		if entry.filter.Match(filePath) {
			matched = append(matched, entry)
		}
	}
	a.watchMu.RUnlock()

	for _, entry := range matched {
		entry.token.SignalChange()
	}
}

// removeWatch removes a watch entry
func (a *Adapter) removeWatch(target *watchEntry) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()

	for i, entry := range a.watches {
		if entry == target {
			a.watches[i] = a.watches[len(a.watches)-1]
			a.watches = a.watches[:len(a.watches)-1]
			return
		}
	}
}

// ensureParentDirs creates all parent directories for a given path
// Must be called with lock held
func (a *Adapter) ensureParentDirs(filePath string) {
	dir := path.Dir(filePath)
	for dir != "" && dir != "." && dir != "/" {
		if _, exists := a.dirs[dir]; !exists {
			a.dirs[dir] = time.Now()
		}
		dir = path.Dir(dir)
	}
}

// normalizePath normalizes a document path
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

// isValidPath checks if a path is valid (no directory traversal)
func isValidPath(p string) bool {
	return p != "" && p != ".." && !strings.HasPrefix(p, "../")
}

// Ensure Adapter implements interfaces
var (
	_ xmlmode.Source   = (*Adapter)(nil)
	_ xmlmode.CanWatch = (*Adapter)(nil)
)
