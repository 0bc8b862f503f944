package zip

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/xmlmode"
)

// Adapter serves documents packaged in a ZIP archive (jar-style bundles of
// configuration). It is read-only.
type Adapter struct {
	mu     sync.RWMutex
	path   string
	reader *zip.ReadCloser
	files  map[string]*zipEntry
	closed bool
}

// zipEntry represents a file or directory in the ZIP
type zipEntry struct {
	file    *zip.File // nil for implied directories
	modTime time.Time
	isDir   bool
}

// Open opens an existing ZIP file for reading
func Open(zipPath string) (*Adapter, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	a := &Adapter{
		path:   zipPath,
		reader: reader,
		files:  make(map[string]*zipEntry),
	}

	for _, f := range reader.File {
		name := normalizePath(f.Name)
		if name == "" || !isValidPath(name) {
			continue
		}
		a.files[name] = &zipEntry{
			file:    f,
			modTime: f.Modified,
			isDir:   f.FileInfo().IsDir(),
		}
		a.ensureParentDirs(name)
	}

	return a, nil
}

// Path returns the archive path
func (a *Adapter) Path() string {
	return a.path
}

// Close closes the archive. Streams already handed out must not be read
// afterwards.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.reader.Close()
}

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	filePath = normalizePath(filePath)
	if a.closed {
		return nil, &xmlmode.PathError{Op: "read", Path: filePath, Err: xmlmode.ErrNotAllowed}
	}

	entry, exists := a.files[filePath]
	if !exists {
		return nil, &xmlmode.PathError{Op: "read", Path: filePath, Err: xmlmode.ErrNotExist}
	}
	if entry.isDir {
		return nil, &xmlmode.PathError{Op: "read", Path: filePath, Err: xmlmode.ErrIsDir}
	}

	rc, err := entry.file.Open()
	if err != nil {
		return nil, &xmlmode.PathError{Op: "read", Path: filePath, Err: err}
	}
	return rc, nil
}

// Stat implements xmlmode.Source
func (a *Adapter) Stat(ctx context.Context, filePath string) (*xmlmode.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	filePath = normalizePath(filePath)
	if filePath == "" {
		return &xmlmode.FileInfo{Name: path.Base(a.path), Path: "", IsDir: true}, nil
	}

	entry, exists := a.files[filePath]
	if !exists {
		return nil, &xmlmode.PathError{Op: "stat", Path: filePath, Err: xmlmode.ErrNotExist}
	}
	return entry.info(filePath), nil
}

// ListContents implements xmlmode.Source
func (a *Adapter) ListContents(ctx context.Context, prefix string, recursive bool) ([]xmlmode.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	prefix = normalizePath(prefix)
	if prefix != "" {
		entry, exists := a.files[prefix]
		if !exists {
			return nil, &xmlmode.PathError{Op: "listcontents", Path: prefix, Err: xmlmode.ErrNotExist}
		}
		if !entry.isDir {
			return nil, &xmlmode.PathError{Op: "listcontents", Path: prefix, Err: xmlmode.ErrNotDir}
		}
	}

	var files []xmlmode.FileInfo
	for entryPath, entry := range a.files {
		relPath := entryPath
		if prefix != "" {
			if !strings.HasPrefix(entryPath, prefix+"/") {
				continue
			}
			relPath = strings.TrimPrefix(entryPath, prefix+"/")
		}
		if relPath == "" || (!recursive && strings.Contains(relPath, "/")) {
			continue
		}
		files = append(files, *entry.info(entryPath))
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

func (e *zipEntry) info(entryPath string) *xmlmode.FileInfo {
	var size int64
	if e.file != nil && !e.isDir {
		size = int64(e.file.UncompressedSize64)
	}
	return &xmlmode.FileInfo{
		Name:    path.Base(entryPath),
		Path:    entryPath,
		Size:    size,
		ModTime: e.modTime,
		IsDir:   e.isDir,
	}
}

// ensureParentDirs adds implied directories for a given path
func (a *Adapter) ensureParentDirs(filePath string) {
	dir := path.Dir(filePath)
	for dir != "" && dir != "." && dir != "/" {
		if _, exists := a.files[dir]; !exists {
			a.files[dir] = &zipEntry{isDir: true}
		}
		dir = path.Dir(dir)
	}
}

// normalizePath normalizes an entry path
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

// isValidPath rejects entries that climb out of the archive
func isValidPath(p string) bool {
	return p != ".." && !strings.HasPrefix(p, "../")
}

// Ensure Adapter implements interfaces
var _ xmlmode.Source = (*Adapter)(nil)
