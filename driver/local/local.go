package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobeaver/xmlmode"
	"github.com/gobwas/glob"
)

// Adapter serves documents from a directory on the local filesystem
type Adapter struct {
	root string
}

// New creates a new local adapter rooted at root, which must be an
// existing directory
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &xmlmode.PathError{Op: "open", Path: root, Err: xmlmode.ErrNotExist}
		}
		return nil, &xmlmode.PathError{Op: "open", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &xmlmode.PathError{Op: "open", Path: root, Err: xmlmode.ErrNotDir}
	}

	return &Adapter{
		root: absRoot,
	}, nil
}

// Root returns the absolute root directory
func (a *Adapter) Root() string {
	return a.root
}

// resolve maps path onto the root, rejecting paths that escape it
func (a *Adapter) resolve(op, path string) (string, error) {
	fullPath := filepath.Join(a.root, filepath.Clean(path))
	if !isPathUnderRoot(a.root, fullPath) {
		return "", &xmlmode.PathError{
			Op:   op,
			Path: path,
			Err:  xmlmode.ErrNotAllowed,
		}
	}
	return fullPath, nil
}

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// Continue
	}

	fullPath, err := a.resolve("read", path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &xmlmode.PathError{
				Op:   "read",
				Path: path,
				Err:  xmlmode.ErrNotExist,
			}
		}
		return nil, &xmlmode.PathError{
			Op:   "read",
			Path: path,
			Err:  err,
		}
	}

	return f, nil
}

// Stat implements xmlmode.Source
func (a *Adapter) Stat(ctx context.Context, path string) (*xmlmode.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// Continue
	}

	fullPath, err := a.resolve("stat", path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &xmlmode.PathError{
				Op:   "stat",
				Path: path,
				Err:  xmlmode.ErrNotExist,
			}
		}
		return nil, &xmlmode.PathError{
			Op:   "stat",
			Path: path,
			Err:  err,
		}
	}

	return &xmlmode.FileInfo{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// ListContents implements xmlmode.Source. Paths are relative to the root
// and use forward slashes.
func (a *Adapter) ListContents(ctx context.Context, path string, recursive bool) ([]xmlmode.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// Continue
	}

	fullPath, err := a.resolve("listcontents", path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &xmlmode.PathError{
				Op:   "listcontents",
				Path: path,
				Err:  xmlmode.ErrNotExist,
			}
		}
		return nil, &xmlmode.PathError{
			Op:   "listcontents",
			Path: path,
			Err:  err,
		}
	}
	if !info.IsDir() {
		return nil, &xmlmode.PathError{
			Op:   "listcontents",
			Path: path,
			Err:  xmlmode.ErrNotDir,
		}
	}

	var files []xmlmode.FileInfo

	if recursive {
		err = filepath.Walk(fullPath, func(walkPath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			// Skip the root directory itself
			if walkPath == fullPath {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			relPath, err := filepath.Rel(a.root, walkPath)
			if err != nil {
				return err
			}

			files = append(files, xmlmode.FileInfo{
				Name:    info.Name(),
				Path:    filepath.ToSlash(relPath),
				Size:    info.Size(),
				ModTime: info.ModTime(),
				IsDir:   info.IsDir(),
			})

			return nil
		})
		if err != nil {
			return nil, &xmlmode.PathError{
				Op:   "listcontents",
				Path: path,
				Err:  err,
			}
		}
		return files, nil
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, &xmlmode.PathError{
			Op:   "listcontents",
			Path: path,
			Err:  err,
		}
	}

	files = make([]xmlmode.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		relPath, err := filepath.Rel(a.root, filepath.Join(fullPath, entry.Name()))
		if err != nil {
			continue
		}

		files = append(files, xmlmode.FileInfo{
			Name:    entry.Name(),
			Path:    filepath.ToSlash(relPath),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}

	return files, nil
}

// Watch implements xmlmode.CanWatch using fsnotify for native file system
// events. The token fires once, on the first matching change.
func (a *Adapter) Watch(ctx context.Context, filter string) (xmlmode.ChangeToken, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if _, err := glob.Compile(filter, '/'); err != nil {
		return nil, &xmlmode.PathError{Op: "watch", Path: filter, Err: err}
	}

	token := xmlmode.NewCallbackChangeToken()

	// Watch the directory part before the first glob character
	watchPath := a.root
	filterPattern := filter
	if !strings.HasPrefix(filter, "*") {
		idx := strings.IndexAny(filter, "*?[")
		if idx > 0 {
			dirPart := filter[:idx]
			if lastSlash := strings.LastIndex(dirPart, "/"); lastSlash >= 0 {
				watchPath = filepath.Join(a.root, dirPart[:lastSlash])
				filterPattern = filter[lastSlash+1:]
			}
		} else if idx < 0 {
			// No glob - watch specific file
			watchPath = filepath.Join(a.root, filepath.Dir(filter))
			filterPattern = filepath.Base(filter)
		}
	}
	if !isPathUnderRoot(a.root, watchPath) {
		return nil, &xmlmode.PathError{Op: "watch", Path: filter, Err: xmlmode.ErrNotAllowed}
	}

	watcher, err := newFSWatcher()
	if err != nil {
		return nil, &xmlmode.PathError{Op: "watch", Path: filter, Err: err}
	}

	if err := watcher.Add(watchPath); err != nil {
		_ = watcher.Close()
		return nil, &xmlmode.PathError{Op: "watch", Path: filter, Err: err}
	}

	// For recursive patterns (**), add all subdirectories
	if strings.Contains(filter, "**") {
		_ = filepath.Walk(watchPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() && path != watchPath {
				_ = watcher.Add(path)
			}
			return nil
		})
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events():
				if !ok {
					return
				}

				relPath, err := filepath.Rel(a.root, event.Name)
				if err != nil {
					continue
				}
				relPath = filepath.ToSlash(relPath)

				if matchesFilter(relPath, filter) || matchesFilter(filepath.Base(relPath), filterPattern) {
					token.SignalChange()
					return // Token is spent after first change
				}
			case _, ok := <-watcher.Errors():
				if !ok {
					return
				}
			}
		}
	}()

	return token, nil
}

// isPathUnderRoot checks if a path is under a given root directory
func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// matchesFilter checks if a path matches a glob filter pattern. '*' stops
// at '/', '**' does not.
func matchesFilter(path, filter string) bool {
	g, err := glob.Compile(filter, '/')
	if err != nil {
		return false
	}
	return g.Match(path)
}

// Ensure Adapter implements interfaces
var (
	_ xmlmode.Source   = (*Adapter)(nil)
	_ xmlmode.CanWatch = (*Adapter)(nil)
)
