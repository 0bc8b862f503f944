package gcs

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/gobeaver/xmlmode"
)

// Adapter serves documents stored in a Google Cloud Storage bucket. It is
// read-only.
type Adapter struct {
	client       *storage.Client
	bucket       string
	prefix       string
	pollInterval time.Duration
}

// AdapterOption is a function that configures GCS Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for GCS objects
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		// Ensure prefix ends with a slash if it's not empty
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithPollInterval sets how often Watch lists the bucket
func WithPollInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.pollInterval = d
	}
}

// New creates a new GCS source
func New(client *storage.Client, bucket string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client:       client,
		bucket:       bucket,
		pollInterval: 30 * time.Second,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

func (a *Adapter) key(filePath string) string {
	return path.Join(a.prefix, strings.TrimPrefix(filePath, "/"))
}

func (a *Adapter) relPath(name string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, a.prefix), "/")
}

// listPrefix is the object prefix ListContents queries for dir.
func (a *Adapter) listPrefix(dir string) string {
	if dir == "" {
		return a.prefix
	}
	return a.key(dir) + "/"
}

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	reader, err := a.client.Bucket(a.bucket).Object(a.key(filePath)).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("read", filePath, err)
	}
	return reader, nil
}

// Stat implements xmlmode.Source
func (a *Adapter) Stat(ctx context.Context, filePath string) (*xmlmode.FileInfo, error) {
	filePath = strings.Trim(filePath, "/")
	if filePath == "" {
		return &xmlmode.FileInfo{Name: a.bucket, IsDir: true}, nil
	}

	bkt := a.client.Bucket(a.bucket)
	attrs, err := bkt.Object(a.key(filePath)).Attrs(ctx)
	if err == nil {
		info := a.fileInfo(attrs)
		return &info, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return nil, mapGCSError("stat", filePath, err)
	}

	// If directory marker doesn't exist, check if any objects with this prefix exist
	it := bkt.Objects(ctx, &storage.Query{Prefix: a.listPrefix(filePath)})
	if _, nextErr := it.Next(); nextErr != nil {
		if errors.Is(nextErr, iterator.Done) {
			return nil, mapGCSError("stat", filePath, err)
		}
		return nil, mapGCSError("stat", filePath, nextErr)
	}
	return &xmlmode.FileInfo{Name: path.Base(filePath), Path: filePath, IsDir: true}, nil
}

// ListContents implements xmlmode.Source
func (a *Adapter) ListContents(ctx context.Context, dir string, recursive bool) ([]xmlmode.FileInfo, error) {
	dir = strings.Trim(dir, "/")
	listPrefix := a.listPrefix(dir)

	query := &storage.Query{Prefix: listPrefix}
	if !recursive {
		query.Delimiter = "/"
	}

	var attrs []*storage.ObjectAttrs
	it := a.client.Bucket(a.bucket).Objects(ctx, query)
	for {
		oa, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSError("listcontents", dir, err)
		}
		attrs = append(attrs, oa)
	}

	files := a.collect(listPrefix, dir, recursive, attrs)
	if len(files) == 0 && dir != "" {
		info, err := a.Stat(ctx, dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir {
			return nil, &xmlmode.PathError{Op: "listcontents", Path: dir, Err: xmlmode.ErrNotDir}
		}
	}
	return files, nil
}

// collect turns listed object attributes into sorted entries. Recursive
// listings get an entry for every directory implied by an object name.
func (a *Adapter) collect(listPrefix, dir string, recursive bool, attrs []*storage.ObjectAttrs) []xmlmode.FileInfo {
	var files []xmlmode.FileInfo
	dirs := make(map[string]bool)
	addDir := func(relPath string) {
		if relPath == "" || dirs[relPath] {
			return
		}
		dirs[relPath] = true
		files = append(files, xmlmode.FileInfo{Name: path.Base(relPath), Path: relPath, IsDir: true})
	}

	for _, oa := range attrs {
		// Handle "directory" prefixes (only when not recursive)
		if oa.Prefix != "" {
			addDir(strings.TrimSuffix(a.relPath(oa.Prefix), "/"))
			continue
		}
		// Skip the directory itself
		if oa.Name == listPrefix {
			continue
		}
		if strings.HasSuffix(oa.Name, "/") || oa.ContentType == "application/x-directory" {
			addDir(strings.TrimSuffix(a.relPath(oa.Name), "/"))
			continue
		}
		info := a.fileInfo(oa)
		if recursive {
			for d := path.Dir(info.Path); d != "." && d != dir; d = path.Dir(d) {
				addDir(d)
			}
		}
		files = append(files, info)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

func (a *Adapter) fileInfo(oa *storage.ObjectAttrs) xmlmode.FileInfo {
	relPath := a.relPath(oa.Name)
	return xmlmode.FileInfo{
		Name:    path.Base(relPath),
		Path:    relPath,
		Size:    oa.Size,
		ModTime: oa.Updated,
	}
}

// Watch implements xmlmode.CanWatch by polling the bucket listing.
func (a *Adapter) Watch(ctx context.Context, pattern string) (xmlmode.ChangeToken, error) {
	token, err := xmlmode.PollWatch(ctx, a, pattern, a.pollInterval)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Close releases the storage client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// mapGCSError maps GCS errors to xmlmode errors
func mapGCSError(op, filePath string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotExist}
	}
	return &xmlmode.PathError{Op: op, Path: filePath, Err: err}
}

// Ensure Adapter implements interfaces
var (
	_ xmlmode.Source   = (*Adapter)(nil)
	_ xmlmode.CanWatch = (*Adapter)(nil)
)
