package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/gobeaver/xmlmode"
)

const directoryContentType = "application/x-directory"

// Adapter serves documents stored in an Azure Blob Storage container. It
// is read-only.
type Adapter struct {
	client        *azblob.Client
	containerName string
	prefix        string
	pollInterval  time.Duration
}

// AdapterOption is a function that configures Azure Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for Azure blobs
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		// Ensure prefix ends with a slash if it's not empty
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithPollInterval sets how often Watch lists the container
func WithPollInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.pollInterval = d
	}
}

// New creates a new Azure Blob Storage source
func New(client *azblob.Client, containerName string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client:        client,
		containerName: containerName,
		pollInterval:  30 * time.Second,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

func (a *Adapter) blobName(filePath string) string {
	return path.Join(a.prefix, strings.TrimPrefix(filePath, "/"))
}

func (a *Adapter) relPath(name string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, a.prefix), "/")
}

func (a *Adapter) listPrefix(dir string) string {
	if dir == "" {
		return a.prefix
	}
	return a.blobName(dir) + "/"
}

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, a.blobName(filePath), nil)
	if err != nil {
		return nil, mapAzureError("read", filePath, err)
	}
	return resp.Body, nil
}

// Stat implements xmlmode.Source
func (a *Adapter) Stat(ctx context.Context, filePath string) (*xmlmode.FileInfo, error) {
	filePath = strings.Trim(filePath, "/")
	if filePath == "" {
		return &xmlmode.FileInfo{Name: a.containerName, IsDir: true}, nil
	}

	containerClient := a.client.ServiceClient().NewContainerClient(a.containerName)
	props, err := containerClient.NewBlobClient(a.blobName(filePath)).GetProperties(ctx, nil)
	if err == nil {
		return &xmlmode.FileInfo{
			Name:    path.Base(filePath),
			Path:    filePath,
			Size:    deref(props.ContentLength),
			ModTime: deref(props.LastModified),
			IsDir:   deref(props.ContentType) == directoryContentType,
		}, nil
	}

	mapped := mapAzureError("stat", filePath, err)
	if !xmlmode.IsNotExist(mapped) {
		return nil, mapped
	}

	// If directory marker doesn't exist, check if any blobs with this prefix exist
	pager := containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:     ptr(a.listPrefix(filePath)),
		MaxResults: ptr(int32(1)),
	})
	if pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapAzureError("stat", filePath, err)
		}
		if len(resp.Segment.BlobItems) > 0 {
			return &xmlmode.FileInfo{Name: path.Base(filePath), Path: filePath, IsDir: true}, nil
		}
	}
	return nil, mapped
}

// ListContents implements xmlmode.Source. Recursive listings use the flat
// pager, others the hierarchy pager.
func (a *Adapter) ListContents(ctx context.Context, dir string, recursive bool) ([]xmlmode.FileInfo, error) {
	dir = strings.Trim(dir, "/")
	listPrefix := a.listPrefix(dir)
	containerClient := a.client.ServiceClient().NewContainerClient(a.containerName)

	var (
		items    []*container.BlobItem
		prefixes []*container.BlobPrefix
	)
	if recursive {
		pager := containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
			Prefix: &listPrefix,
		})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, mapAzureError("listcontents", dir, err)
			}
			items = append(items, resp.Segment.BlobItems...)
		}
	} else {
		pager := containerClient.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
			Prefix: &listPrefix,
		})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, mapAzureError("listcontents", dir, err)
			}
			items = append(items, resp.Segment.BlobItems...)
			prefixes = append(prefixes, resp.Segment.BlobPrefixes...)
		}
	}

	files := a.collect(listPrefix, dir, recursive, items, prefixes)
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

// collect turns listed blobs and blob prefixes into sorted entries.
func (a *Adapter) collect(listPrefix, dir string, recursive bool, items []*container.BlobItem, prefixes []*container.BlobPrefix) []xmlmode.FileInfo {
	var files []xmlmode.FileInfo
	dirs := make(map[string]bool)
	addDir := func(relPath string) {
		if relPath == "" || dirs[relPath] {
			return
		}
		dirs[relPath] = true
		files = append(files, xmlmode.FileInfo{Name: path.Base(relPath), Path: relPath, IsDir: true})
	}

	for _, p := range prefixes {
		if p.Name != nil {
			addDir(strings.TrimSuffix(a.relPath(*p.Name), "/"))
		}
	}

	for _, item := range items {
		// Skip the directory itself
		if item.Name == nil || *item.Name == listPrefix {
			continue
		}
		relPath := strings.TrimSuffix(a.relPath(*item.Name), "/")

		var size int64
		var modTime time.Time
		var contentType string
		if item.Properties != nil {
			size = deref(item.Properties.ContentLength)
			modTime = deref(item.Properties.LastModified)
			contentType = deref(item.Properties.ContentType)
		}

		if strings.HasSuffix(*item.Name, "/") || contentType == directoryContentType {
			addDir(relPath)
			continue
		}
		if recursive {
			for d := path.Dir(relPath); d != "." && d != dir; d = path.Dir(d) {
				addDir(d)
			}
		}
		files = append(files, xmlmode.FileInfo{
			Name:    path.Base(relPath),
			Path:    relPath,
			Size:    size,
			ModTime: modTime,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

// Watch implements xmlmode.CanWatch by polling the container listing.
func (a *Adapter) Watch(ctx context.Context, pattern string) (xmlmode.ChangeToken, error) {
	token, err := xmlmode.PollWatch(ctx, a, pattern, a.pollInterval)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ptr is a helper function to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// mapAzureError maps Azure errors to xmlmode errors
func mapAzureError(op, filePath string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotExist}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotExist}
		case http.StatusForbidden:
			return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotAllowed}
		}
	}

	return &xmlmode.PathError{Op: op, Path: filePath, Err: err}
}

// Ensure Adapter implements interfaces
var (
	_ xmlmode.Source   = (*Adapter)(nil)
	_ xmlmode.CanWatch = (*Adapter)(nil)
)
