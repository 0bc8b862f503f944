package s3

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gobeaver/xmlmode"
)

// Client is the part of the S3 API the adapter uses; *s3.Client
// implements it.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Adapter serves documents stored in an S3 bucket. It is read-only.
type Adapter struct {
	client       Client
	bucket       string
	prefix       string
	pollInterval time.Duration
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the key prefix documents live under
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

// New creates a new S3 source
func New(client Client, bucket string, options ...AdapterOption) *Adapter {
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

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(filePath)),
	})
	if err != nil {
		return nil, mapS3Error("read", filePath, err)
	}

	return resp.Body, nil
}

// Stat implements xmlmode.Source. A key prefix with objects below it is
// reported as a directory.
func (a *Adapter) Stat(ctx context.Context, filePath string) (*xmlmode.FileInfo, error) {
	filePath = strings.Trim(filePath, "/")
	if filePath == "" {
		return &xmlmode.FileInfo{Name: a.bucket, IsDir: true}, nil
	}

	resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(filePath)),
	})
	if err == nil {
		return &xmlmode.FileInfo{
			Name:    path.Base(filePath),
			Path:    filePath,
			Size:    aws.ToInt64(resp.ContentLength),
			ModTime: aws.ToTime(resp.LastModified),
		}, nil
	}

	mapped := mapS3Error("stat", filePath, err)
	if !xmlmode.IsNotExist(mapped) {
		return nil, mapped
	}

	// Check if there are any objects with this prefix
	list, listErr := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(a.key(filePath) + "/"),
		MaxKeys: aws.Int32(1),
	})
	if listErr != nil {
		return nil, mapS3Error("stat", filePath, listErr)
	}
	if len(list.Contents) == 0 && len(list.CommonPrefixes) == 0 {
		return nil, mapped
	}
	return &xmlmode.FileInfo{Name: path.Base(filePath), Path: filePath, IsDir: true}, nil
}

// ListContents implements xmlmode.Source
func (a *Adapter) ListContents(ctx context.Context, prefix string, recursive bool) ([]xmlmode.FileInfo, error) {
	prefix = strings.Trim(prefix, "/")
	listPrefix := a.prefix
	if prefix != "" {
		listPrefix = a.key(prefix) + "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(listPrefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var files []xmlmode.FileInfo
	dirs := make(map[string]bool)
	addDir := func(relPath string) {
		if relPath == "" || dirs[relPath] {
			return
		}
		dirs[relPath] = true
		files = append(files, xmlmode.FileInfo{Name: path.Base(relPath), Path: relPath, IsDir: true})
	}

	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("listcontents", prefix, err)
		}

		// Directories (common prefixes, only when not recursive)
		for _, p := range page.CommonPrefixes {
			addDir(strings.TrimSuffix(a.relPath(aws.ToString(p.Prefix)), "/"))
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Skip the directory marker itself
			if key == listPrefix {
				continue
			}
			relPath := a.relPath(key)
			if strings.HasSuffix(key, "/") {
				addDir(strings.TrimSuffix(relPath, "/"))
				continue
			}
			if recursive {
				for dir := path.Dir(relPath); dir != "." && dir != prefix && strings.HasPrefix(dir, prefix); dir = path.Dir(dir) {
					addDir(dir)
				}
			}
			files = append(files, xmlmode.FileInfo{
				Name:    path.Base(relPath),
				Path:    relPath,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	if len(files) == 0 && prefix != "" {
		info, err := a.Stat(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if !info.IsDir {
			return nil, &xmlmode.PathError{Op: "listcontents", Path: prefix, Err: xmlmode.ErrNotDir}
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// relPath strips the adapter prefix from an object key
func (a *Adapter) relPath(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, a.prefix), "/")
}

// Watch implements xmlmode.CanWatch by polling. S3 has no file system
// events.
func (a *Adapter) Watch(ctx context.Context, pattern string) (xmlmode.ChangeToken, error) {
	token, err := xmlmode.PollWatch(ctx, a, pattern, a.pollInterval)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// mapS3Error maps S3 errors to xmlmode errors
func mapS3Error(op, filePath string, err error) error {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket

	if errors.As(err, &nsk) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotExist}
	}

	return &xmlmode.PathError{Op: op, Path: filePath, Err: err}
}

// Ensure Adapter implements interfaces
var (
	_ xmlmode.Source   = (*Adapter)(nil)
	_ xmlmode.CanWatch = (*Adapter)(nil)
	_ Client           = (*s3.Client)(nil)
)
