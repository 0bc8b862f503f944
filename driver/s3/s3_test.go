package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/xmlmode"
)

var objectModTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeClient serves objects from a map, one page per listing.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]string
}

func (c *fakeClient) put(key, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = body
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(body))),
		LastModified:  aws.Time(objectModTime),
	}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)

	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := make(map[string]bool)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(c.objects[k]))),
			LastModified: aws.Time(objectModTime),
		})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out, nil
}

func newTestAdapter(opts ...AdapterOption) (*Adapter, *fakeClient) {
	client := &fakeClient{objects: map[string]string{
		"app/beans.xml":           "<!DOCTYPE beans>\n<beans/>",
		"app/conf/":               "",
		"app/conf/context.xml":    "<beans xmlns=\"http://www.springframework.org/schema/beans\"/>",
		"app/conf/deep/other.xml": "<!-- <!DOCTYPE x> -->\n<beans/>",
		"app/readme.txt":          "readme",
		"other/ignored.xml":       "<beans/>",
	}}
	return New(client, "bucket", append([]AdapterOption{WithPrefix("app")}, opts...)...), client
}

func TestNew(t *testing.T) {
	a := New(&fakeClient{}, "bucket")
	assert.Equal(t, "", a.prefix)
	assert.Equal(t, 30*time.Second, a.pollInterval)

	a = New(&fakeClient{}, "bucket", WithPrefix("docs"), WithPollInterval(time.Minute))
	assert.Equal(t, "docs/", a.prefix)
	assert.Equal(t, time.Minute, a.pollInterval)
	assert.Equal(t, "docs/conf/a.xml", a.key("/conf/a.xml"))
	assert.Equal(t, "conf/a.xml", a.relPath("docs/conf/a.xml"))
}

func TestRead(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	rc, err := a.Read(ctx, "beans.xml")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "<!DOCTYPE beans>\n<beans/>", string(data))

	_, err = a.Read(ctx, "missing.xml")
	assert.True(t, xmlmode.IsNotExist(err))
}

func TestStat(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	info, err := a.Stat(ctx, "conf/context.xml")
	require.NoError(t, err)
	assert.Equal(t, "context.xml", info.Name)
	assert.Equal(t, "conf/context.xml", info.Path)
	assert.False(t, info.IsDir)
	assert.True(t, info.ModTime.Equal(objectModTime))

	info, err = a.Stat(ctx, "conf/deep")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	info, err = a.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	_, err = a.Stat(ctx, "nope")
	assert.True(t, xmlmode.IsNotExist(err))
}

func TestListContents(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	paths := func(files []xmlmode.FileInfo) []string {
		var out []string
		for _, f := range files {
			out = append(out, f.Path)
		}
		return out
	}

	t.Run("flat", func(t *testing.T) {
		files, err := a.ListContents(ctx, "", false)
		require.NoError(t, err)
		assert.Equal(t, []string{"beans.xml", "conf", "readme.txt"}, paths(files))
		assert.True(t, files[1].IsDir)
	})

	t.Run("subdirectory", func(t *testing.T) {
		files, err := a.ListContents(ctx, "conf", false)
		require.NoError(t, err)
		assert.Equal(t, []string{"conf/context.xml", "conf/deep"}, paths(files))
	})

	t.Run("recursive", func(t *testing.T) {
		files, err := a.ListContents(ctx, "", true)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"beans.xml",
			"conf",
			"conf/context.xml",
			"conf/deep",
			"conf/deep/other.xml",
			"readme.txt",
		}, paths(files))
	})

	t.Run("file", func(t *testing.T) {
		_, err := a.ListContents(ctx, "beans.xml", false)
		assert.True(t, errors.Is(err, xmlmode.ErrNotDir))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := a.ListContents(ctx, "nope", false)
		assert.True(t, xmlmode.IsNotExist(err))
	})
}

func TestResolverOverS3(t *testing.T) {
	a, _ := newTestAdapter()
	r, err := xmlmode.NewResolver(a)
	require.NoError(t, err)

	results, err := r.DetectAll(context.Background(), "", "**.xml")
	require.NoError(t, err)
	require.Len(t, results, 3)

	modes := make(map[string]xmlmode.ValidationMode)
	for _, res := range results {
		require.NoError(t, res.Err)
		modes[res.Path] = res.Mode
	}
	assert.Equal(t, map[string]xmlmode.ValidationMode{
		"beans.xml":           xmlmode.ValidationDTD,
		"conf/context.xml":    xmlmode.ValidationXSD,
		"conf/deep/other.xml": xmlmode.ValidationXSD,
	}, modes)
}

func TestWatch(t *testing.T) {
	a, client := newTestAdapter(WithPollInterval(5 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token, err := a.Watch(ctx, "**.xml")
	require.NoError(t, err)
	defer token.(*xmlmode.PollingChangeToken).Stop()

	assert.False(t, token.HasChanged())

	client.put("app/readme.txt", "changed readme")
	time.Sleep(30 * time.Millisecond)
	assert.False(t, token.HasChanged())

	client.put("app/conf/new.xml", "<beans/>")
	assert.Eventually(t, token.HasChanged, 2*time.Second, 5*time.Millisecond)
}

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notExist bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"not found", &types.NotFound{}, true},
		{"no such bucket", &types.NoSuchBucket{}, true},
		{"other", errors.New("access denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapS3Error("read", "a.xml", tt.err)
			var pe *xmlmode.PathError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "read", pe.Op)
			assert.Equal(t, "a.xml", pe.Path)
			assert.Equal(t, tt.notExist, xmlmode.IsNotExist(err))
		})
	}
}

func TestCreateS3Source(t *testing.T) {
	_, err := createS3Source(&xmlmode.Config{Driver: "s3"})
	assert.ErrorContains(t, err, "S3Bucket")

	src, err := createS3Source(&xmlmode.Config{
		Driver:              "s3",
		S3Region:            "us-east-1",
		S3Bucket:            "docs",
		S3Prefix:            "xml",
		S3Endpoint:          "http://localhost:9000",
		S3AccessKeyID:       "key",
		S3SecretAccessKey:   "secret",
		S3ForcePathStyle:    true,
		PollIntervalSeconds: 10,
	})
	require.NoError(t, err)
	a := src.(*Adapter)
	assert.Equal(t, "docs", a.bucket)
	assert.Equal(t, "xml/", a.prefix)
	assert.Equal(t, 10*time.Second, a.pollInterval)
}
