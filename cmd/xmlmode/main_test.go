package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dtdDoc = "<?xml version=\"1.0\"?>\n<!DOCTYPE beans PUBLIC \"-//SPRING//DTD BEAN//EN\" \"spring-beans.dtd\">\n<beans/>\n"
	xsdDoc = "<?xml version=\"1.0\"?>\n<beans xmlns=\"http://www.springframework.org/schema/beans\"/>\n"
)

// syncBuffer is a bytes.Buffer safe for the watch goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = runWithArgs(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestDetectCommand(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"dtd.xml":      dtdDoc,
		"conf/xsd.xml": xsdDoc,
		"bad.xml":      "\x80\x81<beans/>",
	})

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "relative paths",
			args:       []string{"--root", dir, "detect", "dtd.xml", "conf/xsd.xml"},
			wantStdout: "dtd.xml: dtd\nconf/xsd.xml: xsd\n",
		},
		{
			name:       "absolute path",
			args:       []string{"--root", dir, "detect", filepath.Join(dir, "dtd.xml")},
			wantStdout: filepath.Join(dir, "dtd.xml") + ": dtd\n",
		},
		{
			name:       "undecodable falls back to xsd",
			args:       []string{"--root", dir, "detect", "bad.xml"},
			wantStdout: "bad.xml: xsd\n",
		},
		{
			name:       "configured mode skips detection",
			args:       []string{"--root", dir, "--mode", "none", "detect", "dtd.xml", "missing.xml"},
			wantStdout: "dtd.xml: none\nmissing.xml: none\n",
		},
		{
			name:       "missing file",
			args:       []string{"--root", dir, "--no-cache", "detect", "missing.xml", "dtd.xml"},
			wantCode:   1,
			wantStdout: "dtd.xml: dtd\n",
			wantStderr: "missing.xml: error:",
		},
		{
			name:       "invalid mode",
			args:       []string{"--root", dir, "--mode", "sometimes", "detect", "dtd.xml"},
			wantCode:   2,
			wantStderr: "error: invalid config",
		},
		{
			name:       "missing argument",
			args:       []string{"detect"},
			wantCode:   2,
			wantStderr: "error:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.args...)
			assert.Equal(t, tt.wantCode, code, "stderr: %s", stderr)
			assert.Equal(t, tt.wantStdout, stdout)
			if tt.wantStderr != "" {
				assert.Contains(t, stderr, tt.wantStderr)
			}
		})
	}
}

func TestScanCommand(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"a.xml":          dtdDoc,
		"conf/b.xml":     xsdDoc,
		"conf/sub/c.xml": dtdDoc,
		"notes.txt":      dtdDoc,
	})

	tests := []struct {
		name       string
		args       []string
		wantStdout string
	}{
		{
			name:       "whole tree",
			args:       []string{"--root", dir, "scan"},
			wantStdout: "a.xml: dtd\nconf/b.xml: xsd\nconf/sub/c.xml: dtd\n",
		},
		{
			name:       "subdirectory",
			args:       []string{"--root", dir, "scan", "./conf"},
			wantStdout: "conf/b.xml: xsd\nconf/sub/c.xml: dtd\n",
		},
		{
			name:       "custom pattern",
			args:       []string{"--root", dir, "scan", "--pattern", "*.txt"},
			wantStdout: "notes.txt: dtd\n",
		},
		{
			name:       "max depth",
			args:       []string{"--root", dir, "scan", "--max-depth", "2"},
			wantStdout: "a.xml: dtd\nconf/b.xml: xsd\n",
		},
		{
			name:       "skipped directory",
			args:       []string{"--root", dir, "scan", "--skip", "sub"},
			wantStdout: "a.xml: dtd\nconf/b.xml: xsd\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.args...)
			assert.Equal(t, 0, code, "stderr: %s", stderr)
			assert.Equal(t, tt.wantStdout, stdout)
		})
	}
}

func TestScanZipArchive(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "app.jar")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range map[string]string{
		"META-INF/spring/app.xml":  dtdDoc,
		"META-INF/spring/data.xml": xsdDoc,
	} {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	code, stdout, stderr := runCLI(t, "--zip", zipPath, "scan", "META-INF")
	assert.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Equal(t, "META-INF/spring/app.xml: dtd\nMETA-INF/spring/data.xml: xsd\n", stdout)

	code, stdout, _ = runCLI(t, "--zip", zipPath, "detect", "META-INF/spring/app.xml")
	assert.Equal(t, 0, code)
	assert.Equal(t, "META-INF/spring/app.xml: dtd\n", stdout)
}

func TestEnvironmentConfig(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.xml": dtdDoc})
	t.Setenv("BEAVER_XMLMODE_LOCAL_BASE_PATH", dir)
	t.Setenv("BEAVER_XMLMODE_VALIDATION_MODE", "xsd")

	code, stdout, _ := runCLI(t, "detect", "a.xml")
	assert.Equal(t, 0, code)
	assert.Equal(t, "a.xml: xsd\n", stdout)

	// Flags win over the environment.
	code, stdout, _ = runCLI(t, "--mode", "auto", "detect", "a.xml")
	assert.Equal(t, 0, code)
	assert.Equal(t, "a.xml: dtd\n", stdout)
}

func TestDriverFlag(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr string
	}{
		{"s3", "S3Bucket"},
		{"gcs", "GCSBucket"},
		{"azure", "account name and key"},
		{"sftp", "host is required"},
		{"ftp", "driver ftp not registered"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			code, _, stderr := runCLI(t, "--driver", tt.driver, "scan")
			assert.Equal(t, 2, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestWatchCommand(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.xml": dtdDoc})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- runWithArgs(ctx, []string{"--root", dir, "watch"}, &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "a.xml: dtd")
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "b.xml"), []byte(xsdDoc), 0o644)
		return strings.Contains(stdout.String(), "b.xml: xsd")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code, "stderr: %s", stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchRequiresWatchableSource(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "empty.jar")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	require.NoError(t, zip.NewWriter(f).Close())
	require.NoError(t, f.Close())

	code, _, stderr := runCLI(t, "--zip", zipPath, "watch")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "cannot watch")
}

func TestMountFlag(t *testing.T) {
	classes := writeDocs(t, map[string]string{"beans.xml": dtdDoc})

	zipPath := filepath.Join(t.TempDir(), "app.jar")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("META-INF/data.xml")
	require.NoError(t, err)
	_, err = fw.Write([]byte(xsdDoc))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	code, stdout, stderr := runCLI(t, "--mount", "classes="+classes, "--mount", "lib/app.jar="+zipPath, "scan")
	assert.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Equal(t, "classes/beans.xml: dtd\nlib/app.jar/META-INF/data.xml: xsd\n", stdout)

	code, stdout, _ = runCLI(t, "--mount", "classes="+classes, "detect", "classes/beans.xml")
	assert.Equal(t, 0, code)
	assert.Equal(t, "classes/beans.xml: dtd\n", stdout)

	code, _, stderr = runCLI(t, "--mount", "classes", "scan")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "want name=path")

	code, _, stderr = runCLI(t, "--mount", "a="+classes, "--mount", "a/b="+classes, "scan")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid mount path")
}

func TestDirArg(t *testing.T) {
	assert.Equal(t, "", dirArg(nil))
	assert.Equal(t, "", dirArg([]string{"."}))
	assert.Equal(t, "conf", dirArg([]string{"./conf/"}))
}
