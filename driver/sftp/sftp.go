package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/gobeaver/xmlmode"
)

// Adapter serves documents from an SFTP server. It is read-only and
// reconnects when the connection drops.
type Adapter struct {
	mu           sync.Mutex
	client       *sftp.Client
	sshConn      *ssh.Client
	basePath     string
	config       Config
	pollInterval time.Duration
}

// Config holds SFTP connection configuration
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded private key
	BasePath   string

	// HostKeyCallback verifies the server's host key. Host keys are not
	// checked when it is nil.
	HostKeyCallback ssh.HostKeyCallback
}

// AdapterOption is a function that configures SFTP Adapter
type AdapterOption func(*Adapter)

// WithBasePath sets the base path for SFTP operations
func WithBasePath(basePath string) AdapterOption {
	return func(a *Adapter) {
		a.basePath = basePath
	}
}

// WithPollInterval sets how often Watch lists the server
func WithPollInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.pollInterval = d
	}
}

// New connects to the server described by cfg.
func New(cfg Config, options ...AdapterOption) (*Adapter, error) {
	adapter := newAdapter(cfg, options)

	adapter.mu.Lock()
	err := adapter.connectLocked()
	adapter.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return adapter, nil
}

// NewWithClient wraps an established SFTP client. The adapter cannot
// reconnect it.
func NewWithClient(client *sftp.Client, options ...AdapterOption) *Adapter {
	adapter := newAdapter(Config{}, options)
	adapter.client = client
	return adapter
}

func newAdapter(cfg Config, options []AdapterOption) *Adapter {
	adapter := &Adapter{
		config:       cfg,
		basePath:     cfg.BasePath,
		pollInterval: 30 * time.Second,
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// connectLocked establishes SSH and SFTP connections. a.mu must be held.
func (a *Adapter) connectLocked() error {
	hostKeyCallback := a.config.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	sshConfig := &ssh.ClientConfig{
		User:            a.config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	if len(a.config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(a.config.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	if a.config.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(a.config.Password))
	}

	if len(sshConfig.Auth) == 0 {
		return errors.New("no authentication method provided")
	}

	port := a.config.Port
	if port == 0 {
		port = 22
	}

	addr := fmt.Sprintf("%s:%d", a.config.Host, port)
	sshConn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}

	a.sshConn = sshConn
	a.client = sftpClient
	return nil
}

// Close closes the SFTP and SSH connections
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *Adapter) closeLocked() error {
	var errs []error
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
		a.client = nil
	}
	if a.sshConn != nil {
		if err := a.sshConn.Close(); err != nil {
			errs = append(errs, err)
		}
		a.sshConn = nil
	}
	return errors.Join(errs...)
}

// conn returns a live client, reconnecting if the connection was lost
func (a *Adapter) conn() (*sftp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		// Test connection with a simple operation
		if _, err := a.client.Getwd(); err == nil {
			return a.client, nil
		}
		_ = a.closeLocked()
	}

	if a.config.Host == "" {
		return nil, errors.New("sftp connection closed")
	}
	if err := a.connectLocked(); err != nil {
		return nil, err
	}
	return a.client, nil
}

// fullPath returns the server path for a source path. Leading ".." elements
// are dropped, so the result never leaves the base path.
func (a *Adapter) fullPath(relativePath string) string {
	cleanPath := path.Clean("/" + relativePath)
	if a.basePath == "" {
		if cleanPath == "/" {
			return "."
		}
		return strings.TrimPrefix(cleanPath, "/")
	}
	return path.Join(a.basePath, cleanPath)
}

// isPathSafe reports whether relativePath stays inside the base path
func isPathSafe(relativePath string) bool {
	cleanPath := path.Clean(strings.TrimPrefix(relativePath, "/"))
	return cleanPath != ".." && !strings.HasPrefix(cleanPath, "../")
}

// prepare checks ctx and the path and returns a live client.
func (a *Adapter) prepare(ctx context.Context, op, filePath string) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isPathSafe(filePath) {
		return nil, &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotAllowed}
	}
	client, err := a.conn()
	if err != nil {
		return nil, &xmlmode.PathError{Op: op, Path: filePath, Err: err}
	}
	return client, nil
}

// Read implements xmlmode.Source
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	client, err := a.prepare(ctx, "read", filePath)
	if err != nil {
		return nil, err
	}

	file, err := client.Open(a.fullPath(filePath))
	if err != nil {
		return nil, mapSFTPError("read", filePath, err)
	}
	return file, nil
}

// Stat implements xmlmode.Source
func (a *Adapter) Stat(ctx context.Context, filePath string) (*xmlmode.FileInfo, error) {
	client, err := a.prepare(ctx, "stat", filePath)
	if err != nil {
		return nil, err
	}

	info, err := client.Stat(a.fullPath(filePath))
	if err != nil {
		return nil, mapSFTPError("stat", filePath, err)
	}

	relPath := strings.Trim(filePath, "/")
	return &xmlmode.FileInfo{
		Name:    info.Name(),
		Path:    relPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// ListContents implements xmlmode.Source
func (a *Adapter) ListContents(ctx context.Context, dir string, recursive bool) ([]xmlmode.FileInfo, error) {
	client, err := a.prepare(ctx, "listcontents", dir)
	if err != nil {
		return nil, err
	}

	fullPath := a.fullPath(dir)
	info, err := client.Stat(fullPath)
	if err != nil {
		return nil, mapSFTPError("listcontents", dir, err)
	}
	if !info.IsDir() {
		return nil, &xmlmode.PathError{Op: "listcontents", Path: dir, Err: xmlmode.ErrNotDir}
	}

	var files []xmlmode.FileInfo
	if err := listDir(ctx, client, fullPath, path.Clean(strings.Trim(dir, "/")), recursive, &files); err != nil {
		return nil, mapSFTPError("listcontents", dir, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func listDir(ctx context.Context, client *sftp.Client, fullPath, relPath string, recursive bool, results *[]xmlmode.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := client.ReadDir(fullPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		entryRelPath := path.Join(relPath, entry.Name())
		*results = append(*results, xmlmode.FileInfo{
			Name:    entry.Name(),
			Path:    entryRelPath,
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
			IsDir:   entry.IsDir(),
		})

		if recursive && entry.IsDir() {
			if err := listDir(ctx, client, path.Join(fullPath, entry.Name()), entryRelPath, true, results); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watch implements xmlmode.CanWatch by polling the server.
func (a *Adapter) Watch(ctx context.Context, pattern string) (xmlmode.ChangeToken, error) {
	token, err := xmlmode.PollWatch(ctx, a, pattern, a.pollInterval)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// mapSFTPError maps SFTP errors to xmlmode errors
func mapSFTPError(op, filePath string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotExist}
	case errors.Is(err, os.ErrPermission):
		return &xmlmode.PathError{Op: op, Path: filePath, Err: xmlmode.ErrNotAllowed}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &xmlmode.PathError{Op: op, Path: filePath, Err: err}
}

// Ensure Adapter implements interfaces
var (
	_ xmlmode.Source   = (*Adapter)(nil)
	_ xmlmode.CanWatch = (*Adapter)(nil)
	_ io.Closer        = (*Adapter)(nil)
)
