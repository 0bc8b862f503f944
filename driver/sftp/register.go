package sftp

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gobeaver/xmlmode"
)

func init() {
	xmlmode.RegisterDriver("sftp", createSFTPSource)
}

func createSFTPSource(cfg *xmlmode.Config) (xmlmode.Source, error) {
	if cfg.SFTPHost == "" {
		return nil, fmt.Errorf("SFTP host is required")
	}

	sftpConfig := Config{
		Host:     cfg.SFTPHost,
		Port:     cfg.SFTPPort,
		Username: cfg.SFTPUsername,
		Password: cfg.SFTPPassword,
		BasePath: cfg.SFTPBasePath,
	}

	// Load private key if specified
	if cfg.SFTPPrivateKey != "" {
		keyData, err := os.ReadFile(cfg.SFTPPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		sftpConfig.PrivateKey = keyData
	}

	if cfg.SFTPKnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.SFTPKnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		sftpConfig.HostKeyCallback = callback
	}

	var options []AdapterOption
	if cfg.PollIntervalSeconds > 0 {
		options = append(options, WithPollInterval(cfg.PollInterval()))
	}

	adapter, err := New(sftpConfig, options...)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
