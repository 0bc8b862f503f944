package gcs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/gobeaver/xmlmode"
)

func init() {
	xmlmode.RegisterDriver("gcs", createGCSSource)
}

func createGCSSource(cfg *xmlmode.Config) (xmlmode.Source, error) {
	if cfg.GCSBucket == "" {
		return nil, errors.New("gcs driver requires GCSBucket")
	}

	// Without a credentials file the client uses GOOGLE_APPLICATION_CREDENTIALS
	// or the default credentials
	var clientOpts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := storage.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	var options []AdapterOption
	if cfg.GCSPrefix != "" {
		options = append(options, WithPrefix(cfg.GCSPrefix))
	}
	if cfg.PollIntervalSeconds > 0 {
		options = append(options, WithPollInterval(cfg.PollInterval()))
	}

	return New(client, cfg.GCSBucket, options...), nil
}
