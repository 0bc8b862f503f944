package azure

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/gobeaver/xmlmode"
)

func init() {
	xmlmode.RegisterDriver("azure", createAzureSource)
}

func createAzureSource(cfg *xmlmode.Config) (xmlmode.Source, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}

	if cfg.AzureContainerName == "" {
		return nil, fmt.Errorf("azure container name is required")
	}

	// Build service URL
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AzureAccountName)
	if cfg.AzureEndpoint != "" {
		serviceURL = cfg.AzureEndpoint
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	var options []AdapterOption
	if cfg.AzurePrefix != "" {
		options = append(options, WithPrefix(cfg.AzurePrefix))
	}
	if cfg.PollIntervalSeconds > 0 {
		options = append(options, WithPollInterval(cfg.PollInterval()))
	}

	return New(client, cfg.AzureContainerName, options...), nil
}
