package xmlmode

import (
	"time"

	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Configured validation mode (none, auto, dtd, xsd). Anything but auto
	// skips detection.
	ValidationMode string `env:"XMLMODE_VALIDATION_MODE,default:auto"`

	// Character encoding of documents; empty means UTF-8
	Encoding string `env:"XMLMODE_ENCODING"`

	// Longest line the scanner accepts, in bytes
	MaxLineLength int `env:"XMLMODE_MAX_LINE_LENGTH,default:16777216"`

	// Source driver to use (local, memory, zip, s3, gcs, azure, sftp)
	Driver string `env:"XMLMODE_DRIVER,default:local"`

	// Local driver configuration
	LocalBasePath string `env:"XMLMODE_LOCAL_BASE_PATH,default:."`

	// ZIP driver configuration
	ZipPath string `env:"XMLMODE_ZIP_PATH"`

	// S3 driver configuration
	S3Region          string `env:"XMLMODE_S3_REGION,default:us-east-1"`
	S3Bucket          string `env:"XMLMODE_S3_BUCKET"`
	S3Prefix          string `env:"XMLMODE_S3_PREFIX"`
	S3Endpoint        string `env:"XMLMODE_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"XMLMODE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"XMLMODE_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"XMLMODE_S3_FORCE_PATH_STYLE,default:false"`

	// GCS (Google Cloud Storage) driver configuration
	GCSBucket          string `env:"XMLMODE_GCS_BUCKET"`
	GCSPrefix          string `env:"XMLMODE_GCS_PREFIX"`
	GCSCredentialsFile string `env:"XMLMODE_GCS_CREDENTIALS_FILE"` // Path to service account JSON

	// Azure Blob Storage driver configuration
	AzureAccountName   string `env:"XMLMODE_AZURE_ACCOUNT_NAME"`
	AzureAccountKey    string `env:"XMLMODE_AZURE_ACCOUNT_KEY"`
	AzureContainerName string `env:"XMLMODE_AZURE_CONTAINER_NAME"`
	AzurePrefix        string `env:"XMLMODE_AZURE_PREFIX"`
	AzureEndpoint      string `env:"XMLMODE_AZURE_ENDPOINT"` // Optional custom endpoint

	// SFTP driver configuration
	SFTPHost           string `env:"XMLMODE_SFTP_HOST"`
	SFTPPort           int    `env:"XMLMODE_SFTP_PORT,default:22"`
	SFTPUsername       string `env:"XMLMODE_SFTP_USERNAME"`
	SFTPPassword       string `env:"XMLMODE_SFTP_PASSWORD"`
	SFTPPrivateKey     string `env:"XMLMODE_SFTP_PRIVATE_KEY"`     // Path to private key file
	SFTPKnownHostsFile string `env:"XMLMODE_SFTP_KNOWN_HOSTS_FILE"` // Host keys are not checked when empty
	SFTPBasePath       string `env:"XMLMODE_SFTP_BASE_PATH"`

	// How often remote drivers (s3, gcs, azure, sftp) poll for changes
	PollIntervalSeconds int `env:"XMLMODE_POLL_INTERVAL_SECONDS,default:30"`

	// Detection cache
	CacheEnabled    bool `env:"XMLMODE_CACHE_ENABLED,default:true"`
	CacheTTLSeconds int  `env:"XMLMODE_CACHE_TTL_SECONDS,default:0"`

	// Documents scanned in parallel by DetectAll
	Concurrency int `env:"XMLMODE_CONCURRENCY,default:4"`
}

// PollInterval is PollIntervalSeconds as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Options converts the config into resolver options. It fails on an
// unknown validation mode.
func (c *Config) Options() ([]Option, error) {
	mode, err := ParseValidationMode(c.ValidationMode)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithValidationMode(mode),
		WithEncoding(c.Encoding),
		WithMaxLineLength(c.MaxLineLength),
		WithConcurrency(c.Concurrency),
	}
	if c.CacheEnabled {
		opts = append(opts,
			WithCache(NewModeCache()),
			WithCacheTTL(time.Duration(c.CacheTTLSeconds)*time.Second),
		)
	}
	return opts, nil
}
