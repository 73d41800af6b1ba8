// Package config loads and validates the blobfsd configuration file.
//
// Configuration is a single YAML document; secrets may be supplied or
// overridden through BLOBFS_-prefixed environment variables so they stay out
// of the file.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Provider identifies the object-store backend.
type Provider string

const (
	ProviderGCS   Provider = "gcs"
	ProviderMinIO Provider = "minio"
)

// Config is the root of the blobfsd configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr string `yaml:"addr"` // listen address, e.g. ":8080"
}

// StorageConfig selects and configures the object-store backend.
type StorageConfig struct {
	// Provider is the backend driver: "gcs" or "minio".
	Provider Provider `yaml:"provider"`

	// Bucket is the target bucket name.
	Bucket string `yaml:"bucket"`

	// Directory is an optional key prefix inside the bucket.
	Directory string `yaml:"directory"`

	// Create provisions the bucket on first use when it does not exist.
	Create bool `yaml:"create"`

	// CacheControl is attached to every written object when set.
	CacheControl string `yaml:"cache_control"`

	GCS   GCSConfig   `yaml:"gcs"`
	Minio MinioConfig `yaml:"minio"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	// Project is the GCP project used for bucket creation.
	Project string `yaml:"project"`

	// CredentialsFile is a path to a service-account JSON key. Empty uses
	// Application Default Credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// MinioConfig holds S3-compatible backend settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads and parses the configuration file at path, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the
// file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BLOBFS_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("BLOBFS_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}
	if v := os.Getenv("BLOBFS_GCS_CREDENTIALS_FILE"); v != "" {
		cfg.Storage.GCS.CredentialsFile = v
	}
	if v := os.Getenv("BLOBFS_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate checks cfg for the fields each provider requires.
func Validate(cfg *Config) error {
	if cfg.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	switch cfg.Storage.Provider {
	case ProviderGCS:
		if cfg.Storage.Create && cfg.Storage.GCS.Project == "" {
			return fmt.Errorf("gcs project is required when create is enabled")
		}
	case ProviderMinIO:
		if cfg.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required")
		}
		if cfg.Storage.Minio.AccessKey == "" || cfg.Storage.Minio.SecretKey == "" {
			return fmt.Errorf("minio credentials are required")
		}
	default:
		return fmt.Errorf("invalid storage provider: %q (must be 'gcs' or 'minio')", cfg.Storage.Provider)
	}

	if cfg.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	return nil
}
