package config

import (
	"strings"
	"time"
)

// Defaults applied when the corresponding field is unset.
const (
	// DefaultUploadExpiration is the idle TTL of upload sessions.
	DefaultUploadExpiration = 60 * time.Second

	// DefaultPayloadLimit is the maximum accepted declared payload size.
	DefaultPayloadLimit = 100 << 20

	// DefaultHTTPPort is the ingestion API port.
	DefaultHTTPPort = 8080

	// DefaultMetricsPort is the Prometheus endpoint port.
	DefaultMetricsPort = 9090
)

// ApplyDefaults fills unset fields with their defaults. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyHTTPDefaults(&cfg.HTTP)
	applyMetricsDefaults(&cfg.Metrics)
	applyUploadDefaults(&cfg.Upload)
	applyDatabaseDefaults(&cfg.Database)
	applyStorageDefaults(&cfg.Storage)
	applyAuthDefaults(&cfg.Auth)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyHTTPDefaults(cfg *HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultHTTPPort
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/api/v4"
	}
	// The endpoint is used for both routing and Location headers; a
	// trailing slash would double up in joined paths.
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.Expiration == 0 {
		cfg.Expiration = DefaultUploadExpiration
	}
	if cfg.PayloadLimit == 0 {
		cfg.PayloadLimit = DefaultPayloadLimit
	}
	if len(cfg.AcceptedFormatVersions) == 0 {
		cfg.AcceptedFormatVersions = []int{1, 2, 3}
	}
	if len(cfg.AcceptedModalities) == 0 {
		cfg.AcceptedModalities = []string{"BICYCLE", "CAR", "WALKING", "BUS", "TRAIN"}
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/lib/collector/db"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = StorageGridFS
	}
	if cfg.GridFS.UploadsFolder == "" {
		cfg.GridFS.UploadsFolder = "/var/lib/collector/uploads"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "eu-central-1"
	}
	if cfg.S3.PagingSize == 0 {
		cfg.S3.PagingSize = 1000
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Type == "" {
		cfg.Type = AuthMocked
	}
	if cfg.OAuth.UserIDClaim == "" {
		cfg.OAuth.UserIDClaim = "sub"
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
