// Package config loads and validates the collector configuration from
// file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the collector configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (COLLECTOR_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// HTTP configures the ingestion API server.
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Upload controls session lifetime and acceptance limits.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Database configures the embedded document and blob store.
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Storage selects and configures the payload staging backend.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Auth selects and configures the token verifier.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// HTTPConfig configures the ingestion API server.
type HTTPConfig struct {
	// Host is the listen address. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port.
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// Endpoint is the base path the API is mounted under, for example
	// /api/v4. Also used to build the Location header of pre-request
	// responses.
	Endpoint string `mapstructure:"endpoint" validate:"required,startswith=/" yaml:"endpoint"`

	// ReadTimeout bounds reading of request headers. Chunk bodies are
	// streamed and not subject to it.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false no metrics server is started.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics listen port. Default: 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// UploadConfig controls session lifetime and acceptance limits.
type UploadConfig struct {
	// Expiration is the idle TTL of upload sessions. Default: 60s.
	Expiration time.Duration `mapstructure:"expiration" validate:"gt=0" yaml:"expiration"`

	// PayloadLimit is the maximum accepted declared payload size in
	// bytes. Default: 100MB.
	PayloadLimit uint64 `mapstructure:"payload_limit" validate:"gt=0" yaml:"payload_limit"`

	// AcceptedFormatVersions lists the payload format versions the
	// collector accepts. Default: [1, 2, 3].
	AcceptedFormatVersions []int `mapstructure:"accepted_format_versions" yaml:"accepted_format_versions"`

	// AcceptedModalities lists the accepted measurement modalities.
	AcceptedModalities []string `mapstructure:"accepted_modalities" yaml:"accepted_modalities"`
}

// DatabaseConfig configures the embedded document and blob store.
type DatabaseConfig struct {
	// Path is the directory for the embedded database files.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// StorageType selects the payload staging backend.
type StorageType string

const (
	// StorageGridFS stages chunks on the local filesystem and persists
	// completed payloads as blobs in the embedded database.
	StorageGridFS StorageType = "gridfs"

	// StorageS3 streams chunks into an S3 multipart upload.
	StorageS3 StorageType = "s3"
)

// StorageConfig selects and configures the payload staging backend.
type StorageConfig struct {
	// Type is the backend kind: gridfs or s3.
	Type StorageType `mapstructure:"type" validate:"required,oneof=gridfs s3" yaml:"type"`

	// GridFS configures the filesystem staging backend.
	GridFS GridFSConfig `mapstructure:"gridfs" yaml:"gridfs"`

	// S3 configures the object storage backend.
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// GridFSConfig configures the filesystem staging backend.
type GridFSConfig struct {
	// UploadsFolder is the staging directory for incomplete uploads.
	UploadsFolder string `mapstructure:"uploads_folder" yaml:"uploads_folder"`
}

// S3Config configures the object storage backend.
type S3Config struct {
	// Endpoint overrides the S3 endpoint for S3-compatible storage.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Region is the bucket region.
	Region string `mapstructure:"region" yaml:"region"`

	// Bucket is the bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// AccessKeyID and SecretAccessKey are static credentials. Empty uses
	// the default AWS credential chain.
	// Override: COLLECTOR_STORAGE_S3_ACCESS_KEY_ID, COLLECTOR_STORAGE_S3_SECRET_ACCESS_KEY
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// PagingSize bounds one listing page during cleanup scans.
	PagingSize int32 `mapstructure:"paging_size" yaml:"paging_size"`

	// ForcePathStyle switches to path-style addressing, required by most
	// S3-compatible endpoints (MinIO, localstack).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// AuthType selects the token verifier.
type AuthType string

const (
	// AuthMocked accepts well-formed tokens without verification.
	AuthMocked AuthType = "mocked"

	// AuthOAuth verifies tokens against an OIDC provider.
	AuthOAuth AuthType = "oauth"

	// AuthJWT verifies tokens against a shared HMAC secret.
	AuthJWT AuthType = "jwt"
)

// AuthConfig selects and configures the token verifier.
type AuthConfig struct {
	// Type is the verifier kind: mocked, oauth or jwt.
	Type AuthType `mapstructure:"type" validate:"required,oneof=mocked oauth jwt" yaml:"type"`

	// OAuth configures the OIDC verifier.
	OAuth OAuthConfig `mapstructure:"oauth" yaml:"oauth"`

	// JWT configures the shared-secret verifier.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// OAuthConfig configures the OIDC verifier.
type OAuthConfig struct {
	// Issuer is the OIDC provider URL used for discovery.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// ClientID is the expected token audience. Empty skips the check.
	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	// UserIDClaim names the claim carrying the user identifier.
	// Default: sub.
	UserIDClaim string `mapstructure:"user_id_claim" yaml:"user_id_claim"`
}

// JWTConfig configures the shared-secret verifier.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	// Override: COLLECTOR_AUTH_JWT_SECRET
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Issuer, when set, is required to match the token's iss claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to a config file; empty uses the default location
//
// Returns:
//   - *Config: loaded and validated configuration
//   - error: read, parse or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and turns a missing file into a
// user-facing error with instructions.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Initialize a configuration file first:\n"+
				"  collector init\n\n"+
				"Or specify a custom config file:\n"+
				"  collector <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it with:\n"+
			"  collector init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path in YAML format. File mode is
// 0600 because the config may hold credentials.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and file search.
// Environment variables use the COLLECTOR_ prefix with underscores, for
// example COLLECTOR_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks converts human-readable config values to typed
// fields, currently duration strings like "60s" or "5m".
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory, honoring
// XDG_CONFIG_HOME.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "collector")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "collector")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
