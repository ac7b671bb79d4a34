package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, DefaultHTTPPort, cfg.HTTP.Port)
	assert.Equal(t, "/api/v4", cfg.HTTP.Endpoint)
	assert.Equal(t, DefaultUploadExpiration, cfg.Upload.Expiration)
	assert.Equal(t, uint64(DefaultPayloadLimit), cfg.Upload.PayloadLimit)
	assert.Equal(t, StorageGridFS, cfg.Storage.Type)
	assert.Equal(t, AuthMocked, cfg.Auth.Type)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
http:
  port: 9000
  endpoint: /api/v4/
upload:
  expiration: 2m
  payload_limit: 1048576
storage:
  type: s3
  s3:
    bucket: measurements
    region: us-east-1
auth:
  type: jwt
  jwt:
    secret: 0123456789abcdef0123456789abcdef
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	// Trailing slash is normalized away.
	assert.Equal(t, "/api/v4", cfg.HTTP.Endpoint)
	assert.Equal(t, 2*time.Minute, cfg.Upload.Expiration)
	assert.Equal(t, uint64(1<<20), cfg.Upload.PayloadLimit)
	assert.Equal(t, StorageS3, cfg.Storage.Type)
	assert.Equal(t, "measurements", cfg.Storage.S3.Bucket)
	assert.Equal(t, AuthJWT, cfg.Auth.Type)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = StorageS3 }},
		{"oauth without issuer", func(c *Config) { c.Auth.Type = AuthOAuth }},
		{"jwt with short secret", func(c *Config) {
			c.Auth.Type = AuthJWT
			c.Auth.JWT.Secret = "short"
		}},
		{"metrics port collision", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = c.HTTP.Port
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.HTTP.Port = 9000
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, loaded.HTTP.Port)
	assert.Equal(t, cfg.Upload.Expiration, loaded.Upload.Expiration)
}
