package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration for structural and cross-field
// errors. Called by Load after defaults are applied.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	switch cfg.Storage.Type {
	case StorageGridFS:
		if cfg.Storage.GridFS.UploadsFolder == "" {
			return fmt.Errorf("storage.gridfs.uploads_folder is required for the gridfs backend")
		}
	case StorageS3:
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	}

	switch cfg.Auth.Type {
	case AuthOAuth:
		if cfg.Auth.OAuth.Issuer == "" {
			return fmt.Errorf("auth.oauth.issuer is required for oauth authentication")
		}
	case AuthJWT:
		if len(cfg.Auth.JWT.Secret) < 32 {
			return fmt.Errorf("auth.jwt.secret must be at least 32 characters")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.HTTP.Port {
		return fmt.Errorf("metrics.port must differ from http.port")
	}

	return nil
}
