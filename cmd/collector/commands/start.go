package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/api"
	"github.com/openmeasure/collector/pkg/auth"
	"github.com/openmeasure/collector/pkg/cleanup"
	"github.com/openmeasure/collector/pkg/config"
	"github.com/openmeasure/collector/pkg/metrics"
	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/session"
	"github.com/openmeasure/collector/pkg/storage"
	"github.com/openmeasure/collector/pkg/storage/docstore"
	"github.com/openmeasure/collector/pkg/storage/gridfs"
	"github.com/openmeasure/collector/pkg/storage/objstore"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the collector server",
	Long: `Start the collector server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/collector/config.yaml.

Examples:
  # Start with default config location
  collector start

  # Start with custom config file
  collector start --config /etc/collector/config.yaml

  # Start with environment variable overrides
  COLLECTOR_LOGGING_LEVEL=DEBUG collector start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Cancelled on SIGINT/SIGTERM; everything below shuts down with it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("configuration loaded",
		"storage", string(cfg.Storage.Type),
		"auth", string(cfg.Auth.Type),
		"upload_ttl", cfg.Upload.Expiration.String())

	store, err := docstore.OpenBadger(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close document store", logger.KeyError, err.Error())
		}
	}()

	backend, err := buildBackend(ctx, cfg, store)
	if err != nil {
		return err
	}

	authn, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	sessions := session.NewStore()

	handler := api.NewHandler(sessions, backend, store, authn, m, api.Options{
		Endpoint:     cfg.HTTP.Endpoint,
		PayloadLimit: cfg.Upload.PayloadLimit,
		Validation: model.ValidationOptions{
			AcceptedFormatVersions: cfg.Upload.AcceptedFormatVersions,
			AcceptedModalities:     cfg.Upload.AcceptedModalities,
		},
		BackendName: string(cfg.Storage.Type),
	})
	health := api.NewHealthHandler(store)
	router := api.NewRouter(handler, health, cfg.HTTP.Endpoint)

	janitor := cleanup.New(sessions, backend, cfg.Upload.Expiration, 0, m)
	go janitor.Run(ctx)

	server := api.NewServer(cfg.HTTP, cfg.Metrics, router, m)
	return server.Start(ctx, cfg.ShutdownTimeout)
}

// buildBackend constructs the configured storage backend.
func buildBackend(ctx context.Context, cfg *config.Config, store *docstore.BadgerStore) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case config.StorageGridFS:
		backend, err := gridfs.New(cfg.Storage.GridFS.UploadsFolder, store, store)
		if err != nil {
			return nil, fmt.Errorf("failed to create gridfs backend: %w", err)
		}
		return backend, nil

	case config.StorageS3:
		bucket, err := objstore.NewS3Bucket(ctx, objstore.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			Bucket:          cfg.Storage.S3.Bucket,
			KeyPrefix:       cfg.Storage.S3.KeyPrefix,
			PagingSize:      cfg.Storage.S3.PagingSize,
			ForcePathStyle:  cfg.Storage.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 bucket: %w", err)
		}
		return objstore.New(bucket, store), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// buildAuthenticator constructs the configured token verifier.
func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.Type {
	case config.AuthMocked:
		logger.Warn("mocked authentication enabled; tokens are not verified")
		return auth.NewMockedAuthenticator(), nil

	case config.AuthOAuth:
		return auth.NewOIDCAuthenticator(auth.OIDCConfig{
			Issuer:      cfg.Auth.OAuth.Issuer,
			ClientID:    cfg.Auth.OAuth.ClientID,
			UserIDClaim: cfg.Auth.OAuth.UserIDClaim,
		})

	case config.AuthJWT:
		return auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret: cfg.Auth.JWT.Secret,
			Issuer: cfg.Auth.JWT.Issuer,
		})

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}
}
