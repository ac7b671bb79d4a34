package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/config"
	"github.com/openmeasure/collector/pkg/metrics"
)

// Server runs the ingestion HTTP server and, when enabled, a separate
// metrics server. It supports graceful shutdown and is safe to stop more
// than once.
type Server struct {
	server        *http.Server
	metricsServer *http.Server
	httpConfig    config.HTTPConfig
	shutdownOnce  sync.Once
}

// NewServer creates the server around an already wired router.
// The metrics server is only created when metricsConfig.Enabled is set.
func NewServer(httpConfig config.HTTPConfig, metricsConfig config.MetricsConfig,
	router http.Handler, m *metrics.Metrics) *Server {

	s := &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(httpConfig.Host, strconv.Itoa(httpConfig.Port)),
			Handler:           router,
			ReadHeaderTimeout: httpConfig.ReadTimeout,
			WriteTimeout:      httpConfig.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		httpConfig: httpConfig,
	}

	if metricsConfig.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{
			Addr:              net.JoinHostPort(httpConfig.Host, strconv.Itoa(metricsConfig.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s
}

// Start serves until the context is cancelled or a listener fails.
// Cancellation triggers graceful shutdown bounded by shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errChan := make(chan error, 2)

	go func() {
		logger.Info("API server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	if s.metricsServer != nil {
		go func() {
			logger.Info("metrics server listening", "addr", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Stop gracefully shuts both servers down. Safe to call multiple times
// and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err.Error())
		} else {
			logger.Info("API server stopped gracefully")
		}

		if s.metricsServer != nil {
			if err := s.metricsServer.Shutdown(ctx); err != nil && shutdownErr == nil {
				shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			}
		}
	})
	return shutdownErr
}

// Addr returns the configured listen address of the API server.
func (s *Server) Addr() string {
	return s.server.Addr
}
