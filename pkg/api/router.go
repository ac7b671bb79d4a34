package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openmeasure/collector/internal/logger"
)

// NewRouter wires the measurement endpoints under the configured base
// path, plus the unauthenticated health probes.
//
// Middleware stack, in order: request ID, real client IP, request
// logging, panic recovery. No global timeout is applied because chunk
// PUTs stream arbitrarily large bodies; the HTTP server's write timeout
// bounds responses instead.
//
// Routes:
//   - GET  /health                          - liveness probe
//   - GET  /health/ready                    - readiness probe
//   - POST {base}/measurements              - upload pre-request
//   - PUT  {base}/measurements/{uploadID}/  - chunk write or status query
//   - GET  {base}/measurements              - list own measurements
//   - GET  {base}/measurements/{uploadID}   - fetch one measurement
func NewRouter(h *Handler, health *HealthHandler, basePath string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	routes := func(r chi.Router) {
		r.Route("/measurements", func(r chi.Router) {
			r.Post("/", h.CreateUpload)
			r.Get("/", h.ListMeasurements)
			r.Put("/{uploadID}", h.UploadChunk)
			r.Put("/{uploadID}/", h.UploadChunk)
			r.Get("/{uploadID}", h.GetMeasurement)
		})
	}

	if basePath == "" || basePath == "/" {
		routes(r)
	} else {
		r.Route(basePath, routes)
	}

	return r
}

// requestLogger logs one line per request with timing and status.
// Health probes log at DEBUG so orchestrator polling stays out of the
// logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyClientIP, r.RemoteAddr,
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
		}

		if strings.HasPrefix(r.URL.Path, "/health") {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
