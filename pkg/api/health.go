package api

import (
	"context"
	"net/http"

	"github.com/openmeasure/collector/pkg/storage/docstore"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	docs docstore.DocumentStore
}

// NewHealthHandler creates the probe handler.
func NewHealthHandler(docs docstore.DocumentStore) *HealthHandler {
	return &HealthHandler{docs: docs}
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports whether the collector can accept uploads. The
// document store is probed when it supports pinging.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if pinger, ok := h.docs.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": err.Error(),
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
