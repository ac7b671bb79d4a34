// Package metrics exposes the collector's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors the upload pipeline reports into. All
// fields are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	// SessionsCreated counts accepted pre-requests.
	SessionsCreated prometheus.Counter

	// SessionsFinalized counts uploads persisted end to end.
	SessionsFinalized prometheus.Counter

	// SessionsAborted counts sessions aborted by backend failure, labeled
	// by backend.
	SessionsAborted *prometheus.CounterVec

	// SessionsExpired counts sessions reaped by the TTL janitor.
	SessionsExpired prometheus.Counter

	// BytesReceived counts durably staged payload bytes.
	BytesReceived prometheus.Counter

	// ChunksRejected counts chunk PUTs rejected before staging, labeled
	// by reason (range_mismatch, metadata_mismatch, too_large).
	ChunksRejected *prometheus.CounterVec

	// InFlightUploads gauges chunk PUTs currently streaming.
	InFlightUploads prometheus.Gauge
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		registry: reg,
		SessionsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "collector_upload_sessions_created_total",
			Help: "Total number of upload sessions created by pre-requests",
		}),
		SessionsFinalized: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "collector_upload_sessions_finalized_total",
			Help: "Total number of upload sessions persisted successfully",
		}),
		SessionsAborted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "collector_upload_sessions_aborted_total",
			Help: "Total number of upload sessions aborted after backend failure",
		}, []string{"backend"}),
		SessionsExpired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "collector_upload_sessions_expired_total",
			Help: "Total number of upload sessions reaped after their idle TTL",
		}),
		BytesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "collector_upload_bytes_received_total",
			Help: "Total payload bytes durably staged",
		}),
		ChunksRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "collector_upload_chunks_rejected_total",
			Help: "Total chunk requests rejected before staging, by reason",
		}, []string{"reason"}),
		InFlightUploads: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "collector_upload_in_flight",
			Help: "Number of chunk uploads currently streaming",
		}),
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
