// Package cleanup runs the background janitor that reaps idle upload
// sessions and orphaned staging resources.
package cleanup

import (
	"context"
	"time"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/metrics"
	"github.com/openmeasure/collector/pkg/session"
	"github.com/openmeasure/collector/pkg/storage"
)

// Janitor periodically expires sessions idle past their TTL and asks the
// backend to remove staged resources that no live session owns.
type Janitor struct {
	sessions *session.Store
	backend  storage.Backend
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics

	now func() time.Time
}

// New creates a janitor. interval <= 0 defaults to the TTL, so a session
// is reaped at most one interval after it expires.
func New(sessions *session.Store, backend storage.Backend, ttl, interval time.Duration, m *metrics.Metrics) *Janitor {
	if interval <= 0 {
		interval = ttl
	}
	return &Janitor{
		sessions: sessions,
		backend:  backend,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	logger.Info("janitor started",
		"ttl", j.ttl.String(), "interval", j.interval.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one cleanup pass: expire idle sessions, release their
// backend resources, then reclaim orphaned staged data.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.ttl)

	expired := j.sessions.ExpireOlderThan(cutoff)
	for _, s := range expired {
		if s.Backend != nil {
			// No-op for sessions that finalized before idling out.
			if err := s.Backend.Abort(ctx); err != nil {
				logger.Warn("failed to release expired upload",
					logger.UploadID(s.UploadID), logger.KeyError, err.Error())
			}
		}
		j.metrics.SessionsExpired.Inc()
		logger.Info("upload session expired",
			logger.UploadID(s.UploadID),
			logger.UserID(s.Owner),
			logger.BytesReceived(s.BytesReceived))
	}

	removed, err := j.backend.CleanupStale(ctx, cutoff, j.sessions.Has)
	if err != nil {
		logger.Warn("stale resource cleanup failed", logger.KeyError, err.Error())
		return
	}
	if len(expired) > 0 || removed > 0 {
		logger.Info("cleanup pass complete",
			"expired_sessions", len(expired), "removed_stale", removed)
	}
}
