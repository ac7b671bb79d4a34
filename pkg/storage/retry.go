package storage

import (
	"context"
	"errors"
	"time"

	"github.com/openmeasure/collector/internal/logger"
)

// retryDelay bounds the single internal retry for transient failures.
const retryDelay = 250 * time.Millisecond

// WithRetry runs fn and, when it fails with ErrTransient, retries exactly
// once after a bounded delay. Any other failure, or a second transient
// failure, is returned to the caller.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, ErrTransient) {
		return err
	}

	logger.Warn("transient backend failure, retrying once",
		"operation", op, logger.KeyAttempt, 1, logger.KeyError, err.Error())

	select {
	case <-time.After(retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return fn()
}
