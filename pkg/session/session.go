// Package session holds the node-local state of in-progress uploads: a
// TTL-bounded map from upload-id to session, with all mutations of one
// session serialized and mutations of distinct sessions running in
// parallel.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/storage"
)

// State is the lifecycle state of an upload session.
type State int

const (
	// Open accepts chunk appends.
	Open State = iota
	// Finalizing has received all declared bytes and is persisting.
	Finalizing
	// Done is durably persisted; the metadata document exists.
	Done
	// Aborted is terminal: expired, failed, or cancelled.
	Aborted
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Finalizing:
		return "Finalizing"
	case Done:
		return "Done"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidTransition reports a state change that violates the monotone
// lifecycle Open -> Finalizing -> Done, or any -> Aborted.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is the server-side state of one upload attempt.
type Session struct {
	// UploadID is the server-minted identifier of this attempt.
	UploadID string

	// Owner is the authenticated user that created the session. Only the
	// owner may touch it.
	Owner string

	// Key is the client-supplied logical measurement identity.
	Key model.MeasurementKey

	// Metadata is the validated metadata from the pre-request. Chunk PUT
	// headers must match it exactly.
	Metadata *model.Metadata

	// DeclaredTotalBytes is the size announced in the pre-request.
	DeclaredTotalBytes uint64

	// BytesReceived is the durably staged byte count. Always
	// <= DeclaredTotalBytes.
	BytesReceived uint64

	// Backend is the storage handle opened by Begin.
	Backend storage.Upload

	CreatedAt      time.Time
	LastActivityAt time.Time

	State State
}

// Touch advances the activity timestamp, deferring TTL expiry.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// TransitionTo moves the session to next, enforcing the monotone
// lifecycle. Transitioning to the current state is a no-op.
func (s *Session) TransitionTo(next State) error {
	if next == s.State {
		return nil
	}
	switch {
	case next == Aborted:
		// Any state may abort.
	case s.State == Open && next == Finalizing:
	case s.State == Finalizing && next == Done:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	s.State = next
	return nil
}

// Expired reports whether the session idled past ttl at the given time.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivityAt) > ttl
}
