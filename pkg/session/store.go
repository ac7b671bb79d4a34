package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound reports an unknown upload-id.
	ErrNotFound = errors.New("session not found")

	// ErrExists reports a Create for an upload-id already in the store.
	ErrExists = errors.New("session already exists")
)

// Store is the process-wide map from upload-id to session.
//
// Two locks are involved: the store mutex guards the map for short lookup
// and insert/remove sections, and each entry carries its own mutex that
// serializes all work on one session. WithSession holds the entry lock for
// the caller's whole critical section, which is how chunk PUTs on the same
// upload-id are serialized even while streaming; sessions with different
// ids proceed in parallel.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// Create inserts a new session keyed by its upload-id.
func (st *Store) Create(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[s.UploadID]; ok {
		return ErrExists
	}
	st.sessions[s.UploadID] = &entry{session: s}
	return nil
}

// Get returns a point-in-time copy of the session for id. The copy
// reflects the state after any previously committed update for that id.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.Lock()
	e, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	return *e.session, true
}

// WithSession runs fn with exclusive access to the session for id. All
// calls for one id are serialized; fn may block (streaming a chunk body)
// without holding up other sessions.
func (st *Store) WithSession(id string, fn func(*Session) error) error {
	st.mu.Lock()
	e, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		// Lost a race with Remove or expiry.
		return ErrNotFound
	}
	return fn(e.session)
}

// Remove deletes the session for id. Waits for any in-flight critical
// section on that session to finish first.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	e, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

// Has reports whether id is a live session. Used by backend cleanup to
// distinguish orphaned staging resources from active ones.
func (st *Store) Has(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	return ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// ExpireOlderThan transitions every session idle past the cutoff to
// Aborted, removes it from the store, and returns the expired sessions so
// the caller can release their backend resources.
func (st *Store) ExpireOlderThan(cutoff time.Time) []*Session {
	st.mu.Lock()
	var candidates []*entry
	for _, e := range st.sessions {
		candidates = append(candidates, e)
	}
	st.mu.Unlock()

	var expired []*Session
	for _, e := range candidates {
		e.mu.Lock()
		if e.removed || !e.session.LastActivityAt.Before(cutoff) {
			e.mu.Unlock()
			continue
		}
		// Terminal states linger in the store only until expiry; their
		// backend resources are already released.
		_ = e.session.TransitionTo(Aborted)
		e.removed = true
		expired = append(expired, e.session)
		e.mu.Unlock()

		st.mu.Lock()
		delete(st.sessions, e.session.UploadID)
		st.mu.Unlock()
	}
	return expired
}
