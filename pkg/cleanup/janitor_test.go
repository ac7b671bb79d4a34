package cleanup

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmeasure/collector/pkg/metrics"
	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/session"
	"github.com/openmeasure/collector/pkg/storage"
)

type fakeUpload struct {
	id      string
	aborted bool
}

func (u *fakeUpload) ID() string { return u.id }
func (u *fakeUpload) Append(ctx context.Context, offset uint64, src io.Reader) (uint64, error) {
	return offset, nil
}
func (u *fakeUpload) Status(ctx context.Context) (uint64, error) { return 0, nil }
func (u *fakeUpload) Finalize(ctx context.Context) error         { return nil }
func (u *fakeUpload) Abort(ctx context.Context) error {
	u.aborted = true
	return nil
}

type fakeBackend struct {
	cleanupCutoff time.Time
	activeProbes  []string
	removed       int
}

func (b *fakeBackend) Begin(ctx context.Context, uploadID, owner string, meta *model.Metadata, total uint64) (storage.Upload, error) {
	return &fakeUpload{id: uploadID}, nil
}

func (b *fakeBackend) CleanupStale(ctx context.Context, cutoff time.Time, isActive func(string) bool) (int, error) {
	b.cleanupCutoff = cutoff
	// Probe the liveness callback the way a real backend would for each
	// staged resource it finds.
	for _, id := range []string{"stale", "fresh"} {
		if !isActive(id) {
			b.activeProbes = append(b.activeProbes, id)
			b.removed++
		}
	}
	return b.removed, nil
}

func newSession(id string, last time.Time, up storage.Upload) *session.Session {
	return &session.Session{
		UploadID:           id,
		Owner:              "user-1",
		DeclaredTotalBytes: 10,
		Backend:            up,
		CreatedAt:          last,
		LastActivityAt:     last,
		State:              session.Open,
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	store := session.NewStore()
	backend := &fakeBackend{}
	base := time.Now()

	staleUpload := &fakeUpload{id: "stale"}
	require.NoError(t, store.Create(newSession("stale", base.Add(-2*time.Minute), staleUpload)))

	freshUpload := &fakeUpload{id: "fresh"}
	require.NoError(t, store.Create(newSession("fresh", base, freshUpload)))

	j := New(store, backend, time.Minute, time.Minute, metrics.New())
	j.now = func() time.Time { return base }

	j.Sweep(context.Background())

	assert.True(t, staleUpload.aborted)
	assert.False(t, freshUpload.aborted)
	assert.False(t, store.Has("stale"))
	assert.True(t, store.Has("fresh"))

	// The backend is asked to reclaim resources older than now-TTL, with
	// the live-session probe excluding "fresh".
	assert.Equal(t, base.Add(-time.Minute), backend.cleanupCutoff)
	assert.Equal(t, []string{"stale"}, backend.activeProbes)
}

func TestNewDefaultsIntervalToTTL(t *testing.T) {
	j := New(session.NewStore(), &fakeBackend{}, 45*time.Second, 0, metrics.New())
	assert.Equal(t, 45*time.Second, j.interval)
}

func TestRunStopsOnCancel(t *testing.T) {
	j := New(session.NewStore(), &fakeBackend{}, time.Minute, 10*time.Millisecond, metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancellation")
	}
}
