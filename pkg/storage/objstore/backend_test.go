package objstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/storage"
	"github.com/openmeasure/collector/pkg/storage/docstore"
)

// fakeBucket implements Bucket in memory.
type fakeBucket struct {
	mu       sync.Mutex
	opened   int
	uploads  map[string]*fakeResumable
	objects  map[string][]byte
	modified map[string]time.Time
	deleted  []string

	completeErrs int // number of Complete calls to fail
	appendErrs   int // number of Append calls to fail
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		uploads:  make(map[string]*fakeResumable),
		objects:  make(map[string][]byte),
		modified: make(map[string]time.Time),
	}
}

func (b *fakeBucket) NewResumableUpload(ctx context.Context, object string) (ResumableUpload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	u := &fakeResumable{bucket: b, object: object}
	b.uploads[object] = u
	return u, nil
}

func (b *fakeBucket) ObjectSize(ctx context.Context, object string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[object]
	if !ok {
		return 0, ErrObjectNotFound
	}
	return int64(len(data)), nil
}

func (b *fakeBucket) DeleteObject(ctx context.Context, object string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, object)
	b.deleted = append(b.deleted, object)
	return nil
}

func (b *fakeBucket) ListObjectsModifiedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name, ts := range b.modified {
		if ts.Before(cutoff) {
			names = append(names, name)
		}
	}
	return names, nil
}

type fakeResumable struct {
	bucket  *fakeBucket
	object  string
	buf     bytes.Buffer
	aborted bool
}

func (u *fakeResumable) Append(ctx context.Context, p []byte) error {
	u.bucket.mu.Lock()
	if u.bucket.appendErrs > 0 {
		u.bucket.appendErrs--
		u.bucket.mu.Unlock()
		return errors.New("transient part failure")
	}
	u.bucket.mu.Unlock()
	u.buf.Write(p)
	return nil
}

func (u *fakeResumable) Offset() uint64 { return uint64(u.buf.Len()) }

func (u *fakeResumable) Complete(ctx context.Context) error {
	u.bucket.mu.Lock()
	defer u.bucket.mu.Unlock()
	if u.bucket.completeErrs > 0 {
		u.bucket.completeErrs--
		return errors.New("transient bucket failure")
	}
	u.bucket.objects[u.object] = append([]byte(nil), u.buf.Bytes()...)
	u.bucket.modified[u.object] = time.Now()
	return nil
}

func (u *fakeResumable) Abort(ctx context.Context) error {
	u.aborted = true
	return nil
}

func testMetadata() *model.Metadata {
	return &model.Metadata{
		DeviceID:      uuid.MustParse("78370516-4f7e-4cd4-9e95-e9a2c9b3ec04"),
		MeasurementID: 3,
		OSVersion:     "Android 14",
		DeviceType:    "Pixel 8",
		AppVersion:    "4.2.0",
		FormatVersion: 3,
		Length:        100,
		LocationCount: 2,
		StartLocation: &model.GeoLocation{Timestamp: 1700000000000, Latitude: 51.05, Longitude: 13.73},
		EndLocation:   &model.GeoLocation{Timestamp: 1700000060000, Latitude: 51.07, Longitude: 13.76},
		Modality:      "BICYCLE",
	}
}

func newTestBackend(t *testing.T) (*Backend, *fakeBucket, *docstore.BadgerStore) {
	t.Helper()
	store, err := docstore.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bucket := newFakeBucket()
	return New(bucket, store), bucket, store
}

func TestUploadAcrossChunks(t *testing.T) {
	backend, bucket, store := newTestBackend(t)
	ctx := context.Background()

	payload := []byte("0123456789abcdef")
	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), uint64(len(payload)))
	require.NoError(t, err)

	n, err := up.Append(ctx, 0, bytes.NewReader(payload[:9]))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)

	n, err = up.Append(ctx, 9, bytes.NewReader(payload[9:]))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), n)

	require.NoError(t, up.Finalize(ctx))

	assert.Equal(t, payload, bucket.objects["upload-1"])
	doc, err := store.GetDocument(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), doc.UploadLength)
}

func TestBeginIsIdempotent(t *testing.T) {
	backend, bucket, _ := newTestBackend(t)
	ctx := context.Background()

	first, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)
	second, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, bucket.opened)
}

func TestAppendRangeMismatch(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	received, err := up.Append(ctx, 2, strings.NewReader("xx"))
	assert.ErrorIs(t, err, storage.ErrRangeMismatch)
	assert.Equal(t, uint64(4), received)
}

func TestAppendOverflowRejected(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 4)
	require.NoError(t, err)

	received, err := up.Append(ctx, 0, strings.NewReader("toolong"))
	assert.ErrorIs(t, err, storage.ErrOverflow)
	assert.Equal(t, uint64(0), received)
}

func TestAppendCancelledContextReportsAcceptedBytes(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled append still reports the accepted count; anything else
	// would roll the caller's accounting backwards.
	received, err := up.Append(cancelled, 4, strings.NewReader("ef"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(4), received)
}

func TestAppendRetriesTransientFailure(t *testing.T) {
	backend, bucket, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 4)
	require.NoError(t, err)

	// The chunk is buffered before the bucket sees it, so the first part
	// failure is replayed by the single internal retry.
	bucket.appendErrs = 1
	received, err := up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), received)
}

func TestFinalizeRetriesTransientFailure(t *testing.T) {
	backend, bucket, store := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 4)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	// The first Complete fails; the single internal retry succeeds.
	bucket.completeErrs = 1
	require.NoError(t, up.Finalize(ctx))

	assert.Equal(t, []byte("abcd"), bucket.objects["upload-1"])
	ok, err := store.HasDocument(ctx, "upload-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	backend, _, store := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 4)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	require.NoError(t, up.Finalize(ctx))
	require.NoError(t, up.Finalize(ctx))

	docs, err := store.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFinalizeIncompleteFails(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	assert.ErrorIs(t, up.Finalize(ctx), storage.ErrPermanent)
}

func TestAbortDiscardsSession(t *testing.T) {
	backend, bucket, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)
	require.NoError(t, up.Abort(ctx))

	assert.True(t, bucket.uploads["upload-1"].aborted)

	// A later Begin opens a fresh resumable session.
	_, err = backend.Begin(ctx, "upload-1", "user-1", testMetadata(), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, bucket.opened)
}

func TestCleanupStaleDeletesOrphans(t *testing.T) {
	backend, bucket, store := newTestBackend(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)

	// Orphan: object in the bucket, no session, no document.
	bucket.objects["orphan"] = []byte("x")
	bucket.modified["orphan"] = old

	// Finalized: object with a metadata document; must survive.
	bucket.objects["finalized"] = []byte("y")
	bucket.modified["finalized"] = old
	require.NoError(t, store.InsertDocument(ctx, model.NewDocument("finalized", "user-1", 1, testMetadata(), old)))

	removed, err := backend.CleanupStale(ctx, time.Now().Add(-time.Minute), func(string) bool { return false })
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"orphan"}, bucket.deleted)
	assert.Contains(t, bucket.objects, "finalized")
}
