package gridfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/storage"
	"github.com/openmeasure/collector/pkg/storage/docstore"
)

func testMetadata(t *testing.T) *model.Metadata {
	t.Helper()
	return &model.Metadata{
		DeviceID:      uuid.MustParse("78370516-4f7e-4cd4-9e95-e9a2c9b3ec04"),
		MeasurementID: 1,
		OSVersion:     "Android 14",
		DeviceType:    "Pixel 8",
		AppVersion:    "4.2.0",
		FormatVersion: 3,
		Length:        1023.5,
		LocationCount: 2,
		StartLocation: &model.GeoLocation{Timestamp: 1700000000000, Latitude: 51.05, Longitude: 13.73},
		EndLocation:   &model.GeoLocation{Timestamp: 1700000060000, Latitude: 51.07, Longitude: 13.76},
		Modality:      "BICYCLE",
	}
}

func newTestBackend(t *testing.T) (*Backend, *docstore.BadgerStore, string) {
	t.Helper()
	stagingDir := t.TempDir()

	store, err := docstore.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend, err := New(stagingDir, store, store)
	require.NoError(t, err)
	return backend, store, stagingDir
}

func TestUploadAcrossChunks(t *testing.T) {
	backend, store, _ := newTestBackend(t)
	ctx := context.Background()

	payload := []byte("0123456789abcdef")
	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), uint64(len(payload)))
	require.NoError(t, err)

	// Tile the payload with uneven chunks.
	n, err := up.Append(ctx, 0, bytes.NewReader(payload[:5]))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	n, err = up.Append(ctx, 5, bytes.NewReader(payload[5:7]))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	n, err = up.Append(ctx, 7, bytes.NewReader(payload[7:]))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), n)

	require.NoError(t, up.Finalize(ctx))

	// The blob byte-for-byte equals the chunk concatenation.
	r, err := store.OpenBlob(ctx, "upload-1")
	require.NoError(t, err)
	defer r.Close()
	stored, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	doc, err := store.GetDocument(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), doc.UploadLength)
	assert.Equal(t, "user-1", doc.Properties.UserID)
}

func TestBeginResumesExistingStage(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	// A second Begin for the same id picks up the staged bytes.
	resumed, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 8)
	require.NoError(t, err)
	staged, err := resumed.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), staged)
}

func TestAppendRangeMismatch(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	staged, err := up.Append(ctx, 2, strings.NewReader("xx"))
	assert.ErrorIs(t, err, storage.ErrRangeMismatch)
	assert.Equal(t, uint64(4), staged)
}

func TestAppendOverflowRollsBack(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 4)
	require.NoError(t, err)

	_, err = up.Append(ctx, 0, strings.NewReader("toolong"))
	assert.ErrorIs(t, err, storage.ErrOverflow)

	// The oversized chunk left nothing behind.
	staged, err := up.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), staged)
}

type brokenReader struct {
	data []byte
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestAppendInterruptedStreamRollsBack(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 16)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	// The client drops mid-chunk; the partial bytes are discarded and the
	// offset stays at the last commit.
	staged, err := up.Append(ctx, 4, &brokenReader{data: []byte("ef")})
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.Equal(t, uint64(4), staged)

	status, err := up.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), status)
}

func TestAppendCancelledContextReportsStagedBytes(t *testing.T) {
	backend, _, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled append still reports the durable count; anything else
	// would roll the caller's accounting backwards.
	staged, err := up.Append(cancelled, 4, strings.NewReader("ef"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(4), staged)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	backend, store, _ := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 4)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	require.NoError(t, up.Finalize(ctx))
	require.NoError(t, up.Finalize(ctx))

	docs, err := store.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	// Status reports the full size after the stage is discarded.
	staged, err := up.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), staged)
}

func TestFinalizeIncompleteFails(t *testing.T) {
	backend, _, stagingDir := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	err = up.Finalize(ctx)
	assert.ErrorIs(t, err, storage.ErrPermanent)

	// The staged file is retained for a later retry.
	_, statErr := os.Stat(filepath.Join(stagingDir, "upload-1"))
	assert.NoError(t, statErr)
}

func TestAbortRemovesStage(t *testing.T) {
	backend, _, stagingDir := newTestBackend(t)
	ctx := context.Background()

	up, err := backend.Begin(ctx, "upload-1", "user-1", testMetadata(t), 8)
	require.NoError(t, err)
	_, err = up.Append(ctx, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	require.NoError(t, up.Abort(ctx))
	_, statErr := os.Stat(filepath.Join(stagingDir, "upload-1"))
	assert.True(t, os.IsNotExist(statErr))

	// Abort after finalize is a no-op.
	require.NoError(t, up.Abort(ctx))
}

func TestCleanupStale(t *testing.T) {
	backend, _, stagingDir := newTestBackend(t)
	ctx := context.Background()

	for _, id := range []string{"stale", "active", "fresh"} {
		up, err := backend.Begin(ctx, id, "user-1", testMetadata(t), 8)
		require.NoError(t, err)
		_, err = up.Append(ctx, 0, strings.NewReader("ab"))
		require.NoError(t, err)
	}

	// Age two of the staged files past the cutoff.
	old := time.Now().Add(-time.Hour)
	for _, id := range []string{"stale", "active"} {
		require.NoError(t, os.Chtimes(filepath.Join(stagingDir, id), old, old))
	}

	removed, err := backend.CleanupStale(ctx, time.Now().Add(-time.Minute), func(id string) bool {
		return id == "active"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(stagingDir, "stale"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(stagingDir, "active"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(stagingDir, "fresh"))
	assert.NoError(t, err)
}
