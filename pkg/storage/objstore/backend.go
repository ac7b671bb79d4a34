package objstore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/storage"
	"github.com/openmeasure/collector/pkg/storage/docstore"
)

// Backend implements the storage contract over a cloud bucket.
//
// Resumable sessions are node-local, like upload sessions themselves: a
// handle survives across chunk PUTs within one process, and the janitor
// reclaims orphaned objects whose sessions are gone.
type Backend struct {
	bucket Bucket
	docs   docstore.DocumentStore

	mu      sync.Mutex
	handles map[string]*upload
}

// New creates a cloud-object backend over bucket, persisting metadata
// documents through docs.
func New(bucket Bucket, docs docstore.DocumentStore) *Backend {
	return &Backend{
		bucket:  bucket,
		docs:    docs,
		handles: make(map[string]*upload),
	}
}

// Begin opens (or resumes) the resumable session for one upload.
// Idempotent per upload-id: a second Begin returns the live handle.
func (b *Backend) Begin(ctx context.Context, uploadID, owner string, meta *model.Metadata, declaredTotalBytes uint64) (storage.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if u, ok := b.handles[uploadID]; ok {
		b.mu.Unlock()
		return u, nil
	}
	b.mu.Unlock()

	session, err := b.bucket.NewResumableUpload(ctx, uploadID)
	if err != nil {
		return nil, storage.Transient(fmt.Errorf("failed to open resumable upload for %s: %w", uploadID, err))
	}

	u := &upload{
		backend: b,
		id:      uploadID,
		owner:   owner,
		meta:    meta,
		total:   declaredTotalBytes,
		session: session,
	}

	b.mu.Lock()
	// A concurrent Begin may have raced us; keep the first handle.
	if existing, ok := b.handles[uploadID]; ok {
		b.mu.Unlock()
		_ = session.Abort(ctx)
		return existing, nil
	}
	b.handles[uploadID] = u
	b.mu.Unlock()

	return u, nil
}

// CleanupStale aborts resumable sessions with no live session and deletes
// orphaned bucket objects older than cutoff.
func (b *Backend) CleanupStale(ctx context.Context, cutoff time.Time, isActive func(uploadID string) bool) (int, error) {
	removed := 0

	// Drop in-memory handles whose sessions expired.
	b.mu.Lock()
	var stale []*upload
	for id, u := range b.handles {
		if !isActive(id) {
			stale = append(stale, u)
			delete(b.handles, id)
		}
	}
	b.mu.Unlock()

	for _, u := range stale {
		if err := u.session.Abort(ctx); err != nil {
			logger.Warn("failed to abort stale resumable upload",
				logger.KeyUploadID, u.id, logger.KeyError, err.Error())
		}
	}

	// Delete orphaned objects: present in the bucket, no live session,
	// and no metadata document claiming them.
	objects, err := b.bucket.ListObjectsModifiedBefore(ctx, cutoff)
	if err != nil {
		return removed, fmt.Errorf("failed to list bucket objects: %w", err)
	}
	for _, object := range objects {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if isActive(object) {
			continue
		}
		finalized, err := b.docs.HasDocument(ctx, object)
		if err != nil {
			logger.Warn("failed to check document for orphan candidate",
				logger.KeyUploadID, object, logger.KeyError, err.Error())
			continue
		}
		if finalized {
			continue
		}
		if err := b.bucket.DeleteObject(ctx, object); err != nil {
			logger.Warn("failed to delete orphan object",
				logger.KeyUploadID, object, logger.KeyError, err.Error())
			continue
		}
		logger.Info("removed orphan bucket object", logger.KeyUploadID, object)
		removed++
	}

	return removed, nil
}

// forget drops the handle for an upload-id after finalize or abort.
func (b *Backend) forget(uploadID string) {
	b.mu.Lock()
	delete(b.handles, uploadID)
	b.mu.Unlock()
}

// upload is the per-upload-id handle over one resumable session.
type upload struct {
	backend *Backend
	id      string
	owner   string
	meta    *model.Metadata
	total   uint64
	session ResumableUpload
	done    bool
}

func (u *upload) ID() string { return u.id }

// Append streams src into the resumable session at offset.
func (u *upload) Append(ctx context.Context, offset uint64, src io.Reader) (uint64, error) {
	received := u.session.Offset()

	// Cancellation still reports the accepted count so the caller's
	// accounting stays at the last acknowledged offset.
	if err := ctx.Err(); err != nil {
		return received, err
	}
	if offset != received {
		return received, storage.ErrRangeMismatch
	}
	if offset > u.total {
		return received, storage.ErrOverflow
	}

	// Stream at most one byte past the declared remainder so an oversized
	// chunk is detected without accepting it.
	remaining := u.total - offset
	payload, err := io.ReadAll(io.LimitReader(src, int64(remaining)+1))
	if err != nil {
		// Nothing was handed to the bucket; the staged offset is intact.
		return received, storage.Transient(fmt.Errorf("chunk stream interrupted at %d: %w", offset, err))
	}
	if uint64(len(payload)) > remaining {
		return received, storage.ErrOverflow
	}

	// The chunk is fully buffered, so handing it to the bucket is
	// replayable and gets the single transient retry.
	err = storage.WithRetry(ctx, "objstore append", func() error {
		if err := u.session.Append(ctx, payload); err != nil {
			return storage.Transient(fmt.Errorf("failed to append to resumable upload: %w", err))
		}
		return nil
	})
	if err != nil {
		return u.session.Offset(), err
	}

	return u.session.Offset(), nil
}

// Status returns the accepted byte count.
func (u *upload) Status(ctx context.Context) (uint64, error) {
	if u.done {
		return u.total, nil
	}
	return u.session.Offset(), nil
}

// Finalize completes the resumable session and inserts the metadata
// document. Safe to retry; after the first success it is a no-op.
func (u *upload) Finalize(ctx context.Context) error {
	finalized, err := u.backend.docs.HasDocument(ctx, u.id)
	if err != nil {
		return storage.Transient(err)
	}
	if finalized {
		u.done = true
		u.backend.forget(u.id)
		return nil
	}

	if u.session.Offset() != u.total {
		return storage.Permanent(fmt.Errorf("resumable upload %s holds %d bytes, declared %d",
			u.id, u.session.Offset(), u.total))
	}

	err = storage.WithRetry(ctx, "objstore finalize", func() error {
		if !u.done {
			if err := u.session.Complete(ctx); err != nil {
				return storage.Transient(fmt.Errorf("failed to complete resumable upload: %w", err))
			}
			u.done = true
		}
		doc := model.NewDocument(u.id, u.owner, u.total, u.meta, time.Now())
		if err := u.backend.docs.InsertDocument(ctx, doc); err != nil {
			return storage.Transient(fmt.Errorf("failed to insert metadata document: %w", err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.backend.forget(u.id)
	logger.Info("upload finalized",
		logger.KeyUploadID, u.id, logger.KeyBackend, "s3",
		logger.KeyTotalBytes, u.total, logger.KeyUserID, u.owner)
	return nil
}

// Abort discards the resumable session. A no-op once finalized.
func (u *upload) Abort(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.backend.forget(u.id)
	if err := u.session.Abort(ctx); err != nil {
		return storage.Transient(err)
	}
	return nil
}
