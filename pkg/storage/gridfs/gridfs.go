// Package gridfs implements the storage backend that stages chunks to
// local scratch files and, on finalize, promotes the staged payload into a
// blob store with an associated metadata document.
//
// The staging area is a flat directory of files named by upload-id. A
// staged file exists exactly while its session is live; finalize promotes
// and removes it, abort removes it, and the janitor reclaims files whose
// session has expired.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/storage"
	"github.com/openmeasure/collector/pkg/storage/docstore"
)

// Backend stages uploads under a scratch directory and persists finalized
// payloads through the document and blob stores.
type Backend struct {
	stagingDir string
	docs       docstore.DocumentStore
	blobs      docstore.BlobStore
}

// New creates a gridfs-style backend staging into stagingDir.
// The directory is created if missing.
func New(stagingDir string, docs docstore.DocumentStore, blobs docstore.BlobStore) (*Backend, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", stagingDir, err)
	}
	return &Backend{stagingDir: stagingDir, docs: docs, blobs: blobs}, nil
}

// stagePath returns the scratch file path for an upload-id.
func (b *Backend) stagePath(uploadID string) string {
	return filepath.Join(b.stagingDir, uploadID)
}

// Begin opens the staging resources for one upload. Idempotent: an
// existing staged file is resumed at its current size.
func (b *Backend) Begin(ctx context.Context, uploadID, owner string, meta *model.Metadata, declaredTotalBytes uint64) (storage.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := b.stagePath(uploadID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, storage.Permanent(fmt.Errorf("failed to open staged file %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return nil, storage.Permanent(err)
	}

	return &upload{
		backend: b,
		id:      uploadID,
		owner:   owner,
		meta:    meta,
		total:   declaredTotalBytes,
	}, nil
}

// CleanupStale removes staged files last modified before cutoff whose
// upload-id has no live session.
func (b *Backend) CleanupStale(ctx context.Context, cutoff time.Time, isActive func(uploadID string) bool) (int, error) {
	entries, err := os.ReadDir(b.stagingDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) || isActive(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(b.stagingDir, entry.Name())); err != nil {
			logger.Warn("failed to remove stale staged file",
				logger.KeyUploadID, entry.Name(), logger.KeyError, err.Error())
			continue
		}
		logger.Info("removed stale staged file",
			logger.KeyUploadID, entry.Name(), logger.KeyStageDir, b.stagingDir)
		removed++
	}
	return removed, nil
}

// upload is the per-upload-id handle. The protocol handler serializes all
// calls on one handle.
type upload struct {
	backend *Backend
	id      string
	owner   string
	meta    *model.Metadata
	total   uint64
}

func (u *upload) ID() string { return u.id }

func (u *upload) path() string { return u.backend.stagePath(u.id) }

// Append writes src at offset. The staged file only ever grows by fully
// streamed chunks: on any failure the file is truncated back to offset so
// a partial chunk is never visible as received bytes.
func (u *upload) Append(ctx context.Context, offset uint64, src io.Reader) (uint64, error) {
	info, err := os.Stat(u.path())
	if err != nil {
		return 0, storage.Permanent(fmt.Errorf("staged file missing for %s: %w", u.id, err))
	}
	staged := uint64(info.Size())

	// Cancellation still reports the durable count so the caller's
	// accounting stays at the last committed offset.
	if err := ctx.Err(); err != nil {
		return staged, err
	}

	if offset != staged {
		return staged, storage.ErrRangeMismatch
	}
	if offset > u.total {
		return staged, storage.ErrOverflow
	}

	f, err := os.OpenFile(u.path(), os.O_WRONLY, 0o644)
	if err != nil {
		return staged, storage.Permanent(err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return staged, storage.Permanent(err)
	}

	// Stream at most one byte past the declared remainder so an oversized
	// chunk is detected without buffering it.
	remaining := u.total - offset
	n, copyErr := io.Copy(f, io.LimitReader(src, int64(remaining)+1))

	if copyErr != nil || uint64(n) > remaining {
		// Roll back to the last committed offset; the client resumes from
		// there after consulting the status endpoint.
		if truncErr := os.Truncate(u.path(), int64(offset)); truncErr != nil {
			return staged, storage.Permanent(fmt.Errorf("failed to roll back staged file: %w", truncErr))
		}
		if copyErr != nil {
			return staged, storage.Transient(fmt.Errorf("chunk stream interrupted at %d: %w", offset+uint64(n), copyErr))
		}
		return staged, storage.ErrOverflow
	}

	// The chunk is fully written, so the sync is replayable and gets the
	// single transient retry.
	err = storage.WithRetry(ctx, "gridfs append sync", func() error {
		if err := f.Sync(); err != nil {
			return storage.Transient(err)
		}
		return nil
	})
	if err != nil {
		return staged, err
	}

	return offset + uint64(n), nil
}

// Status returns the staged byte count; once finalized, the full size.
func (u *upload) Status(ctx context.Context) (uint64, error) {
	info, err := os.Stat(u.path())
	if err == nil {
		return uint64(info.Size()), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return 0, storage.Permanent(err)
	}

	done, derr := u.backend.docs.HasDocument(ctx, u.id)
	if derr != nil {
		return 0, storage.Transient(derr)
	}
	if done {
		return u.total, nil
	}
	return 0, nil
}

// Finalize promotes the staged file into the blob store and inserts the
// metadata document. Safe to retry: the document's presence marks
// completion, and a replay is a no-op.
func (u *upload) Finalize(ctx context.Context) error {
	done, err := u.backend.docs.HasDocument(ctx, u.id)
	if err != nil {
		return storage.Transient(err)
	}
	if done {
		u.discardStage()
		return nil
	}

	info, err := os.Stat(u.path())
	if err != nil {
		return storage.Permanent(fmt.Errorf("staged file missing for %s: %w", u.id, err))
	}
	if uint64(info.Size()) != u.total {
		return storage.Permanent(fmt.Errorf("staged file for %s holds %d bytes, declared %d",
			u.id, info.Size(), u.total))
	}

	err = storage.WithRetry(ctx, "gridfs finalize", func() error {
		f, err := os.Open(u.path())
		if err != nil {
			return storage.Permanent(err)
		}
		defer f.Close()

		if err := u.backend.blobs.PutBlob(ctx, u.id, info.Size(), f); err != nil {
			return storage.Transient(fmt.Errorf("failed to store blob: %w", err))
		}

		doc := model.NewDocument(u.id, u.owner, u.total, u.meta, time.Now())
		if err := u.backend.docs.InsertDocument(ctx, doc); err != nil {
			return storage.Transient(fmt.Errorf("failed to insert metadata document: %w", err))
		}
		return nil
	})
	if err != nil {
		// The staged file is retained so a later retry (or the janitor,
		// after the TTL) picks it up.
		return err
	}

	u.discardStage()
	logger.Info("upload finalized",
		logger.KeyUploadID, u.id, logger.KeyBackend, "gridfs",
		logger.KeyTotalBytes, u.total, logger.KeyUserID, u.owner)
	return nil
}

// Abort releases the staging resources. After a successful finalize the
// staged file is already gone and this is a no-op.
func (u *upload) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.discardStage()
	return nil
}

func (u *upload) discardStage() {
	if err := os.Remove(u.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove staged file",
			logger.KeyUploadID, u.id, logger.KeyError, err.Error())
	}
}
