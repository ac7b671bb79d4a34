// Package objstore implements the storage backend that streams chunks
// into a cloud bucket's resumable upload and inserts the metadata document
// on finalize.
//
// The provider SDK is an external collaborator reached through the Bucket
// and ResumableUpload interfaces; the in-tree adapter is backed by the
// AWS S3 multipart API and any S3-compatible endpoint. The upload-id is
// used both as the object name and as the metadata document filename so
// the two are joinable.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound reports a missing bucket object.
var ErrObjectNotFound = errors.New("object not found")

// Bucket is the provider-neutral view of a cloud object bucket with a
// resumable-upload primitive.
type Bucket interface {
	// NewResumableUpload opens a resumable upload session for object.
	NewResumableUpload(ctx context.Context, object string) (ResumableUpload, error)

	// ObjectSize returns the size of a completed object, or
	// ErrObjectNotFound.
	ObjectSize(ctx context.Context, object string) (int64, error)

	// DeleteObject removes object. Deleting a missing object is a no-op.
	DeleteObject(ctx context.Context, object string) error

	// ListObjectsModifiedBefore enumerates object names whose last
	// modification is before cutoff.
	ListObjectsModifiedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ResumableUpload is one open resumable session. Writes are contiguous:
// each Append continues where the previous one ended.
type ResumableUpload interface {
	// Append accepts the next contiguous byte range of the object.
	Append(ctx context.Context, p []byte) error

	// Offset returns the number of bytes accepted so far. Accepted means
	// acknowledged, not durable: providers with a minimum part size hold
	// a tail buffer in memory, and a later part-upload failure can roll
	// the offset back. Clients recover through the range-mismatch
	// handshake, which always reports the current offset.
	Offset() uint64

	// Complete closes the session and makes the object visible.
	Complete(ctx context.Context) error

	// Abort discards the session and any accepted bytes.
	Abort(ctx context.Context) error
}
