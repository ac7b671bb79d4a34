// Package storage defines the contract between the upload protocol handler
// and the pluggable storage backends.
//
// A backend bridges streamed chunks to durable storage: the gridfs backend
// stages chunks to local scratch files and promotes them into a blob store
// with an associated metadata document, while the objstore backend streams
// chunks into a cloud bucket's resumable upload. Both present the same
// lifecycle per logical upload:
//
//	Begin -> Append* -> Finalize
//	              \--> Abort
//
// The contract guarantees at-most-once persistence of the finalized blob
// and its metadata document per upload-id. It does not deduplicate the
// measurement key across attempts; that is a policy decision of the
// protocol handler.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/openmeasure/collector/pkg/model"
)

// Backend creates and reclaims upload handles.
type Backend interface {
	// Begin opens (or reopens) the staging resources for one logical
	// upload. It is idempotent per upload-id: calling Begin again for an
	// id with staged bytes returns a handle that resumes at the staged
	// offset.
	//
	// owner is the authenticated user that created the session; it is
	// recorded in the metadata document on finalize.
	Begin(ctx context.Context, uploadID, owner string, meta *model.Metadata, declaredTotalBytes uint64) (Upload, error)

	// CleanupStale removes staged uploads whose last modification is
	// before cutoff and for which isActive reports no live session.
	// Returns the number of staged uploads removed.
	CleanupStale(ctx context.Context, cutoff time.Time, isActive func(uploadID string) bool) (int, error)
}

// Upload is the per-upload-id handle returned by Begin. Implementations
// need not be safe for concurrent use: the protocol handler serializes all
// operations on one upload-id.
type Upload interface {
	// ID returns the upload-id this handle belongs to.
	ID() string

	// Append streams src into the staging area at the given offset and
	// returns the new staged byte count.
	//
	// Fails with ErrRangeMismatch when offset differs from the staged
	// byte count, and with ErrOverflow when the write would exceed the
	// declared total. A read failure from src (client disconnect) leaves
	// the staged count at the last durable offset; partially streamed
	// bytes past it are discarded on resume.
	Append(ctx context.Context, offset uint64, src io.Reader) (uint64, error)

	// Status returns the staged byte count.
	Status(ctx context.Context) (uint64, error)

	// Finalize makes the completed upload durable: the blob becomes
	// visible under the upload-id and the metadata document is inserted
	// atomically with respect to that visibility. Safe to retry; after
	// the first success it is a no-op.
	Finalize(ctx context.Context) error

	// Abort releases all staging resources. Safe to call from any state;
	// after a successful Finalize it is a no-op.
	Abort(ctx context.Context) error
}
