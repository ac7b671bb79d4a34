// Package docstore defines the document and blob store collaborators used
// by the gridfs-style backend, together with an embedded BadgerDB
// implementation of both.
//
// The production document store is an external system reached through
// these interfaces; the collector only depends on the contract. The
// badger implementation keeps single-node deployments self-contained and
// backs the test suite.
package docstore

import (
	"context"
	"errors"
	"io"

	"github.com/openmeasure/collector/pkg/model"
)

// ErrNotFound reports a missing document or blob.
var ErrNotFound = errors.New("not found")

// DocumentStore persists the queryable metadata documents of finalized
// measurements.
type DocumentStore interface {
	// InsertDocument stores doc under its filename. Inserting a filename
	// that already holds a document is a no-op: at most one document
	// exists per upload-id, and retried finalizations must not create a
	// second one.
	InsertDocument(ctx context.Context, doc *model.Document) error

	// GetDocument returns the document stored under filename, or
	// ErrNotFound.
	GetDocument(ctx context.Context, filename string) (*model.Document, error)

	// HasDocument reports whether a document exists under filename.
	HasDocument(ctx context.Context, filename string) (bool, error)

	// ListByUser returns up to limit documents owned by userID, ordered
	// by filename. limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Document, error)
}

// BlobStore persists the measurement payloads of finalized uploads.
type BlobStore interface {
	// PutBlob streams size bytes from r into the store under name.
	// Writing a name that already holds a blob is a no-op.
	PutBlob(ctx context.Context, name string, size int64, r io.Reader) error

	// OpenBlob returns a reader over the blob stored under name, or
	// ErrNotFound.
	OpenBlob(ctx context.Context, name string) (io.ReadCloser, error)

	// BlobSize returns the stored size of the named blob, or ErrNotFound.
	BlobSize(ctx context.Context, name string) (int64, error)

	// DeleteBlob removes the named blob. Deleting a missing blob is a
	// no-op.
	DeleteBlob(ctx context.Context, name string) error
}
