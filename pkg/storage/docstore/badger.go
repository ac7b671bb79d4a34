package docstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/model"
)

// blobSegmentSize bounds the value size of one blob segment. Large
// payloads are split across segments so no single badger value grows past
// what the value log handles comfortably.
const blobSegmentSize = 4 << 20

// BadgerStore implements DocumentStore and BlobStore on one embedded
// BadgerDB instance.
//
// Key layout:
//
//	doc/<filename>          JSON-encoded model.Document
//	blob/<name>             big-endian uint64 total size
//	blob/<name>/<8-digit n> segment payload
//
// Thread safety: safe for concurrent use; badger transactions provide the
// required isolation.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger bridges badger's log output into the collector logger at
// debug level; badger is chatty and its messages are rarely actionable.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...any)   { logger.Error(fmt.Sprintf("badger: "+f, args...)) }
func (badgerLogger) Warningf(f string, args ...any) { logger.Debug(fmt.Sprintf("badger: "+f, args...)) }
func (badgerLogger) Infof(f string, args ...any)    { logger.Debug(fmt.Sprintf("badger: "+f, args...)) }
func (badgerLogger) Debugf(f string, args ...any)   { logger.Debug(fmt.Sprintf("badger: "+f, args...)) }

// OpenBadger opens (creating if necessary) the embedded store rooted at
// dir. Call Close when done.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is open and readable. Used by the readiness
// probe.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func keyDocument(filename string) []byte {
	return []byte("doc/" + filename)
}

func keyBlobSize(name string) []byte {
	return []byte("blob/" + name)
}

func keyBlobSegment(name string, n int) []byte {
	return fmt.Appendf(nil, "blob/%s/%08d", name, n)
}

// InsertDocument stores doc under its filename; a second insert for the
// same filename is a no-op.
func (s *BadgerStore) InsertDocument(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyDocument(doc.Filename))
		if err == nil {
			// Already inserted by an earlier finalize attempt.
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to check for existing document: %w", err)
		}
		return txn.Set(keyDocument(doc.Filename), data)
	})
}

// GetDocument returns the document stored under filename.
func (s *BadgerStore) GetDocument(ctx context.Context, filename string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc *model.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyDocument(filename))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		return item.Value(func(val []byte) error {
			var d model.Document
			if err := json.Unmarshal(val, &d); err != nil {
				return fmt.Errorf("failed to decode document: %w", err)
			}
			doc = &d
			return nil
		})
	})
	return doc, err
}

// HasDocument reports whether a document exists under filename.
func (s *BadgerStore) HasDocument(ctx context.Context, filename string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyDocument(filename))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListByUser returns up to limit documents owned by userID.
func (s *BadgerStore) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []*model.Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("doc/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(docs) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var d model.Document
				if err := json.Unmarshal(val, &d); err != nil {
					return fmt.Errorf("failed to decode document: %w", err)
				}
				if d.Properties.UserID == userID {
					docs = append(docs, &d)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return docs, err
}

// PutBlob streams size bytes from r into segment values under name.
// A name that already holds a blob is left untouched.
func (s *BadgerStore) PutBlob(ctx context.Context, name string, size int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	exists, err := s.hasBlob(name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// Segments are written in separate transactions to keep each txn under
	// badger's size limits; the size key is written last so a crashed put
	// never looks complete.
	buf := make([]byte, blobSegmentSize)
	var written int64
	for n := 0; written < size; n++ {
		want := size - written
		if want > blobSegmentSize {
			want = blobSegmentSize
		}
		read, err := io.ReadFull(r, buf[:want])
		if err != nil {
			return fmt.Errorf("failed to read blob payload at %d: %w", written, err)
		}
		segment := append([]byte(nil), buf[:read]...)
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(keyBlobSegment(name, n), segment)
		})
		if err != nil {
			return fmt.Errorf("failed to write blob segment %d: %w", n, err)
		}
		written += int64(read)
	}

	sizeVal := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeVal, uint64(size))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyBlobSize(name), sizeVal)
	})
}

func (s *BadgerStore) hasBlob(name string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyBlobSize(name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// OpenBlob returns a reader over the named blob.
//
// The blob is materialized into memory segment by segment; callers stream
// from the returned reader.
func (s *BadgerStore) OpenBlob(ctx context.Context, name string) (io.ReadCloser, error) {
	size, err := s.BlobSize(ctx, name)
	if err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	payload.Grow(int(size))

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("blob/" + name + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				payload.Write(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if int64(payload.Len()) != size {
		return nil, fmt.Errorf("blob %s is truncated: have %d bytes, expected %d", name, payload.Len(), size)
	}

	return io.NopCloser(&payload), nil
}

// BlobSize returns the stored size of the named blob.
func (s *BadgerStore) BlobSize(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var size int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyBlobSize(name))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt blob size entry for %s", name)
			}
			size = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	return size, err
}

// DeleteBlob removes the named blob and all its segments.
func (s *BadgerStore) DeleteBlob(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Collect keys first; badger iterators cannot span a delete.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("blob/" + name)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			// The prefix also matches longer names sharing this one as a
			// path prefix; keep only the size key and this blob's segments.
			ks := string(key)
			if ks == "blob/"+name || strings.HasPrefix(ks, "blob/"+name+"/") {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
