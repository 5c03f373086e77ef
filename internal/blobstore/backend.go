// Package blobstore implements the Blob Store Adapter: a uniform
// get/put/list/delete-many interface over an S3-compatible bucket, with
// key-prefix namespacing per repository.
package blobstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrKind classifies a blob-store failure the way §4.1 and §7 require:
// transient (retry recommended), not-found (distinct from an empty body),
// or permanent (auth/config).
type ErrKind int

const (
	KindTransient ErrKind = iota
	KindNotFound
	KindPermanent
)

// Error wraps a backend failure with its classification.
type Error struct {
	Kind ErrKind
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("blobstore: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrKind, key string, err error) *Error {
	return &Error{Kind: kind, Key: key, Err: err}
}

// IsNotFound reports whether err (or any error it wraps) denotes a missing
// key, as opposed to an empty body.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindNotFound
	}
	return false
}

// maxDeleteBatch is the chunk size delete_many uses because the underlying
// S3-compatible store caps a single DeleteObjects call at 1000 keys.
const maxDeleteBatch = 1000

// Backend is the uniform blob-store surface every repository's object
// store, ref store, and pack codec are built on. All operations are
// idempotent at the key level and safe to retry.
type Backend interface {
	// Get returns the object's bytes, or a *Error with Kind==KindNotFound
	// if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes (or overwrites) the key.
	Put(ctx context.Context, key string, data []byte) error
	// Has reports whether the key exists without fetching its body.
	Has(ctx context.Context, key string) (bool, error)
	// Delete removes a single key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix, paginating internally
	// until the underlying store reports no continuation token.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DeleteMany removes every key, chunking into batches of at most 1000 keys
// to respect the underlying store's per-request bound. Implementations that
// can batch-delete natively should satisfy BatchDeleter instead; DeleteMany
// falls back to it when available, otherwise deletes key-by-key per chunk.
func DeleteMany(ctx context.Context, b Backend, keys []string) error {
	if bd, ok := b.(BatchDeleter); ok {
		for start := 0; start < len(keys); start += maxDeleteBatch {
			end := start + maxDeleteBatch
			if end > len(keys) {
				end = len(keys)
			}
			if err := bd.DeleteBatch(ctx, keys[start:end]); err != nil {
				return err
			}
		}
		return nil
	}
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// BatchDeleter is implemented by backends (S3) whose wire protocol supports
// deleting several keys in one request.
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, keys []string) error
}

// DeletePrefix lists then deletes every key under prefix, the adapter-level
// operation receive-pack-adjacent repo deletion uses.
func DeletePrefix(ctx context.Context, b Backend, prefix string) error {
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	return DeleteMany(ctx, b, keys)
}
