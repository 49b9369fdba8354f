package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("store: key not found")

// Tombstone, returned as the error from an UpdateFunc, deletes the record
// inside the same per-key transaction instead of replacing it. Update then
// returns nil. This lets callers purge a record they just examined without
// a read-then-delete window a concurrent writer could fall into.
var Tombstone = errors.New("store: delete record")

// UpdateFunc receives the current value for a key (nil when the key is
// absent) and returns the replacement. Returning (nil, nil) leaves the
// record untouched; returning Tombstone deletes it.
type UpdateFunc func(old []byte) ([]byte, error)

// Store is a durable per-key KV store. Update is atomic per key: two
// concurrent Updates for the same key observe each other's writes in some
// serial order. Values are opaque bytes; callers own the encoding.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key. Used by background sweeps; not expected
	// to be cheap.
	Keys(ctx context.Context) ([]string, error)

	Close() error
}
