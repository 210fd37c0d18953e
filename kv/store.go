// Package kv is the key-value layer every marconilink record is stored in.
// Values are opaque bytes; callers decide the encoding (JSON everywhere in
// this repo).
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Table is the name of the backing table for the SQL backends.
const Table = "kv_store"

// Entry is a key and its raw value.
type Entry struct {
	Key   string
	Value []byte
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set inserts or replaces the value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every entry whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Options tune the SQL backends.
type Options struct {
	MaxConns int32
}

// Open returns the backend named by driver: "postgres", "sqlite" or "memory".
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	switch driver {
	case "postgres", "pgx":
		return NewPostgres(ctx, dsn, opts)
	case "sqlite":
		return NewSQLite(ctx, dsn)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", driver)
	}
}
