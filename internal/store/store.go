// Package store defines the interface for raw message object stores.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes one stored object without its content.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// DeleteResult is the per-key outcome of a batch delete. Err is nil when the
// store reported the key as deleted.
type DeleteResult struct {
	Key string
	Err error
}

// Store is the interface that raw message stores must implement. The
// namespace is flat; folders exist only as key prefixes.
type Store interface {
	// List returns the objects whose keys start with prefix. When delimiter
	// is non-empty, keys containing the delimiter after the prefix are
	// grouped away and not returned.
	List(ctx context.Context, prefix, delimiter string) ([]Object, error)

	// Get returns the content stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Copy duplicates the object at src to dst.
	Copy(ctx context.Context, src, dst string) error

	// DeleteBatch deletes keys and reports a result for every key. The
	// returned error is set only when the request as a whole failed.
	DeleteBatch(ctx context.Context, keys []string) ([]DeleteResult, error)

	// Name returns the human-readable name of this store.
	Name() string
}
