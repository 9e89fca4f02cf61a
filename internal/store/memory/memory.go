// Package memory implements an in-process Store, used for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shineum/maildeck/internal/store"
)

type object struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// Store keeps objects in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty Store that stamps writes using now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		objects: make(map[string]object),
		now:     now,
	}
}

// Seed stores data under key with an explicit modification time.
func (s *Store) Seed(key string, data []byte, lastModified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: clone(data), lastModified: lastModified}
}

// Has reports whether key exists.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// List returns matching objects in lexicographic key order.
func (s *Store) List(ctx context.Context, prefix, delimiter string) ([]store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []store.Object
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if delimiter != "" && strings.Contains(key[len(prefix):], delimiter) {
			continue
		}
		result = append(result, store.Object{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Get returns a copy of the content stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, store.ErrNotFound)
	}
	return clone(obj.data), nil
}

// Put stores a copy of data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = object{data: clone(data), contentType: contentType, lastModified: s.now()}
	return nil
}

// Copy duplicates src to dst.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[src]
	if !ok {
		return fmt.Errorf("copy %q: %w", src, store.ErrNotFound)
	}
	s.objects[dst] = object{data: clone(obj.data), contentType: obj.contentType, lastModified: s.now()}
	return nil
}

// DeleteBatch removes keys. Like S3, deleting a missing key succeeds.
func (s *Store) DeleteBatch(ctx context.Context, keys []string) ([]store.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]store.DeleteResult, 0, len(keys))
	for _, key := range keys {
		delete(s.objects, key)
		results = append(results, store.DeleteResult{Key: key})
	}
	return results, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return "memory"
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
