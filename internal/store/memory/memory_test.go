package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shineum/maildeck/internal/store"
)

func TestList_Delimiter(t *testing.T) {
	t.Parallel()

	s := New()
	now := time.Now()
	s.Seed("root1", []byte("a"), now)
	s.Seed("root2", []byte("b"), now)
	s.Seed("sent/x", []byte("c"), now)
	s.Seed("trash/y", []byte("d"), now)

	root, err := s.List(context.Background(), "", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root) != 2 || root[0].Key != "root1" || root[1].Key != "root2" {
		t.Errorf("root listing: got %+v", root)
	}

	sent, err := s.List(context.Background(), "sent/", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sent) != 1 || sent[0].Key != "sent/x" || sent[0].Size != 1 {
		t.Errorf("sent listing: got %+v", sent)
	}
}

func TestGetCopyDelete(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return stamp })
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("data"), "message/rfc822"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Copy(ctx, "k", "trash/k"); err != nil {
		t.Fatalf("copy: %v", err)
	}

	got, err := s.Get(ctx, "trash/k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("copied data: got %q, want %q", got, "data")
	}

	results, err := s.DeleteBatch(ctx, []string{"k", "never-existed"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("delete %q: unexpected error %v", r.Key, r.Err)
		}
	}
	if s.Has("k") {
		t.Error("k should be deleted")
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get deleted key: got %v, want ErrNotFound", err)
	}
	if err := s.Copy(ctx, "k", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("copy missing key: got %v, want ErrNotFound", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	s.Seed("k", []byte("abc"), time.Now())

	data, _ := s.Get(context.Background(), "k")
	data[0] = 'z'

	again, _ := s.Get(context.Background(), "k")
	if string(again) != "abc" {
		t.Errorf("stored data mutated through returned slice: %q", again)
	}
}
