package senders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shineum/maildeck/internal/provider"
)

// mockLister implements provider.IdentityLister for testing.
type mockLister struct {
	mu         sync.Mutex
	identities []provider.Identity
	err        error
	calls      int
}

func (m *mockLister) VerifiedIdentities(context.Context) ([]provider.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]provider.Identity(nil), m.identities...), nil
}

func (m *mockLister) set(ids ...provider.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = ids
}

func (m *mockLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestStatic_Allowed(t *testing.T) {
	t.Parallel()

	r := NewStatic([]string{"Alice@Example.com", "@corp.example", "  "})
	ctx := context.Background()

	tests := []struct {
		addr string
		want bool
	}{
		{"alice@example.com", true},
		{"ALICE@EXAMPLE.COM", true},
		{"Alice <alice@example.com>", true},
		{"bob@example.com", false},
		{"anyone@corp.example", true},
		{"anyone@sub.corp.example", false},
		{"", false},
	}

	for _, tt := range tests {
		got, err := r.Allowed(ctx, tt.addr)
		if err != nil {
			t.Fatalf("Allowed(%q): unexpected error: %v", tt.addr, err)
		}
		if got != tt.want {
			t.Errorf("Allowed(%q): got %v, want %v", tt.addr, got, tt.want)
		}
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: unexpected error: %v", err)
	}
	if len(list) != 1 || list[0] != "Alice@Example.com" {
		t.Errorf("List: got %v, want [Alice@Example.com]", list)
	}
}

func TestDynamic_CachesForever(t *testing.T) {
	t.Parallel()

	lister := &mockLister{identities: []provider.Identity{{Name: "a@x.com"}}}
	r := NewDynamic(lister)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.List(ctx); err != nil {
			t.Fatalf("List: unexpected error: %v", err)
		}
	}
	if lister.callCount() != 1 {
		t.Errorf("lister calls: got %d, want 1", lister.callCount())
	}

	// A newly verified identity stays invisible until invalidation.
	lister.set(provider.Identity{Name: "a@x.com"}, provider.Identity{Name: "b@x.com"})
	if ok, _ := r.Allowed(ctx, "b@x.com"); ok {
		t.Error("b@x.com allowed before invalidation")
	}

	r.Invalidate()
	if ok, _ := r.Allowed(ctx, "b@x.com"); !ok {
		t.Error("b@x.com not allowed after invalidation")
	}
	if lister.callCount() != 2 {
		t.Errorf("lister calls: got %d, want 2", lister.callCount())
	}
}

func TestDynamic_TTLExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	lister := &mockLister{identities: []provider.Identity{{Name: "x.com", Domain: true}}}
	r := NewDynamic(lister, WithTTL(time.Minute), WithClock(clock))
	ctx := context.Background()

	if ok, _ := r.Allowed(ctx, "anyone@x.com"); !ok {
		t.Error("domain identity should allow any address under it")
	}
	advance(30 * time.Second)
	r.Allowed(ctx, "anyone@x.com")
	if lister.callCount() != 1 {
		t.Errorf("lister calls before expiry: got %d, want 1", lister.callCount())
	}

	advance(31 * time.Second)
	r.Allowed(ctx, "anyone@x.com")
	if lister.callCount() != 2 {
		t.Errorf("lister calls after expiry: got %d, want 2", lister.callCount())
	}
}

func TestDynamic_ErrorIsNotCached(t *testing.T) {
	t.Parallel()

	lister := &mockLister{err: errors.New("throttled")}
	r := NewDynamic(lister)
	ctx := context.Background()

	if _, err := r.Allowed(ctx, "a@x.com"); err == nil {
		t.Fatal("expected error from lister")
	}

	lister.mu.Lock()
	lister.err = nil
	lister.identities = []provider.Identity{{Name: "a@x.com"}}
	lister.mu.Unlock()

	ok, err := r.Allowed(ctx, "a@x.com")
	if err != nil || !ok {
		t.Errorf("Allowed after recovery: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	lister := &mockLister{identities: []provider.Identity{{Name: "b@x.com"}, {Name: "a@x.com"}}}
	r := NewDynamic(lister)

	list, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: unexpected error: %v", err)
	}
	if len(list) != 2 || list[0] != "a@x.com" || list[1] != "b@x.com" {
		t.Errorf("Refresh: got %v, want sorted [a@x.com b@x.com]", list)
	}

	r.Refresh(context.Background())
	if lister.callCount() != 2 {
		t.Errorf("lister calls: got %d, want 2", lister.callCount())
	}
}
