// Package senders resolves which From addresses may be used for outbound
// mail.
package senders

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shineum/maildeck/internal/provider"
)

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets how long a resolved sender set stays valid. Zero keeps it for
// the lifetime of the process.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithClock replaces time.Now, used for testing expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry caches the allowed sender set. The set comes either from a static
// list or from the identities verified with the outbound service.
type Registry struct {
	mu        sync.Mutex
	static    []provider.Identity
	lister    provider.IdentityLister
	ttl       time.Duration
	now       func() time.Time
	cached    *senderSet
	fetchedAt time.Time
}

type senderSet struct {
	addresses map[string]string // lower-cased address -> address as configured
	domains   map[string]bool
}

// NewStatic creates a Registry over a fixed list. Entries without a local
// part ("example.com" or "@example.com") allow a whole domain.
func NewStatic(entries []string, opts ...Option) *Registry {
	r := newRegistry(opts)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if at := strings.LastIndex(entry, "@"); at <= 0 {
			r.static = append(r.static, provider.Identity{Name: strings.TrimPrefix(entry, "@"), Domain: true})
			continue
		}
		r.static = append(r.static, provider.Identity{Name: entry})
	}
	return r
}

// NewDynamic creates a Registry that resolves senders through lister.
func NewDynamic(lister provider.IdentityLister, opts ...Option) *Registry {
	r := newRegistry(opts)
	r.lister = lister
	return r
}

func newRegistry(opts []Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns the allowed sender addresses in sorted order. Domain
// identities are not included.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	set, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(set.addresses))
	for _, addr := range set.addresses {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

// Allowed reports whether addr may be used as a From address: either the
// address itself or its domain must be in the sender set. Comparison is
// case-insensitive.
func (r *Registry) Allowed(ctx context.Context, addr string) (bool, error) {
	set, err := r.load(ctx)
	if err != nil {
		return false, err
	}

	normalized := normalize(addr)
	if normalized == "" {
		return false, nil
	}
	if _, ok := set.addresses[normalized]; ok {
		return true, nil
	}
	if at := strings.LastIndex(normalized, "@"); at > 0 {
		return set.domains[normalized[at+1:]], nil
	}
	return false, nil
}

// Invalidate drops the cached sender set so the next call resolves it again.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cached = nil
	r.fetchedAt = time.Time{}
}

// Refresh invalidates the cache and resolves the sender list again.
func (r *Registry) Refresh(ctx context.Context) ([]string, error) {
	r.Invalidate()
	return r.List(ctx)
}

func (r *Registry) load(ctx context.Context) (*senderSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && (r.ttl <= 0 || r.now().Sub(r.fetchedAt) < r.ttl) {
		return r.cached, nil
	}

	identities := r.static
	if r.lister != nil {
		resolved, err := r.lister.VerifiedIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve verified senders: %w", err)
		}
		identities = resolved
	}

	set := &senderSet{
		addresses: make(map[string]string),
		domains:   make(map[string]bool),
	}
	for _, id := range identities {
		if id.Domain {
			set.domains[strings.ToLower(id.Name)] = true
			continue
		}
		set.addresses[strings.ToLower(id.Name)] = id.Name
	}

	r.cached = set
	r.fetchedAt = r.now()
	slog.Debug("sender set resolved", "addresses", len(set.addresses), "domains", len(set.domains))

	return set, nil
}

// normalize extracts the lower-cased bare address from addr, accepting both
// "a@x.com" and "Name <a@x.com>".
func normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	return strings.ToLower(addr)
}
