// Package mailbox implements the inbox, sent and trash views on top of a flat
// object store, plus the send pipeline and folder transitions that keep the
// store consistent with those views.
package mailbox

import (
	"context"
	"time"

	"github.com/shineum/maildeck/internal/provider"
	"github.com/shineum/maildeck/internal/store"
)

// Defaults applied to zero Config fields.
const (
	DefaultListLimit        = 100
	DefaultFetchConcurrency = 10
	DefaultCallTimeout      = 30 * time.Second
)

// Config tunes the mailbox service.
type Config struct {
	// ListLimit is the maximum number of messages in a folder view.
	ListLimit int
	// FetchConcurrency bounds the parallel fetches of one listing.
	FetchConcurrency int
	// CallTimeout bounds every individual store or provider call.
	CallTimeout time.Duration
}

// SenderPolicy decides whether an address may be used as From.
type SenderPolicy interface {
	Allowed(ctx context.Context, addr string) (bool, error)
}

// Service is the mailbox service. It is safe for concurrent use.
type Service struct {
	store    store.Store
	provider provider.Provider
	senders  SenderPolicy
	cfg      Config
	now      func() time.Time

	// beforeCommit runs between the copy and delete phases of a move.
	beforeCommit func(Move) error
}

// New creates a Service.
func New(st store.Store, p provider.Provider, senders SenderPolicy, cfg Config) *Service {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	return &Service{
		store:    st,
		provider: p,
		senders:  senders,
		cfg:      cfg,
		now:      time.Now,
	}
}

// StoreName returns the name of the backing store.
func (s *Service) StoreName() string {
	return s.store.Name()
}

// ProviderName returns the name of the outbound provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}
