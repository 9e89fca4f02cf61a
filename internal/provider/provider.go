// Package provider defines the interfaces for outbound email dispatchers and
// the sender identity registries behind them.
package provider

import (
	"context"

	"github.com/shineum/maildeck/internal/email"
)

// Provider is the interface that outbound dispatchers must implement.
// Each provider hands a composed message to the target service (SES,
// Microsoft Graph, stdout) exactly once.
type Provider interface {
	// Send dispatches msg. raw holds the exact MIME bytes that will be
	// persisted to the sent folder; providers that accept raw MIME send
	// those bytes unchanged. It returns the provider-assigned message id.
	Send(ctx context.Context, msg *email.Email, raw []byte) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Identity is a sender identity verified with the outbound service.
type Identity struct {
	// Name is an email address, or a domain when Domain is set.
	Name   string
	Domain bool
}

// IdentityLister is implemented by providers that can report the identities
// verified for sending.
type IdentityLister interface {
	VerifiedIdentities(ctx context.Context) ([]Identity, error)
}
