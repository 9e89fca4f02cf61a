package mailbox

import (
	"context"
	"errors"
	"strings"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/email"
	"github.com/shineum/maildeck/internal/parser"
	"github.com/shineum/maildeck/internal/store"
)

// GetAttachment re-fetches and re-parses the message stored under key and
// returns the attachment at the zero-based index.
func (s *Service) GetAttachment(ctx context.Context, key string, index int) (*email.Attachment, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperr.Validationf("email id is required")
	}
	if index < 0 {
		return nil, apperr.Validationf("attachment index must not be negative")
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	raw, err := s.store.Get(callCtx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFoundf("email %q not found", key)
		}
		return nil, apperr.Upstreamf(err, "failed to fetch email")
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		return nil, apperr.Upstreamf(err, "failed to parse email")
	}

	if index >= len(msg.Attachments) {
		return nil, apperr.NotFoundf("attachment %d not found", index)
	}

	att := msg.Attachments[index]
	if att.ContentType == "" {
		att.ContentType = "application/octet-stream"
	}
	return &att, nil
}
