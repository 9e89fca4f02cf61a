package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-mbox"
	"github.com/google/uuid"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/parser"
)

// mboxSender is the envelope sender written to mbox "From " lines when the
// message has no usable sender.
const mboxSender = "MAILER-DAEMON"

// ExportFolder writes the messages of the folder view to w in mbox format,
// newest first. Messages that cannot be fetched are skipped and counted in
// the returned skip total.
func (s *Service) ExportFolder(ctx context.Context, folder Folder, w io.Writer) (exported, skipped int, err error) {
	objects, err := s.selectObjects(ctx, folder)
	if err != nil {
		return 0, 0, err
	}

	mw := mbox.NewWriter(w)
	for _, obj := range objects {
		callCtx, cancel := s.callContext(ctx)
		raw, err := s.store.Get(callCtx, obj.Key)
		cancel()
		if err != nil {
			slog.Warn("skipping message in export", "key", obj.Key, "error", err)
			skipped++
			continue
		}

		from := mboxSender
		date := obj.LastModified
		if msg, err := parser.Parse(raw); err == nil {
			if msg.Sender != "" {
				from = msg.Sender
			}
			if !msg.Date.IsZero() {
				date = msg.Date
			}
		}

		part, err := mw.CreateMessage(from, date)
		if err != nil {
			return exported, skipped, fmt.Errorf("failed to write mbox message: %w", err)
		}
		if _, err := part.Write(raw); err != nil {
			return exported, skipped, fmt.Errorf("failed to write mbox message: %w", err)
		}
		exported++
	}

	if err := mw.Close(); err != nil {
		return exported, skipped, fmt.Errorf("failed to finish mbox: %w", err)
	}
	return exported, skipped, nil
}

// ImportMbox stores every message of the mbox stream r in folder under a
// freshly generated key and returns the stored keys in stream order.
func (s *Service) ImportMbox(ctx context.Context, folder Folder, r io.Reader) ([]string, error) {
	mr := mbox.NewReader(r)

	var keys []string
	for {
		msgReader, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return keys, apperr.Validationf("invalid mbox data after %d messages: %v", len(keys), err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return keys, apperr.Validationf("invalid mbox data after %d messages: %v", len(keys), err)
		}
		if len(raw) == 0 {
			continue
		}

		key := folder.Key(uuid.NewString())
		callCtx, cancel := s.callContext(ctx)
		err = s.store.Put(callCtx, key, raw, rawContentType)
		cancel()
		if err != nil {
			return keys, apperr.Upstreamf(err, "failed to store imported message")
		}
		keys = append(keys, key)
	}

	slog.Info("imported mbox", "folder", folder, "messages", len(keys))
	return keys, nil
}
