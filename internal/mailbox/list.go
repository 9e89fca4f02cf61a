package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/email"
	"github.com/shineum/maildeck/internal/parser"
	"github.com/shineum/maildeck/internal/store"
)

// UnavailableSubject is the subject of placeholder entries for messages that
// could not be fetched or parsed.
const UnavailableSubject = "(Unavailable)"

// ListFolder builds the view of folder: the ListLimit most recently modified
// non-empty objects, newest first, each fetched and parsed concurrently.
//
// A message that fails to fetch or parse becomes a placeholder entry with
// Error set; only a failure to list the folder fails the call. TotalCount is
// the number of entries in the view, not the number of objects in the folder.
func (s *Service) ListFolder(ctx context.Context, folder Folder) (*email.MailboxView, error) {
	objects, err := s.selectObjects(ctx, folder)
	if err != nil {
		return nil, err
	}

	summaries := make([]email.Summary, len(objects))
	sem := make(chan struct{}, s.cfg.FetchConcurrency)
	var wg sync.WaitGroup

	for i, obj := range objects {
		wg.Add(1)
		go func(i int, obj store.Object) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				summaries[i] = placeholder(obj, ctx.Err())
				return
			}

			summaries[i] = s.summarize(ctx, obj)
		}(i, obj)
	}
	wg.Wait()

	return &email.MailboxView{
		Emails:     summaries,
		TotalCount: len(summaries),
	}, nil
}

// selectObjects lists folder and returns the objects that belong in its view,
// sorted newest first and truncated to ListLimit.
func (s *Service) selectObjects(ctx context.Context, folder Folder) ([]store.Object, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	prefix := folder.Prefix()
	listed, err := s.store.List(callCtx, prefix, folder.delimiter())
	if err != nil {
		return nil, apperr.Upstreamf(err, "failed to list %s", folder)
	}

	objects := make([]store.Object, 0, len(listed))
	for _, obj := range listed {
		if obj.Key == prefix || obj.Size == 0 {
			continue
		}
		objects = append(objects, obj)
	}

	sort.SliceStable(objects, func(i, j int) bool {
		if !objects[i].LastModified.Equal(objects[j].LastModified) {
			return objects[i].LastModified.After(objects[j].LastModified)
		}
		return objects[i].Key < objects[j].Key
	})

	if len(objects) > s.cfg.ListLimit {
		objects = objects[:s.cfg.ListLimit]
	}
	return objects, nil
}

// summarize fetches and parses one object. Failures are turned into a
// placeholder entry.
func (s *Service) summarize(ctx context.Context, obj store.Object) email.Summary {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	raw, err := s.store.Get(callCtx, obj.Key)
	if err != nil {
		slog.Warn("failed to fetch message", "key", obj.Key, "error", err)
		return placeholder(obj, fmt.Errorf("failed to fetch message: %w", err))
	}

	summary, err := parser.Summarize(obj.Key, raw, obj.LastModified)
	if err != nil {
		slog.Warn("failed to parse message", "key", obj.Key, "error", err)
		return placeholder(obj, err)
	}
	return *summary
}

func placeholder(obj store.Object, err error) email.Summary {
	return email.Summary{
		ID:          obj.Key,
		Subject:     UnavailableSubject,
		Date:        obj.LastModified,
		Attachments: []email.AttachmentInfo{},
		Error:       err.Error(),
	}
}
