package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/store"
)

// Move relocates one object. The store has no rename, so a move is a copy
// followed by a delete of the source. A move interrupted between the two
// phases leaves the message in both places, never in neither.
type Move struct {
	Source string
	Target string
}

// TrashMove returns the move of key into the trash folder. Only the base
// name of key is kept.
func TrashMove(key string) (Move, error) {
	base := path.Base(strings.TrimSpace(key))
	if base == "." || base == "/" {
		return Move{}, fmt.Errorf("invalid message id %q", key)
	}

	m := Move{Source: key, Target: Trash.Key(base)}
	if m.Target == m.Source {
		return Move{}, fmt.Errorf("message %q is already in trash", key)
	}
	return m, nil
}

// Copy runs the first phase: the source is duplicated to the target.
func (m Move) Copy(ctx context.Context, st store.Store) error {
	return st.Copy(ctx, m.Source, m.Target)
}

// Commit runs the second phase: the source is deleted.
func (m Move) Commit(ctx context.Context, st store.Store) error {
	results, err := st.DeleteBatch(ctx, []string{m.Source})
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Key == m.Source && r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// ItemResult is the outcome for one message id of a batch operation.
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TransitionResult aggregates the per-id outcomes of a batch operation.
type TransitionResult struct {
	Items     []ItemResult
	Succeeded int
	Failed    int
}

func (r *TransitionResult) add(item ItemResult) {
	r.Items = append(r.Items, item)
	if item.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// Complete reports whether every id succeeded.
func (r *TransitionResult) Complete() bool {
	return r.Failed == 0
}

// Partial reports whether some ids succeeded and some failed.
func (r *TransitionResult) Partial() bool {
	return r.Failed > 0 && r.Succeeded > 0
}

// MoveToTrash moves each id into the trash folder, one at a time. A failing
// id does not stop the remaining ones; every id gets an outcome.
func (s *Service) MoveToTrash(ctx context.Context, ids []string) (*TransitionResult, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}

	result := &TransitionResult{}
	for _, id := range ids {
		item := ItemResult{ID: id}

		move, err := TrashMove(id)
		if err != nil {
			item.Error = err.Error()
			result.add(item)
			continue
		}
		item.Target = move.Target

		if err := s.runMove(ctx, move); err != nil {
			slog.Warn("failed to move message to trash", "id", id, "error", err)
			item.Error = err.Error()
			result.add(item)
			continue
		}

		item.Success = true
		result.add(item)
	}

	slog.Info("moved messages to trash", "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func (s *Service) runMove(ctx context.Context, move Move) error {
	copyCtx, cancel := s.callContext(ctx)
	err := move.Copy(copyCtx, s.store)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("message not found")
		}
		return fmt.Errorf("failed to copy to %s: %w", move.Target, err)
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(move); err != nil {
			return fmt.Errorf("copied to %s but source was kept: %w", move.Target, err)
		}
	}

	commitCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := move.Commit(commitCtx, s.store); err != nil {
		return fmt.Errorf("copied to %s but failed to delete source: %w", move.Target, err)
	}
	return nil
}

// DeletePermanently deletes ids with batch requests and maps the per-key
// status reported by the store onto each id. A failure of the whole request
// is returned as an error; individual key failures only mark their ids.
func (s *Service) DeletePermanently(ctx context.Context, ids []string) (*TransitionResult, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	results, err := s.store.DeleteBatch(callCtx, ids)
	if err != nil {
		return nil, apperr.Upstreamf(err, "failed to delete messages")
	}

	status := make(map[string]error, len(results))
	reported := make(map[string]bool, len(results))
	for _, r := range results {
		status[r.Key] = r.Err
		reported[r.Key] = true
	}

	result := &TransitionResult{}
	for _, id := range ids {
		item := ItemResult{ID: id}
		switch {
		case !reported[id]:
			item.Error = "no delete status reported"
		case status[id] != nil:
			item.Error = status[id].Error()
		default:
			item.Success = true
		}
		result.add(item)
	}

	slog.Info("deleted messages", "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func validateIDs(ids []string) error {
	if len(ids) == 0 {
		return apperr.Validationf("no email ids provided")
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apperr.Validationf("email id at position %d is blank", i)
		}
	}
	return nil
}
