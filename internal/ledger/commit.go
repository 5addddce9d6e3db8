package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"agentledger/internal/storage"
)

// CommitRequest bundles changes into a commit. A nil ChangeIDs selects every
// uncommitted change; a non-nil slice names the changes explicitly.
type CommitRequest struct {
	Message   string
	AgentID   string
	ChangeIDs []string
}

// Commit persists a new commit whose parent is the session's newest commit.
func (l *Ledger) Commit(ctx context.Context, req CommitRequest) (storage.Commit, error) {
	const op = "commit"

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return storage.Commit{}, validationErr(op, "message is required")
	}

	var ids []uuid.UUID
	if req.ChangeIDs != nil {
		var err error
		if ids, err = l.explicitChanges(ctx, req.ChangeIDs); err != nil {
			return storage.Commit{}, err
		}
	} else {
		pending, err := l.store.GetUncommittedChanges(ctx, l.session.ID)
		if err != nil {
			return storage.Commit{}, storageErr(op, err)
		}
		for _, c := range pending {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return storage.Commit{}, stateErr(op, "no changes to commit")
	}

	commit, err := l.newCommit(ctx, op, req.Message, req.AgentID, ids)
	if err != nil {
		return storage.Commit{}, err
	}
	if err := l.store.CreateCommit(ctx, commit); err != nil {
		return storage.Commit{}, storageErr(op, err)
	}

	l.log.Info().
		Str("commit", commit.ID.String()).
		Int("changes", len(ids)).
		Str("message", commit.Message).
		Msg("created commit")
	return commit, nil
}

// newCommit builds an unsaved commit whose parent is the session's newest commit.
func (l *Ledger) newCommit(ctx context.Context, op, message, agentID string, ids []uuid.UUID) (storage.Commit, error) {
	history, err := l.store.GetCommitsForSession(ctx, l.session.ID)
	if err != nil {
		return storage.Commit{}, storageErr(op, err)
	}
	commit := storage.NewCommit(l.session.ID, message, l.agent(agentID), ids)
	if len(history) > 0 {
		parent := history[0].Commit.ID
		commit.Parent = &parent
	}
	return commit, nil
}

// explicitChanges parses raw ids in order, dropping malformed and repeated
// entries, and checks each remaining change belongs to this session.
func (l *Ledger) explicitChanges(ctx context.Context, raw []string) ([]uuid.UUID, error) {
	const op = "commit"

	seen := make(map[uuid.UUID]struct{}, len(raw))
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := storage.ParseID(s)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		change, err := l.store.GetChange(ctx, id)
		if err != nil {
			return nil, storageErr(op, err)
		}
		if change.SessionID != l.session.ID {
			return nil, validationErr(op, "change %s belongs to another session", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
