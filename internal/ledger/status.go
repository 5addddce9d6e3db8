package ledger

import (
	"context"

	"agentledger/internal/storage"
)

// Status is a snapshot of the session and its pending changes.
type Status struct {
	Session     storage.Session
	Uncommitted []storage.Change
}

// Status reports the uncommitted changes in insertion order.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	pending, err := l.store.GetUncommittedChanges(ctx, l.session.ID)
	if err != nil {
		return Status{}, storageErr("status", err)
	}
	return Status{Session: l.session, Uncommitted: pending}, nil
}

// History is a newest-first page of the session's commits.
type History struct {
	Total   int
	Commits []storage.CommitInfo
}

// Log returns up to limit commits, newest first. limit <= 0 returns all.
func (l *Ledger) Log(ctx context.Context, limit int) (History, error) {
	commits, err := l.store.GetCommitsForSession(ctx, l.session.ID)
	if err != nil {
		return History{}, storageErr("log", err)
	}
	h := History{Total: len(commits), Commits: commits}
	if limit > 0 && len(commits) > limit {
		h.Commits = commits[:limit]
	}
	return h, nil
}
