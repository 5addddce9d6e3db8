package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"agentledger/internal/security"
	"agentledger/internal/storage"
)

// RollbackRequest selects a commit to restore. Without Execute only a preview
// is produced. Record additionally tracks the restoration as new changes and
// commits them.
type RollbackRequest struct {
	CommitID string
	Execute  bool
	Record   bool
	AgentID  string
}

// RollbackAction previews what executing would do to one change.
type RollbackAction struct {
	ChangeID   uuid.UUID
	Type       storage.ChangeType
	Path       string
	OldPath    string
	Action     string
	HasContent bool
}

// RollbackOutcome is the per-change result of an executed rollback.
type RollbackOutcome struct {
	ChangeID uuid.UUID
	Path     string
	Message  string
	Err      *Error
}

// RollbackReport carries either a preview or the execution outcomes.
type RollbackReport struct {
	Commit   storage.Commit
	Executed bool
	Preview  []RollbackAction
	Restored []RollbackOutcome
	Errors   []RollbackOutcome
	// Audit is the commit recording the restoration when Record was set.
	Audit *storage.Commit
	// AuditErr is set when Record was requested but the audit commit could
	// not be stored. Files on disk are restored either way; no audit changes
	// are left behind.
	AuditErr *Error
}

// Rollback previews or restores the files touched by a commit, in stored order.
// Every change is attempted once and its outcome reported on its own.
func (l *Ledger) Rollback(ctx context.Context, req RollbackRequest) (RollbackReport, error) {
	const op = "rollback"

	id, err := storage.ParseID(req.CommitID)
	if err != nil {
		return RollbackReport{}, validationErr(op, "invalid commit_id %q", req.CommitID)
	}
	commit, err := l.store.GetCommit(ctx, id)
	if err != nil {
		return RollbackReport{}, storageErr(op, err)
	}

	report := RollbackReport{Commit: commit, Executed: req.Execute}
	changes := make([]storage.Change, 0, len(commit.Changes))
	for _, changeID := range commit.Changes {
		c, err := l.store.GetChange(ctx, changeID)
		if err != nil {
			report.Errors = append(report.Errors, RollbackOutcome{
				ChangeID: changeID,
				Err:      AsError(storageErr(op, err)),
			})
			continue
		}
		changes = append(changes, c)
	}

	if !req.Execute {
		for _, c := range changes {
			report.Preview = append(report.Preview, previewAction(c))
		}
		return report, nil
	}

	var inverse []TrackRequest
	for _, c := range changes {
		msg, undo, err := l.restore(c)
		if err != nil {
			report.Errors = append(report.Errors, RollbackOutcome{
				ChangeID: c.ID,
				Path:     c.Path,
				Err:      AsError(err),
			})
			l.log.Warn().Str("change", c.ID.String()).Str("path", c.Path).Err(err).Msg("rollback change failed")
			continue
		}
		report.Restored = append(report.Restored, RollbackOutcome{ChangeID: c.ID, Path: c.Path, Message: msg})
		inverse = append(inverse, undo)
	}
	l.log.Info().
		Str("commit", commit.ID.String()).
		Int("restored", len(report.Restored)).
		Int("errors", len(report.Errors)).
		Msg("rolled back commit")

	if req.Record && len(inverse) > 0 {
		audit, err := l.recordRollback(ctx, commit.ID, inverse, req.AgentID)
		if err != nil {
			report.AuditErr = AsError(err)
			l.log.Error().Str("commit", commit.ID.String()).Err(err).Msg("audit commit failed")
		} else {
			report.Audit = &audit
		}
	}
	return report, nil
}

func previewAction(c storage.Change) RollbackAction {
	a := RollbackAction{ChangeID: c.ID, Type: c.Type, Path: c.Path, OldPath: c.OldPath}
	switch c.Type {
	case storage.ChangeCreate:
		a.Action = "would restore file"
		a.HasContent = c.HasContentAfter()
	case storage.ChangeModify:
		a.Action = "would restore content"
		a.HasContent = c.HasContentAfter()
	case storage.ChangeDelete:
		a.Action = "would restore deleted file"
		a.HasContent = c.HasContentBefore()
	case storage.ChangeRename:
		a.Action = "would restore original path"
		a.HasContent = c.OldPath != ""
	}
	return a
}

// restore applies one change to disk and returns the request that would
// record the same effect as a new change.
func (l *Ledger) restore(c storage.Change) (string, TrackRequest, error) {
	const op = "rollback"

	switch c.Type {
	case storage.ChangeCreate, storage.ChangeModify, storage.ChangeDelete:
		content, has := c.ContentAfter, c.HasContentAfter()
		if c.Type == storage.ChangeDelete {
			content, has = c.ContentBefore, c.HasContentBefore()
		}
		if !has {
			return "", TrackRequest{}, newError(KindMissingContent, op, nil, "no content available to restore %s", c.Path)
		}
		target, err := l.resolve(op, c.Path)
		if err != nil {
			return "", TrackRequest{}, err
		}
		previous, readErr := os.ReadFile(target)
		existed := readErr == nil
		if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
			return "", TrackRequest{}, ioErr(op, readErr, "read %s", c.Path)
		}
		mode := os.FileMode(0o644)
		if existed {
			if info, err := os.Stat(target); err == nil {
				mode = info.Mode().Perm()
			}
		}
		if err := security.WriteFileAtomic(target, content, mode); err != nil {
			return "", TrackRequest{}, ioErr(op, err, "write %s", c.Path)
		}

		undo := TrackRequest{Path: c.Path, Type: string(storage.ChangeCreate), Content: content}
		if existed {
			undo.Type = string(storage.ChangeModify)
			undo.ContentBefore = previous
		}
		if c.Type == storage.ChangeDelete {
			return fmt.Sprintf("restored deleted file to %s", target), undo, nil
		}
		return fmt.Sprintf("restored content to %s", target), undo, nil

	case storage.ChangeRename:
		if c.OldPath == "" {
			return "", TrackRequest{}, newError(KindMissingContent, op, nil, "no old path available for %s", c.Path)
		}
		from, err := l.resolve(op, c.Path)
		if err != nil {
			return "", TrackRequest{}, err
		}
		to, err := l.resolve(op, c.OldPath)
		if err != nil {
			return "", TrackRequest{}, err
		}
		if _, err := os.Stat(from); err != nil {
			return "", TrackRequest{}, ioErr(op, err, "rename source %s", c.Path)
		}
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return "", TrackRequest{}, ioErr(op, err, "create parent of %s", c.OldPath)
		}
		if err := os.Rename(from, to); err != nil {
			return "", TrackRequest{}, ioErr(op, err, "rename %s", c.Path)
		}
		undo := TrackRequest{Path: c.OldPath, Type: string(storage.ChangeRename), OldPath: c.Path}
		return fmt.Sprintf("renamed %s back to %s", from, to), undo, nil
	}
	return "", TrackRequest{}, validationErr(op, "unknown change type %q", c.Type)
}

func (l *Ledger) resolve(op, path string) (string, error) {
	target, err := l.ws.Resolve(path)
	if err != nil {
		return "", ioErr(op, err, "resolve %s", path)
	}
	return target, nil
}

// recordRollback stores the inverse changes and the commit over them in one
// atomic step.
func (l *Ledger) recordRollback(ctx context.Context, commitID uuid.UUID, inverse []TrackRequest, agentID string) (storage.Commit, error) {
	const op = "rollback"

	changes := make([]storage.Change, 0, len(inverse))
	ids := make([]uuid.UUID, 0, len(inverse))
	for _, req := range inverse {
		req.AgentID = agentID
		c, err := l.buildChange(op, req)
		if err != nil {
			return storage.Commit{}, err
		}
		changes = append(changes, c)
		ids = append(ids, c.ID)
	}
	commit, err := l.newCommit(ctx, op, "rollback to "+commitID.String(), agentID, ids)
	if err != nil {
		return storage.Commit{}, err
	}
	if err := l.store.CreateCommitWithChanges(ctx, changes, commit); err != nil {
		return storage.Commit{}, storageErr(op, err)
	}
	return commit, nil
}
