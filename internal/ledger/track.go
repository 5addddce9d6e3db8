package ledger

import (
	"context"
	"path/filepath"
	"strings"

	"agentledger/internal/storage"
)

// TrackRequest describes one file event. Nil content means "not captured".
type TrackRequest struct {
	Path          string
	Type          string
	Content       []byte
	ContentBefore []byte
	OldPath       string
	AgentID       string
}

// Track validates req and appends it to the session as a new Change.
func (l *Ledger) Track(ctx context.Context, req TrackRequest) (storage.Change, error) {
	const op = "track"

	change, err := l.buildChange(op, req)
	if err != nil {
		return storage.Change{}, err
	}
	if err := l.store.CreateChange(ctx, change); err != nil {
		return storage.Change{}, storageErr(op, err)
	}
	l.log.Debug().
		Str("change", change.ID.String()).
		Str("type", change.Type.String()).
		Str("path", change.Path).
		Msg("tracked change")
	return change, nil
}

// buildChange validates req and returns the unsaved Change it describes.
func (l *Ledger) buildChange(op string, req TrackRequest) (storage.Change, error) {
	path := l.relPath(req.Path)
	if path == "" {
		return storage.Change{}, validationErr(op, "path is required")
	}
	typ, err := storage.ParseChangeType(req.Type)
	if err != nil {
		return storage.Change{}, validationErr(op, "invalid change_type %q", req.Type)
	}

	change := storage.NewChange(l.session.ID, typ, path)
	change.AgentID = l.agent(req.AgentID)

	switch typ {
	case storage.ChangeCreate:
		if req.Content != nil {
			change = change.WithContentAfter(req.Content)
		}
	case storage.ChangeModify:
		if req.Content != nil {
			change = change.WithContentAfter(req.Content)
		}
		if req.ContentBefore != nil {
			change = change.WithContentBefore(req.ContentBefore)
		}
	case storage.ChangeDelete:
		if req.ContentBefore != nil {
			change = change.WithContentBefore(req.ContentBefore)
		}
	case storage.ChangeRename:
		oldPath := l.relPath(req.OldPath)
		if oldPath == "" {
			return storage.Change{}, validationErr(op, "old_path is required for rename")
		}
		change.OldPath = oldPath
		if req.ContentBefore != nil {
			change = change.WithContentBefore(req.ContentBefore)
		}
	}

	return change, nil
}

// relPath trims p and rewrites absolute paths under the root as root-relative.
func (l *Ledger) relPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || !filepath.IsAbs(p) {
		return p
	}
	if rel, err := l.ws.Rel(p); err == nil {
		return rel
	}
	return p
}
