// Package ledger records agent file changes, bundles them into parent-linked
// commits, renders them as diffs and rolls them back.
package ledger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agentledger/internal/security"
	"agentledger/internal/storage"
)

// DefaultAgentID is recorded when neither the caller nor configuration names an agent.
const DefaultAgentID = "agent"

// Options tune how a Ledger is opened.
type Options struct {
	// ForceNew always starts a fresh session instead of resuming the active one.
	ForceNew bool
	// DefaultAgentID is used for changes and commits that carry no agent id.
	DefaultAgentID string
	// Logger receives operation logs; the global zerolog logger when nil.
	Logger *zerolog.Logger
}

// Ledger is one open session over a store. It carries all session context
// explicitly, so several ledgers may live in one process.
type Ledger struct {
	store   storage.Store
	session storage.Session
	ws      *security.Workspace
	agentID string
	created bool
	log     zerolog.Logger
}

// Open resolves root and attaches to its active session, creating one when
// none exists or when opts.ForceNew is set.
func Open(ctx context.Context, store storage.Store, root string, opts Options) (*Ledger, error) {
	const op = "open"
	if store == nil {
		return nil, validationErr(op, "store is required")
	}
	if root == "" {
		root = "."
	}
	ws, err := security.NewWorkspace(root)
	if err != nil {
		return nil, ioErr(op, err, "resolve root %q", root)
	}

	l := &Ledger{
		store:   store,
		ws:      ws,
		agentID: opts.DefaultAgentID,
		log:     log.Logger,
	}
	if l.agentID == "" {
		l.agentID = DefaultAgentID
	}
	if opts.Logger != nil {
		l.log = *opts.Logger
	}

	if !opts.ForceNew {
		sess, err := store.GetActiveSession(ctx, ws.Root())
		switch {
		case err == nil:
			l.session = sess
			l.log.Debug().Str("session", sess.ID.String()).Str("root", ws.Root()).Msg("resumed ledger session")
			return l, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, storageErr(op, err)
		}
	}

	sess := storage.NewSession(ws.Root())
	if err := store.CreateSession(ctx, sess); err != nil {
		return nil, storageErr(op, err)
	}
	l.session = sess
	l.created = true
	l.log.Info().Str("session", sess.ID.String()).Str("root", ws.Root()).Msg("started ledger session")
	return l, nil
}

// Session returns the session this ledger writes to.
func (l *Ledger) Session() storage.Session {
	return l.session
}

// Root returns the resolved working-tree root.
func (l *Ledger) Root() string {
	return l.ws.Root()
}

// Workspace returns the path guard for the working tree.
func (l *Ledger) Workspace() *security.Workspace {
	return l.ws
}

// Created reports whether Open started a new session.
func (l *Ledger) Created() bool {
	return l.created
}

func (l *Ledger) agent(id string) string {
	if id != "" {
		return id
	}
	return l.agentID
}
