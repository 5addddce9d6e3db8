package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agentledger/internal/storage"
)

// DefaultDBPath is the ledger location relative to the tracked root.
const DefaultDBPath = ".ledger/ledger.db"

// StoreOpener opens the backend for a resolved ledger location.
type StoreOpener func(ctx context.Context, dbPath string) (storage.Store, error)

// OpenSQLite is the default StoreOpener.
func OpenSQLite(_ context.Context, dbPath string) (storage.Store, error) {
	return storage.NewSQLiteStore(dbPath)
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// DBPath is the configured ledger location, used when Init names none.
	DBPath         string
	DefaultAgentID string
	OpenStore      StoreOpener
	Logger         *zerolog.Logger
}

// InitOptions select the root and ledger for Manager.Init.
type InitOptions struct {
	Root     string
	DBPath   string
	ForceNew bool
}

// InitResult describes the session installed by Init.
type InitResult struct {
	Session storage.Session
	DBPath  string
	Created bool
}

// Manager owns the process-wide store handle and current Ledger. All calls
// are serialized by a single mutex held for the whole operation.
type Manager struct {
	mu     sync.Mutex
	opts   ManagerOptions
	store  storage.Store
	ledger *Ledger
	dbPath string
	log    zerolog.Logger
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.OpenStore == nil {
		opts.OpenStore = OpenSQLite
	}
	m := &Manager{opts: opts, log: log.Logger}
	if opts.Logger != nil {
		m.log = *opts.Logger
	}
	return m
}

// Init opens the ledger for opts.Root and installs its session, replacing
// (and closing) any previously installed ledger.
func (m *Manager) Init(ctx context.Context, opts InitOptions) (InitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := strings.TrimSpace(opts.Root)
	if root == "" {
		root = "."
	}
	dbPath := m.resolveDBPath(root, opts.DBPath)

	store, err := m.opts.OpenStore(ctx, dbPath)
	if err != nil {
		return InitResult{}, newError(KindStorage, "init", err, "open ledger %s", dbPath)
	}
	l, err := Open(ctx, store, root, Options{
		ForceNew:       opts.ForceNew,
		DefaultAgentID: m.opts.DefaultAgentID,
		Logger:         &m.log,
	})
	if err != nil {
		_ = store.Close()
		return InitResult{}, err
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.log.Warn().Err(err).Str("db", m.dbPath).Msg("close previous ledger")
		}
	}
	m.store, m.ledger, m.dbPath = store, l, dbPath
	return InitResult{Session: l.Session(), DBPath: dbPath, Created: l.Created()}, nil
}

// resolveDBPath applies explicit > configured > <root>/.ledger/ledger.db.
// Relative paths are taken relative to the root.
func (m *Manager) resolveDBPath(root, explicit string) string {
	p := strings.TrimSpace(explicit)
	if p == "" {
		p = strings.TrimSpace(m.opts.DBPath)
	}
	if p == "" {
		p = DefaultDBPath
	}
	if !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(filepath.Join(root, p)); err == nil {
			p = abs
		}
	}
	return p
}

// DBPath returns the location of the installed ledger.
func (m *Manager) DBPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dbPath
}

// Do runs fn against the installed ledger while holding the manager lock.
func (m *Manager) Do(fn func(l *Ledger) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger == nil {
		return notFoundErr("", "no active ledger session; call ledger_init first")
	}
	return fn(m.ledger)
}

// With runs fn while holding the manager lock. Unlike Do it does not require
// an installed ledger; fn receives nil when ledger_init has not run.
func (m *Manager) With(fn func(l *Ledger) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.ledger)
}

func (m *Manager) Status(ctx context.Context) (st Status, err error) {
	err = m.Do(func(l *Ledger) error {
		st, err = l.Status(ctx)
		return err
	})
	return st, err
}

func (m *Manager) Track(ctx context.Context, req TrackRequest) (c storage.Change, err error) {
	err = m.Do(func(l *Ledger) error {
		c, err = l.Track(ctx, req)
		return err
	})
	return c, err
}

func (m *Manager) Commit(ctx context.Context, req CommitRequest) (c storage.Commit, err error) {
	err = m.Do(func(l *Ledger) error {
		c, err = l.Commit(ctx, req)
		return err
	})
	return c, err
}

func (m *Manager) Log(ctx context.Context, limit int) (h History, err error) {
	err = m.Do(func(l *Ledger) error {
		h, err = l.Log(ctx, limit)
		return err
	})
	return h, err
}

func (m *Manager) Diff(ctx context.Context, req DiffRequest) (d DiffResult, err error) {
	err = m.Do(func(l *Ledger) error {
		d, err = l.Diff(ctx, req)
		return err
	})
	return d, err
}

func (m *Manager) Rollback(ctx context.Context, req RollbackRequest) (r RollbackReport, err error) {
	err = m.Do(func(l *Ledger) error {
		r, err = l.Rollback(ctx, req)
		return err
	})
	return r, err
}

// Close releases the installed store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store, m.ledger = nil, nil
	return err
}
