package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore("  "); err == nil {
		t.Fatal("expected error for empty db path")
	}
}

func TestSQLiteStore_CreatesParentDirs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", ".ledger", "ledger.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	if store.Path() != dbPath {
		t.Fatalf("Path=%q, want %q", store.Path(), dbPath)
	}
}

func TestSQLiteStore_ReopenKeepsLedger(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	sess := NewSession("/work")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	change := NewChange(sess.ID, ChangeCreate, "a.txt").WithContentAfter([]byte("hi"))
	if err := store.CreateChange(ctx, change); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	if err := store.CreateCommit(ctx, NewCommit(sess.ID, "m", "a", []uuid.UUID{change.ID})); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	active, err := reopened.GetActiveSession(ctx, "/work")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if active.ID != sess.ID {
		t.Fatalf("active=%s, want %s", active.ID, sess.ID)
	}
	infos, err := reopened.GetCommitsForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetCommitsForSession: %v", err)
	}
	if len(infos) != 1 || infos[0].FilesAffected[0] != "a.txt" {
		t.Fatalf("unexpected commits after reopen: %+v", infos)
	}
}

func TestSQLiteStore_ParentMustShareSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := NewSession("/a")
	b := NewSession("/b")
	for _, s := range []Session{a, b} {
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	ca := NewChange(a.ID, ChangeCreate, "x")
	cb := NewChange(b.ID, ChangeCreate, "y")
	for _, c := range []Change{ca, cb} {
		if err := store.CreateChange(ctx, c); err != nil {
			t.Fatalf("CreateChange: %v", err)
		}
	}
	ma := NewCommit(a.ID, "a", "t", []uuid.UUID{ca.ID})
	if err := store.CreateCommit(ctx, ma); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	mb := NewCommit(b.ID, "b", "t", []uuid.UUID{cb.ID})
	mb.Parent = &ma.ID
	if err := store.CreateCommit(ctx, mb); err == nil {
		t.Fatal("expected cross-session parent to be rejected")
	}
}
