package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// runStoreContract exercises the Store contract against any backend.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SessionLifecycle", func(t *testing.T) {
		testSessionLifecycle(t, newStore(t))
	})
	t.Run("ChangeRoundTrip", func(t *testing.T) {
		testChangeRoundTrip(t, newStore(t))
	})
	t.Run("UncommittedSet", func(t *testing.T) {
		testUncommittedSet(t, newStore(t))
	})
	t.Run("CommitOrdering", func(t *testing.T) {
		testCommitOrdering(t, newStore(t))
	})
	t.Run("DoubleBooking", func(t *testing.T) {
		testDoubleBooking(t, newStore(t))
	})
	t.Run("NotFound", func(t *testing.T) {
		testNotFound(t, newStore(t))
	})
	t.Run("CommitWithChanges", func(t *testing.T) {
		testCommitWithChanges(t, newStore(t))
	})
}

func mustSession(t *testing.T, store Store, root string) Session {
	t.Helper()
	sess := NewSession(root)
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func mustChange(t *testing.T, store Store, sess Session, typ ChangeType, path string, content string) Change {
	t.Helper()
	c := NewChange(sess.ID, typ, path).WithContentAfter([]byte(content))
	c.AgentID = "tester"
	if err := store.CreateChange(context.Background(), c); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	return c
}

func testSessionLifecycle(t *testing.T, store Store) {
	ctx := context.Background()

	if _, err := store.GetActiveSession(ctx, "/work"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetActiveSession on empty store err=%v, want ErrNotFound", err)
	}

	first := mustSession(t, store, "/work")
	got, err := store.GetActiveSession(ctx, "/work")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if got.ID != first.ID || !got.Active {
		t.Fatalf("active session=%+v, want %s", got, first.ID)
	}

	if err := store.CreateSession(ctx, first); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate CreateSession err=%v, want ErrDuplicateID", err)
	}

	second := mustSession(t, store, "/work")
	got, err = store.GetActiveSession(ctx, "/work")
	if err != nil {
		t.Fatalf("GetActiveSession after second: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("active session=%s, want newest %s", got.ID, second.ID)
	}

	other := mustSession(t, store, "/other")
	got, err = store.GetActiveSession(ctx, "/work")
	if err != nil {
		t.Fatalf("GetActiveSession /work: %v", err)
	}
	if got.ID == other.ID {
		t.Fatalf("session for /other leaked into /work")
	}
}

func testChangeRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()
	sess := mustSession(t, store, "/work")

	full := NewChange(sess.ID, ChangeModify, "a.txt").
		WithContentBefore([]byte("old\n")).
		WithContentAfter([]byte("new\n"))
	full.AgentID = "agent-1"
	if err := store.CreateChange(ctx, full); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	loaded, err := store.GetChange(ctx, full.ID)
	if err != nil {
		t.Fatalf("GetChange: %v", err)
	}
	if string(loaded.ContentBefore) != "old\n" || string(loaded.ContentAfter) != "new\n" {
		t.Fatalf("content mismatch: %+v", loaded)
	}
	if loaded.ContentHashAfter != HashContent([]byte("new\n")) {
		t.Fatalf("hash after=%q", loaded.ContentHashAfter)
	}
	if loaded.Type != ChangeModify || loaded.AgentID != "agent-1" || loaded.SessionID != sess.ID {
		t.Fatalf("metadata mismatch: %+v", loaded)
	}
	if !loaded.Timestamp.Equal(full.Timestamp) {
		t.Fatalf("timestamp=%v, want %v", loaded.Timestamp, full.Timestamp)
	}

	empty := NewChange(sess.ID, ChangeCreate, "empty.txt").WithContentAfter([]byte{})
	if err := store.CreateChange(ctx, empty); err != nil {
		t.Fatalf("CreateChange empty: %v", err)
	}
	loaded, err = store.GetChange(ctx, empty.ID)
	if err != nil {
		t.Fatalf("GetChange empty: %v", err)
	}
	if !loaded.HasContentAfter() || loaded.ContentAfter == nil || len(loaded.ContentAfter) != 0 {
		t.Fatalf("empty content should survive as present: %+v", loaded)
	}

	bare := NewChange(sess.ID, ChangeRename, "b.txt")
	bare.OldPath = "a.txt"
	if err := store.CreateChange(ctx, bare); err != nil {
		t.Fatalf("CreateChange bare: %v", err)
	}
	loaded, err = store.GetChange(ctx, bare.ID)
	if err != nil {
		t.Fatalf("GetChange bare: %v", err)
	}
	if loaded.HasContentAfter() || loaded.ContentAfter != nil || loaded.OldPath != "a.txt" {
		t.Fatalf("metadata-only change mismatch: %+v", loaded)
	}
}

func testUncommittedSet(t *testing.T, store Store) {
	ctx := context.Background()
	sess := mustSession(t, store, "/work")
	c1 := mustChange(t, store, sess, ChangeCreate, "a.txt", "a")
	c2 := mustChange(t, store, sess, ChangeCreate, "b.txt", "b")
	c3 := mustChange(t, store, sess, ChangeCreate, "c.txt", "c")

	pending, err := store.GetUncommittedChanges(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetUncommittedChanges: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != c1.ID || pending[2].ID != c3.ID {
		t.Fatalf("pending order unexpected: %+v", pending)
	}

	commit := NewCommit(sess.ID, "first", "tester", []uuid.UUID{c2.ID})
	if err := store.CreateCommit(ctx, commit); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	pending, err = store.GetUncommittedChanges(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetUncommittedChanges: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != c1.ID || pending[1].ID != c3.ID {
		t.Fatalf("pending after commit unexpected: %+v", pending)
	}

	other := mustSession(t, store, "/other")
	pending, err = store.GetUncommittedChanges(ctx, other.ID)
	if err != nil {
		t.Fatalf("GetUncommittedChanges other: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("other session should have no pending changes, got %d", len(pending))
	}
}

func testCommitOrdering(t *testing.T, store Store) {
	ctx := context.Background()
	sess := mustSession(t, store, "/work")
	c1 := mustChange(t, store, sess, ChangeCreate, "a.txt", "a")
	c2 := mustChange(t, store, sess, ChangeModify, "a.txt", "aa")
	c3 := mustChange(t, store, sess, ChangeCreate, "b.txt", "b")

	m1 := NewCommit(sess.ID, "one", "tester", []uuid.UUID{c1.ID})
	if err := store.CreateCommit(ctx, m1); err != nil {
		t.Fatalf("CreateCommit m1: %v", err)
	}
	m2 := NewCommit(sess.ID, "two", "tester", []uuid.UUID{c2.ID, c3.ID})
	m2.Parent = &m1.ID
	if err := store.CreateCommit(ctx, m2); err != nil {
		t.Fatalf("CreateCommit m2: %v", err)
	}

	infos, err := store.GetCommitsForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetCommitsForSession: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("commit count=%d, want 2", len(infos))
	}
	if infos[0].Commit.ID != m2.ID || infos[1].Commit.ID != m1.ID {
		t.Fatalf("commits not newest-first: %s, %s", infos[0].Commit.ID, infos[1].Commit.ID)
	}
	if infos[0].ChangeCount != 2 || len(infos[0].FilesAffected) != 2 {
		t.Fatalf("m2 summary unexpected: %+v", infos[0])
	}
	if infos[0].Commit.Parent == nil || *infos[0].Commit.Parent != m1.ID {
		t.Fatalf("m2 parent=%v, want %s", infos[0].Commit.Parent, m1.ID)
	}
	if infos[1].Commit.Parent != nil {
		t.Fatalf("m1 should have no parent")
	}

	loaded, err := store.GetCommit(ctx, m2.ID)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if len(loaded.Changes) != 2 || loaded.Changes[0] != c2.ID || loaded.Changes[1] != c3.ID {
		t.Fatalf("commit change order unexpected: %v", loaded.Changes)
	}
	if loaded.Message != "two" || loaded.AgentID != "tester" {
		t.Fatalf("commit metadata unexpected: %+v", loaded)
	}
}

func testDoubleBooking(t *testing.T, store Store) {
	ctx := context.Background()
	sess := mustSession(t, store, "/work")
	c1 := mustChange(t, store, sess, ChangeCreate, "a.txt", "a")
	c2 := mustChange(t, store, sess, ChangeCreate, "b.txt", "b")

	if err := store.CreateCommit(ctx, NewCommit(sess.ID, "one", "tester", []uuid.UUID{c1.ID})); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	err := store.CreateCommit(ctx, NewCommit(sess.ID, "again", "tester", []uuid.UUID{c2.ID, c1.ID}))
	if !errors.Is(err, ErrChangeCommitted) {
		t.Fatalf("double booking err=%v, want ErrChangeCommitted", err)
	}

	// the rejected commit must not have claimed c2
	pending, err := store.GetUncommittedChanges(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetUncommittedChanges: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != c2.ID {
		t.Fatalf("pending after rejected commit: %+v", pending)
	}
	infos, err := store.GetCommitsForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetCommitsForSession: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("rejected commit became visible: %d commits", len(infos))
	}
}

func testNotFound(t *testing.T, store Store) {
	ctx := context.Background()
	if _, err := store.GetCommit(ctx, NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCommit err=%v, want ErrNotFound", err)
	}
	if _, err := store.GetChange(ctx, NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChange err=%v, want ErrNotFound", err)
	}

	sess := mustSession(t, store, "/work")
	err := store.CreateCommit(ctx, NewCommit(sess.ID, "ghost", "tester", []uuid.UUID{NewID()}))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("commit of unknown change err=%v, want ErrNotFound", err)
	}
}

func testCommitWithChanges(t *testing.T, store Store) {
	ctx := context.Background()
	sess := mustSession(t, store, "/work")
	old := mustChange(t, store, sess, ChangeCreate, "a.txt", "a")
	first := NewCommit(sess.ID, "first", "tester", []uuid.UUID{old.ID})
	if err := store.CreateCommit(ctx, first); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}

	// a rejected commit leaves none of its new changes behind
	stray := NewChange(sess.ID, ChangeModify, "a.txt").WithContentBefore([]byte("a")).WithContentAfter([]byte("b"))
	bad := NewCommit(sess.ID, "bad", "tester", []uuid.UUID{stray.ID, old.ID})
	if err := store.CreateCommitWithChanges(ctx, []Change{stray}, bad); !errors.Is(err, ErrChangeCommitted) {
		t.Fatalf("err=%v, want ErrChangeCommitted", err)
	}
	if _, err := store.GetChange(ctx, stray.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stray change stored: err=%v", err)
	}
	pending, err := store.GetUncommittedChanges(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetUncommittedChanges: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after rejected commit: %+v", pending)
	}

	fresh := NewChange(sess.ID, ChangeModify, "a.txt").WithContentBefore([]byte("b")).WithContentAfter([]byte("a"))
	audit := NewCommit(sess.ID, "audit", "tester", []uuid.UUID{fresh.ID})
	audit.Parent = &first.ID
	if err := store.CreateCommitWithChanges(ctx, []Change{fresh}, audit); err != nil {
		t.Fatalf("CreateCommitWithChanges: %v", err)
	}
	got, err := store.GetCommit(ctx, audit.ID)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}
	if len(got.Changes) != 1 || got.Changes[0] != fresh.ID {
		t.Fatalf("commit changes=%v", got.Changes)
	}
	stored, err := store.GetChange(ctx, fresh.ID)
	if err != nil || string(stored.ContentAfter) != "a" {
		t.Fatalf("stored change=%+v err=%v", stored, err)
	}
	pending, err = store.GetUncommittedChanges(ctx, sess.ID)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending=%+v err=%v", pending, err)
	}
}
