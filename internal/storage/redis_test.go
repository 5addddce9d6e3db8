package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	store := NewRedisStoreFromClient(client, "test:")

	t.Cleanup(func() {
		_ = store.Close()
	})
	return mr, store
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		_, store := setupMiniredis(t)
		return store
	})
}

func TestRedisStore_NewRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestRedisStore_Connect(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	sess := NewSession("/work")
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !mr.Exists("ledger:session:" + sess.ID.String()) {
		t.Fatalf("expected session key under default prefix")
	}
}

func TestRedisStore_PreviousSessionDeactivated(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	first := NewSession("/work")
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second := NewSession("/work")
	if err := store.CreateSession(ctx, second); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var prev Session
	if err := store.getJSON(ctx, store.sessionKey(first.ID), &prev); err != nil {
		t.Fatalf("load first session: %v", err)
	}
	if prev.Active {
		t.Fatalf("first session should be inactive after a new one starts")
	}
}

func TestRedisStore_Closed(t *testing.T) {
	_, store := setupMiniredis(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_, err := store.GetActiveSession(context.Background(), "/work")
	if !errors.Is(err, ErrStorageClosed) {
		t.Fatalf("err=%v, want ErrStorageClosed", err)
	}
}

func TestRedisStore_CreateChangeIsAtomic(t *testing.T) {
	mr, store := setupMiniredis(t)
	ctx := context.Background()
	sess := mustSession(t, store, "/work")

	// a broken session index must not leave an unindexed change behind
	if err := mr.Set("test:session-changes:"+sess.ID.String(), "not a list"); err != nil {
		t.Fatal(err)
	}
	c := NewChange(sess.ID, ChangeCreate, "a.txt").WithContentAfter([]byte("a"))
	if err := store.CreateChange(ctx, c); err == nil {
		t.Fatal("expected error for a non-list session index")
	}
	if mr.Exists("test:change:" + c.ID.String()) {
		t.Fatal("change stored without its index entry")
	}

	mr.Del("test:session-changes:" + sess.ID.String())
	if err := store.CreateChange(ctx, c); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	if err := store.CreateChange(ctx, c); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err=%v, want ErrDuplicateID", err)
	}
	pending, err := store.GetUncommittedChanges(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetUncommittedChanges: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != c.ID {
		t.Fatalf("pending=%+v", pending)
	}
}
