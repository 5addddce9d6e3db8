package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a session, change or commit does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChangeCommitted is returned when a commit references a change that
	// already belongs to another commit.
	ErrChangeCommitted = errors.New("change already committed")
	// ErrDuplicateID is returned when a record with the same id already exists.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrStorageClosed is returned by a backend after Close.
	ErrStorageClosed = errors.New("storage closed")
)

// Store 账本持久化接口，支持多后端 (SQLite / Redis)
// Store is the ledger persistence gateway, implemented by the SQLite and Redis backends
type Store interface {
	// Session 操作 / Session operations
	CreateSession(ctx context.Context, s Session) error
	GetActiveSession(ctx context.Context, rootPath string) (Session, error)

	// Change 操作 / Change operations
	CreateChange(ctx context.Context, c Change) error
	GetChange(ctx context.Context, id uuid.UUID) (Change, error)
	GetUncommittedChanges(ctx context.Context, sessionID uuid.UUID) ([]Change, error)

	// Commit 操作 / Commit operations
	CreateCommit(ctx context.Context, c Commit) error
	// CreateCommitWithChanges 原子写入新变更及其提交，失败时不留任何记录
	// CreateCommitWithChanges stores new changes and the commit over them atomically; on failure nothing is stored
	CreateCommitWithChanges(ctx context.Context, changes []Change, c Commit) error
	GetCommit(ctx context.Context, id uuid.UUID) (Commit, error)
	GetCommitsForSession(ctx context.Context, sessionID uuid.UUID) ([]CommitInfo, error)

	// 生命周期 / Lifecycle
	Close() error
}
