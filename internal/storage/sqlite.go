package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// foreign_keys is a per-connection pragma; one connection keeps it in force.
	db.SetMaxOpenConns(1)

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		root_path  TEXT NOT NULL,
		started_at TEXT NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS changes (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		change_type    TEXT NOT NULL,
		path           TEXT NOT NULL,
		old_path       TEXT NOT NULL DEFAULT '',
		content_before BLOB,
		content_after  BLOB,
		hash_before    TEXT NOT NULL DEFAULT '',
		hash_after     TEXT NOT NULL DEFAULT '',
		agent_id       TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commits (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		message    TEXT NOT NULL,
		agent_id   TEXT NOT NULL DEFAULT '',
		parent_id  TEXT REFERENCES commits(id),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commit_changes (
		commit_id TEXT NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
		change_id TEXT NOT NULL REFERENCES changes(id),
		seq       INTEGER NOT NULL,
		PRIMARY KEY(commit_id, seq),
		UNIQUE(change_id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_root ON sessions(root_path) WHERE active = 1;
	CREATE INDEX IF NOT EXISTS idx_changes_session ON changes(session_id);
	CREATE INDEX IF NOT EXISTS idx_commits_session ON commits(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Session Operations ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	if sess.Started.IsZero() {
		sess.Started = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id=?", sess.ID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrDuplicateID)
	}

	// 同一根目录只保留一个活动会话 / Only one active session per root
	if sess.Active {
		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET active=0 WHERE root_path=? AND active=1", sess.RootPath); err != nil {
			return fmt.Errorf("deactivate sessions: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, root_path, started_at, active)
		VALUES (?, ?, ?, ?)`,
		sess.ID.String(), sess.RootPath, formatTime(sess.Started), boolToInt(sess.Active),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetActiveSession(ctx context.Context, rootPath string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, root_path, started_at, active
		FROM sessions WHERE root_path=? AND active=1
		ORDER BY rowid DESC LIMIT 1`, rootPath)

	var (
		sess    Session
		id      string
		started string
		active  int
	)
	if err := row.Scan(&id, &sess.RootPath, &started, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("active session for %s: %w", rootPath, ErrNotFound)
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var err error
	if sess.ID, err = uuid.Parse(id); err != nil {
		return Session{}, fmt.Errorf("parse session id: %w", err)
	}
	if sess.Started, err = parseTime(started); err != nil {
		return Session{}, err
	}
	sess.Active = active != 0
	return sess, nil
}

// --- Change Operations ---

const changeColumns = `id, session_id, change_type, path, old_path, content_before, content_after,
	hash_before, hash_after, agent_id, created_at`

func (s *SQLiteStore) CreateChange(ctx context.Context, c Change) error {
	return insertChange(ctx, s.db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertChange(ctx context.Context, db execer, c Change) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO changes (`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.SessionID.String(), string(c.Type), c.Path, c.OldPath,
		c.ContentBefore, c.ContentAfter, c.ContentHashBefore, c.ContentHashAfter,
		c.AgentID, formatTime(c.Timestamp),
	)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("change %s: %w", c.ID, ErrDuplicateID)
		}
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChange(ctx context.Context, id uuid.UUID) (Change, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+changeColumns+" FROM changes WHERE id=?", id.String())
	c, err := scanChange(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Change{}, fmt.Errorf("change %s: %w", id, ErrNotFound)
		}
		return Change{}, fmt.Errorf("load change: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetUncommittedChanges(ctx context.Context, sessionID uuid.UUID) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+changeColumns+` FROM changes c
		WHERE c.session_id=?
		  AND NOT EXISTS (SELECT 1 FROM commit_changes cc WHERE cc.change_id = c.id)
		ORDER BY c.rowid`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query uncommitted changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// --- Commit Operations ---

// CreateCommit 原子写入提交及其变更列表
// CreateCommit inserts the commit and its ordered change list in one transaction
func (s *SQLiteStore) CreateCommit(ctx context.Context, c Commit) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertCommit(ctx, tx, c)
	})
}

func (s *SQLiteStore) CreateCommitWithChanges(ctx context.Context, changes []Change, c Commit) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, ch := range changes {
			if ch.SessionID != c.SessionID {
				return fmt.Errorf("change %s belongs to another session", ch.ID)
			}
			if err := insertChange(ctx, tx, ch); err != nil {
				return err
			}
		}
		return insertCommit(ctx, tx, c)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertCommit(ctx context.Context, tx *sql.Tx, c Commit) error {
	if len(c.Changes) == 0 {
		return fmt.Errorf("commit %s has no changes", c.ID)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}

	if c.Parent != nil {
		var parentSession string
		err := tx.QueryRowContext(ctx, "SELECT session_id FROM commits WHERE id=?", c.Parent.String()).Scan(&parentSession)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("parent commit %s: %w", c.Parent, ErrNotFound)
			}
			return fmt.Errorf("load parent commit: %w", err)
		}
		if parentSession != c.SessionID.String() {
			return fmt.Errorf("parent commit %s belongs to another session", c.Parent)
		}
	}

	for _, changeID := range c.Changes {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM changes WHERE id=?", changeID.String()).Scan(&n); err != nil {
			return fmt.Errorf("check change %s: %w", changeID, err)
		}
		if n == 0 {
			return fmt.Errorf("change %s: %w", changeID, ErrNotFound)
		}

		var owner string
		err := tx.QueryRowContext(ctx, "SELECT commit_id FROM commit_changes WHERE change_id=?", changeID.String()).Scan(&owner)
		if err == nil {
			return fmt.Errorf("change %s in commit %s: %w", changeID, owner, ErrChangeCommitted)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check change %s: %w", changeID, err)
		}
	}

	var parent any
	if c.Parent != nil {
		parent = c.Parent.String()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits (id, session_id, message, agent_id, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.SessionID.String(), c.Message, c.AgentID, parent, formatTime(c.Timestamp),
	); err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("commit %s: %w", c.ID, ErrDuplicateID)
		}
		return fmt.Errorf("insert commit: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO commit_changes (commit_id, change_id, seq) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, changeID := range c.Changes {
		if _, err := stmt.ExecContext(ctx, c.ID.String(), changeID.String(), i); err != nil {
			switch {
			case isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE):
				return fmt.Errorf("change %s: %w", changeID, ErrChangeCommitted)
			case isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY):
				return fmt.Errorf("change %s: %w", changeID, ErrNotFound)
			}
			return fmt.Errorf("insert commit change %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetCommit(ctx context.Context, id uuid.UUID) (Commit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, message, agent_id, parent_id, created_at
		FROM commits WHERE id=?`, id.String())
	c, err := scanCommit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Commit{}, fmt.Errorf("commit %s: %w", id, ErrNotFound)
		}
		return Commit{}, fmt.Errorf("load commit: %w", err)
	}
	info, err := s.commitChanges(ctx, c.ID)
	if err != nil {
		return Commit{}, err
	}
	c.Changes = info.ids
	return c, nil
}

// GetCommitsForSession 按时间倒序返回会话的提交
// GetCommitsForSession returns the session's commits newest first
func (s *SQLiteStore) GetCommitsForSession(ctx context.Context, sessionID uuid.UUID) ([]CommitInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message, agent_id, parent_id, created_at
		FROM commits WHERE session_id=? ORDER BY rowid DESC`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	var commits []Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// 单连接：先关闭游标再查询子表 / Single connection: close the cursor before the next query
	rows.Close()

	out := make([]CommitInfo, 0, len(commits))
	for _, c := range commits {
		members, err := s.commitChanges(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Changes = members.ids
		out = append(out, CommitInfo{
			Commit:        c,
			ChangeCount:   len(members.ids),
			FilesAffected: members.paths,
		})
	}
	return out, nil
}

type commitMembers struct {
	ids   []uuid.UUID
	paths []string
}

func (s *SQLiteStore) commitChanges(ctx context.Context, commitID uuid.UUID) (commitMembers, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cc.change_id, COALESCE(ch.path, '')
		FROM commit_changes cc LEFT JOIN changes ch ON ch.id = cc.change_id
		WHERE cc.commit_id=? ORDER BY cc.seq`, commitID.String())
	if err != nil {
		return commitMembers{}, fmt.Errorf("query commit changes: %w", err)
	}
	defer rows.Close()

	var out commitMembers
	seen := map[string]struct{}{}
	for rows.Next() {
		var rawID, path string
		if err := rows.Scan(&rawID, &path); err != nil {
			return commitMembers{}, fmt.Errorf("scan commit change: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return commitMembers{}, fmt.Errorf("parse change id: %w", err)
		}
		out.ids = append(out.ids, id)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out.paths = append(out.paths, path)
	}
	return out, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (Change, error) {
	var (
		c                  Change
		id, sessionID, typ string
		created            string
	)
	if err := row.Scan(&id, &sessionID, &typ, &c.Path, &c.OldPath,
		&c.ContentBefore, &c.ContentAfter, &c.ContentHashBefore, &c.ContentHashAfter,
		&c.AgentID, &created); err != nil {
		return Change{}, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return Change{}, fmt.Errorf("parse change id: %w", err)
	}
	if c.SessionID, err = uuid.Parse(sessionID); err != nil {
		return Change{}, fmt.Errorf("parse session id: %w", err)
	}
	if c.Type, err = ParseChangeType(typ); err != nil {
		return Change{}, err
	}
	if c.Timestamp, err = parseTime(created); err != nil {
		return Change{}, err
	}
	normalizeContent(&c)
	return c, nil
}

func scanCommit(row rowScanner) (Commit, error) {
	var (
		c             Commit
		id, sessionID string
		parent        sql.NullString
		created       string
	)
	if err := row.Scan(&id, &sessionID, &c.Message, &c.AgentID, &parent, &created); err != nil {
		return Commit{}, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return Commit{}, fmt.Errorf("parse commit id: %w", err)
	}
	if c.SessionID, err = uuid.Parse(sessionID); err != nil {
		return Commit{}, fmt.Errorf("parse session id: %w", err)
	}
	if parent.Valid && parent.String != "" {
		p, err := uuid.Parse(parent.String)
		if err != nil {
			return Commit{}, fmt.Errorf("parse parent id: %w", err)
		}
		c.Parent = &p
	}
	if c.Timestamp, err = parseTime(created); err != nil {
		return Commit{}, err
	}
	return c, nil
}

func isConstraint(err error, code int) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == code
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
