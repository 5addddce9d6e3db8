package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Records are JSON values; per-session
// lists keep insertion order and a single hash maps each committed change
// to its commit.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*RedisStore)(nil)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all ledger keys (default: "ledger:").
	Prefix string
}

const defaultRedisPrefix = "ledger:"

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client; used with miniredis in tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Key helpers
func (s *RedisStore) sessionKey(id uuid.UUID) string {
	return s.prefix + "session:" + id.String()
}

func (s *RedisStore) activeKey(root string) string {
	return s.prefix + "active:" + root
}

func (s *RedisStore) changeKey(id uuid.UUID) string {
	return s.prefix + "change:" + id.String()
}

func (s *RedisStore) sessionChangesKey(sessionID uuid.UUID) string {
	return s.prefix + "session-changes:" + sessionID.String()
}

func (s *RedisStore) commitKey(id uuid.UUID) string {
	return s.prefix + "commit:" + id.String()
}

func (s *RedisStore) sessionCommitsKey(sessionID uuid.UUID) string {
	return s.prefix + "session-commits:" + sessionID.String()
}

func (s *RedisStore) committedKey() string {
	return s.prefix + "committed"
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return nil
}

// createSessionScript claims the session id and flips the root's active pointer.
// KEYS: session key, active key. ARGV: session json, session id, active flag.
var createSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
if ARGV[3] == '1' then
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

func (s *RedisStore) CreateSession(ctx context.Context, sess Session) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if sess.Started.IsZero() {
		sess.Started = time.Now().UTC()
	}
	previous, err := s.client.Get(ctx, s.activeKey(sess.RootPath)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get active session: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	active := "0"
	if sess.Active {
		active = "1"
	}
	created, err := createSessionScript.Run(ctx, s.client,
		[]string{s.sessionKey(sess.ID), s.activeKey(sess.RootPath)},
		string(data), sess.ID.String(), active,
	).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrDuplicateID)
	}

	// 旧的活动会话标记为非活动 / Mark the previous active session inactive
	if sess.Active && previous != "" && previous != sess.ID.String() {
		if prevID, perr := uuid.Parse(previous); perr == nil {
			if err := s.deactivate(ctx, prevID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisStore) deactivate(ctx context.Context, id uuid.UUID) error {
	var prev Session
	if err := s.getJSON(ctx, s.sessionKey(id), &prev); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	prev.Active = false
	data, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetActiveSession(ctx context.Context, rootPath string) (Session, error) {
	if err := s.checkOpen(); err != nil {
		return Session{}, err
	}
	raw, err := s.client.Get(ctx, s.activeKey(rootPath)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, fmt.Errorf("active session for %s: %w", rootPath, ErrNotFound)
		}
		return Session{}, fmt.Errorf("get active session: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Session{}, fmt.Errorf("parse session id: %w", err)
	}
	var sess Session
	if err := s.getJSON(ctx, s.sessionKey(id), &sess); err != nil {
		return Session{}, err
	}
	if !sess.Active {
		return Session{}, fmt.Errorf("active session for %s: %w", rootPath, ErrNotFound)
	}
	return sess, nil
}

// createChangeScript stores the change and appends it to the session list,
// or does nothing when the id is taken or the list key holds another type.
// KEYS: change key, session changes list. ARGV: change json, change id.
var createChangeScript = redis.NewScript(`
local t = redis.call('TYPE', KEYS[2])['ok']
if t ~= 'none' and t ~= 'list' then
	return redis.error_reply('WRONGTYPE session change index is a ' .. t)
end
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)

func (s *RedisStore) CreateChange(ctx context.Context, c Change) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	n, err := createChangeScript.Run(ctx, s.client,
		[]string{s.changeKey(c.ID), s.sessionChangesKey(c.SessionID)},
		string(data), c.ID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("save change: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("change %s: %w", c.ID, ErrDuplicateID)
	}
	return nil
}

func (s *RedisStore) GetChange(ctx context.Context, id uuid.UUID) (Change, error) {
	if err := s.checkOpen(); err != nil {
		return Change{}, err
	}
	var c Change
	if err := s.getJSON(ctx, s.changeKey(id), &c); err != nil {
		return Change{}, err
	}
	normalizeContent(&c)
	return c, nil
}

func (s *RedisStore) GetUncommittedChanges(ctx context.Context, sessionID uuid.UUID) ([]Change, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, s.sessionChangesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	owners, err := s.client.HMGet(ctx, s.committedKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load commit index: %w", err)
	}

	var changes []Change
	for i, raw := range ids {
		if owners[i] != nil {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse change id: %w", err)
		}
		c, err := s.GetChange(ctx, id)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// createCommitScript claims every change id for the commit or none of them.
// KEYS: committed hash, commit key, session commits list.
// ARGV: commit id, commit json, change ids...
// Returns 1 on success or the first change id that is already claimed.
var createCommitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
for i = 3, #ARGV do
	if redis.call('HEXISTS', KEYS[1], ARGV[i]) == 1 then
		return ARGV[i]
	end
end
for i = 3, #ARGV do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[1])
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

func (s *RedisStore) CreateCommit(ctx context.Context, c Commit) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(c.Changes) == 0 {
		return fmt.Errorf("commit %s has no changes", c.ID)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	if c.Parent != nil {
		parent, err := s.GetCommit(ctx, *c.Parent)
		if err != nil {
			return fmt.Errorf("parent commit: %w", err)
		}
		if parent.SessionID != c.SessionID {
			return fmt.Errorf("parent commit %s belongs to another session", c.Parent)
		}
	}
	for _, changeID := range c.Changes {
		n, err := s.client.Exists(ctx, s.changeKey(changeID)).Result()
		if err != nil {
			return fmt.Errorf("check change: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("change %s: %w", changeID, ErrNotFound)
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit: %w", err)
	}
	args := make([]any, 0, len(c.Changes)+2)
	args = append(args, c.ID.String(), string(data))
	for _, changeID := range c.Changes {
		args = append(args, changeID.String())
	}

	res, err := createCommitScript.Run(ctx, s.client,
		[]string{s.committedKey(), s.commitKey(c.ID), s.sessionCommitsKey(c.SessionID)},
		args...,
	).Result()
	if err != nil {
		return fmt.Errorf("create commit: %w", err)
	}
	switch v := res.(type) {
	case int64:
		if v == 0 {
			return fmt.Errorf("commit %s: %w", c.ID, ErrDuplicateID)
		}
		return nil
	case string:
		return fmt.Errorf("change %s: %w", v, ErrChangeCommitted)
	default:
		return fmt.Errorf("create commit: unexpected script result %v", res)
	}
}

// createChangesAndCommitScript stores new changes and the commit over them,
// or nothing at all.
// KEYS: committed hash, commit key, session commits list, session changes
// list, change keys...
// ARGV: commit id, commit json, then a change id and change json per change
// key, then the commit's change ids.
// Returns 1 on success, 0 when the commit id exists, or the first change id
// that is taken.
var createChangesAndCommitScript = redis.NewScript(`
for i = 3, 4 do
	local t = redis.call('TYPE', KEYS[i])['ok']
	if t ~= 'none' and t ~= 'list' then
		return redis.error_reply('WRONGTYPE ' .. KEYS[i] .. ' is a ' .. t)
	end
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local n = #KEYS - 4
for i = 1, n do
	if redis.call('EXISTS', KEYS[4 + i]) == 1 then
		return ARGV[2 * i + 1]
	end
end
for i = 2 * n + 3, #ARGV do
	if redis.call('HEXISTS', KEYS[1], ARGV[i]) == 1 then
		return ARGV[i]
	end
end
for i = 1, n do
	redis.call('SET', KEYS[4 + i], ARGV[2 * i + 2])
	redis.call('RPUSH', KEYS[4], ARGV[2 * i + 1])
end
for i = 2 * n + 3, #ARGV do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[1])
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

func (s *RedisStore) CreateCommitWithChanges(ctx context.Context, changes []Change, c Commit) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(c.Changes) == 0 {
		return fmt.Errorf("commit %s has no changes", c.ID)
	}
	now := time.Now().UTC()
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	if c.Parent != nil {
		parent, err := s.GetCommit(ctx, *c.Parent)
		if err != nil {
			return fmt.Errorf("parent commit: %w", err)
		}
		if parent.SessionID != c.SessionID {
			return fmt.Errorf("parent commit %s belongs to another session", c.Parent)
		}
	}

	fresh := make(map[uuid.UUID]bool, len(changes))
	keys := []string{s.committedKey(), s.commitKey(c.ID), s.sessionCommitsKey(c.SessionID), s.sessionChangesKey(c.SessionID)}
	args := make([]any, 0, 2+2*len(changes)+len(c.Changes))
	commitData, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit: %w", err)
	}
	args = append(args, c.ID.String(), string(commitData))
	for _, ch := range changes {
		if ch.SessionID != c.SessionID {
			return fmt.Errorf("change %s belongs to another session", ch.ID)
		}
		if ch.Timestamp.IsZero() {
			ch.Timestamp = now
		}
		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal change: %w", err)
		}
		fresh[ch.ID] = true
		keys = append(keys, s.changeKey(ch.ID))
		args = append(args, ch.ID.String(), string(data))
	}
	for _, changeID := range c.Changes {
		if !fresh[changeID] {
			n, err := s.client.Exists(ctx, s.changeKey(changeID)).Result()
			if err != nil {
				return fmt.Errorf("check change: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("change %s: %w", changeID, ErrNotFound)
			}
		}
		args = append(args, changeID.String())
	}

	res, err := createChangesAndCommitScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("create commit: %w", err)
	}
	switch v := res.(type) {
	case int64:
		if v == 0 {
			return fmt.Errorf("commit %s: %w", c.ID, ErrDuplicateID)
		}
		return nil
	case string:
		id, _ := uuid.Parse(v)
		if fresh[id] {
			return fmt.Errorf("change %s: %w", v, ErrDuplicateID)
		}
		return fmt.Errorf("change %s: %w", v, ErrChangeCommitted)
	default:
		return fmt.Errorf("create commit: unexpected script result %v", res)
	}
}

func (s *RedisStore) GetCommit(ctx context.Context, id uuid.UUID) (Commit, error) {
	if err := s.checkOpen(); err != nil {
		return Commit{}, err
	}
	var c Commit
	if err := s.getJSON(ctx, s.commitKey(id), &c); err != nil {
		return Commit{}, err
	}
	return c, nil
}

func (s *RedisStore) GetCommitsForSession(ctx context.Context, sessionID uuid.UUID) ([]CommitInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, s.sessionCommitsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}

	out := make([]CommitInfo, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse commit id: %w", err)
		}
		c, err := s.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		info := CommitInfo{Commit: c, ChangeCount: len(c.Changes)}
		seen := map[string]struct{}{}
		for _, changeID := range c.Changes {
			ch, err := s.GetChange(ctx, changeID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			if _, ok := seen[ch.Path]; ok {
				continue
			}
			seen[ch.Path] = struct{}{}
			info.FilesAffected = append(info.FilesAffected, ch.Path)
		}
		out = append(out, info)
	}
	return out, nil
}

// Close releases resources held by the backend.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// normalizeContent restores empty (non-nil) content that a backend returned as
// nil; the hash tells an empty file apart from a metadata-only change.
func normalizeContent(c *Change) {
	if c.ContentHashBefore != "" && c.ContentBefore == nil {
		c.ContentBefore = []byte{}
	}
	if c.ContentHashAfter != "" && c.ContentAfter == nil {
		c.ContentAfter = []byte{}
	}
}
