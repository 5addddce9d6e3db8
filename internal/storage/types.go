package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChangeType 文件变更类型
// ChangeType is the kind of file-level event a Change records
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
	ChangeRename ChangeType = "rename"
)

// ParseChangeType accepts the lower/upper/mixed-case names of the four change types.
func ParseChangeType(s string) (ChangeType, error) {
	switch ChangeType(strings.ToLower(strings.TrimSpace(s))) {
	case ChangeCreate:
		return ChangeCreate, nil
	case ChangeModify:
		return ChangeModify, nil
	case ChangeDelete:
		return ChangeDelete, nil
	case ChangeRename:
		return ChangeRename, nil
	default:
		return "", fmt.Errorf("invalid change type %q", s)
	}
}

func (t ChangeType) String() string {
	return string(t)
}

// Session 一个被追踪的工作区根目录
// Session is a tracked working-tree root
type Session struct {
	ID       uuid.UUID `json:"id"`
	RootPath string    `json:"root_path"`
	Started  time.Time `json:"started"`
	Active   bool      `json:"active"`
}

// NewSession returns an active session for root, started now.
func NewSession(root string) Session {
	return Session{
		ID:       NewID(),
		RootPath: root,
		Started:  time.Now().UTC(),
		Active:   true,
	}
}

// Change 单个原子文件变更记录（持久化后不可变）
// Change is one atomic file event; immutable once persisted.
//
// A content hash is set iff the matching content is present, so an empty
// file and a metadata-only change stay distinguishable.
type Change struct {
	ID                uuid.UUID  `json:"id"`
	SessionID         uuid.UUID  `json:"session_id"`
	Type              ChangeType `json:"change_type"`
	Path              string     `json:"path"`
	OldPath           string     `json:"old_path,omitempty"`
	ContentBefore     []byte     `json:"content_before,omitempty"`
	ContentAfter      []byte     `json:"content_after,omitempty"`
	ContentHashBefore string     `json:"content_hash_before,omitempty"`
	ContentHashAfter  string     `json:"content_hash_after,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	AgentID           string     `json:"agent_id"`
}

// NewChange builds a metadata-only change stamped with a fresh id and the current UTC time.
func NewChange(sessionID uuid.UUID, typ ChangeType, path string) Change {
	return Change{
		ID:        NewID(),
		SessionID: sessionID,
		Type:      typ,
		Path:      path,
		Timestamp: time.Now().UTC(),
	}
}

// WithContentBefore records the pre-change bytes and their hash.
func (c Change) WithContentBefore(data []byte) Change {
	c.ContentBefore = cloneBytes(data)
	c.ContentHashBefore = HashContent(c.ContentBefore)
	return c
}

// WithContentAfter records the post-change bytes and their hash.
func (c Change) WithContentAfter(data []byte) Change {
	c.ContentAfter = cloneBytes(data)
	c.ContentHashAfter = HashContent(c.ContentAfter)
	return c
}

func (c Change) HasContentBefore() bool {
	return c.ContentHashBefore != ""
}

func (c Change) HasContentAfter() bool {
	return c.ContentHashAfter != ""
}

// Commit 不可变的、带父指针的变更集合
// Commit is an immutable, parent-linked bundle of change ids
type Commit struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	Message   string      `json:"message"`
	AgentID   string      `json:"agent_id"`
	Changes   []uuid.UUID `json:"changes"`
	Parent    *uuid.UUID  `json:"parent,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewCommit builds a parentless commit over changeIDs.
func NewCommit(sessionID uuid.UUID, message, agentID string, changeIDs []uuid.UUID) Commit {
	return Commit{
		ID:        NewID(),
		SessionID: sessionID,
		Message:   message,
		AgentID:   agentID,
		Changes:   append([]uuid.UUID(nil), changeIDs...),
		Timestamp: time.Now().UTC(),
	}
}

// CommitInfo 提交及其摘要信息（用于日志）
// CommitInfo is a log entry: the commit plus a summary of what it touched
type CommitInfo struct {
	Commit        Commit   `json:"commit"`
	ChangeCount   int      `json:"change_count"`
	FilesAffected []string `json:"files_affected"`
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
