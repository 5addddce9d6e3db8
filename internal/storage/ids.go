package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// NewID 生成新的记录 ID / Generates a new record id
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses a record id, tolerating surrounding whitespace.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// HashContent returns the hex xxh3-128 digest of data, or "" for nil data.
func HashContent(data []byte) string {
	if data == nil {
		return ""
	}
	return fmt.Sprintf("%x", xxh3.Hash128(data).Bytes())
}
