package ledger

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"agentledger/internal/storage"
)

// Format selects how Diff renders a change.
type Format string

const (
	// FormatUnified replaces the whole file: every old line removed, every new line added.
	FormatUnified Format = "unified"
	// FormatStructured returns the raw stored content and hashes.
	FormatStructured Format = "structured"
	// FormatCompact renders modifications as a minimal line diff with context.
	FormatCompact Format = "compact"
)

const compactContext = 3

// ParseFormat maps a format name to a Format; empty selects FormatUnified.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatUnified:
		return FormatUnified, nil
	case FormatStructured:
		return FormatStructured, nil
	case FormatCompact:
		return FormatCompact, nil
	default:
		return "", fmt.Errorf("unknown diff format %q", s)
	}
}

// DiffRequest selects the changes to render. An empty CommitID selects the
// uncommitted set; File is a substring filter on the change path.
type DiffRequest struct {
	CommitID string
	File     string
	Format   string
}

// DiffRecord is the rendering of one change.
type DiffRecord struct {
	ChangeID  uuid.UUID
	Type      storage.ChangeType
	Path      string
	OldPath   string
	Diff      string
	Additions int
	Deletions int
	Binary    bool

	// Set for FormatStructured only.
	ContentBefore []byte
	ContentAfter  []byte
	HashBefore    string
	HashAfter     string
}

// DiffResult is the ordered set of records plus the format used.
type DiffResult struct {
	Format  Format
	Records []DiffRecord
}

// Diff renders the selected changes in stored order.
func (l *Ledger) Diff(ctx context.Context, req DiffRequest) (DiffResult, error) {
	const op = "diff"

	format, err := ParseFormat(req.Format)
	if err != nil {
		return DiffResult{}, validationErr(op, "%v", err)
	}
	changes, err := l.selectChanges(ctx, op, req.CommitID)
	if err != nil {
		return DiffResult{}, err
	}

	out := DiffResult{Format: format, Records: make([]DiffRecord, 0, len(changes))}
	for _, c := range changes {
		if req.File != "" && !strings.Contains(c.Path, req.File) {
			continue
		}
		out.Records = append(out.Records, renderChange(c, format))
	}
	return out, nil
}

func (l *Ledger) selectChanges(ctx context.Context, op, commitID string) ([]storage.Change, error) {
	if strings.TrimSpace(commitID) == "" {
		pending, err := l.store.GetUncommittedChanges(ctx, l.session.ID)
		if err != nil {
			return nil, storageErr(op, err)
		}
		return pending, nil
	}
	id, err := storage.ParseID(commitID)
	if err != nil {
		return nil, validationErr(op, "invalid commit_id %q", commitID)
	}
	commit, err := l.store.GetCommit(ctx, id)
	if err != nil {
		return nil, storageErr(op, err)
	}
	changes := make([]storage.Change, 0, len(commit.Changes))
	for _, changeID := range commit.Changes {
		c, err := l.store.GetChange(ctx, changeID)
		if err != nil {
			return nil, storageErr(op, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func renderChange(c storage.Change, format Format) DiffRecord {
	rec := DiffRecord{
		ChangeID: c.ID,
		Type:     c.Type,
		Path:     c.Path,
		OldPath:  c.OldPath,
	}
	if format == FormatStructured {
		rec.ContentBefore = c.ContentBefore
		rec.ContentAfter = c.ContentAfter
		rec.HashBefore = c.ContentHashBefore
		rec.HashAfter = c.ContentHashAfter
		rec.Additions = len(splitLines(c.ContentAfter))
		rec.Deletions = len(splitLines(c.ContentBefore))
		return rec
	}

	if c.Type == storage.ChangeRename {
		rec.Diff = fmt.Sprintf("rename from %s\nrename to %s", c.OldPath, c.Path)
		return rec
	}
	if !utf8.Valid(c.ContentBefore) || !utf8.Valid(c.ContentAfter) {
		rec.Binary = true
		rec.Diff = binaryDiff(c)
		return rec
	}
	if format == FormatCompact && c.Type == storage.ChangeModify {
		rec.Diff, rec.Additions, rec.Deletions = CompactDiff(c.Path, c.ContentBefore, c.ContentAfter)
		if rec.Diff == "" {
			rec.Diff = fmt.Sprintf("--- %s\n+++ %s", c.Path, c.Path)
		}
		return rec
	}
	rec.Diff, rec.Additions, rec.Deletions = replacementDiff(c)
	return rec
}

// replacementDiff emits every before line as removed and every after line as added.
func replacementDiff(c storage.Change) (string, int, int) {
	var b strings.Builder
	var before, after []string

	switch c.Type {
	case storage.ChangeCreate:
		after = splitLines(c.ContentAfter)
		fmt.Fprintf(&b, "--- /dev/null\n+++ %s\n@@ -0,0 +1,%d @@", c.Path, len(after))
	case storage.ChangeDelete:
		before = splitLines(c.ContentBefore)
		fmt.Fprintf(&b, "--- %s\n+++ /dev/null\n@@ -1,%d +0,0 @@", c.Path, len(before))
	default:
		before = splitLines(c.ContentBefore)
		after = splitLines(c.ContentAfter)
		fmt.Fprintf(&b, "--- %s\n+++ %s\n@@ -1,%d +1,%d @@", c.Path, c.Path, len(before), len(after))
	}
	for _, line := range before {
		b.WriteString("\n-")
		b.WriteString(line)
	}
	for _, line := range after {
		b.WriteString("\n+")
		b.WriteString(line)
	}
	return b.String(), len(after), len(before)
}

// CompactDiff renders a minimal line diff of before and after with three
// lines of context. Line endings and a missing final newline are ignored, so
// contents that differ only there yield an empty diff.
func CompactDiff(path string, before, after []byte) (string, int, int) {
	a := withNewlines(splitLines(before))
	bl := withNewlines(splitLines(after))
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        bl,
		FromFile: path,
		ToFile:   path,
		Context:  compactContext,
	})
	if err != nil || text == "" {
		return "", 0, 0
	}

	additions, deletions := 0, 0
	lines := strings.Split(text, "\n")
	// first two lines are the file header
	for _, line := range lines[min(2, len(lines)):] {
		switch {
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return strings.TrimRight(text, "\n"), additions, deletions
}

func binaryDiff(c storage.Change) string {
	from, to := c.Path, c.Path
	switch c.Type {
	case storage.ChangeCreate:
		from = "/dev/null"
	case storage.ChangeDelete:
		to = "/dev/null"
	}
	return fmt.Sprintf("--- %s\n+++ %s\nBinary content differs", from, to)
}

// splitLines splits on "\n", drops a trailing empty element and strips "\r".
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line + "\n"
	}
	return out
}
