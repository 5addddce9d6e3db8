package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"pgregory.net/rapid"

	"agentledger/internal/storage"
)

// Random interleavings of track and commit keep every change in at most one
// commit, and the uncommitted set is exactly the tracked-but-unclaimed rest.
func TestLedgerCommitPartitionProperty(t *testing.T) {
	dir := t.TempDir()
	runs := 0

	rapid.Check(t, func(rt *rapid.T) {
		runs++
		store, err := storage.NewSQLiteStore(filepath.Join(dir, fmt.Sprintf("p%d.db", runs)))
		if err != nil {
			rt.Fatalf("NewSQLiteStore: %v", err)
		}
		defer store.Close()

		nop := zerolog.Nop()
		l, err := Open(context.Background(), store, dir, Options{ForceNew: true, Logger: &nop})
		if err != nil {
			rt.Fatalf("Open: %v", err)
		}

		ctx := context.Background()
		tracked := map[uuid.UUID]bool{}
		owner := map[uuid.UUID]uuid.UUID{}
		var lastCommit *uuid.UUID

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, "track") {
				typ := rapid.SampledFrom([]string{"create", "modify", "delete"}).Draw(rt, "type")
				c, err := l.Track(ctx, TrackRequest{
					Path:    rapid.StringMatching(`[a-c]\.txt`).Draw(rt, "path"),
					Type:    typ,
					Content: []byte(rapid.String().Draw(rt, "content")),
				})
				if err != nil {
					rt.Fatalf("Track: %v", err)
				}
				tracked[c.ID] = true
				continue
			}

			pending := 0
			for id := range tracked {
				if _, ok := owner[id]; !ok {
					pending++
				}
			}
			m, err := l.Commit(ctx, CommitRequest{Message: "step"})
			if pending == 0 {
				if err == nil {
					rt.Fatalf("commit with nothing pending succeeded")
				}
				continue
			}
			if err != nil {
				rt.Fatalf("Commit: %v", err)
			}
			if len(m.Changes) != pending {
				rt.Fatalf("commit took %d changes, want %d", len(m.Changes), pending)
			}
			if (lastCommit == nil) != (m.Parent == nil) || (lastCommit != nil && *lastCommit != *m.Parent) {
				rt.Fatalf("parent=%v, want %v", m.Parent, lastCommit)
			}
			for _, id := range m.Changes {
				if prev, ok := owner[id]; ok {
					rt.Fatalf("change %s already in commit %s", id, prev)
				}
				owner[id] = m.ID
			}
			id := m.ID
			lastCommit = &id
		}

		st, err := l.Status(ctx)
		if err != nil {
			rt.Fatalf("Status: %v", err)
		}
		for _, c := range st.Uncommitted {
			if _, ok := owner[c.ID]; ok {
				rt.Fatalf("committed change %s reported as uncommitted", c.ID)
			}
		}
		if len(st.Uncommitted)+len(owner) != len(tracked) {
			rt.Fatalf("uncommitted %d + committed %d != tracked %d", len(st.Uncommitted), len(owner), len(tracked))
		}
	})

	if runs == 0 {
		t.Fatal("property never ran")
	}
}

// The unified create diff always has one added line per content line.
func TestUnifiedCreateLineCountProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lines := rapid.SliceOf(rapid.StringMatching(`[a-z ]{0,12}`)).Draw(rt, "lines")
		var content []byte
		for _, line := range lines {
			content = append(content, line...)
			content = append(content, '\n')
		}
		c := storage.NewChange(storage.NewID(), storage.ChangeCreate, "f").WithContentAfter(content)
		rec := renderChange(c, FormatUnified)
		if rec.Additions != len(lines) {
			rt.Fatalf("additions=%d, want %d", rec.Additions, len(lines))
		}
	})
}
