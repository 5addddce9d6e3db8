package tools

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentledger/internal/ledger"
)

func TestFSWriteWithoutSessionIsUntracked(t *testing.T) {
	h := newHarness(t)
	out := h.call(t, "fs_write", map[string]any{"path": "dir/a.txt", "content": "x\n"})
	if out["operation"] != "created" || out["tracked"] != false {
		t.Fatalf("write=%v", out)
	}
	data, err := os.ReadFile(filepath.Join(h.root, "dir", "a.txt"))
	if err != nil || string(data) != "x\n" {
		t.Fatalf("file=%q err=%v", data, err)
	}
}

func TestFSWriteTracksCreateAndModify(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	created := h.call(t, "fs_write", map[string]any{"path": "a.txt", "content": "old\n"})
	if created["tracked"] != true || created["operation"] != "created" {
		t.Fatalf("create=%v", created)
	}
	updated := h.call(t, "fs_write", map[string]any{"path": "a.txt", "content": "new\n"})
	if updated["operation"] != "updated" {
		t.Fatalf("update=%v", updated)
	}
	diff, _ := updated["diff"].(string)
	for _, needle := range []string{"-old", "+new"} {
		if !strings.Contains(diff, needle) {
			t.Fatalf("diff missing %q: %q", needle, diff)
		}
	}
	unchanged := h.call(t, "fs_write", map[string]any{"path": "a.txt", "content": "new\n"})
	if unchanged["operation"] != "unchanged" || unchanged["tracked"] != false {
		t.Fatalf("unchanged=%v", unchanged)
	}

	status, err := h.mgr.Status(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Uncommitted) != 2 {
		t.Fatalf("uncommitted=%d, want 2", len(status.Uncommitted))
	}
	modify := status.Uncommitted[1]
	if modify.Type.String() != "modify" || string(modify.ContentBefore) != "old\n" || string(modify.ContentAfter) != "new\n" {
		t.Fatalf("modify change=%+v", modify)
	}
}

func TestFSWriteRejectsEscape(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	_, err := h.exec("fs_write", map[string]any{"path": "../outside.txt", "content": "x"})
	if !errors.Is(err, ledger.ErrIO) {
		t.Fatalf("err=%v, want io error", err)
	}
}

func TestFSDeleteThenRollback(t *testing.T) {
	h := newHarness(t)
	target := filepath.Join(h.root, "gone.txt")
	if err := os.WriteFile(target, []byte("keep me\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.init(t)

	req, err := h.reg.ApprovalRequest("fs_delete", []byte(`{"path":"gone.txt"}`))
	if err != nil || req == nil {
		t.Fatalf("delete should need approval: req=%v err=%v", req, err)
	}

	out := h.call(t, "fs_delete", map[string]any{"path": "gone.txt"})
	if out["tracked"] != true {
		t.Fatalf("delete=%v", out)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	commitID := h.call(t, "ledger_commit", map[string]any{"message": "rm"})["commit_id"].(string)
	h.call(t, "ledger_rollback", map[string]any{"commit_id": commitID, "execute": true})

	data, err := os.ReadFile(target)
	if err != nil || string(data) != "keep me\n" {
		t.Fatalf("restored=%q err=%v", data, err)
	}
}

func TestFSDeleteMissing(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec("fs_delete", map[string]any{"path": "none.txt"})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err=%v, want not found", err)
	}
}

func TestFSMoveThenRollback(t *testing.T) {
	h := newHarness(t)
	if err := os.WriteFile(filepath.Join(h.root, "from.txt"), []byte("body\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.init(t)

	out := h.call(t, "fs_move", map[string]any{"from": "from.txt", "to": "sub/to.txt"})
	if out["tracked"] != true || out["to"] != "sub/to.txt" {
		t.Fatalf("move=%v", out)
	}
	if _, err := os.Stat(filepath.Join(h.root, "sub", "to.txt")); err != nil {
		t.Fatalf("destination: %v", err)
	}
	commitID := h.call(t, "ledger_commit", map[string]any{"message": "mv"})["commit_id"].(string)
	h.call(t, "ledger_rollback", map[string]any{"commit_id": commitID, "execute": true})

	data, err := os.ReadFile(filepath.Join(h.root, "from.txt"))
	if err != nil || string(data) != "body\n" {
		t.Fatalf("restored=%q err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(h.root, "sub", "to.txt")); !os.IsNotExist(err) {
		t.Fatalf("moved file should be gone after rollback: %v", err)
	}
}

func TestFSMoveDestinationExists(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(h.root, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	_, err := h.exec("fs_move", map[string]any{"from": "a.txt", "to": "b.txt"})
	if !errors.Is(err, ledger.ErrState) {
		t.Fatalf("err=%v, want state error", err)
	}
}
