package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uuidRE = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// isolate points HOME and the working directory at temp dirs and silences logs.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LEDGER_LOG_LEVEL", "off")
	t.Setenv("LEDGER_CONFIG_PATH", "")
	t.Setenv("LEDGER_DB_PATH", "")
	t.Setenv("LEDGER_BACKEND", "")
	work := t.TempDir()
	oldwd, _ := os.Getwd()
	require.NoError(t, os.Chdir(work))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	return work
}

func executeCommand(root, stdin string, args ...string) (string, error) {
	a := newApp()
	cmd := newRootCmd(a)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--root", root}, args...))
	_, err := cmd.ExecuteC()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return buf.String(), err
}

func mustRun(t *testing.T, root string, args ...string) string {
	t.Helper()
	out, err := executeCommand(root, "", args...)
	require.NoError(t, err, out)
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInitCreatesThenResumes(t *testing.T) {
	root := isolate(t)

	out := mustRun(t, root, "init")
	assert.Contains(t, out, "started session")
	first := uuidRE.FindString(out)
	require.NotEmpty(t, first)
	assert.FileExists(t, filepath.Join(root, ".ledger", "ledger.db"))

	out = mustRun(t, root, "init")
	assert.Contains(t, out, "resumed session "+first)

	out = mustRun(t, root, "init", "--new", "--scaffold")
	assert.Contains(t, out, "started session")
	assert.NotContains(t, out, first)
	assert.FileExists(t, filepath.Join(root, ".ledger", "config.json"))
}

func TestTrackCommitDiffRollback(t *testing.T) {
	root := isolate(t)
	target := filepath.Join(root, "notes.txt")
	writeFile(t, target, "first\n")

	mustRun(t, root, "track", "notes.txt", "--type", "create")
	out := mustRun(t, root, "status")
	assert.Contains(t, out, "Uncommitted changes (1)")
	assert.Contains(t, out, "notes.txt")

	out = mustRun(t, root, "commit", "-m", "add notes")
	commitID := uuidRE.FindString(out)
	require.NotEmpty(t, commitID)

	out = mustRun(t, root, "status")
	assert.Contains(t, out, "nothing to commit")

	out = mustRun(t, root, "log", "-v")
	assert.Contains(t, out, "commit "+commitID)
	assert.Contains(t, out, "add notes")

	out = mustRun(t, root, "diff", commitID)
	assert.Contains(t, out, "+first")
	assert.Contains(t, out, "@@ -0,0 +1,1 @@")

	writeFile(t, target, "clobbered\n")

	out = mustRun(t, root, "rollback", commitID)
	assert.Contains(t, out, "preview only")
	data, _ := os.ReadFile(target)
	assert.Equal(t, "clobbered\n", string(data))

	out, err := executeCommand(root, "n\n", "rollback", commitID, "--execute")
	require.NoError(t, err, out)
	assert.Contains(t, out, "rollback cancelled")
	data, _ = os.ReadFile(target)
	assert.Equal(t, "clobbered\n", string(data))

	out, err = executeCommand(root, "y\n", "rollback", commitID, "--execute")
	require.NoError(t, err, out)
	assert.Contains(t, out, "restored")
	data, _ = os.ReadFile(target)
	assert.Equal(t, "first\n", string(data))
}

func TestRollbackRecordWithYes(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, "a.txt"), "v1\n")
	mustRun(t, root, "track", "a.txt", "-t", "create")
	commitID := uuidRE.FindString(mustRun(t, root, "commit", "-m", "v1"))

	out := mustRun(t, root, "rollback", commitID, "--execute", "--yes", "--record")
	assert.Contains(t, out, "audit")

	out = mustRun(t, root, "log")
	assert.Contains(t, out, "rollback to "+commitID)
}

func TestCommitWithoutChangesFails(t *testing.T) {
	root := isolate(t)
	_, err := executeCommand(root, "", "commit", "-m", "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no changes to commit")
}

func TestTrackRejectsUnknownType(t *testing.T) {
	root := isolate(t)
	_, err := executeCommand(root, "", "track", "x.txt", "--type", "copy", "--no-content")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid change_type")
}

func TestDiffPrettyAndCompact(t *testing.T) {
	root := isolate(t)
	before := filepath.Join(t.TempDir(), "before.txt")
	writeFile(t, before, "a\nb\nc\n")
	writeFile(t, filepath.Join(root, "m.txt"), "a\nB\nc\n")
	mustRun(t, root, "track", "m.txt", "--before-file", before)

	out := mustRun(t, root, "diff", "--format", "compact")
	assert.Contains(t, out, "-b")
	assert.Contains(t, out, "+B")

	out = mustRun(t, root, "diff", "--pretty")
	assert.Contains(t, out, "m.txt")
}

func TestRedisBackend(t *testing.T) {
	root := isolate(t)
	mr := miniredis.RunT(t)
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("LEDGER_REDIS_ADDR", mr.Addr())

	out := mustRun(t, root, "init")
	sessionID := uuidRE.FindString(out)
	require.NotEmpty(t, sessionID)
	assert.True(t, mr.Exists("ledger:session:"+sessionID))
	assert.NoFileExists(t, filepath.Join(root, ".ledger", "ledger.db"))

	writeFile(t, filepath.Join(root, "r.txt"), "redis\n")
	mustRun(t, root, "track", "r.txt", "-t", "create")
	out = mustRun(t, root, "status")
	assert.Contains(t, out, "r.txt")
}

func TestServeDenyDestructive(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, "keep.txt"), "keep\n")
	call := func(id int, name string, args map[string]any) string {
		data, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": id, "method": "tools/call",
			"params": map[string]any{"name": name, "arguments": args},
		})
		return string(data)
	}
	stdin := strings.Join([]string{
		call(1, "ledger_init", map[string]any{"path": root}),
		call(2, "fs_delete", map[string]any{"path": "keep.txt"}),
		call(3, "fs_write", map[string]any{"path": "new.txt", "content": "ok\n"}),
	}, "\n") + "\n"

	out, err := executeCommand(root, stdin, "serve", "--deny-destructive")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)

	type reply struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	var denied, written reply
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &denied))
	assert.True(t, denied.Result.IsError)
	assert.Contains(t, denied.Result.Content[0].Text, "denied")
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &written))
	assert.False(t, written.Result.IsError, "calls without an approval hook still run")

	data, err := os.ReadFile(filepath.Join(root, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep\n", string(data))
}

func TestServeOverStdio(t *testing.T) {
	root := isolate(t)
	call := func(id int, name string, args map[string]any) string {
		data, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": id, "method": "tools/call",
			"params": map[string]any{"name": name, "arguments": args},
		})
		return string(data)
	}
	stdin := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		call(2, "ledger_init", map[string]any{"path": root}),
		call(3, "fs_write", map[string]any{"path": "w.txt", "content": "served\n"}),
		call(4, "ledger_status", nil),
	}, "\n") + "\n"

	out, err := executeCommand(root, stdin, "serve")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, out)
	var last struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &last))
	require.False(t, last.Result.IsError)
	assert.Contains(t, last.Result.Content[0].Text, `"uncommitted_count":1`)

	data, err := os.ReadFile(filepath.Join(root, "w.txt"))
	require.NoError(t, err)
	assert.Equal(t, "served\n", string(data))
}
