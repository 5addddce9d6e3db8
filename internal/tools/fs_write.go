package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"agentledger/internal/ledger"
	"agentledger/internal/security"
)

// FSWriteTool writes a file inside the workspace and records the write in
// the active ledger session, if one is installed.
type FSWriteTool struct {
	files *fileOps
}

func NewFSWriteTool(mgr *ledger.Manager, ws *security.Workspace) *FSWriteTool {
	return &FSWriteTool{files: &fileOps{mgr: mgr, ws: ws}}
}

func (t *FSWriteTool) Name() string {
	return "fs_write"
}

func (t *FSWriteTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Write full content to a file in the workspace. The write is tracked as a create or modify change when a ledger session is active.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     map[string]any{"type": "string"},
				"content":  map[string]any{"type": "string"},
				"agent_id": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *FSWriteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path    string  `json:"path"`
		Content *string `json:"content"`
		AgentID string  `json:"agent_id"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Path) == "" {
		return "", missingArg(t.Name(), "path")
	}
	if in.Content == nil {
		return "", missingArg(t.Name(), "content")
	}
	content := *in.Content

	var out map[string]any
	err := t.files.run(func(l *ledger.Ledger, ws *security.Workspace) error {
		resolved, err := ws.Resolve(in.Path)
		if err != nil {
			return ioError(t.Name(), err, "resolve path")
		}
		rel, _ := ws.Rel(resolved)

		var original []byte
		existed := false
		mode := os.FileMode(0o644)
		if data, readErr := os.ReadFile(resolved); readErr == nil {
			existed = true
			original = data
			if info, err := os.Stat(resolved); err == nil {
				mode = info.Mode().Perm()
			}
		} else if !errors.Is(readErr, os.ErrNotExist) {
			return ioError(t.Name(), readErr, "read original file")
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return ioError(t.Name(), err, "create parent directories")
		}
		if err := security.WriteFileAtomic(resolved, []byte(content), mode); err != nil {
			return ioError(t.Name(), err, "write file")
		}

		operation := "created"
		changeType := "create"
		if existed {
			operation, changeType = "updated", "modify"
			if bytes.Equal(original, []byte(content)) {
				operation = "unchanged"
			}
		}
		diff, diffTruncated, additions, deletions := "", false, 0, 0
		if operation != "unchanged" {
			diff, diffTruncated, additions, deletions = writePreview(rel, original, []byte(content), writePreviewLimits)
		}

		out = map[string]any{
			"ok":             true,
			"path":           rel,
			"size":           len(content),
			"operation":      operation,
			"additions":      additions,
			"deletions":      deletions,
			"diff":           diff,
			"diff_truncated": diffTruncated,
		}
		if l == nil || operation == "unchanged" {
			out["tracked"] = false
			return nil
		}
		req := ledger.TrackRequest{Path: rel, Type: changeType, Content: []byte(content), AgentID: in.AgentID}
		if existed {
			req.ContentBefore = original
		}
		change, err := l.Track(ctx, req)
		if err != nil {
			return err
		}
		out["tracked"] = true
		out["change_id"] = change.ID.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return mustJSON(out), nil
}
