package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentledger/internal/ledger"
	"agentledger/internal/security"
)

type FSMoveTool struct {
	files *fileOps
}

func NewFSMoveTool(mgr *ledger.Manager, ws *security.Workspace) *FSMoveTool {
	return &FSMoveTool{files: &fileOps{mgr: mgr, ws: ws}}
}

func (t *FSMoveTool) Name() string {
	return "fs_move"
}

func (t *FSMoveTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Rename or move a file within the workspace and track it as a rename change.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"from":     map[string]any{"type": "string"},
				"to":       map[string]any{"type": "string"},
				"agent_id": map[string]any{"type": "string"},
			},
			"required": []string{"from", "to"},
		},
	}
}

func (t *FSMoveTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		From    string `json:"from"`
		To      string `json:"to"`
		AgentID string `json:"agent_id"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.From) == "" {
		return "", missingArg(t.Name(), "from")
	}
	if strings.TrimSpace(in.To) == "" {
		return "", missingArg(t.Name(), "to")
	}

	var out map[string]any
	err := t.files.run(func(l *ledger.Ledger, ws *security.Workspace) error {
		src, err := ws.Resolve(in.From)
		if err != nil {
			return ioError(t.Name(), err, "resolve source")
		}
		dst, err := ws.Resolve(in.To)
		if err != nil {
			return ioError(t.Name(), err, "resolve destination")
		}
		from, _ := ws.Rel(src)
		to, _ := ws.Rel(dst)

		content, err := os.ReadFile(src)
		if errors.Is(err, os.ErrNotExist) {
			return &ledger.Error{Kind: ledger.KindNotFound, Op: t.Name(), Message: fmt.Sprintf("file not found: %s", from)}
		}
		if err != nil {
			return ioError(t.Name(), err, "read %s", from)
		}
		if _, err := os.Stat(dst); err == nil {
			return &ledger.Error{Kind: ledger.KindState, Op: t.Name(), Message: fmt.Sprintf("destination exists: %s", to)}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ioError(t.Name(), err, "create parent directories")
		}
		if err := os.Rename(src, dst); err != nil {
			return ioError(t.Name(), err, "move %s to %s", from, to)
		}

		out = map[string]any{"ok": true, "from": from, "to": to, "tracked": false}
		if l == nil {
			return nil
		}
		change, err := l.Track(ctx, ledger.TrackRequest{Path: to, Type: "rename", OldPath: from, ContentBefore: content, AgentID: in.AgentID})
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
