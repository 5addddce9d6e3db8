package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"agentledger/internal/ledger"
	"agentledger/internal/security"
)

type FSDeleteTool struct {
	files *fileOps
}

func NewFSDeleteTool(mgr *ledger.Manager, ws *security.Workspace) *FSDeleteTool {
	return &FSDeleteTool{files: &fileOps{mgr: mgr, ws: ws}}
}

func (t *FSDeleteTool) Name() string {
	return "fs_delete"
}

func (t *FSDeleteTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Delete a file in the workspace. The prior content is captured in a delete change so the file can be rolled back.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     map[string]any{"type": "string"},
				"agent_id": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}
}

func (t *FSDeleteTool) ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return nil, err
	}
	return &ApprovalRequest{
		Tool:    t.Name(),
		Reason:  fmt.Sprintf("delete %s", strings.TrimSpace(in.Path)),
		RawArgs: string(args),
	}, nil
}

func (t *FSDeleteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		AgentID string `json:"agent_id"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Path) == "" {
		return "", missingArg(t.Name(), "path")
	}

	var out map[string]any
	err := t.files.run(func(l *ledger.Ledger, ws *security.Workspace) error {
		resolved, err := ws.Resolve(in.Path)
		if err != nil {
			return ioError(t.Name(), err, "resolve path")
		}
		rel, _ := ws.Rel(resolved)
		info, err := os.Stat(resolved)
		if errors.Is(err, os.ErrNotExist) {
			return &ledger.Error{Kind: ledger.KindNotFound, Op: t.Name(), Message: fmt.Sprintf("file not found: %s", rel)}
		}
		if err != nil {
			return ioError(t.Name(), err, "stat %s", rel)
		}
		if info.IsDir() {
			return &ledger.Error{Kind: ledger.KindValidation, Op: t.Name(), Message: fmt.Sprintf("%s is a directory", rel)}
		}
		before, err := os.ReadFile(resolved)
		if err != nil {
			return ioError(t.Name(), err, "read %s", rel)
		}
		if err := os.Remove(resolved); err != nil {
			return ioError(t.Name(), err, "delete %s", rel)
		}

		out = map[string]any{"ok": true, "path": rel, "size": len(before), "tracked": false}
		if l == nil {
			return nil
		}
		change, err := l.Track(ctx, ledger.TrackRequest{Path: rel, Type: "delete", ContentBefore: before, AgentID: in.AgentID})
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
