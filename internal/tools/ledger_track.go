package tools

import (
	"context"
	"encoding/json"
	"strings"

	"agentledger/internal/ledger"
)

type LedgerTrackTool struct {
	mgr *ledger.Manager
}

func NewLedgerTrackTool(mgr *ledger.Manager) *LedgerTrackTool {
	return &LedgerTrackTool{mgr: mgr}
}

func (t *LedgerTrackTool) Name() string {
	return "ledger_track"
}

func (t *LedgerTrackTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Record a file change (create, modify, delete or rename) in the active session.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
				"change_type": map[string]any{
					"type": "string",
					"enum": []string{"create", "modify", "delete", "rename"},
				},
				"content": map[string]any{
					"type":        "string",
					"description": "File content after a create or modify.",
				},
				"content_before": map[string]any{
					"type":        "string",
					"description": "File content before a modify, delete or rename.",
				},
				"old_path": map[string]any{
					"type":        "string",
					"description": "Previous path; required for rename.",
				},
				"agent_id": map[string]any{"type": "string"},
			},
			"required": []string{"path", "change_type"},
		},
	}
}

func (t *LedgerTrackTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path          string  `json:"path"`
		ChangeType    string  `json:"change_type"`
		Content       *string `json:"content"`
		ContentBefore *string `json:"content_before"`
		OldPath       string  `json:"old_path"`
		AgentID       string  `json:"agent_id"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Path) == "" {
		return "", missingArg(t.Name(), "path")
	}
	if strings.TrimSpace(in.ChangeType) == "" {
		return "", missingArg(t.Name(), "change_type")
	}

	c, err := t.mgr.Track(ctx, ledger.TrackRequest{
		Path:          in.Path,
		Type:          in.ChangeType,
		Content:       optionalBytes(in.Content),
		ContentBefore: optionalBytes(in.ContentBefore),
		OldPath:       in.OldPath,
		AgentID:       in.AgentID,
	})
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"success":     true,
		"change_id":   c.ID.String(),
		"change_type": c.Type.String(),
		"path":        c.Path,
		"timestamp":   timestamp(c.Timestamp),
	}), nil
}
