package tools

import (
	"context"
	"encoding/json"

	"agentledger/internal/ledger"
)

type LedgerStatusTool struct {
	mgr *ledger.Manager
}

func NewLedgerStatusTool(mgr *ledger.Manager) *LedgerStatusTool {
	return &LedgerStatusTool{mgr: mgr}
}

func (t *LedgerStatusTool) Name() string {
	return "ledger_status"
}

func (t *LedgerStatusTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Show the active session and its uncommitted changes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"verbose": map[string]any{
					"type":        "boolean",
					"description": "Include ids, timestamps and agents for each change.",
				},
			},
		},
	}
}

func (t *LedgerStatusTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Verbose bool `json:"verbose"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}

	st, err := t.mgr.Status(ctx)
	if err != nil {
		return "", err
	}
	changes := make([]map[string]any, 0, len(st.Uncommitted))
	for _, c := range st.Uncommitted {
		entry := map[string]any{
			"type": c.Type.String(),
			"path": c.Path,
		}
		if in.Verbose {
			entry["id"] = c.ID.String()
			entry["timestamp"] = timestamp(c.Timestamp)
			entry["agent_id"] = c.AgentID
			entry["has_content"] = c.HasContentAfter()
			if c.OldPath != "" {
				entry["old_path"] = c.OldPath
			} else {
				entry["old_path"] = nil
			}
		}
		changes = append(changes, entry)
	}
	return mustJSON(map[string]any{
		"session_id":          st.Session.ID.String(),
		"root_path":           st.Session.RootPath,
		"active":              st.Session.Active,
		"uncommitted_count":   len(st.Uncommitted),
		"uncommitted_changes": changes,
	}), nil
}
