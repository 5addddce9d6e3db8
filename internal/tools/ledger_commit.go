package tools

import (
	"context"
	"encoding/json"

	"agentledger/internal/ledger"
)

type LedgerCommitTool struct {
	mgr *ledger.Manager
}

func NewLedgerCommitTool(mgr *ledger.Manager) *LedgerCommitTool {
	return &LedgerCommitTool{mgr: mgr}
}

func (t *LedgerCommitTool) Name() string {
	return "ledger_commit"
}

func (t *LedgerCommitTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Bundle uncommitted changes into a commit. Without change_ids every uncommitted change is included.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":  map[string]any{"type": "string"},
				"agent_id": map[string]any{"type": "string"},
				"change_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Specific change ids to commit; malformed and repeated ids are ignored.",
				},
			},
			"required": []string{"message"},
		},
	}
}

func (t *LedgerCommitTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Message   string          `json:"message"`
		AgentID   string          `json:"agent_id"`
		ChangeIDs json.RawMessage `json:"change_ids"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if in.Message == "" {
		return "", missingArg(t.Name(), "message")
	}

	c, err := t.mgr.Commit(ctx, ledger.CommitRequest{
		Message:   in.Message,
		AgentID:   in.AgentID,
		ChangeIDs: changeIDStrings(in.ChangeIDs),
	})
	if err != nil {
		return "", err
	}
	var parent any
	if c.Parent != nil {
		parent = c.Parent.String()
	}
	return mustJSON(map[string]any{
		"success":      true,
		"commit_id":    c.ID.String(),
		"message":      c.Message,
		"agent_id":     c.AgentID,
		"timestamp":    timestamp(c.Timestamp),
		"change_count": len(c.Changes),
		"parent":       parent,
	}), nil
}

// changeIDStrings returns nil unless raw is a JSON array; non-string
// elements are dropped.
func changeIDStrings(raw json.RawMessage) []string {
	var items []any
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
