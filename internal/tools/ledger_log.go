package tools

import (
	"context"
	"encoding/json"

	"agentledger/internal/ledger"
)

const defaultLogLimit = 10

type LedgerLogTool struct {
	mgr *ledger.Manager
}

func NewLedgerLogTool(mgr *ledger.Manager) *LedgerLogTool {
	return &LedgerLogTool{mgr: mgr}
}

func (t *LedgerLogTool) Name() string {
	return "ledger_log"
}

func (t *LedgerLogTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "List commits of the active session, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of commits to return. Defaults to 10.",
				},
				"verbose": map[string]any{
					"type":        "boolean",
					"description": "Include agent, parent and affected files.",
				},
			},
		},
	}
}

func (t *LedgerLogTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Limit   *int `json:"limit"`
		Verbose bool `json:"verbose"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	limit := defaultLogLimit
	if in.Limit != nil && *in.Limit > 0 {
		limit = *in.Limit
	}

	var sessionID string
	var history ledger.History
	err := t.mgr.Do(func(l *ledger.Ledger) error {
		var err error
		sessionID = l.Session().ID.String()
		history, err = l.Log(ctx, limit)
		return err
	})
	if err != nil {
		return "", err
	}

	commits := make([]map[string]any, 0, len(history.Commits))
	for _, info := range history.Commits {
		entry := map[string]any{
			"commit_id":    info.Commit.ID.String(),
			"message":      info.Commit.Message,
			"timestamp":    timestamp(info.Commit.Timestamp),
			"change_count": info.ChangeCount,
		}
		if in.Verbose {
			var parent any
			if info.Commit.Parent != nil {
				parent = info.Commit.Parent.String()
			}
			files := info.FilesAffected
			if files == nil {
				files = []string{}
			}
			entry["agent_id"] = info.Commit.AgentID
			entry["parent"] = parent
			entry["files"] = files
		}
		commits = append(commits, entry)
	}
	return mustJSON(map[string]any{
		"session_id":    sessionID,
		"total_commits": history.Total,
		"showing":       len(commits),
		"commits":       commits,
	}), nil
}
