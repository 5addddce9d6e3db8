package tools

import (
	"context"
	"encoding/json"

	"agentledger/internal/ledger"
)

type LedgerInitTool struct {
	mgr *ledger.Manager
}

func NewLedgerInitTool(mgr *ledger.Manager) *LedgerInitTool {
	return &LedgerInitTool{mgr: mgr}
}

func (t *LedgerInitTool) Name() string {
	return "ledger_init"
}

func (t *LedgerInitTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Start or resume change tracking for a working directory. Must be called before any other ledger tool.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Root directory to track. Defaults to the current directory.",
				},
				"db_path": map[string]any{
					"type":        "string",
					"description": "Ledger database location. Defaults to LEDGER_DB_PATH, then <path>/.ledger/ledger.db.",
				},
				"force_new": map[string]any{
					"type":        "boolean",
					"description": "Start a new session even if one is active.",
				},
			},
		},
	}
}

func (t *LedgerInitTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path     string `json:"path"`
		DBPath   string `json:"db_path"`
		ForceNew bool   `json:"force_new"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}

	res, err := t.mgr.Init(ctx, ledger.InitOptions{Root: in.Path, DBPath: in.DBPath, ForceNew: in.ForceNew})
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"success":    true,
		"session_id": res.Session.ID.String(),
		"root_path":  res.Session.RootPath,
		"started":    timestamp(res.Session.Started),
		"db_path":    res.DBPath,
		"active":     res.Session.Active,
		"created":    res.Created,
	}), nil
}
