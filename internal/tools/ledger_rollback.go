package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentledger/internal/ledger"
)

type LedgerRollbackTool struct {
	mgr *ledger.Manager
}

func NewLedgerRollbackTool(mgr *ledger.Manager) *LedgerRollbackTool {
	return &LedgerRollbackTool{mgr: mgr}
}

func (t *LedgerRollbackTool) Name() string {
	return "ledger_rollback"
}

func (t *LedgerRollbackTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Restore the files of a commit to the state it recorded. Previews by default; set execute to write files.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"commit_id": map[string]any{"type": "string"},
				"execute": map[string]any{
					"type":        "boolean",
					"description": "Actually write files. Defaults to false (preview only).",
				},
				"record": map[string]any{
					"type":        "boolean",
					"description": "Track the restored files as new changes and commit them as 'rollback to <commit_id>'.",
				},
				"agent_id": map[string]any{"type": "string"},
			},
			"required": []string{"commit_id"},
		},
	}
}

type rollbackArgs struct {
	CommitID string `json:"commit_id"`
	Execute  bool   `json:"execute"`
	Record   bool   `json:"record"`
	AgentID  string `json:"agent_id"`
}

func (t *LedgerRollbackTool) ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error) {
	var in rollbackArgs
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return nil, err
	}
	if !in.Execute {
		return nil, nil
	}
	return &ApprovalRequest{
		Tool:    t.Name(),
		Reason:  fmt.Sprintf("overwrite working-tree files from commit %s", strings.TrimSpace(in.CommitID)),
		RawArgs: string(args),
	}, nil
}

func (t *LedgerRollbackTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in rollbackArgs
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.CommitID) == "" {
		return "", missingArg(t.Name(), "commit_id")
	}

	report, err := t.mgr.Rollback(ctx, ledger.RollbackRequest{
		CommitID: in.CommitID,
		Execute:  in.Execute,
		Record:   in.Record,
		AgentID:  in.AgentID,
	})
	if err != nil {
		return "", err
	}

	errs := make([]map[string]any, 0, len(report.Errors))
	for _, o := range report.Errors {
		errs = append(errs, map[string]any{
			"change_id":  o.ChangeID.String(),
			"path":       o.Path,
			"status":     "error",
			"error":      o.Err.Error(),
			"error_name": o.Err.Name(),
		})
	}

	if !report.Executed {
		changes := make([]map[string]any, 0, len(report.Preview))
		for _, a := range report.Preview {
			entry := map[string]any{
				"path":        a.Path,
				"type":        a.Type.String(),
				"action":      a.Action,
				"has_content": a.HasContent,
			}
			if a.OldPath != "" {
				entry["old_path"] = a.OldPath
			}
			changes = append(changes, entry)
		}
		return mustJSON(map[string]any{
			"preview":      true,
			"commit_id":    report.Commit.ID.String(),
			"message":      report.Commit.Message,
			"timestamp":    timestamp(report.Commit.Timestamp),
			"change_count": len(changes),
			"changes":      changes,
			"errors":       errs,
			"warning":      "Set execute: true to actually perform the rollback",
		}), nil
	}

	restored := make([]map[string]any, 0, len(report.Restored))
	for _, o := range report.Restored {
		restored = append(restored, map[string]any{
			"change_id": o.ChangeID.String(),
			"path":      o.Path,
			"status":    "restored",
			"message":   o.Message,
		})
	}
	out := map[string]any{
		"executed":       true,
		"commit_id":      report.Commit.ID.String(),
		"restored_count": len(restored),
		"error_count":    len(errs),
		"restored":       restored,
		"errors":         errs,
	}
	if report.Audit != nil {
		out["audit_commit_id"] = report.Audit.ID.String()
	}
	if report.AuditErr != nil {
		out["audit_error"] = map[string]any{
			"name":    report.AuditErr.Name(),
			"message": report.AuditErr.Error(),
		}
	}
	return mustJSON(out), nil
}
