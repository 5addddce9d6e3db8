package tools

import (
	"context"
	"encoding/json"

	"agentledger/internal/ledger"
)

// DiffLimits bound the diff text returned per change.
type DiffLimits struct {
	MaxLines int
	MaxBytes int
}

type LedgerDiffTool struct {
	mgr    *ledger.Manager
	limits DiffLimits
}

func NewLedgerDiffTool(mgr *ledger.Manager, limits DiffLimits) *LedgerDiffTool {
	return &LedgerDiffTool{mgr: mgr, limits: limits}
}

func (t *LedgerDiffTool) Name() string {
	return "ledger_diff"
}

func (t *LedgerDiffTool) Definition() ToolDef {
	return ToolDef{
		Name:        t.Name(),
		Description: "Show the changes of a commit, or the uncommitted changes, as unified, compact or structured diffs. The unified format lists every old line as removed and every new line as added.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"commit_id": map[string]any{
					"type":        "string",
					"description": "Commit to show. Omit for uncommitted changes.",
				},
				"file": map[string]any{
					"type":        "string",
					"description": "Only include changes whose path contains this text.",
				},
				"format": map[string]any{
					"type": "string",
					"enum": []string{"unified", "compact", "structured"},
				},
			},
		},
	}
}

func (t *LedgerDiffTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		CommitID string `json:"commit_id"`
		File     string `json:"file"`
		Format   string `json:"format"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}

	res, err := t.mgr.Diff(ctx, ledger.DiffRequest{CommitID: in.CommitID, File: in.File, Format: in.Format})
	if err != nil {
		return "", err
	}

	diffs := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		entry := map[string]any{
			"change_id": rec.ChangeID.String(),
			"path":      rec.Path,
			"type":      rec.Type.String(),
		}
		if res.Format == ledger.FormatStructured {
			before, beforeEnc := contentField(rec.ContentBefore)
			after, afterEnc := contentField(rec.ContentAfter)
			entry["old_path"] = nullable(rec.OldPath)
			entry["content_before"] = before
			entry["content_after"] = after
			entry["hash_before"] = nullable(rec.HashBefore)
			entry["hash_after"] = nullable(rec.HashAfter)
			if beforeEnc == "base64" || afterEnc == "base64" {
				entry["encoding"] = "base64"
			}
		} else {
			text, truncated := truncateDiff(rec.Diff, t.limits)
			entry["diff"] = text
			entry["diff_truncated"] = truncated
			entry["additions"] = rec.Additions
			entry["deletions"] = rec.Deletions
			if rec.Binary {
				entry["binary"] = true
			}
		}
		diffs = append(diffs, entry)
	}
	return mustJSON(map[string]any{
		"format":       string(res.Format),
		"change_count": len(diffs),
		"diffs":        diffs,
	}), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
