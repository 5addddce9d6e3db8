package tools

import (
	"context"
	"encoding/json"
)

// ToolDef describes one tool as advertised by tools/list.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ApprovalRequest asks the caller to confirm a destructive tool call.
type ApprovalRequest struct {
	Tool    string
	Reason  string
	RawArgs string
}

type Tool interface {
	Name() string
	Definition() ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

type ApprovalAware interface {
	ApprovalRequest(args json.RawMessage) (*ApprovalRequest, error)
}
