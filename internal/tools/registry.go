package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"agentledger/internal/ledger"
)

type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

// Definitions returns every tool definition sorted by name.
func (r *Registry) Definitions() []ToolDef {
	out := make([]ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", &ledger.Error{Kind: ledger.KindNotFound, Message: fmt.Sprintf("unknown tool: %s", name)}
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return t.Execute(ctx, args)
}

func (r *Registry) ApprovalRequest(name string, args json.RawMessage) (*ApprovalRequest, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	aa, ok := t.(ApprovalAware)
	if !ok {
		return nil, nil
	}
	return aa.ApprovalRequest(args)
}
