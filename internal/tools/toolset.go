package tools

import (
	"agentledger/internal/ledger"
	"agentledger/internal/security"
)

// LedgerTools returns the seven ledger tools.
func LedgerTools(mgr *ledger.Manager, limits DiffLimits) []Tool {
	return []Tool{
		NewLedgerInitTool(mgr),
		NewLedgerStatusTool(mgr),
		NewLedgerTrackTool(mgr),
		NewLedgerCommitTool(mgr),
		NewLedgerLogTool(mgr),
		NewLedgerDiffTool(mgr, limits),
		NewLedgerRollbackTool(mgr),
	}
}

// FileTools returns the tracked file-mutation tools. ws is used until a
// ledger session is installed.
func FileTools(mgr *ledger.Manager, ws *security.Workspace) []Tool {
	return []Tool{
		NewFSWriteTool(mgr, ws),
		NewFSDeleteTool(mgr, ws),
		NewFSMoveTool(mgr, ws),
	}
}

// NewLedgerRegistry registers the ledger tools plus, when ws is non-nil,
// the file tools.
func NewLedgerRegistry(mgr *ledger.Manager, ws *security.Workspace, limits DiffLimits) *Registry {
	ts := LedgerTools(mgr, limits)
	if ws != nil {
		ts = append(ts, FileTools(mgr, ws)...)
	}
	return NewRegistry(ts...)
}
