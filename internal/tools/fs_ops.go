package tools

import (
	"fmt"

	"agentledger/internal/ledger"
	"agentledger/internal/security"
)

// fileOps is shared by the fs_* tools. Paths resolve against the ledger
// root when a session is installed and against ws otherwise.
type fileOps struct {
	mgr *ledger.Manager
	ws  *security.Workspace
}

func (f *fileOps) run(fn func(l *ledger.Ledger, ws *security.Workspace) error) error {
	if f.mgr == nil {
		if f.ws == nil {
			return &ledger.Error{Kind: ledger.KindState, Message: "no workspace configured"}
		}
		return fn(nil, f.ws)
	}
	return f.mgr.With(func(l *ledger.Ledger) error {
		ws := f.ws
		if l != nil {
			ws = l.Workspace()
		}
		if ws == nil {
			return &ledger.Error{Kind: ledger.KindState, Message: "no active ledger session; call ledger_init first"}
		}
		return fn(l, ws)
	})
}

func ioError(op string, err error, format string, args ...any) error {
	return &ledger.Error{Kind: ledger.KindIO, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}
