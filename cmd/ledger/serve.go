package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentledger/internal/security"
	"agentledger/internal/server"
	"agentledger/internal/tools"
)

func newServeCmd(a *app) *cobra.Command {
	var autoInit, denyDestructive bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger tools as line-delimited JSON-RPC on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ws, err := security.NewWorkspace(a.root)
			if err != nil {
				return err
			}
			if autoInit {
				res, err := a.open(ctx, false)
				if err != nil {
					return err
				}
				a.logger.Info().Str("session", res.Session.ID.String()).Str("db", res.DBPath).Msg("ledger session ready")
			}

			reg := tools.NewLedgerRegistry(a.mgr, ws, a.diffLimits())
			srv := server.New(reg, server.Options{
				Name:     "agentledger",
				Version:  version,
				Approver: a.approver(denyDestructive),
				Logger:   &a.logger,
			})
			a.logger.Info().Strs("tools", reg.Names()).Msg("serving on stdio")
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&autoInit, "auto-init", false, "open the ledger for --root before serving")
	cmd.Flags().BoolVar(&denyDestructive, "deny-destructive", false, "refuse tool calls that overwrite or delete files (rollback execute, fs_delete)")
	return cmd
}

// approver logs every call that needs approval and, with deny set, refuses it.
// stdin carries the protocol, so there is no one to ask interactively.
func (a *app) approver(deny bool) server.Approver {
	return func(_ context.Context, req tools.ApprovalRequest) bool {
		a.logger.Info().Str("tool", req.Tool).Str("reason", req.Reason).Bool("approved", !deny).Msg("approval request")
		return !deny
	}
}
