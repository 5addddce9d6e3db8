package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentledger/internal/render"
	"agentledger/internal/storage"
	"agentledger/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		agentID  string
		debounce time.Duration
		ignore   []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Track file changes under the root until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.open(ctx, false)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("debounce") {
				debounce = a.debounce()
			}
			out := cmd.OutOrStdout()
			w, err := watch.New(a.mgr, watch.Options{
				Root:     res.Session.RootPath,
				Ignore:   append(append([]string{}, a.cfg.Watch.Ignore...), ignore...),
				Exclude:  []string{res.DBPath},
				Debounce: debounce,
				AgentID:  agentID,
				OnChange: func(c storage.Change) { fmt.Fprint(out, render.Change(c, a.theme)) },
				Logger:   &a.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "watching %s (session %s)\n", w.Root(), a.theme.IDStyle.Render(res.Session.ID.String()))
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id recorded on tracked changes")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before a file event is recorded (default from config)")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "extra glob patterns to ignore")
	return cmd
}
