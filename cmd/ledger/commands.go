package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"agentledger/internal/config"
	"agentledger/internal/ledger"
	"agentledger/internal/render"
)

func newInitCmd(a *app) *cobra.Command {
	var forceNew, scaffold bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start or resume tracking for the root directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.open(cmd.Context(), forceNew)
			if err != nil {
				return err
			}
			verb := "resumed"
			if res.Created {
				verb = "started"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s session %s\n", a.theme.SuccessStyle.Render(verb), a.theme.IDStyle.Render(res.Session.ID.String()))
			fmt.Fprintf(out, "root: %s\n", res.Session.RootPath)
			fmt.Fprintf(out, "ledger: %s\n", res.DBPath)
			if scaffold {
				path, err := config.InitProjectConfigScaffold(res.Session.RootPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "config: %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceNew, "new", false, "start a new session even if one is active")
	cmd.Flags().BoolVar(&scaffold, "scaffold", false, "write a project config template to .ledger/config.json")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and its uncommitted changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(cmd.Context(), false); err != nil {
				return err
			}
			st, err := a.mgr.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Status(st, a.theme))
			return nil
		},
	}
}

func newTrackCmd(a *app) *cobra.Command {
	var (
		changeType  string
		oldPath     string
		contentFile string
		beforeFile  string
		agentID     string
		noContent   bool
	)
	cmd := &cobra.Command{
		Use:   "track <path>",
		Short: "Record a file change",
		Long: "Record a create, modify, delete or rename of <path>. For create and modify the\n" +
			"current file content is captured unless --content-file or --no-content is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(cmd.Context(), false); err != nil {
				return err
			}
			req := ledger.TrackRequest{Path: args[0], Type: changeType, OldPath: oldPath, AgentID: agentID}

			typ := strings.ToLower(strings.TrimSpace(changeType))
			if !noContent && (typ == "create" || typ == "modify") {
				src := contentFile
				if src == "" {
					src = a.pathInRoot(args[0])
				}
				data, err := os.ReadFile(src)
				if err != nil {
					return fmt.Errorf("read content: %w", err)
				}
				req.Content = data
			}
			if beforeFile != "" {
				data, err := os.ReadFile(beforeFile)
				if err != nil {
					return fmt.Errorf("read content before: %w", err)
				}
				req.ContentBefore = data
			}

			c, err := a.mgr.Track(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Change(c, a.theme))
			return nil
		},
	}
	cmd.Flags().StringVarP(&changeType, "type", "t", "modify", "change type: create, modify, delete or rename")
	cmd.Flags().StringVar(&oldPath, "old-path", "", "previous path (rename)")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "read the new content from this file")
	cmd.Flags().StringVar(&beforeFile, "before-file", "", "read the previous content from this file")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id recorded on the change")
	cmd.Flags().BoolVar(&noContent, "no-content", false, "record the change without content")
	return cmd
}

func (a *app) pathInRoot(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

func newCommitCmd(a *app) *cobra.Command {
	var (
		message   string
		agentID   string
		changeIDs []string
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Bundle uncommitted changes into a commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(cmd.Context(), false); err != nil {
				return err
			}
			req := ledger.CommitRequest{Message: message, AgentID: agentID}
			if cmd.Flags().Changed("change") {
				req.ChangeIDs = changeIDs
			}
			c, err := a.mgr.Commit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Commit(c, a.theme))
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id recorded on the commit")
	cmd.Flags().StringSliceVar(&changeIDs, "change", nil, "commit only these change ids (repeatable)")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var (
		limit   int
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List commits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(cmd.Context(), false); err != nil {
				return err
			}
			h, err := a.mgr.Log(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Log(h, verbose, a.theme))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of commits (0 for all)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show agent, parent and files")
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	var (
		file   string
		format string
		pretty bool
		width  int
	)
	cmd := &cobra.Command{
		Use:   "diff [commit-id]",
		Short: "Show the changes of a commit, or the uncommitted changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(cmd.Context(), false); err != nil {
				return err
			}
			req := ledger.DiffRequest{File: file, Format: format}
			if len(args) == 1 {
				req.CommitID = args[0]
			}
			res, err := a.mgr.Diff(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if pretty && res.Format != ledger.FormatStructured {
				fmt.Fprintln(out, render.RenderMarkdown(render.DiffMarkdown(res), width, ""))
				return nil
			}
			fmt.Fprint(out, render.Diff(res, a.theme))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "only show changes whose path contains this text")
	cmd.Flags().StringVar(&format, "format", "unified", "unified, compact or structured")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "render as markdown")
	cmd.Flags().IntVar(&width, "width", 100, "wrap width for --pretty")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var (
		execute bool
		yes     bool
		record  bool
		agentID string
	)
	cmd := &cobra.Command{
		Use:   "rollback <commit-id>",
		Short: "Restore the files of a commit (preview unless --execute)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.open(ctx, false); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			req := ledger.RollbackRequest{CommitID: args[0], Record: record, AgentID: agentID}

			if execute && !yes {
				preview, err := a.mgr.Rollback(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprint(out, render.Rollback(preview, a.theme))
				ok, err := a.confirm(cmd, fmt.Sprintf("Overwrite %d file(s) in %s?", len(preview.Preview), a.root))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, a.theme.MutedStyle.Render("rollback cancelled"))
					return nil
				}
			}

			req.Execute = execute
			report, err := a.mgr.Rollback(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprint(out, render.Rollback(report, a.theme))
			if len(report.Errors) > 0 && execute {
				return fmt.Errorf("%d change(s) could not be restored", len(report.Errors))
			}
			if report.AuditErr != nil {
				return fmt.Errorf("files restored but the audit commit was not recorded: %w", report.AuditErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "write files instead of previewing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&record, "record", false, "record the restoration as a new commit")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id recorded on the audit commit")
	return cmd
}
