// Package render formats ledger state for the terminal.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"agentledger/internal/ledger"
	"agentledger/internal/storage"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour. style is a glamour
// standard style name; empty picks one from the terminal background.
func RenderMarkdown(content string, width int, style string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(
		styleOpt,
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderDiffLine 为 diff 行添加颜色
// RenderDiffLine colorizes a diff line
func RenderDiffLine(line string, theme Theme) string {
	if line == "" {
		return line
	}

	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"),
		strings.HasPrefix(line, "rename "), line == "Binary content differs":
		return theme.MutedStyle.Render(line)
	case strings.HasPrefix(line, "@@"):
		return theme.DiffHunkStyle.Render(line)
	case strings.HasPrefix(line, "+"):
		return theme.DiffAddStyle.Render(line)
	case strings.HasPrefix(line, "-"):
		return theme.DiffDelStyle.Render(line)
	default:
		return line
	}
}

// RenderDiff 渲染完整 diff
// RenderDiff renders a complete diff with colors
func RenderDiff(diff string, theme Theme) string {
	if strings.TrimSpace(diff) == "" {
		return ""
	}

	lines := strings.Split(diff, "\n")
	rendered := make([]string, 0, len(lines))
	for _, line := range lines {
		rendered = append(rendered, RenderDiffLine(line, theme))
	}
	return strings.Join(rendered, "\n")
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func stamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func (t Theme) field(label, value string) string {
	return t.LabelStyle.Render(label) + " " + value + "\n"
}

func (t Theme) changeLine(c storage.Change) string {
	typ := t.changeTypeStyle(c.Type.String()).Render(fmt.Sprintf("%-6s", c.Type.String()))
	path := c.Path
	if c.OldPath != "" {
		path = c.OldPath + " -> " + c.Path
	}
	return fmt.Sprintf("  %s %s %s", t.IDStyle.Render(shortID(c.ID.String())), typ, path)
}

// Status renders the session header and its uncommitted changes.
func Status(st ledger.Status, theme Theme) string {
	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render("Ledger session") + "\n")
	b.WriteString(theme.field("session", theme.IDStyle.Render(st.Session.ID.String())))
	b.WriteString(theme.field("root", st.Session.RootPath))
	b.WriteString(theme.field("started", stamp(st.Session.Started)))
	b.WriteString("\n")
	if len(st.Uncommitted) == 0 {
		b.WriteString(theme.MutedStyle.Render("nothing to commit") + "\n")
		return b.String()
	}
	b.WriteString(theme.TitleStyle.Render(fmt.Sprintf("Uncommitted changes (%d)", len(st.Uncommitted))) + "\n")
	for _, c := range st.Uncommitted {
		b.WriteString(theme.changeLine(c) + "\n")
	}
	return b.String()
}

// Change renders a single tracked change.
func Change(c storage.Change, theme Theme) string {
	return theme.SuccessStyle.Render("tracked") + theme.changeLine(c) + "\n"
}

// Commit renders a freshly created commit.
func Commit(c storage.Commit, theme Theme) string {
	var b strings.Builder
	b.WriteString(theme.SuccessStyle.Render("committed") + " " + theme.IDStyle.Render(c.ID.String()) + "\n")
	b.WriteString(theme.field("message", c.Message))
	b.WriteString(theme.field("changes", fmt.Sprintf("%d", len(c.Changes))))
	if c.Parent != nil {
		b.WriteString(theme.field("parent", theme.IDStyle.Render(c.Parent.String())))
	}
	return b.String()
}

// Log renders commits newest first.
func Log(h ledger.History, verbose bool, theme Theme) string {
	if h.Total == 0 {
		return theme.MutedStyle.Render("no commits yet") + "\n"
	}
	var b strings.Builder
	for _, info := range h.Commits {
		c := info.Commit
		b.WriteString(theme.IDStyle.Render("commit "+c.ID.String()) + "\n")
		b.WriteString(theme.field("date", stamp(c.Timestamp)))
		if verbose {
			b.WriteString(theme.field("agent", c.AgentID))
			if c.Parent != nil {
				b.WriteString(theme.field("parent", c.Parent.String()))
			}
		}
		b.WriteString("\n    " + c.Message + "\n\n")
		if verbose {
			for _, f := range info.FilesAffected {
				b.WriteString("    " + theme.MutedStyle.Render(f) + "\n")
			}
			if len(info.FilesAffected) > 0 {
				b.WriteString("\n")
			}
		} else {
			b.WriteString("    " + theme.MutedStyle.Render(fmt.Sprintf("%d change(s)", info.ChangeCount)) + "\n\n")
		}
	}
	if len(h.Commits) < h.Total {
		b.WriteString(theme.MutedStyle.Render(fmt.Sprintf("showing %d of %d commits", len(h.Commits), h.Total)) + "\n")
	}
	return b.String()
}

// Diff renders text-format diff records with colored lines.
func Diff(res ledger.DiffResult, theme Theme) string {
	if len(res.Records) == 0 {
		return theme.MutedStyle.Render("no changes") + "\n"
	}
	var b strings.Builder
	for i, rec := range res.Records {
		if i > 0 {
			b.WriteString("\n")
		}
		header := fmt.Sprintf("%s %s (+%d -%d)", rec.Type.String(), rec.Path, rec.Additions, rec.Deletions)
		b.WriteString(theme.TitleStyle.Render(header) + "\n")
		if res.Format == ledger.FormatStructured {
			b.WriteString(theme.field("before", nonEmpty(rec.HashBefore)))
			b.WriteString(theme.field("after", nonEmpty(rec.HashAfter)))
			continue
		}
		b.WriteString(RenderDiff(rec.Diff, theme) + "\n")
	}
	return b.String()
}

// DiffMarkdown lays diff records out as a markdown document with one fenced
// diff block per change, suitable for RenderMarkdown.
func DiffMarkdown(res ledger.DiffResult) string {
	var b strings.Builder
	b.WriteString("# Changes\n\n")
	if len(res.Records) == 0 {
		b.WriteString("_no changes_\n")
		return b.String()
	}
	for _, rec := range res.Records {
		fmt.Fprintf(&b, "## %s `%s`\n\n", rec.Type.String(), rec.Path)
		fmt.Fprintf(&b, "+%d / -%d lines\n\n", rec.Additions, rec.Deletions)
		b.WriteString("```diff\n")
		b.WriteString(rec.Diff)
		if !strings.HasSuffix(rec.Diff, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	return b.String()
}

// Rollback renders a rollback preview or its outcomes.
func Rollback(r ledger.RollbackReport, theme Theme) string {
	var b strings.Builder
	if !r.Executed {
		b.WriteString(theme.TitleStyle.Render("Rollback preview for "+r.Commit.ID.String()) + "\n")
		b.WriteString(theme.field("message", r.Commit.Message))
		b.WriteString("\n")
		for _, a := range r.Preview {
			mark := theme.SuccessStyle.Render("ok")
			if !a.HasContent {
				mark = theme.ErrorStyle.Render("no content")
			}
			fmt.Fprintf(&b, "  %s %s: %s [%s]\n", theme.changeTypeStyle(a.Type.String()).Render(a.Type.String()), a.Path, a.Action, mark)
		}
	} else {
		b.WriteString(theme.TitleStyle.Render("Rolled back "+r.Commit.ID.String()) + "\n")
		for _, o := range r.Restored {
			b.WriteString("  " + theme.SuccessStyle.Render("restored") + " " + o.Path + "\n")
		}
		if r.Audit != nil {
			b.WriteString(theme.field("audit", theme.IDStyle.Render(r.Audit.ID.String())))
		}
		if r.AuditErr != nil {
			b.WriteString(theme.field("audit", theme.ErrorStyle.Render("not recorded: "+r.AuditErr.Error())))
		}
	}
	for _, o := range r.Errors {
		b.WriteString("  " + theme.ErrorStyle.Render("error") + " " + o.Path + ": " + o.Err.Error() + "\n")
	}
	if !r.Executed {
		b.WriteString("\n" + theme.WarningStyle.Render("preview only; rerun with --execute to restore files") + "\n")
	}
	return b.String()
}

func nonEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
