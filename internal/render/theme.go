package render

import "github.com/charmbracelet/lipgloss"

// Theme 定义命令行输出的色彩和样式
// Theme defines colors and styles for command output
type Theme struct {
	// 基础色 / Base colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Danger    lipgloss.Color
	Warning   lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle    lipgloss.Style
	LabelStyle    lipgloss.Style
	IDStyle       lipgloss.Style
	ErrorStyle    lipgloss.Style
	SuccessStyle  lipgloss.Style
	WarningStyle  lipgloss.Style
	MutedStyle    lipgloss.Style
	DangerStyle   lipgloss.Style
	DiffAddStyle  lipgloss.Style
	DiffDelStyle  lipgloss.Style
	DiffHunkStyle lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Danger:    lipgloss.Color("#EF4444"),
		Warning:   lipgloss.Color("#F59E0B"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.LabelStyle = lipgloss.NewStyle().
		Foreground(t.Muted).
		Width(10)

	t.IDStyle = lipgloss.NewStyle().
		Foreground(t.Warning)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.WarningStyle = lipgloss.NewStyle().
		Foreground(t.Warning).
		Bold(true)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.DangerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Danger).
		Bold(true).
		Padding(0, 1)

	t.DiffAddStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.DiffDelStyle = lipgloss.NewStyle().
		Foreground(t.Danger)

	t.DiffHunkStyle = lipgloss.NewStyle().
		Foreground(t.Secondary)

	return t
}

// changeTypeStyle 按变更类型着色 / colors a change type badge
func (t Theme) changeTypeStyle(typ string) lipgloss.Style {
	switch typ {
	case "create":
		return t.SuccessStyle
	case "delete":
		return t.DiffDelStyle
	case "rename":
		return t.DiffHunkStyle
	default:
		return t.WarningStyle
	}
}
