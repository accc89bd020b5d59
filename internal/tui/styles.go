package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hashplane/asicscan/internal/version"
)

// Application branding constants
const (
	AppName   = "ASICSCAN FLEET MONITOR"
	GitHubURL = "github.com/hashplane/asicscan"
)

// AppVersion returns the application version from the centralized version package
func AppVersion() string {
	return version.Version
}

// Layout constants
const (
	MinTerminalWidth = 72
)

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#F2A900") // Bitcoin orange
	SecondaryColor = lipgloss.Color("#43BF6D") // Green
	WarningColor   = lipgloss.Color("#FFA500") // Orange
	ErrorColor     = lipgloss.Color("#FF0000") // Red

	TextColor      = lipgloss.Color("#FFFFFF") // White
	SubtleColor    = lipgloss.Color("#626262") // Gray
	BorderColor    = lipgloss.Color("#F2A900") // Same as primary
	HighlightColor = lipgloss.Color("#43BF6D") // Same as secondary
)

// Common styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Italic(true)

	HeaderRowStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	RowStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	SelectedRowStyle = lipgloss.NewStyle().
				Foreground(HighlightColor).
				Bold(true)

	StaleRowStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	FaultStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	StatusStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)
)

// BuildHeaderContent creates the header line with app name and repo URL
func BuildHeaderContent() string {
	left := lipgloss.NewStyle().
		Foreground(TextColor).
		Bold(true).
		Render(AppName + " v" + AppVersion())

	right := lipgloss.NewStyle().
		Foreground(SubtleColor).
		Render(GitHubURL)

	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
}

// RenderContainer wraps a screen in the standard bordered frame with the
// application header on top and help text pinned below the content.
func RenderContainer(content, helpText string, width, height int) string {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	headerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Bottom: "─"}).
		BorderForeground(BorderColor).
		Width(width - 4).
		Padding(0, 1)

	footerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Top: "─"}).
		BorderForeground(BorderColor).
		Width(width - 4).
		Padding(0, 1)

	contentStyle := lipgloss.NewStyle().
		Width(width - 4).
		Padding(0, 1)

	inner := lipgloss.JoinVertical(
		lipgloss.Left,
		headerStyle.Render(BuildHeaderContent()),
		contentStyle.Render(content),
		footerStyle.Render(HelpStyle.Render(helpText)),
	)

	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		Width(width - 2).
		Height(height - 2).
		AlignVertical(lipgloss.Top)

	return lipgloss.Place(
		width,
		height,
		lipgloss.Left,
		lipgloss.Top,
		borderStyle.Render(inner),
	)
}
