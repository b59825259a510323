// Package styles provides shared lipgloss styles for CLI output.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/nudge/internal/core/notify"
)

// Palette defines a minimal semantic palette.
type Palette struct {
	Primary lipgloss.Color
	Muted   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// Default is the tokyo-night palette.
var Default = Palette{
	Primary: lipgloss.Color("#7aa2f7"),
	Muted:   lipgloss.Color("#565f89"),
	Success: lipgloss.Color("#9ece6a"),
	Warning: lipgloss.Color("#e0af68"),
	Error:   lipgloss.Color("#f7768e"),
}

var (
	Header  = lipgloss.NewStyle().Bold(true).Foreground(Default.Primary)
	Muted   = lipgloss.NewStyle().Foreground(Default.Muted)
	Success = lipgloss.NewStyle().Foreground(Default.Success)
	Warning = lipgloss.NewStyle().Foreground(Default.Warning)
	Error   = lipgloss.NewStyle().Foreground(Default.Error)
	Cell    = lipgloss.NewStyle().PaddingRight(2)
)

// Status returns the style used to render a notification status.
func Status(s notify.Status) lipgloss.Style {
	switch s {
	case notify.StatusPending:
		return Warning
	case notify.StatusFired:
		return Success
	case notify.StatusFailed:
		return Error
	default:
		return Muted
	}
}
