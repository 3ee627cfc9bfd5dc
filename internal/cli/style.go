package cli

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/jumpshell/internal/models"
)

var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader = lipgloss.NewStyle().Bold(true)
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() || s == "" {
		return s
	}
	return style.Render(s)
}

func formatStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusComplete:
		return render(styleOK, string(status))
	case models.TaskStatusFailed:
		return render(styleFailed, string(status))
	case models.TaskStatusRunning:
		return render(styleWarn, string(status))
	default:
		return render(styleMuted, string(status))
	}
}

func formatCount(n int, style lipgloss.Style) string {
	if n == 0 {
		return "0"
	}
	return render(style, strconv.Itoa(n))
}

func eventStyle(t models.EventType) lipgloss.Style {
	switch t {
	case models.EventTypeTaskCompleted, models.EventTypeJumpHostConnected:
		return styleOK
	case models.EventTypeTaskFailed, models.EventTypeJumpHostFailed, models.EventTypeError:
		return styleFailed
	case models.EventTypeCommandError, models.EventTypeWarning:
		return styleWarn
	default:
		return styleMuted
	}
}
