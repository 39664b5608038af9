package tui

import (
	"log/slog"

	"github.com/charmbracelet/lipgloss"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Global styles used across the sync display
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	hostStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true)

	stepStyle = lipgloss.NewStyle().
			Bold(true)

	jobStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170"))

	roleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")) // Lighter gray that works better in dark terminals

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("240"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green"))

	connectingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow"))

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	levelStyles = map[slog.Level]lipgloss.Style{
		models.LevelDebug:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		models.LevelFull:     lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
		models.LevelInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("green")),
		models.LevelWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")),
		models.LevelError:    lipgloss.NewStyle().Foreground(lipgloss.Color("red")),
		models.LevelCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("196")).Bold(true),
	}
)

func levelStyle(level slog.Level) lipgloss.Style {
	if s, ok := levelStyles[level]; ok {
		return s
	}
	return lipgloss.NewStyle()
}

func connectionStyle(status events.ConnectionStatus) lipgloss.Style {
	switch status {
	case events.ConnectionConnected:
		return connectedStyle
	case events.ConnectionDisconnected:
		return disconnectedStyle
	}
	return connectingStyle
}
