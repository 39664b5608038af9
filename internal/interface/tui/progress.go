package tui

import (
	"fmt"
	"strings"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// renderProgressBar draws a text bar for a fraction in [0, 1]
func renderProgressBar(fraction float64, width int) string {
	// Progress bar (use available width, max 50)
	barWidth := width - 30 // Leave space for percentage and labels
	if barWidth > 50 {
		barWidth = 50
	}
	if barWidth < 20 {
		barWidth = 20
	}

	filled := int(float64(barWidth) * fraction)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	return fmt.Sprintf("[%s] %3.0f%%", bar, fraction*100)
}

// progressLabel renders the counters and item of an update
func progressLabel(u models.ProgressUpdate) string {
	var parts []string
	if current, total, ok := u.Counts(); ok {
		if total > 0 {
			parts = append(parts, fmt.Sprintf("%d/%d", current, total))
		} else {
			parts = append(parts, fmt.Sprintf("%d", current))
		}
	}
	if item := u.Item(); item != "" {
		parts = append(parts, item)
	}
	return strings.Join(parts, " ")
}
