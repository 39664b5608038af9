// Package session renders finished sync sessions for the terminal.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/dustin/go-humanize"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// SummaryData builds the values a summary template can use
func SummaryData(s *models.Session) map[string]interface{} {
	outcomes := make([]map[string]interface{}, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		outcomes = append(outcomes, map[string]interface{}{
			"job":      o.Job,
			"status":   string(o.Status),
			"error":    o.Error,
			"duration": o.Duration().Round(time.Second).String(),
			"failed":   o.Status == models.OutcomeFailed,
			"skipped":  o.Status == models.OutcomeSkipped,
		})
	}

	return map[string]interface{}{
		"session_id": s.ID,
		"status":     string(s.Status),
		"completed":  s.Status == models.StatusCompleted,
		"source":     s.SourceHost,
		"target":     s.TargetHost,
		"started":    s.StartedAt.Local().Format("2006-01-02 15:04:05"),
		"time_since": humanize.Time(s.StartedAt),
		"duration":   s.Duration().Round(time.Second).String(),
		"failed_job": s.FailedJob,
		"error":      s.Error,
		"outcomes":   outcomes,
		"log_file":   s.LogFile,
	}
}

// RenderSummary fills tmpl with the session. A template that does not
// render falls back to the built-in one.
func RenderSummary(tmpl string, s *models.Session) string {
	data := SummaryData(s)
	if strings.TrimSpace(tmpl) == "" {
		tmpl = config.DefaultSummaryTemplate
	}
	out, err := mustache.Render(tmpl, data)
	if err != nil {
		out, err = mustache.Render(config.DefaultSummaryTemplate, data)
		if err != nil {
			return fmt.Sprintf("Sync session %s %s", s.ID, s.Status)
		}
	}
	return strings.TrimRight(out, "\n")
}
