package tui

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// FormatRecord renders a log record on one line:
//
//	15:04:05 WARNING  [disk_space_monitor@desktop] free space low path=/
func FormatRecord(rec models.LogRecord) string {
	return fmt.Sprintf("%s %-8s %s", rec.Time.Local().Format("15:04:05"), models.LevelName(rec.Level), recordBody(rec))
}

// recordBody is everything after the level
func recordBody(rec models.LogRecord) string {
	return origin(rec.Job, rec.Host) + " " + rec.Message + formatAttrs("", rec.Attrs)
}

func origin(job, host string) string {
	if host == "" {
		return "[" + job + "]"
	}
	return "[" + job + "@" + host + "]"
}

// formatAttrs renders extra fields as key=value pairs, quoting values
// that would otherwise be ambiguous
func formatAttrs(prefix string, attrs []slog.Attr) string {
	var b strings.Builder
	for _, attr := range attrs {
		key := attr.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		value := attr.Value.Resolve()
		if value.Kind() == slog.KindGroup {
			b.WriteString(formatAttrs(key, value.Group()))
			continue
		}
		s := value.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			s = strconv.Quote(s)
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(s)
	}
	return b.String()
}
