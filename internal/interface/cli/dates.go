package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// parseCutoff reads a point in time such as 2026-03-01, "yesterday" or
// "2 weeks ago"
func parseCutoff(expr string, now time.Time) (time.Time, error) {
	// Try standard formats first
	formats := []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, expr, now.Location()); err == nil {
			return t, nil
		}
	}

	// Then natural language
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	if result, err := w.Parse(expr, now); err == nil && result != nil {
		return result.Time, nil
	}
	return time.Time{}, fmt.Errorf("cannot understand date %q", expr)
}

// parseAge reads a maximum age: a number of days ("7d") or a Go duration
// ("36h")
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q (use e.g. 7d or 36h)", s)
	}
	return d, nil
}
