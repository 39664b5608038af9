package models

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// OrchestratorJob is the job name carried by records the orchestrator emits
const OrchestratorJob = "orchestrator"

// Log levels from most to least verbose. FULL sits between DEBUG and
// INFO for operational detail; CRITICAL is reserved for conditions that
// abort the session.
const (
	LevelDebug    = slog.Level(-8)
	LevelFull     = slog.Level(-4)
	LevelInfo     = slog.LevelInfo
	LevelWarning  = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
)

var levelNames = []struct {
	level slog.Level
	name  string
}{
	{LevelDebug, "DEBUG"},
	{LevelFull, "FULL"},
	{LevelInfo, "INFO"},
	{LevelWarning, "WARNING"},
	{LevelError, "ERROR"},
	{LevelCritical, "CRITICAL"},
}

// LevelName returns the canonical name of a level
func LevelName(l slog.Level) string {
	for _, n := range levelNames {
		if n.level == l {
			return n.name
		}
	}
	return l.String()
}

// ParseLevel accepts a level name in any case
func ParseLevel(s string) (slog.Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARN" {
		name = "WARNING"
	}
	for _, n := range levelNames {
		if n.name == name {
			return n.level, nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q (want DEBUG, FULL, INFO, WARNING, ERROR or CRITICAL)", s)
}

// LogRecord is one log entry travelling over the event bus
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Job     string
	Role    MachineRole
	Host    string
	Message string
	Attrs   []slog.Attr // Extra context, flattened when written
}
