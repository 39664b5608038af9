package tui

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
)

// consoleProgressInterval is how often an unchanged job repeats its
// progress line
const consoleProgressInterval = 10 * time.Second

// Console writes the session as plain lines, for output that is not a
// terminal. Progress is printed when a job crosses a tenth of its work or
// after consoleProgressInterval, never for heartbeats.
type Console struct {
	w     io.Writer
	level slog.Level
	hosts logging.Hosts
	width int

	conn     events.ConnectionStatus
	progress map[string]consoleProgress
}

type consoleProgress struct {
	bucket int
	at     time.Time
}

// NewConsole creates a renderer showing records at or above level
func NewConsole(w io.Writer, level slog.Level, hosts logging.Hosts) *Console {
	return &Console{
		w:        w,
		level:    level,
		hosts:    hosts,
		width:    60,
		progress: make(map[string]consoleProgress),
	}
}

// Run consumes the subscription until it closes
func (c *Console) Run(sub *events.Subscription) {
	for e := range sub.Events() {
		c.Write(e)
	}
}

// Write renders one event
func (c *Console) Write(e events.Event) {
	switch ev := e.(type) {
	case events.LogEvent:
		if ev.Record.Level >= c.level {
			_, _ = fmt.Fprintln(c.w, FormatRecord(ev.Record))
		}
	case events.ProgressEvent:
		c.writeProgress(ev)
	case events.ConnectionEvent:
		if ev.Status == c.conn {
			return
		}
		c.conn = ev.Status
		line := fmt.Sprintf("%s connection to %s %s", ev.Time.Local().Format("15:04:05"), ev.Host, ev.Status)
		if ev.Err != "" {
			line += ": " + ev.Err
		}
		_, _ = fmt.Fprintln(c.w, line)
	}
}

func (c *Console) writeProgress(ev events.ProgressEvent) {
	u := ev.Update
	fraction, hasFraction := u.Fraction()
	label := progressLabel(u)
	if !hasFraction && label == "" {
		return
	}

	key := ev.Job + "/" + string(ev.Role)
	bucket := -1
	if hasFraction {
		bucket = int(fraction * 10)
	}
	last, seen := c.progress[key]
	due := !seen || ev.Time.Sub(last.at) >= consoleProgressInterval
	if hasFraction && bucket != last.bucket {
		due = true
	}
	if !due {
		return
	}
	c.progress[key] = consoleProgress{bucket: bucket, at: ev.Time}

	line := ev.Time.Local().Format("15:04:05") + " "
	if ev.Step > 0 {
		line += fmt.Sprintf("[%d/%d] ", ev.Step, ev.TotalSteps)
	}
	host := ev.Host
	if host == "" {
		host = c.hosts[ev.Role]
	}
	line += origin(ev.Job, host)
	if hasFraction {
		line += " " + renderProgressBar(fraction, c.width)
	}
	if label != "" {
		line += " " + label
	}
	_, _ = fmt.Fprintln(c.w, line)
}
