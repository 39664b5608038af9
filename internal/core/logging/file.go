package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// FileWriter is the persistent log subscriber. Each record becomes one
// JSON object per line with extra fields flattened next to the standard
// ones.
type FileWriter struct {
	handler slog.Handler
	level   slog.Level
	hosts   Hosts
	closer  io.Closer
}

// OpenFile creates the log file (and its directory) and returns a writer
// that keeps records at or above level
func OpenFile(path string, level slog.Level, hosts Hosts) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	w := NewFileWriter(f, level, hosts)
	w.closer = f
	return w, nil
}

// NewFileWriter writes JSON lines to w
func NewFileWriter(w io.Writer, level slog.Level, hosts Hosts) *FileWriter {
	return &FileWriter{
		handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevel,
		}),
		level: level,
		hosts: hosts,
	}
}

// Run consumes the subscription until it closes
func (w *FileWriter) Run(sub *events.Subscription) {
	for e := range sub.Events() {
		_ = w.Write(e)
	}
}

// Write renders one event. Progress events are logged at FULL and
// connection changes at INFO so the file is an audit trail of everything
// the live display showed.
func (w *FileWriter) Write(e events.Event) error {
	var record slog.Record
	switch ev := e.(type) {
	case events.LogEvent:
		rec := ev.Record
		record = slog.NewRecord(rec.Time, rec.Level, rec.Message, 0)
		record.AddAttrs(slog.String(KeyJob, rec.Job), slog.String("host", rec.Host))
		record.AddAttrs(flatten("", rec.Attrs)...)
	case events.ProgressEvent:
		record = slog.NewRecord(ev.Time, models.LevelFull, "progress", 0)
		record.AddAttrs(slog.String(KeyJob, ev.Job), slog.String("host", w.progressHost(ev)))
		record.AddAttrs(ProgressAttrs(ev.Update)...)
	case events.ConnectionEvent:
		record = slog.NewRecord(ev.Time, models.LevelInfo, "connection "+string(ev.Status), 0)
		record.AddAttrs(slog.String(KeyJob, models.OrchestratorJob), slog.String("host", ev.Host))
		if ev.Latency > 0 {
			record.AddAttrs(slog.Duration("latency", ev.Latency))
		}
		if ev.Err != "" {
			record.AddAttrs(slog.String("error", ev.Err))
		}
	default:
		return nil
	}

	if record.Level < w.level {
		return nil
	}
	return w.handler.Handle(context.Background(), record)
}

// progressHost prefers the host the event was published with
func (w *FileWriter) progressHost(ev events.ProgressEvent) string {
	if ev.Host != "" {
		return ev.Host
	}
	return w.hosts[ev.Role]
}

// Close closes the underlying file, if the writer owns one
func (w *FileWriter) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// ProgressAttrs renders the populated fields of an update
func ProgressAttrs(u models.ProgressUpdate) []slog.Attr {
	var attrs []slog.Attr
	if f, ok := u.Fraction(); ok {
		attrs = append(attrs, slog.Float64("fraction", f))
	}
	if cur, total, ok := u.Counts(); ok {
		attrs = append(attrs, slog.Int64("current", cur), slog.Int64("total", total))
	}
	if item := u.Item(); item != "" {
		attrs = append(attrs, slog.String("item", item))
	}
	if u.IsHeartbeat() {
		attrs = append(attrs, slog.Bool("heartbeat", true))
	}
	return attrs
}

// flatten expands group attributes into dotted keys
func flatten(prefix string, attrs []slog.Attr) []slog.Attr {
	var out []slog.Attr
	for _, attr := range attrs {
		key := attr.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		value := attr.Value.Resolve()
		if value.Kind() == slog.KindGroup {
			out = append(out, flatten(key, value.Group())...)
			continue
		}
		out = append(out, slog.Attr{Key: key, Value: value})
	}
	return out
}

func replaceLevel(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 && attr.Key == slog.LevelKey {
		if level, ok := attr.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, models.LevelName(level))
		}
	}
	return attr
}
