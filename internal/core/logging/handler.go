// Package logging bridges log/slog onto the event bus and writes the
// persistent JSON-lines session log.
package logging

import (
	"context"
	"log/slog"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Attribute keys lifted out of a record into LogRecord fields
const (
	KeyJob  = "job"
	KeyRole = "role"
)

// Hosts resolves a machine role to the hostname shown in logs
type Hosts map[models.MachineRole]string

// BusHandler is a slog.Handler that turns every record into a LogEvent on
// the bus. Filtering by verbosity is left to the subscribers, so the
// handler accepts every level. OnRecord, when set, sees each record after
// it is published; jobs use it to count recoverable errors.
type BusHandler struct {
	bus      events.Publisher
	hosts    Hosts
	job      string
	role     models.MachineRole
	attrs    []slog.Attr
	groups   []string
	onRecord func(models.LogRecord)
}

// NewBusHandler creates a handler for orchestrator-originated records
func NewBusHandler(bus events.Publisher, hosts Hosts) *BusHandler {
	return &BusHandler{
		bus:   bus,
		hosts: hosts,
		job:   models.OrchestratorJob,
		role:  models.RoleSource,
	}
}

// New returns a logger backed by a BusHandler
func New(bus events.Publisher, hosts Hosts) *slog.Logger {
	return slog.New(NewBusHandler(bus, hosts))
}

// WithRecordHook returns a copy that calls fn for every record handled
func (h *BusHandler) WithRecordHook(fn func(models.LogRecord)) *BusHandler {
	clone := h.clone()
	clone.onRecord = fn
	return clone
}

func (h *BusHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *BusHandler) Handle(_ context.Context, record slog.Record) error {
	rec := models.LogRecord{
		Time:    record.Time,
		Level:   record.Level,
		Job:     h.job,
		Role:    h.role,
		Message: record.Message,
	}
	rec.Attrs = append(rec.Attrs, h.attrs...)

	record.Attrs(func(attr slog.Attr) bool {
		switch {
		case len(h.groups) == 0 && attr.Key == KeyJob:
			rec.Job = attr.Value.String()
		case len(h.groups) == 0 && attr.Key == KeyRole:
			rec.Role = models.MachineRole(attr.Value.String())
		default:
			rec.Attrs = append(rec.Attrs, h.qualify(attr))
		}
		return true
	})
	rec.Host = h.hosts[rec.Role]

	h.bus.Publish(events.LogEvent{Record: rec})
	if h.onRecord != nil {
		h.onRecord(rec)
	}
	return nil
}

func (h *BusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	for _, attr := range attrs {
		switch {
		case len(h.groups) == 0 && attr.Key == KeyJob:
			clone.job = attr.Value.String()
		case len(h.groups) == 0 && attr.Key == KeyRole:
			clone.role = models.MachineRole(attr.Value.String())
		default:
			clone.attrs = append(clone.attrs, h.qualify(attr))
		}
	}
	return clone
}

func (h *BusHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

// qualify prefixes the attribute key with the open groups so records stay flat
func (h *BusHandler) qualify(attr slog.Attr) slog.Attr {
	for i := len(h.groups) - 1; i >= 0; i-- {
		attr.Key = h.groups[i] + "." + attr.Key
	}
	return attr
}

func (h *BusHandler) clone() *BusHandler {
	return &BusHandler{
		bus:      h.bus,
		hosts:    h.hosts,
		job:      h.job,
		role:     h.role,
		attrs:    append([]slog.Attr(nil), h.attrs...),
		groups:   append([]string(nil), h.groups...),
		onRecord: h.onRecord,
	}
}
