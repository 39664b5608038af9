package jobs

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Context is everything a job may use: both executors, its logger and its
// progress channel. The orchestrator derives one per job with ForJob.
type Context struct {
	SessionID  string
	StartedAt  time.Time
	Source     executor.Executor
	Target     executor.RemoteExecutor
	Hosts      logging.Hosts
	Version    string // Version of the running binary
	Executable string // Path of the running binary

	bus     events.Publisher
	handler *logging.BusHandler
	shared  *shared

	job        string
	step       int
	totalSteps int
	errors     *atomic.Int64
	logger     *slog.Logger
}

// shared is state every per-job copy of a Context writes to
type shared struct {
	mu        sync.Mutex
	snapshots []models.Snapshot
}

// ContextOptions configures NewContext
type ContextOptions struct {
	SessionID  string
	StartedAt  time.Time
	Source     executor.Executor
	Target     executor.RemoteExecutor
	Hosts      logging.Hosts
	Bus        events.Publisher
	Version    string
	Executable string
}

// NewContext creates the session-wide context
func NewContext(opts ContextOptions) *Context {
	c := &Context{
		SessionID:  opts.SessionID,
		StartedAt:  opts.StartedAt,
		Source:     opts.Source,
		Target:     opts.Target,
		Hosts:      opts.Hosts,
		Version:    opts.Version,
		Executable: opts.Executable,
		bus:        opts.Bus,
		handler:    logging.NewBusHandler(opts.Bus, opts.Hosts),
		shared:     &shared{},
	}
	return c.ForJob(models.OrchestratorJob, 0, 0)
}

// ForJob returns a copy whose log records and progress events carry the
// job name. Step and total place the job in the sequence; background jobs
// use zero.
func (c *Context) ForJob(name string, step, total int) *Context {
	clone := *c
	clone.job = name
	clone.step = step
	clone.totalSteps = total
	clone.errors = new(atomic.Int64)

	counter := clone.errors
	handler := c.handler.WithRecordHook(func(rec models.LogRecord) {
		if rec.Level >= models.LevelError {
			counter.Add(1)
		}
	})
	clone.logger = slog.New(handler).With(logging.KeyJob, name)
	return &clone
}

// Job returns the name records are attributed to
func (c *Context) Job() string {
	return c.job
}

// Log returns the job's logger for the source machine
func (c *Context) Log() *slog.Logger {
	return c.LogFor(models.RoleSource)
}

// LogFor returns the job's logger for records about role
func (c *Context) LogFor(role models.MachineRole) *slog.Logger {
	return c.logger.With(logging.KeyRole, string(role))
}

// Executor returns the executor for role
func (c *Context) Executor(role models.MachineRole) executor.Executor {
	if role == models.RoleTarget {
		return c.Target
	}
	return c.Source
}

// Host returns the hostname of role
func (c *Context) Host(role models.MachineRole) string {
	return c.Hosts[role]
}

// Errors returns how many ERROR or worse records the job has logged
func (c *Context) Errors() int64 {
	return c.errors.Load()
}

// Report publishes a progress update. Invalid updates are dropped with a
// warning so a reporting bug never fails the job.
func (c *Context) Report(role models.MachineRole, opts ...models.ProgressOption) {
	update, err := models.NewProgressUpdate(opts...)
	if err != nil {
		c.LogFor(role).Warn("dropping invalid progress update", "error", err)
		return
	}
	c.bus.Publish(events.ProgressEvent{
		Time:       time.Now(),
		Job:        c.job,
		Role:       role,
		Host:       c.Host(role),
		Step:       c.step,
		TotalSteps: c.totalSteps,
		Update:     update,
	})
}

// RecordSnapshot remembers a snapshot created during the session
func (c *Context) RecordSnapshot(s models.Snapshot) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.snapshots = append(c.shared.snapshots, s)
}

// Snapshots returns every snapshot recorded so far
func (c *Context) Snapshots() []models.Snapshot {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return append([]models.Snapshot(nil), c.shared.snapshots...)
}
