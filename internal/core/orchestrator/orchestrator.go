// Package orchestrator runs one sync session: it validates the
// configuration, takes both locks, checks both machines, then runs the
// job sequence with the disk monitors alongside and drives the session to
// a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/jobs"
	"github.com/neilberkman/pcswitcher/internal/core/lock"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// DefaultTargetLock is the lock file on the target, relative to the
// remote user's home
const DefaultTargetLock = ".local/share/pcswitcher/pcswitcher.lock"

// ErrInterrupted is returned when the user stopped the session
var ErrInterrupted = errors.New("sync interrupted")

// Store persists finished sessions
type Store interface {
	SaveSession(s *models.Session, snapshots []models.Snapshot, version string) error
}

// Options wires an Orchestrator
type Options struct {
	Config     *config.Config
	Registry   *jobs.Registry
	Bus        events.Publisher
	Source     executor.Executor
	SourceHost string
	TargetHost string
	Connect    ConnectFunc

	SourceLockPath string
	TargetLockPath string
	Prompter       lock.Prompter // Asked before clearing a stale lock; nil refuses

	Store      Store // Optional
	Version    string
	Executable string
	LogFile    string
	Now        func() time.Time
}

// Orchestrator owns one session. It is not reusable.
type Orchestrator struct {
	opts    Options
	session *models.Session
	hosts   logging.Hosts
	logger  *slog.Logger
}

// New prepares a session without touching either machine
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = jobs.Builtins()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.TargetLockPath == "" {
		opts.TargetLockPath = DefaultTargetLock
	}
	hosts := logging.Hosts{
		models.RoleSource: opts.SourceHost,
		models.RoleTarget: opts.TargetHost,
	}
	session := models.NewSession(opts.SourceHost, opts.TargetHost, opts.Now())
	session.LogFile = opts.LogFile
	return &Orchestrator{
		opts:    opts,
		session: session,
		hosts:   hosts,
		logger:  logging.New(opts.Bus, hosts),
	}
}

// SessionID returns the ID the session will run under
func (o *Orchestrator) SessionID() string {
	return o.session.ID
}

// StartedAt returns when the session was created
func (o *Orchestrator) StartedAt() time.Time {
	return o.session.StartedAt
}

// SetLogFile records where the session log is written. Log file names
// carry the session ID, so callers set it after New.
func (o *Orchestrator) SetLogFile(path string) {
	o.session.LogFile = path
}

func (o *Orchestrator) grace() time.Duration {
	if o.opts.Config.GracePeriod > 0 {
		return o.opts.Config.GracePeriod
	}
	return 10 * time.Second
}

// Result is the outcome of a session that got as far as holding both
// locks
type Result struct {
	Session   *models.Session
	Snapshots []models.Snapshot
	Fatal     bool // The session went through cleanup
}

// RollbackAvailable reports whether a fatal failure left pre snapshots on
// the target to roll back to
func (r *Result) RollbackAvailable() bool {
	if r == nil || !r.Fatal || r.Session.Status != models.StatusFailed {
		return false
	}
	for _, s := range r.Snapshots {
		if s.Phase == models.PhasePre && s.Role == models.RoleTarget {
			return true
		}
	}
	return false
}

// ExitCode maps a run to the process exit status: 0 completed, 130
// interrupted, 1 anything else
func ExitCode(res *Result, err error) int {
	if res != nil && res.Session != nil {
		switch res.Session.Status {
		case models.StatusCompleted:
			return 0
		case models.StatusAborted:
			return 130
		}
		return 1
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInterrupted) {
		return 130
	}
	return 1
}

// Run executes the session. A nil Result means it stopped before both
// locks were held, and nothing was changed on either machine.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg := o.opts.Config
	if err := ValidateConfig(cfg, o.opts.Registry); err != nil {
		o.logger.Error("invalid configuration", "error", err)
		return nil, err
	}
	p, err := buildPlan(cfg, o.opts.Registry)
	if err != nil {
		return nil, err
	}

	holder := lock.NewHolder(o.session.ID)
	sourceLock, err := lock.AcquireSource(ctx, o.opts.SourceLockPath, holder, o.opts.Prompter, o.logger)
	if err != nil {
		return nil, err
	}
	defer o.release(models.RoleSource, sourceLock)

	o.logger.Info("connecting to target", "target", o.opts.TargetHost)
	remote, err := o.opts.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.opts.TargetHost, err)
	}
	defer func() {
		if remote.Close != nil {
			_ = remote.Close()
		}
	}()
	o.resolveTarget(remote.Host)

	targetLock, err := lock.AcquireTarget(ctx, remote.Executor, o.opts.TargetLockPath, holder, o.opts.Prompter,
		o.logger.With(logging.KeyRole, string(models.RoleTarget)))
	if err != nil {
		return nil, err
	}
	defer o.release(models.RoleTarget, targetLock)

	jc := jobs.NewContext(jobs.ContextOptions{
		SessionID:  o.session.ID,
		StartedAt:  o.session.StartedAt,
		Source:     o.opts.Source,
		Target:     remote.Executor,
		Hosts:      o.hosts,
		Bus:        o.opts.Bus,
		Version:    o.opts.Version,
		Executable: o.opts.Executable,
	})
	jc.Log().Info("session started",
		"session", o.session.ID,
		"source", o.session.SourceHost,
		"target", o.session.TargetHost)

	r := newRun(ctx, o, jc, p, remote.Executor)
	defer r.cancel()
	outcomes := r.execute()
	res := r.finish(outcomes)

	if o.opts.Store != nil {
		if err := o.opts.Store.SaveSession(res.Session, res.Snapshots, o.opts.Version); err != nil {
			jc.Log().Warn("failed to record session history", "error", err)
		}
	}
	return res, sessionError(res.Session)
}

// resolveTarget replaces the target as given on the command line with the
// host the channel actually reached, for the session and every later record
func (o *Orchestrator) resolveTarget(host string) {
	if host == "" {
		return
	}
	o.session.TargetHost = host
	o.hosts = logging.Hosts{
		models.RoleSource: o.opts.SourceHost,
		models.RoleTarget: host,
	}
	o.logger = logging.New(o.opts.Bus, o.hosts)
}

func (o *Orchestrator) release(role models.MachineRole, l lock.Lock) {
	if err := l.Release(); err != nil {
		o.logger.Warn("failed to release lock", logging.KeyRole, string(role), "error", err)
	}
}

func sessionError(s *models.Session) error {
	switch s.Status {
	case models.StatusCompleted:
		return nil
	case models.StatusAborted:
		return ErrInterrupted
	}
	if s.FailedJob != "" {
		return fmt.Errorf("%s: %s", s.FailedJob, s.Error)
	}
	return errors.New(s.Error)
}
