package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neilberkman/pcswitcher/internal/core/disk"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/jobs"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// run is the live part of a session, from phase 3 to the terminal state.
// Only the goroutine calling execute and finish touches the session.
type run struct {
	o      *Orchestrator
	jc     *jobs.Context
	plan   *plan
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	source executor.Executor
	target executor.Executor

	mu          sync.Mutex
	stopped     bool
	failedJob   string
	err         error
	interrupted bool
}

func newRun(parent context.Context, o *Orchestrator, jc *jobs.Context, p *plan, target executor.Executor) *run {
	ctx, cancel := context.WithCancel(parent)
	return &run{
		o:      o,
		jc:     jc,
		plan:   p,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		source: o.opts.Source,
		target: target,
	}
}

// fail records the first reason to stop the session and cancels
// everything still running. Later calls only cancel.
func (r *run) fail(job string, err error) {
	r.mu.Lock()
	first := !r.stopped
	if first {
		r.stopped = true
		if r.parent.Err() != nil {
			r.interrupted = true
			r.err = ErrInterrupted
		} else {
			r.failedJob, r.err = job, err
		}
	}
	interrupted := r.interrupted
	r.mu.Unlock()
	r.cancel()

	if !first {
		return
	}
	log := r.jc.Log()
	var critical *disk.CriticalError
	switch {
	case interrupted:
		log.Warn("interrupted, stopping session")
	case errors.As(err, &critical):
		log.Log(context.Background(), models.LevelCritical, "disk space critical, aborting session",
			"failed_job", job,
			"machine", string(critical.Role),
			"host", critical.Host,
			"free", critical.Usage.String(),
			"minimum", critical.Threshold.String())
	default:
		log.Error("aborting session", "failed_job", job, "error", err)
	}
}

func (r *run) reason() (job string, interrupted, stopped bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedJob, r.interrupted, r.stopped, r.err
}

// enterCleanup moves the session to Cleanup once
func (r *run) enterCleanup() {
	if r.o.session.Status != models.StatusRunning {
		return
	}
	if err := r.o.session.Transition(models.StatusCleanup, r.o.opts.Now()); err != nil {
		r.jc.Log().Warn("session transition failed", "error", err)
	}
}

// execute runs phase 3, the preflight check and the sequential phase. It
// returns the sync job outcomes in execution order.
func (r *run) execute() []models.JobOutcome {
	if problems := r.validateSystemState(); len(problems) > 0 || r.parent.Err() != nil {
		r.fail(models.OrchestratorJob, &ValidationError{Phase: PhaseSystemState, Problems: problems})
		r.enterCleanup()
		r.terminateAll()
		return nil
	}

	for _, m := range r.plan.monitors {
		if err := m.Preflight(r.ctx, r.jc.ForJob(m.Name(), 0, 0)); err != nil {
			r.fail(m.Name(), err)
			r.enterCleanup()
			r.terminateAll()
			return nil
		}
	}

	monitorCtx, stopMonitors := context.WithCancel(r.ctx)
	defer stopMonitors()
	g, gctx := errgroup.WithContext(monitorCtx)
	for _, m := range r.plan.monitors {
		mjc := r.jc.ForJob(m.Name(), 0, 0)
		g.Go(func() error {
			err := m.Execute(gctx, mjc)
			if err != nil && gctx.Err() == nil {
				r.fail(m.Name(), err)
			}
			return err
		})
	}

	done := make(chan []models.JobOutcome, 1)
	go func() {
		done <- r.sequence()
	}()

	var outcomes []models.JobOutcome
	select {
	case outcomes = <-done:
	case <-r.ctx.Done():
		if r.parent.Err() != nil {
			r.fail(models.OrchestratorJob, r.parent.Err())
		}
		r.enterCleanup()
		outcomes = r.awaitWithGrace(done)
	}

	stopMonitors()
	_ = g.Wait()

	if _, _, stopped, _ := r.reason(); stopped {
		r.enterCleanup()
	}
	r.terminateAll()
	return outcomes
}

// validateSystemState collects every precondition problem of the jobs
// that will run, without changing either machine
func (r *run) validateSystemState() []error {
	var problems []error
	check := func(job jobs.Job) {
		for _, p := range job.ValidateSystemState(r.ctx, r.jc.ForJob(job.Name(), 0, 0)) {
			problems = append(problems, p)
		}
	}
	for _, e := range r.plan.sequence {
		if e.enabled {
			check(e.job)
		}
	}
	for _, m := range r.plan.monitors {
		check(m)
	}
	for _, p := range problems {
		r.jc.Log().Error("system state check failed", "error", p)
	}
	return problems
}

// sequence runs the jobs one after another until one fails or the run is
// cancelled
func (r *run) sequence() []models.JobOutcome {
	var outcomes []models.JobOutcome
	total := r.plan.steps()
	step := 0
	for i, e := range r.plan.sequence {
		name := e.job.Name()
		if !e.enabled {
			r.jc.Log().Info("job disabled, skipping", "skipped", name)
			outcomes = append(outcomes, models.SkippedOutcome(name, r.o.opts.Now()))
			continue
		}
		if err := r.ctx.Err(); err != nil {
			r.fail(models.OrchestratorJob, err)
			return r.skipDisabled(outcomes, r.plan.sequence[i+1:])
		}

		step++
		jc := r.jc.ForJob(name, step, total)
		started := r.o.opts.Now()
		jc.Log().Info("job started", "step", step, "total", total)
		err := e.job.Execute(r.ctx, jc)
		ended := r.o.opts.Now()

		if e.sync {
			outcome := models.JobOutcome{Job: name, Status: models.OutcomeSuccess, StartedAt: started, EndedAt: ended}
			switch {
			case err != nil:
				outcome.Status = models.OutcomeFailed
				outcome.Error = err.Error()
			case jc.Errors() > 0:
				outcome.Status = models.OutcomeFailed
				outcome.Error = fmt.Sprintf("%d error(s) logged", jc.Errors())
			}
			outcomes = append(outcomes, outcome)
		}
		if err != nil {
			r.fail(name, err)
			return r.skipDisabled(outcomes, r.plan.sequence[i+1:])
		}
		jc.Log().Info("job finished", "duration", ended.Sub(started).Round(time.Millisecond).String())
	}
	return outcomes
}

// skipDisabled records the disabled sync jobs a stopped sequence never
// reached. Enabled jobs that never ran get no outcome.
func (r *run) skipDisabled(outcomes []models.JobOutcome, rest []entry) []models.JobOutcome {
	for _, e := range rest {
		if e.sync && !e.enabled {
			outcomes = append(outcomes, models.SkippedOutcome(e.job.Name(), r.o.opts.Now()))
		}
	}
	return outcomes
}

// awaitWithGrace waits for the sequence to wind down, terminating every
// tracked process once the grace period runs out
func (r *run) awaitWithGrace(done <-chan []models.JobOutcome) []models.JobOutcome {
	grace := r.o.grace()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case outcomes := <-done:
		return outcomes
	case <-timer.C:
		r.jc.Log().Warn("jobs still running after grace period, terminating processes", "grace", grace.String())
		r.terminateAll()
		return <-done
	}
}

// terminateAll kills whatever the executors still track on both machines
func (r *run) terminateAll() {
	for _, ex := range []executor.Executor{r.source, r.target} {
		if ex == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ex.TerminateAll(ctx); err != nil {
			r.jc.Log().Warn("failed to terminate processes", "error", err)
		}
		cancel()
	}
}

// finish records outcomes, moves the session to its terminal state and
// logs the summary
func (r *run) finish(outcomes []models.JobOutcome) *Result {
	s := r.o.session
	for _, o := range outcomes {
		_ = s.AddOutcome(o)
	}

	job, interrupted, stopped, err := r.reason()
	now := r.o.opts.Now()
	switch {
	case stopped:
		r.enterCleanup()
		_ = s.SetError(job, err)
		to := models.StatusFailed
		if interrupted {
			to = models.StatusAborted
		}
		_ = s.Transition(to, now)
	default:
		for _, o := range s.Outcomes {
			if o.Status == models.OutcomeFailed {
				_ = s.SetError(o.Job, errors.New(o.Error))
				break
			}
		}
		to := models.StatusCompleted
		if s.Error != "" {
			to = models.StatusFailed
		}
		_ = s.Transition(to, now)
	}

	log := r.jc.Log()
	attrs := []any{
		"session", s.ID,
		"status", string(s.Status),
		"duration", s.EndedAt.Sub(s.StartedAt).Round(time.Second).String(),
	}
	if s.FailedJob != "" {
		attrs = append(attrs, "failed_job", s.FailedJob)
	}
	if s.Error != "" {
		attrs = append(attrs, "reason", s.Error)
	}
	switch s.Status {
	case models.StatusCompleted:
		log.Info("sync completed", attrs...)
	case models.StatusAborted:
		log.Warn("sync aborted", attrs...)
	default:
		log.Error("sync failed", attrs...)
	}

	return &Result{
		Session:   s,
		Snapshots: r.jc.Snapshots(),
		Fatal:     stopped,
	}
}
