package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Demo sync jobs. They do no real work but exercise every path a content
// sync job can take: progress on both machines, remote commands, warnings,
// recoverable errors and fatal failure.
const (
	DummySuccessName = "dummy_success"
	DummyFailName    = "dummy_fail"
)

const dummyTicks = 10

// ErrDummyFailure is what dummy_fail returns when it reaches its failure
// point in raise mode
var ErrDummyFailure = errors.New("simulated failure")

type dummyParams struct {
	duration time.Duration
	failAt   int    // percent; 0 never fails
	failMode string // "raise" or "log"
}

func parseDummyParams(name string, params Params) (dummyParams, []ConfigError) {
	r := newParamReader(name, params)
	var p dummyParams
	switch name {
	case DummySuccessName:
		r.only("duration_seconds")
		p.duration = r.seconds("duration_seconds", 20*time.Second)
	case DummyFailName:
		r.only("duration_seconds", "fail_at_percent", "mode")
		p.duration = r.seconds("duration_seconds", 20*time.Second)
		p.failAt = r.integer("fail_at_percent", 60)
		p.failMode = r.str("mode", "raise")
		if p.failAt <= 0 || p.failAt > 100 {
			r.fail("fail_at_percent", "must be between 1 and 100")
		}
		if p.failMode != "raise" && p.failMode != "log" {
			r.fail("mode", "must be \"raise\" or \"log\", got %q", p.failMode)
		}
	}
	return p, r.errs
}

// DummyJob ticks through a fixed number of steps. The first half runs on
// the source, the second half on the target via sleep commands.
type DummyJob struct {
	base
	params dummyParams
}

func newDummy(name string, params Params) (*DummyJob, error) {
	p, errs := parseDummyParams(name, params)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &DummyJob{base: base{name: name}, params: p}, nil
}

func (j *DummyJob) ValidateSystemState(ctx context.Context, jc *Context) []SystemStateError {
	result, err := jc.Target.Run(ctx, "command -v sleep")
	if err == nil && result.Success() {
		return nil
	}
	msg := "sleep is not available"
	if err != nil {
		msg = err.Error()
	}
	return []SystemStateError{{Job: j.Name(), Role: models.RoleTarget, Host: jc.Host(models.RoleTarget), Message: msg}}
}

func (j *DummyJob) Execute(ctx context.Context, jc *Context) error {
	tick := j.params.duration / dummyTicks
	jc.Log().Info("starting", "duration", j.params.duration.String())

	for i := int64(1); i <= dummyTicks; i++ {
		role := models.RoleSource
		if i > dummyTicks/2 {
			role = models.RoleTarget
		}
		if err := j.wait(ctx, jc, role, tick); err != nil {
			return err
		}

		percent := int(i * 100 / dummyTicks)
		item := fmt.Sprintf("item-%02d", i)
		jc.LogFor(role).Log(ctx, models.LevelFull, "processed", "item", item)
		jc.Report(role,
			models.WithFraction(float64(i)/dummyTicks),
			models.WithCounts(i, dummyTicks),
			models.WithItem(item))

		if i == dummyTicks/2 {
			jc.Log().Warn("halfway: switching to target")
		}
		if j.params.failAt > 0 && percent >= j.params.failAt && percent-100/dummyTicks < j.params.failAt {
			if j.params.failMode == "log" {
				jc.LogFor(role).Error("simulated recoverable error", "item", item, "percent", percent)
				continue
			}
			return fmt.Errorf("%w at %d%%", ErrDummyFailure, percent)
		}
	}
	jc.Log().Info("finished")
	return nil
}

// wait spends one tick, locally or as a remote sleep
func (j *DummyJob) wait(ctx context.Context, jc *Context, role models.MachineRole, d time.Duration) error {
	if role == models.RoleTarget {
		result, err := jc.Target.Run(ctx, fmt.Sprintf("sleep %.3f", d.Seconds()))
		if err != nil {
			return err
		}
		if !result.Success() {
			jc.LogFor(role).Warn("remote sleep failed", "exit_code", result.ExitCode())
		}
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func dummyDef(name string) Definition {
	return Definition{
		Name: name,
		Kind: KindSync,
		ValidateConfig: func(params Params) []ConfigError {
			_, errs := parseDummyParams(name, params)
			return errs
		},
		New: func(params Params) (Job, error) {
			return newDummy(name, params)
		},
	}
}
