package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/disk"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// DiskMonitorJobName is the required background job watching free space
const DiskMonitorJobName = "disk_space_monitor"

// DiskParams is the parsed disk_space_monitor block
type DiskParams struct {
	Path      string
	Preflight disk.Threshold
	Runtime   disk.Threshold
	Interval  time.Duration
}

// ParseDiskParams reads the disk_space_monitor block
func ParseDiskParams(params Params) (DiskParams, []ConfigError) {
	r := newParamReader(DiskMonitorJobName, params)
	r.only("path", "preflight_minimum", "runtime_minimum", "check_interval")

	p := DiskParams{
		Path:     r.str("path", "/"),
		Interval: r.seconds("check_interval", 30*time.Second),
	}
	threshold := func(key, def string) disk.Threshold {
		t, err := disk.ParseThreshold(r.str(key, def))
		if err != nil {
			r.fail(key, "%v", err)
		}
		return t
	}
	p.Preflight = threshold("preflight_minimum", "20%")
	p.Runtime = threshold("runtime_minimum", "15%")

	if p.Path == "" || p.Path[0] != '/' {
		r.fail("path", "must be an absolute path")
	}
	if p.Interval <= 0 {
		r.fail("check_interval", "must be positive")
	}
	return p, r.errs
}

// DiskMonitorJob polls one machine during the sequential phase and fails
// the session when free space drops under the runtime floor
type DiskMonitorJob struct {
	base
	role   models.MachineRole
	params DiskParams
}

// NewDiskMonitor creates the monitor for one role
func NewDiskMonitor(params Params, role models.MachineRole) (*DiskMonitorJob, error) {
	p, errs := ParseDiskParams(params)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &DiskMonitorJob{
		base:   base{name: DiskMonitorJobName, required: true},
		role:   role,
		params: p,
	}, nil
}

// Role returns the machine this instance watches
func (j *DiskMonitorJob) Role() models.MachineRole {
	return j.role
}

// prober uses statfs for the local process executor and df otherwise
func (j *DiskMonitorJob) prober(jc *Context) disk.Prober {
	ex := jc.Executor(j.role)
	if _, local := ex.(*executor.LocalExecutor); local {
		return disk.LocalProber{Path: j.params.Path}
	}
	return disk.RemoteProber{Executor: ex, Path: j.params.Path}
}

func (j *DiskMonitorJob) ValidateSystemState(ctx context.Context, jc *Context) []SystemStateError {
	result, err := jc.Executor(j.role).Run(ctx, "test -d "+executor.Quote(j.params.Path))
	msg := ""
	switch {
	case err != nil:
		msg = err.Error()
	case !result.Success():
		msg = fmt.Sprintf("%s is not a directory", j.params.Path)
	default:
		return nil
	}
	return []SystemStateError{{Job: j.Name(), Role: j.role, Host: jc.Host(j.role), Message: msg}}
}

// Preflight checks free space once against the preflight floor
func (j *DiskMonitorJob) Preflight(ctx context.Context, jc *Context) error {
	u, err := disk.Check(ctx, j.prober(jc), j.params.Preflight, j.role, jc.Host(j.role), true)
	if err != nil {
		return err
	}
	jc.LogFor(j.role).Info("disk space preflight passed",
		"path", u.Path,
		"free", u.String(),
		"minimum", j.params.Preflight.String())
	return nil
}

// Execute runs until ctx is cancelled, returning nil, or until space runs
// out, returning a *disk.CriticalError. It never logs the shortage as
// CRITICAL itself; that is left to whoever stops the session.
func (j *DiskMonitorJob) Execute(ctx context.Context, jc *Context) error {
	m := &disk.Monitor{
		Prober:    j.prober(jc),
		Threshold: j.params.Runtime,
		Interval:  j.params.Interval,
		Role:      j.role,
		Host:      jc.Host(j.role),
		Logger:    jc.LogFor(j.role),
		OnSample: func(u disk.Usage) {
			jc.Report(j.role, models.AsHeartbeat(), models.WithItem(u.String()))
		},
	}
	return m.Run(ctx)
}

var diskMonitorDef = Definition{
	Name:     DiskMonitorJobName,
	Kind:     KindBackground,
	Required: true,
	ValidateConfig: func(params Params) []ConfigError {
		_, errs := ParseDiskParams(params)
		return errs
	},
	New: func(params Params) (Job, error) {
		return NewDiskMonitor(params, models.RoleSource)
	},
}
