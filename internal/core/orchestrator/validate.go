package orchestrator

import (
	"fmt"
	"strings"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/jobs"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Validation phases, run in order. A phase with problems stops the run
// before the next one starts. Phases 1 and 2 run before either lock is
// taken. Phase 3 probes the target over the channel, so it runs after the
// source lock, the connection and the target lock, and before any job
// changes a machine.
const (
	PhaseConfigShape = 1
	PhaseJobConfig   = 2
	PhaseSystemState = 3
)

var phaseNames = map[int]string{
	PhaseConfigShape: "configuration",
	PhaseJobConfig:   "job configuration",
	PhaseSystemState: "system state",
}

// ValidationError carries every problem one phase found
type ValidationError struct {
	Phase    int
	Problems []error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s validation failed with %d problem(s)", phaseNames[e.Phase], len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.Error())
	}
	return b.String()
}

// ValidateConfig runs phases 1 and 2. Neither touches a machine, and
// running them twice gives the same answer.
func ValidateConfig(cfg *config.Config, registry *jobs.Registry) error {
	if errs := cfg.Validate(registry.Names()); len(errs) > 0 {
		return &ValidationError{Phase: PhaseConfigShape, Problems: configProblems(errs)}
	}

	var errs []jobs.ConfigError
	for _, toggle := range cfg.SyncJobs {
		def, ok := registry.Lookup(toggle.Name)
		switch {
		case !ok:
			errs = append(errs, jobs.ConfigError{Job: "sync_jobs", Field: toggle.Name, Message: "unknown job"})
		case def.Kind != jobs.KindSync:
			errs = append(errs, jobs.ConfigError{Job: "sync_jobs", Field: toggle.Name, Message: "required job cannot be enabled or disabled"})
		}
	}
	for _, name := range registry.Names() {
		def, _ := registry.Lookup(name)
		if def.ValidateConfig == nil {
			continue
		}
		errs = append(errs, def.ValidateConfig(cfg.Params(name))...)
	}
	if len(errs) > 0 {
		return &ValidationError{Phase: PhaseJobConfig, Problems: configProblems(errs)}
	}
	return nil
}

func configProblems(errs []jobs.ConfigError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// entry is one place in the sequential phase
type entry struct {
	job     jobs.Job
	sync    bool
	enabled bool
}

// plan is the set of job instances for one session
type plan struct {
	sequence []entry
	monitors []*jobs.DiskMonitorJob
}

// buildPlan instantiates every job. The config must have passed
// ValidateConfig.
func buildPlan(cfg *config.Config, registry *jobs.Registry) (*plan, error) {
	p := &plan{}

	pre, err := jobs.NewSnapshotJob(cfg.Params(jobs.SnapshotJobName), models.PhasePre)
	if err != nil {
		return nil, err
	}
	post, err := jobs.NewSnapshotJob(cfg.Params(jobs.SnapshotJobName), models.PhasePost)
	if err != nil {
		return nil, err
	}

	installDef, ok := registry.Lookup(jobs.InstallJobName)
	if !ok {
		return nil, fmt.Errorf("registry has no %s job", jobs.InstallJobName)
	}
	install, err := installDef.New(cfg.Params(jobs.InstallJobName))
	if err != nil {
		return nil, err
	}

	// The pre snapshot comes first so a rollback point exists before the
	// target binary is replaced
	p.sequence = append(p.sequence, entry{job: pre, enabled: true}, entry{job: install, enabled: true})
	for _, toggle := range cfg.SyncJobs {
		def, ok := registry.Lookup(toggle.Name)
		if !ok {
			return nil, fmt.Errorf("unknown job %q", toggle.Name)
		}
		job, err := def.New(cfg.Params(toggle.Name))
		if err != nil {
			return nil, err
		}
		p.sequence = append(p.sequence, entry{job: job, sync: true, enabled: toggle.Enabled})
	}
	p.sequence = append(p.sequence, entry{job: post, enabled: true})

	for _, role := range []models.MachineRole{models.RoleSource, models.RoleTarget} {
		m, err := jobs.NewDiskMonitor(cfg.Params(jobs.DiskMonitorJobName), role)
		if err != nil {
			return nil, err
		}
		p.monitors = append(p.monitors, m)
	}
	return p, nil
}

// steps counts the jobs that will actually run
func (p *plan) steps() int {
	n := 0
	for _, e := range p.sequence {
		if e.enabled {
			n++
		}
	}
	return n
}
