package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/neilberkman/pcswitcher/internal/core/models"
	"github.com/neilberkman/pcswitcher/internal/core/snapshot"
)

// SnapshotJobName is the required job that brackets the sync with
// read-only btrfs snapshots
const SnapshotJobName = "btrfs_snapshots"

// Default retention used by cleanup-snapshots
const (
	DefaultKeepRecent = 3
	DefaultMaxAgeDays = 0
)

// SnapshotParams is the parsed btrfs_snapshots block
type SnapshotParams struct {
	Subvolumes []string
	KeepRecent int
	MaxAgeDays int
}

// ParseSnapshotParams reads the btrfs_snapshots block
func ParseSnapshotParams(params Params) (SnapshotParams, []ConfigError) {
	r := newParamReader(SnapshotJobName, params)
	r.only("subvolumes", "keep_recent", "max_age_days")
	p := SnapshotParams{
		Subvolumes: r.strList("subvolumes", []string{"@", "@home"}),
		KeepRecent: r.integer("keep_recent", DefaultKeepRecent),
		MaxAgeDays: r.integer("max_age_days", DefaultMaxAgeDays),
	}
	if len(p.Subvolumes) == 0 {
		r.fail("subvolumes", "at least one subvolume is required")
	}
	seen := make(map[string]bool)
	for _, s := range p.Subvolumes {
		name := strings.TrimPrefix(s, "/")
		switch {
		case name == "":
			r.fail("subvolumes", "empty subvolume name")
		case strings.Contains(name, "/"):
			r.fail("subvolumes", "nested subvolume %q is not supported", s)
		case seen[name]:
			r.fail("subvolumes", "duplicate subvolume %q", s)
		}
		seen[name] = true
	}
	if p.KeepRecent < 0 {
		r.fail("keep_recent", "must not be negative")
	}
	if p.MaxAgeDays < 0 {
		r.fail("max_age_days", "must not be negative")
	}
	return p, r.errs
}

// SnapshotJob snapshots every configured subvolume on both machines. The
// pre instance runs before anything is changed; the post instance after
// the last sync job.
type SnapshotJob struct {
	base
	phase  models.SnapshotPhase
	params SnapshotParams
}

// NewSnapshotJob creates the instance for one phase
func NewSnapshotJob(params Params, phase models.SnapshotPhase) (*SnapshotJob, error) {
	p, errs := ParseSnapshotParams(params)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &SnapshotJob{
		base:   base{name: SnapshotJobName, required: true},
		phase:  phase,
		params: p,
	}, nil
}

// Phase returns pre or post
func (j *SnapshotJob) Phase() models.SnapshotPhase {
	return j.phase
}

func (j *SnapshotJob) manager(jc *Context, role models.MachineRole) *snapshot.Manager {
	return snapshot.NewManager(jc.Executor(role), role, jc.LogFor(role))
}

// ValidateSystemState checks both machines once, from the pre instance
func (j *SnapshotJob) ValidateSystemState(ctx context.Context, jc *Context) []SystemStateError {
	if j.phase != models.PhasePre {
		return nil
	}
	var problems []SystemStateError
	for _, role := range []models.MachineRole{models.RoleSource, models.RoleTarget} {
		for _, err := range j.manager(jc, role).Check(ctx, j.params.Subvolumes) {
			problems = append(problems, SystemStateError{
				Job:     j.Name(),
				Role:    role,
				Host:    jc.Host(role),
				Message: err.Error(),
			})
		}
	}
	return problems
}

func (j *SnapshotJob) Execute(ctx context.Context, jc *Context) error {
	roles := []models.MachineRole{models.RoleSource, models.RoleTarget}
	total := int64(len(roles) * len(j.params.Subvolumes))
	var done int64

	for _, role := range roles {
		m := j.manager(jc, role)
		if j.phase == models.PhasePre {
			if err := m.EnsureRoot(ctx); err != nil {
				return fmt.Errorf("%s: %w", role, err)
			}
		}
		for _, subvol := range j.params.Subvolumes {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := m.Create(ctx, jc.SessionID, jc.StartedAt, subvol, j.phase)
			if err != nil {
				return fmt.Errorf("%s: %w", role, err)
			}
			jc.RecordSnapshot(snap)
			done++
			jc.LogFor(role).Info("snapshot created", "subvolume", subvol, "path", snap.Path)
			jc.Report(role,
				models.WithFraction(float64(done)/float64(total)),
				models.WithCounts(done, total),
				models.WithItem(snap.Name()))
		}
	}
	return nil
}

var snapshotDef = Definition{
	Name:     SnapshotJobName,
	Kind:     KindSystem,
	Required: true,
	ValidateConfig: func(params Params) []ConfigError {
		_, errs := ParseSnapshotParams(params)
		return errs
	},
	New: func(params Params) (Job, error) {
		return NewSnapshotJob(params, models.PhasePre)
	},
}
