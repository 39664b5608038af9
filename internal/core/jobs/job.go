// Package jobs defines the unit of orchestrated work and the built-in
// jobs. Every job passes three checks before it runs: its configuration
// block, then the live state of both machines, then execution itself.
package jobs

import (
	"context"
	"fmt"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Kind groups jobs by how the orchestrator schedules them
type Kind string

const (
	KindSystem     Kind = "system"     // Fixed place in the sequence, always on
	KindBackground Kind = "background" // Runs alongside the sequence
	KindSync       Kind = "sync"       // Enabled per config, runs in declared order
)

// Params is a job's configuration block as decoded from the config file
type Params map[string]any

// ConfigError is a problem with a job's configuration block, found before
// anything touches either machine
type ConfigError struct {
	Job     string
	Field   string
	Message string
}

func (e ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Job, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Job, e.Field, e.Message)
}

// SystemStateError is a precondition that does not hold on a machine
type SystemStateError struct {
	Job     string
	Role    models.MachineRole
	Host    string
	Message string
}

func (e SystemStateError) Error() string {
	return fmt.Sprintf("%s on %s (%s): %s", e.Job, e.Role, e.Host, e.Message)
}

// Job is one configured instance
type Job interface {
	Name() string
	Required() bool

	// ValidateSystemState reports every unmet precondition. It must not
	// change either machine.
	ValidateSystemState(ctx context.Context, jc *Context) []SystemStateError

	// Execute does the work. A returned error is fatal to the session;
	// recoverable problems are logged at ERROR instead. Execute must stop
	// promptly when ctx is cancelled and leave both machines consistent.
	Execute(ctx context.Context, jc *Context) error
}

// Definition describes a job type
type Definition struct {
	Name     string
	Kind     Kind
	Required bool

	// ValidateConfig checks a configuration block without creating a job
	ValidateConfig func(params Params) []ConfigError

	// New creates a job from a block that passed ValidateConfig
	New func(params Params) (Job, error)
}

// base carries the identity every job reports
type base struct {
	name     string
	required bool
}

func (b base) Name() string   { return b.name }
func (b base) Required() bool { return b.required }
