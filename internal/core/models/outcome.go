package models

import "time"

// OutcomeStatus is the result of one job in a session
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeSkipped OutcomeStatus = "skipped" // Disabled in config, never attempted
	OutcomeFailed  OutcomeStatus = "failed"
)

// JobOutcome records how a job ended
type JobOutcome struct {
	Job       string
	Status    OutcomeStatus
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
}

// Duration is derived from the start and end timestamps
func (o JobOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// SkippedOutcome builds the outcome of a job that was disabled
func SkippedOutcome(job string, at time.Time) JobOutcome {
	return JobOutcome{Job: job, Status: OutcomeSkipped, StartedAt: at, EndedAt: at}
}
