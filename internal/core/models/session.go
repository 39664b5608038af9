package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is a node in the session state machine
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCleanup   SessionStatus = "cleanup"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusAborted   SessionStatus = "aborted"
)

// Terminal reports whether no further transitions are possible
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// transitions lists every legal edge of the state machine
var transitions = map[SessionStatus][]SessionStatus{
	StatusRunning: {StatusCleanup, StatusCompleted, StatusFailed},
	StatusCleanup: {StatusAborted, StatusFailed},
}

// MachineRole identifies which end of the sync a record belongs to
type MachineRole string

const (
	RoleSource MachineRole = "source"
	RoleTarget MachineRole = "target"
)

var (
	// ErrSessionFinalized is returned when mutating a session in a terminal state
	ErrSessionFinalized = errors.New("session already finalized")

	sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)
)

// Session represents one sync run from lock acquisition to terminal state.
// Only the orchestrator mutates it.
type Session struct {
	ID         string
	StartedAt  time.Time
	EndedAt    time.Time
	SourceHost string
	TargetHost string
	Status     SessionStatus
	Outcomes   []JobOutcome
	Error      string // Why the session did not complete
	FailedJob  string // Job whose failure ended the session, if any
	LogFile    string
}

// NewSessionID returns a random 8 hex character identifier
func NewSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// NewSession creates a running session with a fresh ID
func NewSession(sourceHost, targetHost string, now time.Time) *Session {
	return &Session{
		ID:         NewSessionID(),
		StartedAt:  now,
		SourceHost: sourceHost,
		TargetHost: targetHost,
		Status:     StatusRunning,
	}
}

// Validate checks if the session has required fields
func (s *Session) Validate() error {
	if !sessionIDPattern.MatchString(s.ID) {
		return fmt.Errorf("session id %q is not 8 hex characters", s.ID)
	}
	if s.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// Transition moves the session to the next status. Entering a terminal
// status stamps EndedAt.
func (s *Session) Transition(to SessionStatus, now time.Time) error {
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			s.Status = to
			if to.Terminal() {
				s.EndedAt = now
			}
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %s -> %s", s.Status, to)
}

// AddOutcome appends a job outcome in execution order
func (s *Session) AddOutcome(o JobOutcome) error {
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.Outcomes = append(s.Outcomes, o)
	return nil
}

// SetError records the failure reason. The first reason wins.
func (s *Session) SetError(job string, err error) error {
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	if s.Error == "" && err != nil {
		s.Error = err.Error()
		s.FailedJob = job
	}
	return nil
}

// Duration returns how long the session ran, or has been running
func (s *Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// HasFailedOutcome reports whether any recorded job failed
func (s *Session) HasFailedOutcome() bool {
	for _, o := range s.Outcomes {
		if o.Status == OutcomeFailed {
			return true
		}
	}
	return false
}
