package models

import (
	"errors"
	"fmt"
)

// ProgressUpdate reports how far a job has come. Fraction always covers
// the whole job, not the current sub-task. Renderers pick a bar, a
// counter or a spinner depending on which fields are populated.
type ProgressUpdate struct {
	fraction    float64
	hasFraction bool
	current     int64
	total       int64
	hasCount    bool
	item        string
	heartbeat   bool
}

// ProgressOption sets one field of a ProgressUpdate
type ProgressOption func(*ProgressUpdate)

// WithFraction sets overall completion in [0.0, 1.0]
func WithFraction(f float64) ProgressOption {
	return func(p *ProgressUpdate) {
		p.fraction = f
		p.hasFraction = true
	}
}

// WithCounts sets item counters. A zero total means the total is unknown.
func WithCounts(current, total int64) ProgressOption {
	return func(p *ProgressUpdate) {
		p.current = current
		p.total = total
		p.hasCount = true
	}
}

// WithItem sets the label of the item currently being processed
func WithItem(item string) ProgressOption {
	return func(p *ProgressUpdate) {
		p.item = item
	}
}

// AsHeartbeat marks the update as "still alive, nothing to quantify"
func AsHeartbeat() ProgressOption {
	return func(p *ProgressUpdate) {
		p.heartbeat = true
	}
}

// NewProgressUpdate validates and builds an update
func NewProgressUpdate(opts ...ProgressOption) (ProgressUpdate, error) {
	var p ProgressUpdate
	for _, opt := range opts {
		opt(&p)
	}
	if p.hasFraction && (p.fraction < 0 || p.fraction > 1 || p.fraction != p.fraction) {
		return ProgressUpdate{}, fmt.Errorf("progress fraction %v outside [0, 1]", p.fraction)
	}
	if p.hasCount {
		if p.current < 0 || p.total < 0 {
			return ProgressUpdate{}, fmt.Errorf("negative progress counters %d/%d", p.current, p.total)
		}
		if p.total > 0 && p.current > p.total {
			return ProgressUpdate{}, fmt.Errorf("progress counter %d exceeds total %d", p.current, p.total)
		}
	}
	if !p.hasFraction && !p.hasCount && p.item == "" && !p.heartbeat {
		return ProgressUpdate{}, errors.New("progress update carries no information")
	}
	return p, nil
}

// Fraction returns overall completion and whether it was set
func (p ProgressUpdate) Fraction() (float64, bool) { return p.fraction, p.hasFraction }

// Counts returns the item counters and whether they were set
func (p ProgressUpdate) Counts() (current, total int64, ok bool) {
	return p.current, p.total, p.hasCount
}

func (p ProgressUpdate) Item() string      { return p.item }
func (p ProgressUpdate) IsHeartbeat() bool { return p.heartbeat }
