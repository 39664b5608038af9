// Package events carries log, progress and connection-status events from
// producers (jobs, monitors, the orchestrator) to independent consumers.
package events

import (
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Event is one of LogEvent, ProgressEvent or ConnectionEvent
type Event interface {
	event()
}

// LogEvent carries a log record
type LogEvent struct {
	Record models.LogRecord
}

// ProgressEvent reports progress of one job. Step and TotalSteps place
// the job within the fixed pipeline (1-based); they are zero for
// background jobs.
type ProgressEvent struct {
	Time       time.Time
	Job        string
	Role       models.MachineRole
	Host       string
	Step       int
	TotalSteps int
	Update     models.ProgressUpdate
}

// ConnectionStatus is the state of the remote execution channel
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ConnectionEvent reports a change (or a keepalive round trip) of the
// remote execution channel
type ConnectionEvent struct {
	Time    time.Time
	Host    string
	Status  ConnectionStatus
	Latency time.Duration
	Err     string
}

func (LogEvent) event()        {}
func (ProgressEvent) event()   {}
func (ConnectionEvent) event() {}
