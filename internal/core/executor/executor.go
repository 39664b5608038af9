// Package executor runs commands on the source machine (local processes)
// and on the target machine (sessions over one SSH connection). Both
// variants return non-zero exits as data and track every process they
// start so the orchestrator can terminate them in bulk.
package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

var (
	// ErrTimeout is returned when a command outlives WithTimeout
	ErrTimeout = errors.New("command timed out")

	// ErrConnectionLost is returned when the SSH connection dies. There is
	// no reconnection: the session aborts.
	ErrConnectionLost = errors.New("connection to target lost")
)

// LineHandler receives one line of output without the trailing newline
type LineHandler func(line string)

// Executor is the job-facing façade for running commands on one machine
type Executor interface {
	// Run executes command through sh -c and waits for it. The error is
	// nil for any exit code; it is set only for timeouts, cancellation,
	// start failures and connection loss.
	Run(ctx context.Context, command string, opts ...Option) (models.CommandResult, error)

	// TerminateAll kills every process started by Run that is still alive
	TerminateAll(ctx context.Context) error
}

// RemoteExecutor adds file transfer over the same connection
type RemoteExecutor interface {
	Executor
	Upload(ctx context.Context, src io.Reader, dst string, mode os.FileMode) error
	Download(ctx context.Context, src string, dst io.Writer) error
}

// Options configures one Run call
type Options struct {
	Timeout  time.Duration
	OnStdout LineHandler
	OnStderr LineHandler
	Stdin    io.Reader
	// Untracked processes are left alone by TerminateAll; whoever starts
	// them is responsible for stopping them
	Untracked bool
}

// Option is a function that modifies Options
type Option func(*Options)

// WithTimeout kills the command after d
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// OnStdout streams stdout line by line as it arrives
func OnStdout(fn LineHandler) Option {
	return func(o *Options) { o.OnStdout = fn }
}

// OnStderr streams stderr line by line as it arrives
func OnStderr(fn LineHandler) Option {
	return func(o *Options) { o.OnStderr = fn }
}

// WithStdin connects r to the command's standard input
func WithStdin(r io.Reader) Option {
	return func(o *Options) { o.Stdin = r }
}

// Untracked excludes the command from TerminateAll
func Untracked() Option {
	return func(o *Options) { o.Untracked = true }
}

// ApplyOptions folds opts into an Options value
func ApplyOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stream is shorthand for Run with both line handlers
func Stream(ctx context.Context, ex Executor, command string, stdout, stderr LineHandler, opts ...Option) (models.CommandResult, error) {
	opts = append(opts, OnStdout(stdout), OnStderr(stderr))
	return ex.Run(ctx, command, opts...)
}

// lineWriter captures everything written to it and hands complete lines
// to a callback as they arrive
type lineWriter struct {
	mu      sync.Mutex
	all     bytes.Buffer
	partial []byte
	fn      LineHandler
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all.Write(p)
	if w.fn == nil {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(w.partial[:i], []byte("\r")))
		w.partial = w.partial[i+1:]
		w.fn(line)
	}
	return len(p), nil
}

// flush delivers a trailing line that had no newline
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fn != nil && len(w.partial) > 0 {
		w.fn(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}
