package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// LocalExecutor runs commands on the source machine. Each command gets its
// own process group so that cancellation also reaches its children.
type LocalExecutor struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd // keyed by process group ID
}

// NewLocal creates a source-side executor
func NewLocal() *LocalExecutor {
	return &LocalExecutor{procs: make(map[int]*exec.Cmd)}
}

// Run implements Executor
func (l *LocalExecutor) Run(ctx context.Context, command string, opts ...Option) (models.CommandResult, error) {
	options := ApplyOptions(opts)

	runCtx := ctx
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	// Wait must not block on a reader that outlives the process, so
	// anything but a file is fed through a pipe nobody waits for
	var stdin io.WriteCloser
	switch r := options.Stdin.(type) {
	case nil:
	case *os.File:
		cmd.Stdin = r
	default:
		var err error
		if stdin, err = cmd.StdinPipe(); err != nil {
			return models.NewCommandResult(127, "", err.Error()), fmt.Errorf("failed to open stdin: %w", err)
		}
	}

	stdout := &lineWriter{fn: options.OnStdout}
	stderr := &lineWriter{fn: options.OnStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return models.NewCommandResult(127, "", err.Error()), fmt.Errorf("failed to start command: %w", err)
	}
	if stdin != nil {
		go func() {
			_, _ = io.Copy(stdin, options.Stdin)
			_ = stdin.Close()
		}()
	}
	pgid := cmd.Process.Pid
	if !options.Untracked {
		l.track(pgid, cmd)
		defer l.untrack(pgid)
	}

	err := cmd.Wait()
	stdout.flush()
	stderr.flush()

	result := models.NewCommandResult(exitCode(err), stdout.String(), stderr.String())
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return result, fmt.Errorf("%w after %s", ErrTimeout, options.Timeout)
	case ctx.Err() != nil:
		return result, ctx.Err()
	}
	return result, nil
}

// TerminateAll implements Executor. Process groups get SIGTERM, then
// SIGKILL if they are still around after a short grace period.
func (l *LocalExecutor) TerminateAll(ctx context.Context) error {
	pgids := l.tracked()
	if len(pgids) == 0 {
		return nil
	}
	for _, pgid := range pgids {
		_ = unix.Kill(-pgid, unix.SIGTERM)
	}

	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
	}

	var errs []error
	for _, pgid := range pgids {
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill process group %d: %w", pgid, err))
		}
	}
	return errors.Join(errs...)
}

// Tracked returns how many started processes have not finished yet
func (l *LocalExecutor) Tracked() int {
	return len(l.tracked())
}

func (l *LocalExecutor) track(pgid int, cmd *exec.Cmd) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.procs[pgid] = cmd
}

func (l *LocalExecutor) untrack(pgid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.procs, pgid)
}

func (l *LocalExecutor) tracked() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	pgids := make([]int, 0, len(l.procs))
	for pgid := range l.procs {
		pgids = append(pgids, pgid)
	}
	return pgids
}

// exitCode maps a Wait error to a shell-style exit code: 128+signal for
// processes killed by a signal
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 255
}
