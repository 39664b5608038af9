package lock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	pathpkg "path"
	"strings"
	"sync"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// flockBusy is the exit code flock(1) uses when the lock is taken
const flockBusy = 75

const lockedMarker = "LOCKED"

// TargetLock is held by a placeholder process on the target that owns the
// flock and blocks reading stdin. Closing stdin ends it and frees the lock.
type TargetLock struct {
	path   string
	stdin  *io.PipeWriter
	cancel context.CancelFunc
	done   chan lockResult

	once sync.Once
	err  error
}

type lockResult struct {
	result models.CommandResult
	err    error
}

// AcquireTarget takes the target lock without blocking. The placeholder
// runs untracked so bulk termination at the end of a session does not free
// the lock before Release.
func AcquireTarget(ctx context.Context, ex executor.Executor, path string, holder Holder, prompt Prompter, logger *slog.Logger) (*TargetLock, error) {
	for attempt := 0; ; attempt++ {
		lock, result, err := startPlaceholder(ctx, ex, path, holder)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}
		if result.ExitCode() != flockBusy {
			return nil, fmt.Errorf("failed to lock %s on target (exit %d): %s",
				path, result.ExitCode(), strings.TrimSpace(result.Stderr()))
		}

		current, alive, err := remoteHolder(ctx, ex, path)
		if err != nil {
			return nil, err
		}
		if alive || attempt > 0 {
			return nil, &HeldError{Role: models.RoleTarget, Holder: current}
		}
		if err := resolveStale(ctx, models.RoleTarget, path, current, prompt, logger); err != nil {
			return nil, err
		}
		if _, err := ex.Run(ctx, "rm -f "+executor.Quote(path)); err != nil {
			return nil, fmt.Errorf("failed to remove stale target lock: %w", err)
		}
	}
}

// placeholderCommand writes the holder line with the placeholder's own PID
// (cat keeps the PID of the shell it replaces) and then blocks on stdin
func placeholderCommand(path string, holder Holder) string {
	dir := pathpkg.Dir(path)
	rest := strings.SplitN(holder.String(), "|", 2)[1]
	body := fmt.Sprintf("printf '%%s|%%s\\n' $$ %s > %s; echo %s; exec cat",
		executor.Quote(rest), executor.Quote(path), lockedMarker)
	cmd := fmt.Sprintf("flock -n -E %d %s sh -c %s", flockBusy, executor.Quote(path), executor.Quote(body))
	if dir != "." && dir != "/" {
		cmd = "mkdir -p " + executor.Quote(dir) + " && " + cmd
	}
	return cmd
}

// startPlaceholder returns a lock once the placeholder reports it holds
// the flock, or the finished command's result if it exited first
func startPlaceholder(ctx context.Context, ex executor.Executor, path string, holder Holder) (*TargetLock, models.CommandResult, error) {
	stdinR, stdinW := io.Pipe()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	locked := make(chan struct{})
	var lockedOnce sync.Once

	l := &TargetLock{
		path:   path,
		stdin:  stdinW,
		cancel: cancel,
		done:   make(chan lockResult, 1),
	}
	go func() {
		result, err := ex.Run(runCtx, placeholderCommand(path, holder),
			executor.WithStdin(stdinR),
			executor.Untracked(),
			executor.OnStdout(func(line string) {
				if strings.TrimSpace(line) == lockedMarker {
					lockedOnce.Do(func() { close(locked) })
				}
			}))
		_ = stdinR.Close()
		l.done <- lockResult{result: result, err: err}
	}()

	select {
	case <-locked:
		return l, models.CommandResult{}, nil
	case r := <-l.done:
		cancel()
		_ = stdinW.Close()
		if r.err != nil {
			return nil, r.result, fmt.Errorf("failed to lock target: %w", r.err)
		}
		return nil, r.result, nil
	case <-ctx.Done():
		_ = stdinW.Close()
		cancel()
		<-l.done
		return nil, models.CommandResult{}, ctx.Err()
	}
}

// remoteHolder reads the target lock file and checks whether its PID lives
func remoteHolder(ctx context.Context, ex executor.Executor, path string) (Holder, bool, error) {
	result, err := ex.Run(ctx, "cat "+executor.Quote(path)+" 2>/dev/null")
	if err != nil {
		return Holder{}, false, fmt.Errorf("failed to read target lock: %w", err)
	}
	holder, perr := ParseHolder(result.Stdout())
	if perr != nil {
		// Holder not written yet: the owner is still starting up
		return holder, true, nil
	}
	check, err := ex.Run(ctx, fmt.Sprintf("kill -0 %d 2>/dev/null", holder.PID))
	if err != nil {
		return holder, false, fmt.Errorf("failed to check target lock holder: %w", err)
	}
	return holder, check.Success(), nil
}

// Path returns the lock file path on the target
func (l *TargetLock) Path() string {
	return l.path
}

// Release closes the placeholder's stdin and waits for it to exit
func (l *TargetLock) Release() error {
	l.once.Do(func() {
		_ = l.stdin.Close()
		select {
		case r := <-l.done:
			if r.err != nil {
				l.err = fmt.Errorf("target lock placeholder failed: %w", r.err)
			}
		case <-time.After(10 * time.Second):
			l.err = fmt.Errorf("target lock placeholder did not exit")
		}
		l.cancel()
	})
	return l.err
}
