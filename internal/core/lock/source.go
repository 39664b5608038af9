package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// SourceLock is an exclusive flock on a local file, held for the lifetime
// of the open descriptor
type SourceLock struct {
	path string
	f    *os.File
}

// AcquireSource takes the source lock without blocking. A lock held by a
// live process fails with a *HeldError; one whose recorded holder is dead
// is offered to the user for clearing.
func AcquireSource(ctx context.Context, path string, holder Holder, prompt Prompter, logger *slog.Logger) (*SourceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	// A cleared stale lock gets exactly one retry
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file: %w", err)
		}

		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			if err := writeHolder(f, holder); err != nil {
				_ = f.Close()
				return nil, err
			}
			return &SourceLock{path: path, f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}

		data, _ := io.ReadAll(f)
		_ = f.Close()
		current, perr := ParseHolder(string(data))
		if perr != nil || processAlive(current.PID) || attempt > 0 {
			return nil, &HeldError{Role: models.RoleSource, Holder: current}
		}

		if err := resolveStale(ctx, models.RoleSource, path, current, prompt, logger); err != nil {
			return nil, err
		}
		// Whoever still holds the old inode keeps it; we lock a fresh file
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
}

func writeHolder(f *os.File, holder Holder) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(holder.String()+"\n"), 0); err != nil {
		return fmt.Errorf("failed to write lock holder: %w", err)
	}
	return nil
}

// Path returns the lock file path
func (l *SourceLock) Path() string {
	return l.path
}

// Release drops the lock. The file stays so that its inode is stable for
// the next run.
func (l *SourceLock) Release() error {
	if l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return fmt.Errorf("failed to release source lock: %w", err)
	}
	return nil
}

// processAlive checks for a process with signal 0. EPERM still means the
// process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
