// Package lock keeps two syncs from running against the same machines at
// once. The source is locked with flock(2) on a local file; the target with
// flock(1) held by a placeholder process on the SSH connection.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

var (
	// ErrLockHeld means a live process owns the lock
	ErrLockHeld = errors.New("another sync is in progress")

	// ErrStaleNotCleared means the user declined to clear a stale lock
	ErrStaleNotCleared = errors.New("stale lock was not cleared")
)

// Prompter asks the user a yes/no question
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Holder identifies who owns a lock. It is stored in the lock file as
// PID|SESSION|HOST|TIMESTAMP.
type Holder struct {
	PID       int
	SessionID string
	Host      string
	Since     time.Time
}

// NewHolder describes the current process
func NewHolder(sessionID string) Holder {
	host, _ := os.Hostname()
	return Holder{
		PID:       os.Getpid(),
		SessionID: sessionID,
		Host:      host,
		Since:     time.Now(),
	}
}

func (h Holder) String() string {
	return fmt.Sprintf("%d|%s|%s|%s", h.PID, h.SessionID, h.Host, h.Since.UTC().Format(time.RFC3339))
}

// ParseHolder reads a holder line. Missing trailing fields are tolerated so
// a half-written file still yields the PID.
func ParseHolder(line string) (Holder, error) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	pid, err := strconv.Atoi(parts[0])
	if err != nil || pid <= 0 {
		return Holder{}, fmt.Errorf("invalid lock holder %q", line)
	}
	h := Holder{PID: pid}
	if len(parts) > 1 {
		h.SessionID = parts[1]
	}
	if len(parts) > 2 {
		h.Host = parts[2]
	}
	if len(parts) > 3 {
		h.Since, _ = time.Parse(time.RFC3339, parts[3])
	}
	return h, nil
}

// HeldError reports a lock owned by a live process
type HeldError struct {
	Role   models.MachineRole
	Holder Holder
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("%s: %s lock held by pid %d", ErrLockHeld, e.Role, e.Holder.PID)
	if e.Holder.SessionID != "" {
		msg += fmt.Sprintf(" (session %s", e.Holder.SessionID)
		if !e.Holder.Since.IsZero() {
			msg += fmt.Sprintf(" since %s", e.Holder.Since.Local().Format(time.DateTime))
		}
		msg += ")"
	}
	return msg
}

func (e *HeldError) Unwrap() error {
	return ErrLockHeld
}

// Lock is an acquired lock
type Lock interface {
	Release() error
}

// resolveStale decides what to do with a lock whose holder is gone. It
// returns nil when the caller may clear the lock and try again.
func resolveStale(ctx context.Context, role models.MachineRole, path string, holder Holder, prompt Prompter, logger *slog.Logger) error {
	logger.Warn("stale lock found",
		"role", string(role),
		"path", path,
		"holder_pid", holder.PID,
		"holder_session", holder.SessionID)

	if prompt == nil {
		return fmt.Errorf("%w: %s lock %s (pid %d no longer running)", ErrStaleNotCleared, role, path, holder.PID)
	}
	question := fmt.Sprintf("The %s lock %s belongs to pid %d, which is no longer running. Clear it?", role, path, holder.PID)
	ok, err := prompt.Confirm(ctx, question)
	if err != nil {
		return fmt.Errorf("failed to confirm stale lock removal: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s lock %s", ErrStaleNotCleared, role, path)
	}
	logger.Info("clearing stale lock", "role", string(role), "path", path)
	return nil
}
