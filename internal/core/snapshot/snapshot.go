// Package snapshot manages read-only btrfs snapshots taken around a sync
// session, restores from them, and prunes old sessions.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

const (
	// DefaultRoot is the subvolume that holds every snapshot. Keeping it a
	// separate subvolume stops a snapshot of / from recursing into it.
	DefaultRoot = "/.snapshots"

	appDir = "pcswitcher"
)

// Manager runs btrfs commands on one machine
type Manager struct {
	Executor executor.Executor
	Role     models.MachineRole
	Root     string
	Logger   *slog.Logger
}

// NewManager creates a manager rooted at DefaultRoot
func NewManager(ex executor.Executor, role models.MachineRole, logger *slog.Logger) *Manager {
	return &Manager{Executor: ex, Role: role, Root: DefaultRoot, Logger: logger}
}

// Session is the set of snapshots taken during one sync session
type Session struct {
	ID        string
	StartedAt time.Time
	Dir       string
	Snapshots []models.Snapshot
}

// Pre returns the session's pre-sync snapshots
func (s Session) Pre() []models.Snapshot {
	var pre []models.Snapshot
	for _, snap := range s.Snapshots {
		if snap.Phase == models.PhasePre {
			pre = append(pre, snap)
		}
	}
	return pre
}

func (m *Manager) baseDir() string {
	return path.Join(m.Root, appDir)
}

// SessionDir returns the folder that holds one session's snapshots
func (m *Manager) SessionDir(startedAt time.Time, sessionID string) string {
	return path.Join(m.baseDir(), models.SessionFolderName(startedAt, sessionID))
}

func (m *Manager) run(ctx context.Context, command string) (models.CommandResult, error) {
	result, err := m.Executor.Run(ctx, command)
	if err != nil {
		return result, err
	}
	if !result.Success() {
		return result, fmt.Errorf("%s: exit %d: %s", command, result.ExitCode(), strings.TrimSpace(result.Stderr()))
	}
	return result, nil
}

// Check verifies read-only that snapshots can be taken: btrfs is
// installed, each subvolume is mounted, and the snapshot root is either
// absent or a subvolume. Every problem is returned.
func (m *Manager) Check(ctx context.Context, subvolumes []string) []error {
	var problems []error
	result, err := m.Executor.Run(ctx, "command -v btrfs")
	if err != nil {
		return []error{err}
	}
	if !result.Success() {
		problems = append(problems, fmt.Errorf("btrfs command not found"))
	}

	for _, subvol := range subvolumes {
		if _, err := m.MountPoint(ctx, subvol); err != nil {
			problems = append(problems, err)
		}
	}

	result, err = m.Executor.Run(ctx, "test -e "+executor.Quote(m.Root))
	if err != nil {
		return append(problems, err)
	}
	if result.Success() {
		show, err := m.Executor.Run(ctx, "btrfs subvolume show "+executor.Quote(m.Root)+" >/dev/null 2>&1")
		if err != nil {
			return append(problems, err)
		}
		if !show.Success() {
			problems = append(problems, fmt.Errorf("%s exists but is not a btrfs subvolume", m.Root))
		}
	}
	return problems
}

// MountPoint resolves a subvolume name such as "@home" to where it is
// mounted
func (m *Manager) MountPoint(ctx context.Context, subvolume string) (string, error) {
	subvol := "/" + strings.TrimPrefix(subvolume, "/")
	result, err := m.Executor.Run(ctx, "findmnt -n -o TARGET -O "+executor.Quote("subvol="+subvol))
	if err != nil {
		return "", err
	}
	target, _, _ := strings.Cut(strings.TrimSpace(result.Stdout()), "\n")
	if !result.Success() || target == "" {
		return "", fmt.Errorf("subvolume %s is not mounted", subvolume)
	}
	return strings.TrimSpace(target), nil
}

// EnsureRoot creates the snapshot root subvolume if it does not exist
func (m *Manager) EnsureRoot(ctx context.Context) error {
	result, err := m.Executor.Run(ctx, "test -e "+executor.Quote(m.Root))
	if err != nil {
		return err
	}
	if !result.Success() {
		if _, err := m.run(ctx, "btrfs subvolume create "+executor.Quote(m.Root)); err != nil {
			return fmt.Errorf("failed to create snapshot root: %w", err)
		}
		m.Logger.Warn("created snapshot subvolume", "path", m.Root)
	}
	if _, err := m.run(ctx, "mkdir -p "+executor.Quote(m.baseDir())); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return nil
}

// Create takes a read-only snapshot of one subvolume
func (m *Manager) Create(ctx context.Context, sessionID string, startedAt time.Time, subvolume string, phase models.SnapshotPhase) (models.Snapshot, error) {
	mount, err := m.MountPoint(ctx, subvolume)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap := models.Snapshot{
		Subvolume: subvolume,
		Phase:     phase,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		SessionID: sessionID,
		Role:      m.Role,
	}
	dir := m.SessionDir(startedAt, sessionID)
	snap.Path = path.Join(dir, snap.Name())

	if _, err := m.run(ctx, "mkdir -p "+executor.Quote(dir)); err != nil {
		return snap, fmt.Errorf("failed to create session snapshot dir: %w", err)
	}
	if _, err := m.run(ctx, "btrfs subvolume snapshot -r "+executor.QuoteAll(mount, snap.Path)); err != nil {
		return snap, fmt.Errorf("failed to snapshot %s: %w", subvolume, err)
	}
	return snap, nil
}

// List returns every session that has snapshots, oldest first
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	base := m.baseDir()
	result, err := m.Executor.Run(ctx, "find "+executor.Quote(base)+" -mindepth 1 -maxdepth 2 -printf '%P\\n' 2>/dev/null")
	if err != nil {
		return nil, err
	}
	return parseListing(base, m.Role, result.Stdout()), nil
}

// parseListing turns `find -printf %P` output into sessions. Entries that
// do not follow the naming scheme are ignored.
func parseListing(base string, role models.MachineRole, output string) []Session {
	byFolder := make(map[string]*Session)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		folder, name, _ := strings.Cut(line, "/")
		startedAt, id, err := models.ParseSessionFolder(folder)
		if err != nil {
			continue
		}
		s, ok := byFolder[folder]
		if !ok {
			s = &Session{ID: id, StartedAt: startedAt, Dir: path.Join(base, folder)}
			byFolder[folder] = s
		}
		if name == "" {
			continue
		}
		snap, err := models.ParseSnapshotName(name)
		if err != nil || snap.SessionID != id {
			continue
		}
		snap.Role = role
		snap.Path = path.Join(s.Dir, name)
		s.Snapshots = append(s.Snapshots, snap)
	}

	sessions := make([]Session, 0, len(byFolder))
	for _, s := range byFolder {
		sort.Slice(s.Snapshots, func(i, j int) bool { return s.Snapshots[i].Name() < s.Snapshots[j].Name() })
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}

// Find returns the snapshots of one session
func (m *Manager) Find(ctx context.Context, sessionID string) (Session, error) {
	sessions, err := m.List(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return s, nil
		}
	}
	return Session{}, fmt.Errorf("no snapshots for session %s on %s", sessionID, m.Role)
}

// Delete removes every snapshot of a session and then its folder
func (m *Manager) Delete(ctx context.Context, s Session) error {
	for _, snap := range s.Snapshots {
		if _, err := m.run(ctx, "btrfs subvolume delete "+executor.Quote(snap.Path)); err != nil {
			return fmt.Errorf("failed to delete snapshot %s: %w", snap.Name(), err)
		}
	}
	if _, err := m.run(ctx, "rmdir "+executor.Quote(s.Dir)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.Dir, err)
	}
	return nil
}
