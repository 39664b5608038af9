package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SnapshotPhase says whether a snapshot precedes or follows the sync
type SnapshotPhase string

const (
	PhasePre  SnapshotPhase = "pre"
	PhasePost SnapshotPhase = "post"
)

// SnapshotTimeLayout sorts lexicographically in time order
const SnapshotTimeLayout = "20060102T150405"

var snapshotNamePattern = regexp.MustCompile(`^(.+)-(pre|post)-(\d{8}T\d{6})-([0-9a-f]{8})$`)

// Snapshot is a read-only copy of one subvolume taken during a session
type Snapshot struct {
	Subvolume string
	Phase     SnapshotPhase
	Timestamp time.Time
	SessionID string
	Role      MachineRole
	Path      string
}

// Name is <subvolume>-<phase>-<timestamp>-<session-id>
func (s Snapshot) Name() string {
	return fmt.Sprintf("%s-%s-%s-%s", s.Subvolume, s.Phase, s.Timestamp.UTC().Format(SnapshotTimeLayout), s.SessionID)
}

// ParseSnapshotName reverses Name. Role and Path are left empty.
func ParseSnapshotName(name string) (Snapshot, error) {
	m := snapshotNamePattern.FindStringSubmatch(name)
	if m == nil {
		return Snapshot{}, fmt.Errorf("not a snapshot name: %q", name)
	}
	ts, err := time.Parse(SnapshotTimeLayout, m[3])
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %q: %w", name, err)
	}
	return Snapshot{
		Subvolume: m[1],
		Phase:     SnapshotPhase(m[2]),
		Timestamp: ts,
		SessionID: m[4],
	}, nil
}

// SessionFolderName is <timestamp>-<session-id>
func SessionFolderName(startedAt time.Time, sessionID string) string {
	return startedAt.UTC().Format(SnapshotTimeLayout) + "-" + sessionID
}

// ParseSessionFolder splits a session folder name into start time and ID
func ParseSessionFolder(name string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(name, "-")
	if !ok || !sessionIDPattern.MatchString(id) {
		return time.Time{}, "", fmt.Errorf("not a session folder: %q", name)
	}
	t, err := time.Parse(SnapshotTimeLayout, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("session folder %q: %w", name, err)
	}
	return t, id, nil
}
