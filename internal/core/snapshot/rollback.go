package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
)

// rollbackScript swaps a subvolume for a writable copy of a snapshot. The
// top-level subvolume (id 5) is mounted on a scratch dir so the live
// subvolume can be renamed aside rather than deleted.
const rollbackScript = `set -e
dev=$(findmnt -n -o SOURCE --target %[1]s | sed 's/\[.*\]$//')
top=$(mktemp -d)
trap 'umount "$top" 2>/dev/null; rmdir "$top"' EXIT
mount -o subvolid=5 "$dev" "$top"
mv "$top"/%[2]s "$top"/%[3]s
btrfs subvolume snapshot %[4]s "$top"/%[2]s`

// RollbackPlan describes what a rollback of one session would replace
type RollbackPlan struct {
	Session Session
	Steps   []RollbackStep
}

// RollbackStep restores one subvolume
type RollbackStep struct {
	Subvolume string
	From      string // snapshot path
	Aside     string // name the current subvolume is renamed to
}

// PlanRollback builds the steps for restoring a session's pre snapshots
func (m *Manager) PlanRollback(ctx context.Context, sessionID string, now time.Time) (RollbackPlan, error) {
	s, err := m.Find(ctx, sessionID)
	if err != nil {
		return RollbackPlan{}, err
	}
	pre := s.Pre()
	if len(pre) == 0 {
		return RollbackPlan{}, fmt.Errorf("session %s has no pre-sync snapshots on %s", sessionID, m.Role)
	}
	plan := RollbackPlan{Session: s}
	for _, snap := range pre {
		plan.Steps = append(plan.Steps, RollbackStep{
			Subvolume: snap.Subvolume,
			From:      snap.Path,
			Aside:     fmt.Sprintf("%s.before-rollback-%s", snap.Subvolume, now.UTC().Format("20060102T150405")),
		})
	}
	return plan, nil
}

// Rollback executes a plan. The restored subvolumes take effect after the
// machine is rebooted; the replaced ones are kept under their aside names.
func (m *Manager) Rollback(ctx context.Context, plan RollbackPlan) error {
	for _, step := range plan.Steps {
		script := fmt.Sprintf(rollbackScript,
			executor.Quote(m.Root),
			executor.Quote(strings.TrimPrefix(step.Subvolume, "/")),
			executor.Quote(step.Aside),
			executor.Quote(step.From))
		if _, err := m.run(ctx, "sh -c "+executor.Quote(script)); err != nil {
			return fmt.Errorf("failed to roll back %s: %w", step.Subvolume, err)
		}
		m.Logger.Info("subvolume restored",
			"subvolume", step.Subvolume,
			"from", step.From,
			"previous", step.Aside)
	}
	return nil
}
