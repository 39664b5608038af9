package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/lock"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
	"github.com/neilberkman/pcswitcher/internal/core/models"
	"github.com/neilberkman/pcswitcher/internal/core/snapshot"
)

var errRollbackDeclined = errors.New("rollback cancelled")

var (
	rollbackSessionID string
	rollbackRole      string
	rollbackTarget    string
	rollbackYes       bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore subvolumes from a session's pre-sync snapshots",
	Long: `Restore every subvolume snapshotted before a sync session started.

The current subvolumes are kept under a .before-rollback-<time> name and the
restored ones take effect after a reboot. Without --session the newest
session in the history that took snapshots is used.

Examples:
  pcswitcher rollback --target desktop
  pcswitcher rollback --session 1a2b3c4d --role source`,
	Args: cobra.NoArgs,
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().StringVar(&rollbackSessionID, "session", "", "Session whose snapshots to restore (default: latest)")
	rollbackCmd.Flags().StringVar(&rollbackRole, "role", string(models.RoleTarget), "Machine to roll back: source or target")
	rollbackCmd.Flags().StringVar(&rollbackTarget, "target", "", "Target host (default: the session's target)")
	rollbackCmd.Flags().BoolVarP(&rollbackYes, "yes", "y", false, "Do not ask for confirmation")
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	role := models.MachineRole(rollbackRole)

	sessionID, target := rollbackSessionID, rollbackTarget
	if sessionID == "" || (role == models.RoleTarget && target == "") {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer func() {
			_ = database.Close()
		}()

		if sessionID == "" {
			sessionID, err = database.LatestWithSnapshots()
			if err != nil {
				return fmt.Errorf("failed to read session history: %w", err)
			}
			if sessionID == "" {
				return errors.New("no session with snapshots in the history; pass --session")
			}
		}
		if role == models.RoleTarget && target == "" {
			s, _, err := database.GetSession(sessionID)
			if err != nil {
				return fmt.Errorf("failed to read session history: %w", err)
			}
			if s == nil {
				return fmt.Errorf("session %s is not in the history; pass --target", sessionID)
			}
			target = s.TargetHost
		}
	}

	var confirm lock.Prompter = yesPrompter{}
	if !rollbackYes {
		confirm = stdinPrompter()
		if confirm == nil {
			return errors.New("refusing to roll back without confirmation; pass --yes")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = rollbackSession(ctx, cfg, sessionID, role, target, confirm)
	if errors.Is(err, errRollbackDeclined) {
		return &exitError{code: 1}
	}
	return err
}

// rollbackSession shows the plan for one machine, asks for confirmation
// and restores the session's pre snapshots
func rollbackSession(ctx context.Context, cfg *config.Config, sessionID string, role models.MachineRole, target string, confirm lock.Prompter) error {
	m, err := openMachine(ctx, cfg, role, target)
	if err != nil {
		return err
	}
	defer m.close()

	mgr := snapshot.NewManager(m.exec, role, logging.NewCommandLogger(models.LevelInfo))
	plan, err := mgr.PlanRollback(ctx, sessionID, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Rolling back %s (%s) to session %s, taken %s:\n",
		role, m.host, sessionID, plan.Session.StartedAt.Local().Format("Jan 2, 2006 3:04 PM"))
	for _, step := range plan.Steps {
		fmt.Printf("  %-10s <- %s\n", step.Subvolume, step.From)
		fmt.Printf("  %-10s    current kept as %s\n", "", step.Aside)
	}

	ok, err := confirm.Confirm(ctx, "Proceed?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Rollback cancelled.")
		return errRollbackDeclined
	}

	if err := mgr.Rollback(ctx, plan); err != nil {
		return err
	}
	fmt.Printf("Rollback complete. Reboot %s to use the restored subvolumes.\n", m.host)
	return nil
}
