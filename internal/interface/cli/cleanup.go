package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/jobs"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
	"github.com/neilberkman/pcswitcher/internal/core/models"
	"github.com/neilberkman/pcswitcher/internal/core/snapshot"
)

var (
	cleanupKeepRecent int
	cleanupMaxAge     string
	cleanupBefore     string
	cleanupTarget     string
	cleanupDryRun     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-snapshots",
	Short: "Delete old sync snapshots",
	Long: `Delete the snapshots of old sessions on this machine and, with --target,
on the target too. Pre and post snapshots of a session go together.

The newest --keep-recent sessions are always kept. Of the rest, sessions
older than --max-age or started before --before are deleted; with neither
set, all of the rest are. Defaults come from the btrfs_snapshots block.

Examples:
  pcswitcher cleanup-snapshots --dry-run
  pcswitcher cleanup-snapshots --keep-recent 2 --max-age 7d --target desktop
  pcswitcher cleanup-snapshots --before "2 weeks ago"`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupKeepRecent, "keep-recent", jobs.DefaultKeepRecent, "Number of newest sessions to keep")
	cleanupCmd.Flags().StringVar(&cleanupMaxAge, "max-age", "", "Delete sessions older than this (e.g. 7d, 36h)")
	cleanupCmd.Flags().StringVar(&cleanupBefore, "before", "", `Delete sessions started before this (e.g. "2 weeks ago", 2026-03-01)`)
	cleanupCmd.Flags().StringVar(&cleanupTarget, "target", "", "Also clean up this target host")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Only show what would be deleted")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params, errs := jobs.ParseSnapshotParams(cfg.Params(jobs.SnapshotJobName))
	if len(errs) > 0 {
		return errs[0]
	}

	now := time.Now()
	retention := snapshot.Retention{
		KeepRecent: params.KeepRecent,
		MaxAge:     time.Duration(params.MaxAgeDays) * 24 * time.Hour,
	}
	if cmd.Flags().Changed("keep-recent") {
		if cleanupKeepRecent < 0 {
			return errors.New("--keep-recent must not be negative")
		}
		retention.KeepRecent = cleanupKeepRecent
	}
	if cleanupMaxAge != "" {
		if retention.MaxAge, err = parseAge(cleanupMaxAge); err != nil {
			return err
		}
	}
	if cleanupBefore != "" {
		if retention.Before, err = parseCutoff(cleanupBefore, now); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roles := []models.MachineRole{models.RoleSource}
	if cleanupTarget != "" {
		roles = append(roles, models.RoleTarget)
	}
	for _, role := range roles {
		if err := cleanupMachine(ctx, cfg, role, retention, now); err != nil {
			return err
		}
	}
	return nil
}

func cleanupMachine(ctx context.Context, cfg *config.Config, role models.MachineRole, retention snapshot.Retention, now time.Time) error {
	m, err := openMachine(ctx, cfg, role, cleanupTarget)
	if err != nil {
		return err
	}
	defer m.close()

	mgr := snapshot.NewManager(m.exec, role, logging.NewCommandLogger(models.LevelInfo))
	sessions, err := mgr.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots on %s: %w", m.host, err)
	}
	prune := retention.Select(sessions, now)

	fmt.Printf("%s (%s): %d session(s) with snapshots, %d to delete\n", role, m.host, len(sessions), len(prune))
	for _, s := range prune {
		verb := "deleting"
		if cleanupDryRun {
			verb = "would delete"
		}
		fmt.Printf("  %s %s (%s, %d snapshot(s), %s)\n",
			verb, s.ID, s.StartedAt.Local().Format("Jan 2, 2006 3:04 PM"), len(s.Snapshots), humanize.Time(s.StartedAt))
		if cleanupDryRun {
			continue
		}
		if err := mgr.Delete(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
