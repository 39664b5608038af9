package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/lock"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
	"github.com/neilberkman/pcswitcher/internal/core/models"
	"github.com/neilberkman/pcswitcher/internal/core/orchestrator"
	"github.com/neilberkman/pcswitcher/internal/core/session"
	"github.com/neilberkman/pcswitcher/internal/interface/tui"
)

var syncYes bool

var syncCmd = &cobra.Command{
	Use:   "sync <target>",
	Short: "Sync this machine onto a target",
	Long: `Run one sync session from this machine (the source) to target.

Target is [user@]host[:port]. Both machines are locked for the whole
session, snapshots are taken before the first sync job and the configured
jobs run in order. Press ctrl+c to stop; running jobs get the configured
grace period before their processes are killed.

Exit status is 0 when the session completed, 130 when it was interrupted
and 1 when it failed.

Examples:
  pcswitcher sync desktop
  pcswitcher sync me@desktop.lan:2222 --config ~/pcswitcher.toml`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "Clear stale locks without asking")
}

func runSync(cmd *cobra.Command, args []string) error {
	target := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sourceHost, _ := os.Hostname()
	executable, _ := os.Executable()
	hosts := logging.Hosts{models.RoleSource: sourceHost, models.RoleTarget: target}
	bus := events.NewBus()

	// History is best effort; a broken database must not block a sync
	var store orchestrator.Store
	database, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: session history disabled: %v\n", err)
	} else {
		defer func() {
			_ = database.Close()
		}()
		store = database
	}

	interactive := term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
	var display *tui.Prompter
	var prompter lock.Prompter
	switch {
	case syncYes:
		prompter = yesPrompter{}
	case interactive:
		display = tui.NewPrompter()
		prompter = display
	default:
		prompter = stdinPrompter()
	}

	orch := orchestrator.New(orchestrator.Options{
		Config:         cfg,
		Bus:            bus,
		Source:         executor.NewLocal(),
		SourceHost:     sourceHost,
		TargetHost:     target,
		Connect:        orchestrator.SSHConnector(target, cfg.SSH, bus),
		SourceLockPath: filepath.Join(config.DataDir(), "pcswitcher.lock"),
		Prompter:       prompter,
		Store:          store,
		Version:        version,
		Executable:     executable,
	})

	logPath := filepath.Join(config.DataDir(), "logs",
		fmt.Sprintf("sync-%s-%s.log", orch.StartedAt().Format("20060102T150405"), orch.SessionID()))
	fileLog, err := logging.OpenFile(logPath, cfg.FileLevel, hosts)
	if err != nil {
		return err
	}
	defer func() {
		_ = fileLog.Close()
	}()
	orch.SetLogFile(logPath)

	fileSub := bus.Subscribe()
	go fileLog.Run(fileSub)
	displaySub := bus.Subscribe()

	var res *orchestrator.Result
	var runErr error
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, runErr = orch.Run(ctx)
		bus.Close()
	}()

	if interactive {
		model := tui.NewSyncModel(tui.SyncOptions{
			Events:    displaySub,
			Level:     cfg.TUILevel,
			SessionID: orch.SessionID(),
			Source:    sourceHost,
			Target:    target,
			Interrupt: cancel,
			Prompter:  display,
		})
		// ctrl+c arrives as a key; SIGTERM still goes to the context
		if _, err := tea.NewProgram(model, tea.WithoutSignalHandler()).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running display: %v\n", err)
			displaySub.Unsubscribe()
		}
		if display != nil {
			display.Close()
		}
	} else {
		tui.NewConsole(os.Stdout, cfg.TUILevel, hosts).Run(displaySub)
	}

	<-finished
	bus.Wait()

	code := orchestrator.ExitCode(res, runErr)
	if res == nil {
		if code == 0 {
			return nil
		}
		return &exitError{code: code, err: runErr}
	}

	fmt.Println()
	fmt.Println(session.RenderSummary(cfg.SummaryTemplate, res.Session))

	if res.RollbackAvailable() {
		offerRollback(cfg, res, target)
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// offerRollback asks whether to restore the target from the session's pre
// snapshots. Without a terminal to ask on it only prints the command.
func offerRollback(cfg *config.Config, res *orchestrator.Result, target string) {
	s := res.Session
	hint := fmt.Sprintf("pcswitcher rollback --session %s --target %s", s.ID, target)

	prompter := stdinPrompter()
	if prompter == nil {
		fmt.Printf("\nThe target can be restored to its state before this sync with:\n  %s\n", hint)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	ok, err := prompter.Confirm(ctx, fmt.Sprintf("Roll back %s to the snapshots taken before this sync?", s.TargetHost))
	if err != nil || !ok {
		fmt.Printf("Not rolling back. To do it later:\n  %s\n", hint)
		return
	}
	// The plan is shown and confirmed once more before anything changes
	if err := rollbackSession(ctx, cfg, s.ID, models.RoleTarget, target, prompter); err != nil {
		if errors.Is(err, errRollbackDeclined) {
			return
		}
		fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
	}
}
