package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/db"
)

var (
	configPath string
	dbPath     string
	version    = "dev"
)

// SetVersion sets the version information from build-time ldflags. The
// first line of --version must stay "pcswitcher version X": the install
// job reads it back from the target.
func SetVersion(v, commit, date string) {
	version = v
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(fmt.Sprintf("pcswitcher version %s\ncommit: %s, built: %s\n", v, commit, date))
}

// exitError ends the process with a specific status. A nil err means the
// failure was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the CLI
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exit.err)
		}
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:   "pcswitcher",
	Short: "Sync one Linux machine onto another",
	Long: `pcswitcher - make a target machine a copy of this one

Every sync runs as a session: both machines are locked, btrfs snapshots are
taken before anything changes, the configured sync jobs run in order and
the free disk space on both sides is watched until the session ends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", db.DefaultPath(config.DataDir()), "Session history database path")
}

// loadConfig reads --config, pointing at `pcswitcher init` when the file
// does not exist
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no config at %s (run 'pcswitcher init' to create one)", configPath)
	}
	return config.Load(configPath)
}

// openDB opens the history database, creating its directory
func openDB() (*db.DB, error) {
	database, err := db.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}
