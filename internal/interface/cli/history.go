package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/pcswitcher/internal/core/db"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sync sessions",
	Long: `List recorded sync sessions, newest first.

Shows status, machines, timing, the failed job if any and the log file.

Examples:
  pcswitcher history
  pcswitcher history --limit 5`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of sessions to display")
}

func runHistory(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	sessions, err := database.ListSessions(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded yet. Run 'pcswitcher sync <target>' to start one.")
		return nil
	}

	fmt.Printf("Showing %d session(s)\n\n", len(sessions))
	for i, s := range sessions {
		printSession(i+1, s)
	}
	return nil
}

func printSession(n int, s db.SessionRow) {
	fmt.Printf("[%d] %s  %s\n", n, s.SessionID, strings.ToUpper(string(s.Status)))
	fmt.Printf("    Machines: %s -> %s\n", s.SourceHost, s.TargetHost)
	fmt.Printf("    Started:  %s (%s)\n", humanize.Time(s.StartedAt), s.StartedAt.Local().Format("Jan 2, 2006 3:04 PM"))
	if d := s.Duration(); d > 0 {
		fmt.Printf("    Duration: %s\n", d.Round(time.Second))
	}
	fmt.Printf("    Jobs:     %d\n", s.JobCount)
	if s.Error != "" {
		reason := truncateReason(s.Error, 80)
		if s.FailedJob != "" {
			reason = s.FailedJob + ": " + reason
		}
		fmt.Printf("    Reason:   %s\n", reason)
	}
	if s.Version != "" {
		fmt.Printf("    Version:  %s\n", s.Version)
	}
	if s.LogFile != "" {
		fmt.Printf("    Log:      %s\n", s.LogFile)
	}
	fmt.Println()
}

// truncateReason keeps the first line of an error, cut at a word
func truncateReason(reason string, maxLen int) string {
	reason, _, _ = strings.Cut(reason, "\n")
	reason = strings.Join(strings.Fields(reason), " ")
	if len(reason) <= maxLen {
		return reason
	}

	truncated := reason[:maxLen]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen-20 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
