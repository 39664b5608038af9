package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sync history statistics",
	Long: `Display statistics about recorded sync sessions.

Shows session counts by status, per-job outcomes, date range, the most
synced target and storage info.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	stats, err := database.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}

	fmt.Println("Sync History Statistics")
	fmt.Println("=======================")
	fmt.Println()

	fmt.Printf("Total Sessions:    %d\n", stats.TotalSessions)
	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %-16s %d\n", status+":", stats.ByStatus[status])
	}
	fmt.Println()

	if stats.TotalSessions > 0 {
		fmt.Printf("Oldest Session:    %s\n", stats.OldestSession.Local().Format("Jan 2, 2006 3:04 PM"))
		fmt.Printf("Newest Session:    %s (%s)\n", stats.NewestSession.Local().Format("Jan 2, 2006 3:04 PM"), humanize.Time(stats.NewestSession))
		if stats.AvgCompleted > 0 {
			fmt.Printf("Average Sync:      %s\n", stats.AvgCompleted.Round(time.Second))
		}
		fmt.Println()

		if stats.MostSynced != "" {
			fmt.Printf("Most Synced Target:\n")
			fmt.Printf("  Host:     %s\n", stats.MostSynced)
			fmt.Printf("  Sessions: %d\n", stats.MostSyncedN)
			fmt.Println()
		}

		if len(stats.Jobs) > 0 {
			fmt.Println("Job Outcomes:")
			fmt.Printf("  %-24s %8s %8s %8s\n", "JOB", "SUCCESS", "FAILED", "SKIPPED")
			for _, j := range stats.Jobs {
				fmt.Printf("  %-24s %8d %8d %8d\n", j.Job, j.Success, j.Failed, j.Skipped)
			}
			fmt.Println()
		}
	}

	fileInfo, err := os.Stat(dbPath)
	if err != nil {
		return fmt.Errorf("failed to stat database file: %w", err)
	}
	fmt.Printf("Database Location: %s\n", dbPath)
	fmt.Printf("Database Size:     %s\n", humanize.Bytes(uint64(fileInfo.Size())))

	return nil
}
