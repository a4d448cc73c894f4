package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// reportCmd summarizes execution attempt history from the workspace database.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize execution attempt history per candidate",
	Long: `Aggregates the attempt history database: per-candidate success rate,
average duration, and the most frequent failure messages.`,
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	_, mgr, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := mgr.History().AnalyzeStored()
	if err != nil {
		return fmt.Errorf("failed to analyze attempt history: %w", err)
	}
	if len(stats) == 0 {
		fmt.Println("No execution attempts recorded yet.")
		return nil
	}

	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := stats[id]
		fmt.Printf("%s  %d attempts, %.0f%% success, avg %.0fms\n",
			candidateStyle.Render(fmt.Sprintf("%-24s", id)),
			s.TotalAttempts, s.SuccessRate*100, s.AvgDurationMs)
		for _, e := range s.TopErrors {
			fmt.Println(signalStyle.Render(fmt.Sprintf("    %dx %s", e.Count, e.Message)))
		}
	}
	return nil
}
