package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var metricsRecent int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show orchestration metrics for this project",
	Long: `Show aggregated orchestration metrics from the project metrics store
(.conductor/metrics.db): totals, success rate, per-mode and per-category
call counts, failure counts, and the most recent delegations.`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().IntVar(&metricsRecent, "recent", 10, "Number of recent delegations to list")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(workDir)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("No metrics recorded yet.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening metrics store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating metrics store: %w", err)
	}

	all, err := db.AllMetrics()
	if err != nil {
		return fmt.Errorf("reading metrics: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No metrics recorded yet.")
		return nil
	}

	printSummary(all)

	recent, err := db.RecentMetrics(metricsRecent)
	if err != nil {
		return fmt.Errorf("reading recent metrics: %w", err)
	}
	fmt.Println()
	color.New(color.Bold).Println("Recent delegations:")
	for _, m := range recent {
		marker := color.New(color.FgGreen).Sprint("✓")
		if m.ReturnCode != models.ReturnSuccess {
			marker = color.New(color.FgRed).Sprint("✗")
		}
		fmt.Printf("  %s %-16s %-8s %-8s %s\n",
			marker, m.Category, m.Mode, m.ExecutionTime.Round(time.Millisecond),
			m.RecordedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printSummary(all []*models.OrchestrationMetric) {
	var (
		successes  int
		byMode     = make(map[string]int)
		byCategory = make(map[string]int)
		byCode     = make(map[string]int)
	)
	for _, m := range all {
		byMode[string(m.Mode)]++
		byCategory[m.Category]++
		if m.ReturnCode == models.ReturnSuccess {
			successes++
		} else {
			byCode[m.ReturnCode.String()]++
		}
	}

	color.New(color.Bold).Println("Orchestration metrics:")
	fmt.Printf("  total calls:   %d\n", len(all))
	fmt.Printf("  success rate:  %.1f%%\n", float64(successes)/float64(len(all))*100)
	fmt.Printf("  by mode:       local=%d external=%d\n", byMode["local"], byMode["external"])
	if len(byCategory) > 0 {
		fmt.Printf("  by category:  ")
		for cat, n := range byCategory {
			fmt.Printf(" %s=%d", cat, n)
		}
		fmt.Println()
	}
	if len(byCode) > 0 {
		fmt.Printf("  failures:     ")
		for code, n := range byCode {
			fmt.Printf(" %s=%d", code, n)
		}
		fmt.Println()
	}
}
