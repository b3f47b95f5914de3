package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/achesucatas/auditor/internal/config"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/store"
)

var (
	reportJSON  bool
	reportLimit int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show recent run executions",
	Long: `Show the most recent runs with their status, counters and cost,
newest first. --json emits the same rows as a JSON array for scripts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeReport(cmd.Context())
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "emit JSON instead of a table")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 20, "number of runs to show")
}

func executeReport(ctx context.Context) error {
	cfg := config.FromEnv()
	if err := cfg.ValidateDatastore(); err != nil {
		return err
	}
	dsn, err := store.DSN(cfg.SupabaseURL, cfg.SupabaseDBPassword)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, store.Options{
		DSN:            dsn,
		MaxPrimaryRows: cfg.MaxPrimaryRows,
		Logger:         log.Default(),
	})
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(ctx, reportLimit)
	if err != nil {
		return err
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	printRuns(runs)
	return nil
}

// printRuns renders the table variant of the report.
func printRuns(runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}
	fmt.Printf("%-34s %-8s %-12s %-17s %8s %6s %6s %5s %9s\n",
		"RUN", "STATUS", "MODE", "START", "DUR", "FOUND", "NEW", "SKIP", "COST")
	for _, run := range runs {
		fmt.Printf("%-34s %-8s %-12s %-17s %8s %6d %6d %5d %9s\n",
			run.RunID,
			run.Status,
			run.Mode,
			run.Start.Format("2006-01-02 15:04"),
			runDuration(run),
			run.Encontrados,
			run.Novos,
			run.SkipExiste,
			fmt.Sprintf("$%.4f", run.CostTotal),
		)
	}
}

// runDuration formats the wall time of a finished run; unfinished runs
// show a dash.
func runDuration(run store.RunSummary) string {
	if run.End == nil {
		return "-"
	}
	d := run.End.Sub(run.Start).Round(time.Second)
	return d.String()
}
