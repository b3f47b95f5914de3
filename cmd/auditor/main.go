// Command auditor harvests Brazilian public-auction notices into the
// Ache Sucatas datastore. One invocation runs one batch; scheduling is
// the operator's problem (cron, CI, a finger on the enter key).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/achesucatas/auditor/internal/buildinfo"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/pipeline"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "auditor",
	Short: "Harvest public-auction notices into the Ache Sucatas datastore",
	Long: `auditor collects scrap and vehicle auction notices from the PNCP
portal and from auctioneer sitemaps, extracts and validates them, and
writes the result to Supabase: sellable records into the primary table,
everything questionable into quarantine with its evidence.

The final summary line goes to stdout; diagnostics go to stderr.

Examples:
  auditor run --dias 3
  auditor run --source pncp --run-limit 50 -v
  auditor report --json`,
	Version:       buildinfo.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log.SetDefault(log.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"log per-candidate detail")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.Is(err, pipeline.ErrInterrupted) {
		os.Exit(ExitInterrupted)
	}
	os.Exit(ExitGeneral)
}
