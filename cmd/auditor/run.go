package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/achesucatas/auditor/internal/alert"
	"github.com/achesucatas/auditor/internal/buildinfo"
	"github.com/achesucatas/auditor/internal/cascade"
	"github.com/achesucatas/auditor/internal/config"
	"github.com/achesucatas/auditor/internal/enrich"
	"github.com/achesucatas/auditor/internal/fetch"
	"github.com/achesucatas/auditor/internal/httputil"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/pipeline"
	"github.com/achesucatas/auditor/internal/runtrack"
	"github.com/achesucatas/auditor/internal/source"
	"github.com/achesucatas/auditor/internal/store"
	"github.com/achesucatas/auditor/internal/validate"
)

var (
	runDias      int
	runPaginas   int
	runTamanho   int
	runLimit     int
	runForce     bool
	runSource    string
	runReportDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one harvest run",
	Long: `Run one batch: discover candidates on every enabled source, fetch
and extract each notice, resolve and validate the record, and write it
to the primary table or to quarantine.

Without --force the run is INCREMENTAL: records whose id_interno is
already stored are skipped. With --force everything found is
reprocessed and overwritten (FULL mode).

The run closes with a summary line on stdout:

  RUN <id> <STATUS> total=<n> valid=<n> quarantine=<n> dur=<s>s cost=$<x>

Exit status is 0 on SUCCESS, 1 on a fatal error and 130 when the run
was interrupted by SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(cmd.Context())
	},
}

func init() {
	runCmd.Flags().IntVar(&runDias, "dias", 1,
		"lookback window in days for the PNCP search")
	runCmd.Flags().IntVar(&runPaginas, "paginas", 5,
		"page cap per search term")
	runCmd.Flags().IntVar(&runTamanho, "tamanho", 50,
		"search page size (10-500)")
	runCmd.Flags().IntVar(&runLimit, "run-limit", 0,
		"cap on candidates processed this run (0 = no cap)")
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"FULL mode: reprocess and overwrite existing records")
	runCmd.Flags().StringVar(&runSource, "source", "",
		"restrict the run to one catalog source")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "",
		"write per-source discovery reports into this directory")
}

// executeRun runs the harvest and owns the fatal-path alert: any error
// that is not an operator interrupt goes out by email before the exit
// code does.
func executeRun(ctx context.Context) error {
	cfg := config.FromEnv()
	logger := log.Default()
	mailer := alert.New(alert.Options{
		From:     cfg.EmailAddress,
		Password: cfg.EmailAppPassword,
		To:       cfg.AlertEmailTo,
		Logger:   logger,
	})

	runID, err := harvest(ctx, cfg, logger)
	if err != nil && !errors.Is(err, pipeline.ErrInterrupted) {
		if alertErr := mailer.RunFailed(runID, failureReason(err), err); alertErr != nil {
			logger.Error("alert email not sent", "error", alertErr)
		}
	}
	if err != nil && runID != "" {
		// The one-line failure reason must name the run it belongs to.
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return err
}

// harvest wires the whole pipeline and runs it. The returned run id is
// empty when the failure happened before the tracker existed.
func harvest(ctx context.Context, cfg *config.Config, logger log.Logger) (string, error) {
	if err := cfg.ValidateDatastore(); err != nil {
		return "", err
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return "", err
	}

	dsn, err := store.DSN(cfg.SupabaseURL, cfg.SupabaseDBPassword)
	if err != nil {
		return "", err
	}
	st, err := store.Open(ctx, store.Options{
		DSN:            dsn,
		MaxPrimaryRows: cfg.MaxPrimaryRows,
		Logger:         logger,
	})
	if err != nil {
		return "", err
	}
	defer st.Close()

	mode := store.ModeIncremental
	if runForce {
		mode = store.ModeFull
	}
	tracker, err := runtrack.New(runtrack.Options{
		Mode:    mode,
		Version: buildinfo.AuditorTag(),
		Config:  runConfig(cfg),
		Sink:    st,
		Logger:  logger,
	})
	if err != nil {
		return "", err
	}

	client := httputil.NewClient(httputil.FetchOptions{
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		MaxRetries:   cfg.MaxRetries,
		HostInterval: cfg.RateLimit,
		Logger:       logger,
		OnBreakerOpen: func(host string) {
			tracker.Event(ctx, store.Event{
				Etapa:    store.EtapaColeta,
				Evento:   "breaker.open",
				Nivel:    store.NivelWarning,
				Mensagem: "circuito aberto para o host: " + host,
			})
		},
		OnFailure: func(url string, class httputil.ErrorClass, status int) {
			tracker.Event(ctx, store.Event{
				Etapa:    store.EtapaColeta,
				Evento:   "http.falha",
				Nivel:    store.NivelWarning,
				Mensagem: fmt.Sprintf("requisição esgotou as tentativas (%s, status %d): %s", class, status, url),
			})
		},
	})

	var blobs fetch.BlobStore
	bucket, err := store.NewBucket(store.BucketOptions{
		SupabaseURL: cfg.SupabaseURL,
		ServiceKey:  cfg.SupabaseServiceKey,
		Name:        cfg.StorageBucket,
		Client:      client,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("blob uploads disabled", "error", err)
	} else {
		blobs = bucket
	}

	fetcher := fetch.NewFetcher(client, fetch.Options{Store: blobs, Logger: logger})

	resolver, err := cascade.NewResolver(cascade.Options{
		Whitelist: catalog.WhitelistSet(),
		Version:   buildinfo.AuditorTag(),
		Logger:    logger,
	})
	if err != nil {
		return "", err
	}
	validator := validate.New(validate.Options{
		Whitelist: catalog.WhitelistSet(),
		Logger:    logger,
	})
	enricher := enrich.FromEnv(client, logger)

	runner, err := pipeline.New(pipeline.Options{
		Catalog:   catalog,
		Client:    client,
		Store:     st,
		Tracker:   tracker,
		Fetcher:   fetcher,
		Resolver:  resolver,
		Validator: validator,
		Enricher:  enricher,
		Terms:     cfg.SearchTerms,
		Dias:      runDias,
		Paginas:   runPaginas,
		Tamanho:   runTamanho,
		Workers:   cfg.Workers,
		RunLimit:  runLimit,
		Force:     runForce,
		Source:    runSource,
		ReportDir: runReportDir,
		Logger:    logger,
	})
	if err != nil {
		return tracker.RunID(), err
	}

	runErr := runner.Run(ctx)
	status := store.StatusSuccess
	if runErr != nil {
		status = store.StatusFailed
	}
	fmt.Fprintln(os.Stdout, tracker.SummaryLine(status))
	return tracker.RunID(), runErr
}

// loadCatalog picks the external catalog file when one is configured,
// the embedded one otherwise.
func loadCatalog(cfg *config.Config) (*source.Catalog, error) {
	if cfg.SourcesFile != "" {
		return source.Load(cfg.SourcesFile)
	}
	return source.Default()
}

// runConfig is the config snapshot persisted on the run row.
func runConfig(cfg *config.Config) map[string]any {
	snapshot := map[string]any{
		"dias":    runDias,
		"paginas": runPaginas,
		"tamanho": runTamanho,
		"force":   runForce,
		"workers": cfg.Workers,
		"termos":  cfg.SearchTerms,
	}
	if runLimit > 0 {
		snapshot["run_limit"] = runLimit
	}
	if runSource != "" {
		snapshot["source"] = runSource
	}
	return snapshot
}

// failureReason maps known failure chains to the reason recorded in the
// alert.
func failureReason(err error) string {
	if errors.Is(err, store.ErrCapacityExceeded) {
		return pipeline.ReasonCapacity
	}
	return ""
}
