// Package pipeline drives one harvest run end to end: discovery fans
// candidates into a bounded worker pool, each candidate is fetched,
// extracted, resolved, optionally enriched, validated and routed to the
// primary table or quarantine, with every step accounted on the run
// tracker.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/achesucatas/auditor/internal/cascade"
	"github.com/achesucatas/auditor/internal/discover"
	"github.com/achesucatas/auditor/internal/enrich"
	"github.com/achesucatas/auditor/internal/extract"
	"github.com/achesucatas/auditor/internal/fetch"
	"github.com/achesucatas/auditor/internal/httputil"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
	"github.com/achesucatas/auditor/internal/runtrack"
	"github.com/achesucatas/auditor/internal/source"
	"github.com/achesucatas/auditor/internal/store"
	"github.com/achesucatas/auditor/internal/validate"
)

// DefaultWorkers is the size of the candidate pool when the options do
// not say otherwise.
const DefaultWorkers = 4

// ErrInterrupted reports a run cut short by context cancellation. The
// run row is closed as FAILED with reason "interrupted" before Run
// returns this.
var ErrInterrupted = errors.New("run interrupted")

// ReasonInterrupted and ReasonCapacity are the reasons recorded on
// failed run rows this package closes itself.
const (
	ReasonInterrupted = "interrupted"
	ReasonCapacity    = "capacity_exceeded"
)

// Fetcher is the slice of the fetch stage the pipeline drives.
type Fetcher interface {
	Fetch(ctx context.Context, cand discover.Candidate) (*fetch.Notice, error)
}

// Options configure a Runner. Catalog, Store, Tracker, Fetcher and
// Resolver are required; the rest defaults.
type Options struct {
	// Catalog of harvest sources and the auctioneer whitelist.
	Catalog *source.Catalog

	// Client is the shared HTTP client discoverers are built on.
	Client *httputil.Client

	// Store receives validated records, quarantine rows and events.
	Store store.Store

	// Tracker accounts counters, quality and events for this run.
	Tracker *runtrack.Tracker

	// Fetcher resolves candidates into notices.
	Fetcher Fetcher

	// Resolver runs the field cascade over extracted partials.
	Resolver *cascade.Resolver

	// Validator decides routing. If nil, one is built from the
	// catalog whitelist.
	Validator *validate.Validator

	// Enricher fills gaps with LLM output. If nil, a noop is used.
	Enricher enrich.Enricher

	// Terms searched on keyword sources.
	Terms []string

	// Discovery window and paging for the PNCP source.
	Dias    int
	Paginas int
	Tamanho int

	// Workers sizes the candidate pool. Default: 4.
	Workers int

	// RunLimit caps candidates processed across all sources.
	// Zero means no cap.
	RunLimit int

	// Force reprocesses candidates whose id_interno already exists.
	Force bool

	// Source restricts the run to one catalog source by name.
	Source string

	// ReportDir receives per-source discovery reports as JSON files.
	// Empty disables them.
	ReportDir string

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// Runner executes one harvest run. Build one per run; the seen-set and
// the capacity brake are run-scoped.
type Runner struct {
	catalog   *source.Catalog
	client    *httputil.Client
	store     store.Store
	tracker   *runtrack.Tracker
	fetcher   Fetcher
	resolver  *cascade.Resolver
	validator *validate.Validator
	enricher  enrich.Enricher
	logger    log.Logger

	terms     []string
	dias      int
	paginas   int
	tamanho   int
	workers   int
	runLimit  int
	force     bool
	only      string
	reportDir string

	// newDiscoverer builds the discoverer for one source. Swappable
	// in tests.
	newDiscoverer func(src source.Source) (discover.Discoverer, error)

	mu       sync.Mutex
	seen     map[string]bool
	capacity bool
}

// New creates a runner for a single run.
func New(opts Options) (*Runner, error) {
	switch {
	case opts.Catalog == nil:
		return nil, errors.New("pipeline: Catalog is required")
	case opts.Store == nil:
		return nil, errors.New("pipeline: Store is required")
	case opts.Tracker == nil:
		return nil, errors.New("pipeline: Tracker is required")
	case opts.Fetcher == nil:
		return nil, errors.New("pipeline: Fetcher is required")
	case opts.Resolver == nil:
		return nil, errors.New("pipeline: Resolver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	validator := opts.Validator
	if validator == nil {
		validator = validate.New(validate.Options{
			Whitelist: opts.Catalog.WhitelistSet(),
			Logger:    logger,
		})
	}
	enricher := opts.Enricher
	if enricher == nil {
		enricher = enrich.NewNoop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	r := &Runner{
		catalog:   opts.Catalog,
		client:    opts.Client,
		store:     opts.Store,
		tracker:   opts.Tracker,
		fetcher:   opts.Fetcher,
		resolver:  opts.Resolver,
		validator: validator,
		enricher:  enricher,
		logger:    logger.With("run_id", opts.Tracker.RunID()),
		terms:     opts.Terms,
		dias:      opts.Dias,
		paginas:   opts.Paginas,
		tamanho:   opts.Tamanho,
		workers:   workers,
		runLimit:  opts.RunLimit,
		force:     opts.Force,
		only:      opts.Source,
		reportDir: opts.ReportDir,
		seen:      make(map[string]bool),
	}
	r.newDiscoverer = r.buildDiscoverer
	return r, nil
}

// Run executes the harvest: one discovery pass per enabled source, a
// worker pool over the candidates, then the run row is closed. Returns
// nil on SUCCESS, an error wrapping ErrInterrupted when the context was
// canceled, and any other error for fatal conditions.
func (r *Runner) Run(ctx context.Context) error {
	sources, err := r.selectSources()
	if err != nil {
		return err
	}

	if err := r.tracker.Start(ctx); err != nil {
		return err
	}

	remaining := r.runLimit
	for _, src := range sources {
		if ctx.Err() != nil || r.capacityTripped() {
			break
		}
		if r.runLimit > 0 && remaining <= 0 {
			break
		}

		cands := r.discover(ctx, src)
		if r.runLimit > 0 {
			cands = discover.Truncate(cands, remaining)
			remaining -= len(cands)
		}
		r.processSource(ctx, src, cands)
	}

	totals := r.enricher.Totals()
	r.tracker.SetCosts(totals.Cost, totals.CostOpenAI)

	// The run row must close even when the run context is gone.
	finishCtx := context.WithoutCancel(ctx)

	switch {
	case r.capacityTripped():
		if err := r.tracker.Finish(finishCtx, store.StatusFailed, ReasonCapacity); err != nil {
			return err
		}
		return fmt.Errorf("run aborted: %w", store.ErrCapacityExceeded)
	case ctx.Err() != nil:
		if err := r.tracker.Finish(finishCtx, store.StatusFailed, ReasonInterrupted); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	default:
		return r.tracker.Finish(finishCtx, store.StatusSuccess, "")
	}
}

// selectSources returns the enabled sources, narrowed to one when the
// --source flag named it.
func (r *Runner) selectSources() ([]source.Source, error) {
	if r.only != "" {
		src, ok := r.catalog.Get(r.only)
		if !ok {
			return nil, fmt.Errorf("pipeline: unknown source %q", r.only)
		}
		return []source.Source{*src}, nil
	}
	sources := r.catalog.EnabledSources()
	if len(sources) == 0 {
		return nil, errors.New("pipeline: no enabled sources")
	}
	return sources, nil
}

// discover runs one source's discovery pass. Failures are warnings: the
// run moves on to the next source.
func (r *Runner) discover(ctx context.Context, src source.Source) []discover.Candidate {
	d, err := r.newDiscoverer(src)
	if err != nil {
		r.event(ctx, store.Event{
			Etapa:    store.EtapaBusca,
			Evento:   "discover.err",
			Nivel:    store.NivelWarning,
			Mensagem: fmt.Sprintf("fonte %s: %v", src.Name, err),
		})
		return nil
	}

	start := time.Now()
	result, err := d.Discover(ctx)
	if err != nil {
		r.event(ctx, store.Event{
			Etapa:    store.EtapaBusca,
			Evento:   "discover.err",
			Nivel:    store.NivelWarning,
			Mensagem: fmt.Sprintf("fonte %s: %v", src.Name, err),
		})
		return nil
	}

	r.tracker.AddFound(len(result.Candidates))
	r.event(ctx, store.Event{
		Etapa:     store.EtapaBusca,
		Evento:    "discover.ok",
		Nivel:     store.NivelInfo,
		Mensagem:  "fonte " + src.Name,
		Contagem:  len(result.Candidates),
		DuracaoMS: time.Since(start).Milliseconds(),
	})

	r.writeReport(src, result.Report)
	return result.Candidates
}

// writeReport persists one discovery report when a report directory is
// configured. Failures only warn.
func (r *Runner) writeReport(src source.Source, report *discover.Report) {
	if r.reportDir == "" || report == nil {
		return
	}
	name := fmt.Sprintf("discovery_%s_%s.json", src.Name, r.tracker.RunID())
	path := filepath.Join(r.reportDir, name)
	if err := report.Write(path); err != nil {
		r.logger.Warn("discovery report not written", "path", path, "error", err)
	}
}

// processSource feeds one source's candidates through the worker pool.
// Feeding stops on cancellation or when the capacity brake trips;
// workers always finish the candidate in hand.
func (r *Runner) processSource(ctx context.Context, src source.Source, cands []discover.Candidate) {
	if len(cands) == 0 {
		return
	}

	ch := make(chan discover.Candidate)
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for range r.workers {
		go func() {
			defer wg.Done()
			for cand := range ch {
				r.handle(ctx, src, cand)
			}
		}()
	}

feed:
	for _, cand := range cands {
		if r.capacityTripped() {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case ch <- cand:
		}
	}
	close(ch)
	wg.Wait()
}

// handle runs one candidate through fetch, extract, cascade, enrich,
// validate and routing. Per-candidate failures are events, never run
// failures.
func (r *Runner) handle(ctx context.Context, src source.Source, cand discover.Candidate) {
	category := record.SourcePNCP
	if src.Kind == source.KindSitemap {
		category = record.SourceLeiloeiro
	}
	idInterno := record.IDInterno(category, cand.SourceExternalID)

	if !r.markSeen(idInterno) {
		r.tracker.RecordDuplicate()
		r.event(ctx, store.Event{
			Etapa:    store.EtapaColeta,
			Evento:   "candidate.duplicate",
			Nivel:    store.NivelDebug,
			Mensagem: "id repetido no mesmo run: " + idInterno,
		})
		return
	}

	notice, err := r.fetcher.Fetch(ctx, cand)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, fetch.ErrGone) {
			r.event(ctx, store.Event{
				Etapa:    store.EtapaColeta,
				Evento:   "notice.gone",
				Nivel:    store.NivelInfo,
				Mensagem: "fonte sumiu durante o run: " + cand.SourceExternalID,
			})
			return
		}
		r.event(ctx, store.Event{
			Etapa:    store.EtapaColeta,
			Evento:   "fetch.err",
			Nivel:    store.NivelWarning,
			Mensagem: fmt.Sprintf("%s: %v", cand.SourceExternalID, err),
		})
		return
	}

	r.tracker.AddDownloads(notice.DownloadsOK, notice.DownloadsFailed)
	if notice.DownloadsFailed > 0 {
		r.event(ctx, store.Event{
			Etapa:    store.EtapaPDFDownload,
			Evento:   "download.falha",
			Nivel:    store.NivelWarning,
			Mensagem: cand.SourceExternalID,
			Contagem: notice.DownloadsFailed,
		})
	}

	partials := r.extract(ctx, notice)

	in := cascade.Input{
		SourceName:       category,
		SourceExternalID: cand.SourceExternalID,
		Partials:         partials,
	}
	if category == record.SourcePNCP {
		in.PNCPURL = cand.RawURL
	} else {
		in.SourceURL = cand.RawURL
	}
	if main := notice.MainDocument(); main != nil {
		in.StoragePath = main.StoragePath
		in.PDFHash = main.Hash
	}
	res := r.resolver.Resolve(in)
	rec := res.Record

	if !r.force {
		exists, err := r.store.LeilaoExists(ctx, rec.IDInterno)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.event(ctx, store.Event{
				Etapa:    store.EtapaUpsert,
				Evento:   "exists.err",
				Nivel:    store.NivelWarning,
				Mensagem: fmt.Sprintf("%s: %v", rec.IDInterno, err),
			})
			return
		}
		if exists {
			r.tracker.RecordSkipExisting()
			r.event(ctx, store.Event{
				Etapa:    store.EtapaColeta,
				Evento:   "candidate.skip_existe",
				Nivel:    store.NivelDebug,
				Mensagem: rec.IDInterno,
			})
			return
		}
	}
	r.tracker.RecordNew()

	if err := r.enricher.Enrich(ctx, rec, documentText(partials)); err != nil && ctx.Err() == nil {
		r.event(ctx, store.Event{
			Etapa:    store.EtapaEnrich,
			Evento:   "enrich.err",
			Nivel:    store.NivelWarning,
			Mensagem: fmt.Sprintf("%s: %v", rec.IDInterno, err),
		})
	}

	result := r.validator.Validate(rec, validate.Trouble{
		ExtractionNotes: res.ExtractionNotes,
		InvalidDates:    res.InvalidDates,
	})
	r.tracker.Register(result)

	// In-flight candidates finish their writes even during shutdown.
	r.route(context.WithoutCancel(ctx), notice, result)
}

// extract turns a notice's documents into partials, source metadata
// first so the cascade sees it at top priority.
func (r *Runner) extract(ctx context.Context, notice *fetch.Notice) []*extract.Partial {
	var partials []*extract.Partial
	if len(notice.RawMetadata) > 0 {
		partials = append(partials, extract.JSON(notice.RawMetadata))
	}
	for _, doc := range notice.Documents {
		got := extract.FromDocument(ctx, doc)
		partials = append(partials, got...)
		r.event(ctx, store.Event{
			Etapa:    store.EtapaExtract,
			Evento:   "extract.ok",
			Nivel:    store.NivelDebug,
			Mensagem: doc.Name,
			Contagem: len(got),
		})
	}
	return partials
}

// route writes the validated record where its status says: VALID to the
// primary table, everything else to quarantine with the full evidence.
func (r *Runner) route(ctx context.Context, notice *fetch.Notice, result *validate.Result) {
	rec := result.Record

	if result.Status == validate.StatusValid {
		if err := r.store.UpsertLeilao(ctx, rec); err != nil {
			r.writeFailed(ctx, store.EtapaUpsert, "upsert.err", rec.IDInterno, err)
			return
		}
		r.event(ctx, store.Event{
			Etapa:    store.EtapaUpsert,
			Evento:   "upsert.ok",
			Nivel:    store.NivelInfo,
			Mensagem: rec.IDInterno,
		})
		return
	}

	q := store.Quarantine{
		RunID:      r.tracker.RunID(),
		IDInterno:  rec.IDInterno,
		Status:     string(result.Status),
		Errors:     marshalJSON(result.Notices),
		Normalized: marshalJSON(rec),
	}
	if len(notice.RawMetadata) > 0 {
		q.Raw = marshalJSON(notice.RawMetadata)
	}
	if err := r.store.UpsertQuarantine(ctx, q); err != nil {
		r.writeFailed(ctx, store.EtapaQuarantine, "quarantine.err", rec.IDInterno, err)
		return
	}
	r.event(ctx, store.Event{
		Etapa:    store.EtapaQuarantine,
		Evento:   "quarantine.ok",
		Nivel:    store.NivelInfo,
		Mensagem: fmt.Sprintf("%s: %s", rec.IDInterno, result.Status),
	})
}

// writeFailed reports a failed store write. A capacity error trips the
// run-wide brake; anything else is a warning on that record alone.
func (r *Runner) writeFailed(ctx context.Context, etapa store.Etapa, evento, id string, err error) {
	if errors.Is(err, store.ErrCapacityExceeded) {
		r.tripCapacity(ctx, etapa, err)
		return
	}
	r.event(ctx, store.Event{
		Etapa:    etapa,
		Evento:   evento,
		Nivel:    store.NivelError,
		Mensagem: fmt.Sprintf("%s: %v", id, err),
	})
}

// tripCapacity stops the run on the first capacity error; later ones
// are quiet because the feed loop is already draining.
func (r *Runner) tripCapacity(ctx context.Context, etapa store.Etapa, err error) {
	r.mu.Lock()
	first := !r.capacity
	r.capacity = true
	r.mu.Unlock()
	if !first {
		return
	}
	r.event(ctx, store.Event{
		Etapa:    etapa,
		Evento:   "capacity_exceeded",
		Nivel:    store.NivelError,
		Mensagem: err.Error(),
	})
	r.logger.Error("capacity brake tripped", "error", err)
}

func (r *Runner) capacityTripped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// markSeen records an id_interno and reports whether it was new to this
// run.
func (r *Runner) markSeen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[id] {
		return false
	}
	r.seen[id] = true
	return true
}

func (r *Runner) event(ctx context.Context, e store.Event) {
	r.tracker.Event(ctx, e)
}

// buildDiscoverer wires the discovery strategy a source's kind calls
// for.
func (r *Runner) buildDiscoverer(src source.Source) (discover.Discoverer, error) {
	switch src.Kind {
	case source.KindPNCP:
		return discover.NewPNCPDiscoverer(r.client, discover.PNCPOptions{
			BaseURL:       src.BaseURL,
			SourceName:    src.Name,
			Terms:         r.terms,
			Dias:          r.dias,
			Paginas:       r.paginas,
			TamanhoPagina: r.tamanho,
			Logger:        r.logger,
		}), nil
	case source.KindSitemap:
		pattern, err := src.LotPattern()
		if err != nil {
			return nil, err
		}
		return discover.NewSitemapDiscoverer(r.client, discover.SitemapOptions{
			SourceName: src.Name,
			SitemapURL: src.SitemapURL(),
			LotPattern: pattern,
			TopSeeds:   src.TopSeeds,
			Logger:     r.logger,
		}), nil
	}
	return nil, fmt.Errorf("source %s: unknown kind %q", src.Name, src.Kind)
}

// documentText picks the text handed to the enricher: the first PDF
// with content, falling back to any partial with content.
func documentText(partials []*extract.Partial) string {
	for _, p := range partials {
		if p.Origin == extract.OriginPDF && strings.TrimSpace(p.Text) != "" {
			return p.Text
		}
	}
	for _, p := range partials {
		if strings.TrimSpace(p.Text) != "" {
			return p.Text
		}
	}
	return ""
}

// marshalJSON encodes v for a JSONB column. Encoding failures land as
// nil, which the store writes as NULL.
func marshalJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
