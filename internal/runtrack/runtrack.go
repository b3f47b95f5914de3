// Package runtrack keeps the execution history of each run: the
// run_executions row, the per-run quality report, the FinOps numbers and
// the pipeline event log.
//
// A Tracker is shared by every worker in a run. One mutex guards the
// counters and the event buffer; events are batch-flushed every
// FlushEvery entries and once more at Finish, so per-event writes never
// hit the datastore.
package runtrack

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/store"
	"github.com/achesucatas/auditor/internal/validate"
)

// DefaultFlushEvery is the event buffer size that triggers a batch
// insert.
const DefaultFlushEvery = 50

// MaxTopReasonCodes caps the quality report's reason ranking.
const MaxTopReasonCodes = 10

// NewRunID returns the run identifier: the UTC start instant in a
// sortable compact form plus a short random suffix, so two runs started
// in the same second stay distinct.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405") + "Z_" + uuid.NewString()[:8]
}

// Sink is the slice of the datastore the tracker writes through.
// *store.Postgres satisfies it.
type Sink interface {
	StartRun(ctx context.Context, start store.RunStart) error
	FinishRun(ctx context.Context, fin store.RunFinish) error
	InsertEvents(ctx context.Context, events []store.Event) error
}

// ReasonCount is one entry of the quality report's reason ranking.
type ReasonCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// FinOps is the per-run spend block.
type FinOps struct {
	CostTotal   float64 `json:"cost_total"`
	CostOpenAI  float64 `json:"cost_openai"`
	NumPDFs     int     `json:"num_pdfs"`
	CustoPorMil float64 `json:"custo_por_mil"`
}

// QualityReport is the per-run validation snapshot persisted on finish.
type QualityReport struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationSeconds  float64   `json:"duration_seconds"`
	TotalProcessados int       `json:"total_processados"`
	TotalValidos     int       `json:"total_validos"`
	DraftCount       int       `json:"draft_count"`
	NotSellableCount int       `json:"not_sellable_count"`
	RejectedCount    int       `json:"rejected_count"`
	TotalQuarentena  int       `json:"total_quarentena"`

	// The two rates sum to ~100 when anything was processed and are
	// both 0 on an empty run.
	TaxaValidosPercent    float64 `json:"taxa_validos_percent"`
	TaxaQuarentenaPercent float64 `json:"taxa_quarentena_percent"`

	TopReasonCodes []ReasonCount `json:"top_reason_codes"`
	FinOps         FinOps        `json:"finops"`
}

// Options configures a Tracker.
type Options struct {
	// RunID identifies the run. Empty means a fresh NewRunID.
	RunID string

	// Mode is store.ModeIncremental or store.ModeFull. Empty means
	// INCREMENTAL.
	Mode string

	// Version tags the run with the producing pipeline version.
	Version string

	// Config is the run's configuration snapshot, persisted as JSON.
	Config map[string]any

	// Sink persists rows and events. Required.
	Sink Sink

	// FlushEvery is the event batch size. Zero means DefaultFlushEvery.
	FlushEvery int

	// Logger defaults to the package default.
	Logger log.Logger
}

type qualityCounters struct {
	total       int
	validos     int
	draft       int
	notSellable int
	rejected    int
	reasons     map[string]int
}

// Tracker accumulates one run's counters, quality numbers and events,
// and persists them through the Sink.
type Tracker struct {
	runID      string
	mode       string
	version    string
	config     map[string]any
	sink       Sink
	flushEvery int
	logger     log.Logger
	now        func() time.Time

	mu         sync.Mutex
	started    time.Time
	finished   time.Time
	closed     bool
	events     []store.Event
	counters   store.RunCounters
	quality    qualityCounters
	costTotal  float64
	costOpenAI float64
}

// New creates a Tracker. Call Start before feeding it events.
func New(opts Options) (*Tracker, error) {
	if opts.Sink == nil {
		return nil, fmt.Errorf("runtrack: Sink is required")
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID(time.Now())
	}
	if opts.Mode == "" {
		opts.Mode = store.ModeIncremental
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Tracker{
		runID:      opts.RunID,
		mode:       opts.Mode,
		version:    opts.Version,
		config:     opts.Config,
		sink:       opts.Sink,
		flushEvery: opts.FlushEvery,
		logger:     opts.Logger.With("run_id", opts.RunID),
		now:        time.Now,
		quality:    qualityCounters{reasons: make(map[string]int)},
	}, nil
}

// RunID returns the run identifier.
func (t *Tracker) RunID() string { return t.runID }

// Mode returns the run mode.
func (t *Tracker) Mode() string { return t.mode }

// Start persists the RUNNING row and emits the inicio event.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	t.started = t.now()
	started := t.started
	t.mu.Unlock()

	var cfg json.RawMessage
	if len(t.config) > 0 {
		data, err := json.Marshal(t.config)
		if err != nil {
			return fmt.Errorf("runtrack: marshal config: %w", err)
		}
		cfg = data
	}
	err := t.sink.StartRun(ctx, store.RunStart{
		RunID:     t.runID,
		Mode:      t.mode,
		Version:   t.version,
		Config:    cfg,
		StartedAt: started,
	})
	if err != nil {
		return fmt.Errorf("runtrack: start run %s: %w", t.runID, err)
	}
	t.Event(ctx, store.Event{
		Etapa:    store.EtapaInicio,
		Evento:   "run.start",
		Nivel:    store.NivelInfo,
		Mensagem: "execução iniciada em modo " + t.mode,
	})
	t.logger.Info("run started", "mode", t.mode, "version", t.version)
	return nil
}

// Event buffers one pipeline event, stamping the run id and emit time.
// The buffer is flushed when it reaches FlushEvery entries; a failed
// flush is logged and the batch dropped, never failing the pipeline.
func (t *Tracker) Event(ctx context.Context, e store.Event) {
	e.RunID = t.runID
	if e.At.IsZero() {
		e.At = t.now()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.events = append(t.events, e)
	var batch []store.Event
	if len(t.events) >= t.flushEvery {
		batch = t.events
		t.events = nil
	}
	t.mu.Unlock()

	if len(batch) > 0 {
		t.flush(ctx, batch)
	}
}

// AddFound adds to the encontrados counter, one search page at a time.
func (t *Tracker) AddFound(n int) {
	t.mu.Lock()
	t.counters.Encontrados += n
	t.mu.Unlock()
}

// RecordNew counts a record not previously in the primary table.
func (t *Tracker) RecordNew() {
	t.mu.Lock()
	t.counters.Novos++
	t.mu.Unlock()
}

// RecordSkipExisting counts a candidate skipped because its id_interno
// already exists (INCREMENTAL mode).
func (t *Tracker) RecordSkipExisting() {
	t.mu.Lock()
	t.counters.SkipExiste++
	t.mu.Unlock()
}

// RecordDuplicate counts an id_interno seen twice within this run.
func (t *Tracker) RecordDuplicate() {
	t.mu.Lock()
	t.counters.Duplicados++
	t.mu.Unlock()
}

// RecordDownload counts one PDF download attempt.
func (t *Tracker) RecordDownload(ok bool) {
	t.mu.Lock()
	if ok {
		t.counters.DownloadsOK++
	} else {
		t.counters.DownloadsFalha++
	}
	t.mu.Unlock()
}

// AddDownloads adds a whole notice's worth of download attempts at once.
func (t *Tracker) AddDownloads(ok, failed int) {
	t.mu.Lock()
	t.counters.DownloadsOK += ok
	t.counters.DownloadsFalha += failed
	t.mu.Unlock()
}

// Register feeds one validation result into the quality counters.
// Reason codes count per notice, so two missing fields on one record
// weigh twice in the ranking.
func (t *Tracker) Register(res *validate.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quality.total++
	switch res.Status {
	case validate.StatusValid:
		t.quality.validos++
	case validate.StatusDraft:
		t.quality.draft++
	case validate.StatusNotSellable:
		t.quality.notSellable++
	case validate.StatusRejected:
		t.quality.rejected++
	}
	for _, code := range res.ReasonCodes() {
		t.quality.reasons[string(code)]++
	}
}

// SetCosts records the LLM spend for the FinOps block.
func (t *Tracker) SetCosts(total, openai float64) {
	t.mu.Lock()
	t.costTotal = total
	t.costOpenAI = openai
	t.mu.Unlock()
}

// Counters returns a snapshot of the cascade counters.
func (t *Tracker) Counters() store.RunCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// Report builds the quality report from the current counters.
func (t *Tracker) Report() QualityReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.finished
	if end.IsZero() {
		end = t.now()
	}
	return t.buildReportLocked(end)
}

// Finish flushes the event buffer and closes the run row with the final
// status, counters and report snapshots. It is idempotent: the first
// call wins and later ones are no-ops, so a deferred FAILED close is
// safe alongside an explicit SUCCESS one.
func (t *Tracker) Finish(ctx context.Context, status, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.finished = t.now()
	end := t.finished
	report := t.buildReportLocked(end)
	counters := t.counters

	nivel := store.NivelInfo
	if status == store.StatusFailed {
		nivel = store.NivelError
	}
	msg := "execução finalizada: " + status
	if reason != "" {
		msg += " (" + reason + ")"
	}
	t.events = append(t.events, store.Event{
		RunID:    t.runID,
		Etapa:    store.EtapaFim,
		Evento:   "run.finish",
		Nivel:    nivel,
		Mensagem: msg,
		Contagem: report.TotalProcessados,
		At:       end,
	})
	batch := t.events
	t.events = nil
	t.mu.Unlock()

	t.flush(ctx, batch)

	quality, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("runtrack: marshal quality report: %w", err)
	}
	finops, err := json.Marshal(report.FinOps)
	if err != nil {
		return fmt.Errorf("runtrack: marshal finops: %w", err)
	}
	err = t.sink.FinishRun(ctx, store.RunFinish{
		RunID:      t.runID,
		Status:     status,
		Reason:     reason,
		Counters:   counters,
		Quality:    quality,
		FinOps:     finops,
		FinishedAt: end,
	})
	if err != nil {
		return fmt.Errorf("runtrack: finish run %s: %w", t.runID, err)
	}
	t.logger.Info("run finished",
		"status", status,
		"total", report.TotalProcessados,
		"validos", report.TotalValidos,
		"quarentena", report.TotalQuarentena,
		"cost", fmt.Sprintf("$%.4f", report.FinOps.CostTotal),
	)
	return nil
}

// SummaryLine formats the one-line run result printed on stdout.
func (t *Tracker) SummaryLine(status string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.finished
	if end.IsZero() {
		end = t.now()
	}
	quarentena := t.quality.draft + t.quality.notSellable + t.quality.rejected
	return fmt.Sprintf("RUN %s %s total=%d valid=%d quarantine=%d dur=%.1fs cost=$%.4f",
		t.runID, status, t.quality.total, t.quality.validos, quarentena,
		end.Sub(t.started).Seconds(), t.costTotal)
}

func (t *Tracker) buildReportLocked(end time.Time) QualityReport {
	q := t.quality
	quarentena := q.draft + q.notSellable + q.rejected
	report := QualityReport{
		RunID:            t.runID,
		StartedAt:        t.started,
		FinishedAt:       end,
		DurationSeconds:  round2(end.Sub(t.started).Seconds()),
		TotalProcessados: q.total,
		TotalValidos:     q.validos,
		DraftCount:       q.draft,
		NotSellableCount: q.notSellable,
		RejectedCount:    q.rejected,
		TotalQuarentena:  quarentena,
		TopReasonCodes:   topReasons(q.reasons, MaxTopReasonCodes),
	}
	if q.total > 0 {
		report.TaxaValidosPercent = round2(float64(q.validos) / float64(q.total) * 100)
		report.TaxaQuarentenaPercent = round2(float64(quarentena) / float64(q.total) * 100)
	}
	report.FinOps = FinOps{
		CostTotal:  round4(t.costTotal),
		CostOpenAI: round4(t.costOpenAI),
		NumPDFs:    t.counters.DownloadsOK,
	}
	if q.total > 0 {
		report.FinOps.CustoPorMil = round4(t.costTotal / float64(q.total) * 1000)
	}
	return report
}

func (t *Tracker) flush(ctx context.Context, batch []store.Event) {
	if err := t.sink.InsertEvents(ctx, batch); err != nil {
		t.logger.Warn("event batch dropped", "count", len(batch), "error", err)
	}
}

// topReasons ranks reason codes by count descending, code ascending on
// ties so the ranking is stable, capped at limit.
func topReasons(counts map[string]int, limit int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, ReasonCount{Code: code, Count: n})
	}
	slices.SortFunc(out, func(a, b ReasonCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Code, b.Code)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
