package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/achesucatas/auditor/internal/cascade"
	"github.com/achesucatas/auditor/internal/discover"
	"github.com/achesucatas/auditor/internal/enrich"
	"github.com/achesucatas/auditor/internal/extract"
	"github.com/achesucatas/auditor/internal/fetch"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
	"github.com/achesucatas/auditor/internal/runtrack"
	"github.com/achesucatas/auditor/internal/source"
	"github.com/achesucatas/auditor/internal/store"
	"github.com/achesucatas/auditor/internal/validate"
)

// fakeStore is an in-memory store.Store that doubles as the tracker
// sink, so one fake sees both records and run bookkeeping.
type fakeStore struct {
	mu          sync.Mutex
	existing    map[string]bool
	leiloes     map[string]*record.AuctionRecord
	quarantined []store.Quarantine
	starts      []store.RunStart
	finishes    []store.RunFinish
	events      []store.Event

	existsErr   error
	capacityErr bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing: make(map[string]bool),
		leiloes:  make(map[string]*record.AuctionRecord),
	}
}

func (s *fakeStore) LeilaoExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if s.existing[id] {
		return true, nil
	}
	_, ok := s.leiloes[id]
	return ok, nil
}

func (s *fakeStore) UpsertLeilao(ctx context.Context, rec *record.AuctionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacityErr {
		return fmt.Errorf("leiloes full: %w", store.ErrCapacityExceeded)
	}
	s.leiloes[rec.IDInterno] = rec
	return nil
}

func (s *fakeStore) UpsertQuarantine(ctx context.Context, q store.Quarantine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacityErr {
		return fmt.Errorf("leiloes full: %w", store.ErrCapacityExceeded)
	}
	s.quarantined = append(s.quarantined, q)
	return nil
}

func (s *fakeStore) CountLeiloes(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leiloes), nil
}

func (s *fakeStore) StartRun(ctx context.Context, start store.RunStart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, start)
	return nil
}

func (s *fakeStore) FinishRun(ctx context.Context, fin store.RunFinish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes = append(s.finishes, fin)
	return nil
}

func (s *fakeStore) InsertEvents(ctx context.Context, events []store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) RecentRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	return nil, nil
}

func (s *fakeStore) eventNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.Evento
	}
	return names
}

func (s *fakeStore) hasEvent(evento string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Evento == evento {
			return true
		}
	}
	return false
}

// fakeFetcher answers candidates from canned metadata maps.
type fakeFetcher struct {
	mu    sync.Mutex
	metas map[string]map[string]any
	errs  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		metas: make(map[string]map[string]any),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, cand discover.Candidate) (*fetch.Notice, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cand.SourceExternalID)
	f.mu.Unlock()
	if err := f.errs[cand.SourceExternalID]; err != nil {
		return nil, err
	}
	return &fetch.Notice{
		Candidate:   cand,
		RawMetadata: f.metas[cand.SourceExternalID],
		DownloadsOK: 1,
	}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDiscoverer struct {
	result *discover.Result
	err    error
}

func (d fakeDiscoverer) Discover(ctx context.Context) (*discover.Result, error) {
	return d.result, d.err
}

// validMeta is source metadata complete enough to come out VALID.
func validMeta(id string) map[string]any {
	return map[string]any{
		"numeroControlePNCP":        id,
		"objetoCompra":              "Leilão de sucata de veículos inservíveis da frota",
		"informacoesComplementares": "Alienação de veículos e sucatas da frota municipal",
		"orgaoEntidade":             map[string]any{"razaoSocial": "Prefeitura Municipal de Curitiba"},
		"unidadeOrgao":              map[string]any{"municipioNome": "Curitiba", "ufSigla": "PR"},
		"dataAberturaProposta":      "2026-09-15T10:00:00",
		"dataPublicacaoPncp":        "2026-08-01T08:00:00",
		"dataAtualizacao":           "2026-08-20T08:00:00",
		"valorTotalEstimado":        150000.0,
		"numeroItens":               12,
		"modalidadeNome":            "Leilão - Eletrônico",
		"numeroCompra":              "90005",
		"anoCompra":                 2026,
	}
}

func pncpCandidate(id string) discover.Candidate {
	return discover.Candidate{
		SourceName:       "pncp",
		SourceExternalID: id,
		RawURL:           "https://pncp.gov.br/app/editais/" + id,
	}
}

func testCatalog() *source.Catalog {
	return &source.Catalog{Sources: []source.Source{{
		Name:    "pncp",
		Kind:    source.KindPNCP,
		Enabled: true,
		BaseURL: "https://pncp.gov.br",
	}}}
}

type testRig struct {
	store   *fakeStore
	fetcher *fakeFetcher
	tracker *runtrack.Tracker
	runner  *Runner
}

// newRig wires a runner over fakes, with discovery answering the given
// candidates for every source.
func newRig(t *testing.T, opts Options, cands ...discover.Candidate) *testRig {
	t.Helper()

	st := newFakeStore()
	ft := newFakeFetcher()
	for _, cand := range cands {
		ft.metas[cand.SourceExternalID] = validMeta(cand.SourceExternalID)
	}

	tracker, err := runtrack.New(runtrack.Options{
		RunID:   "20260824T120000Z_abcd1234",
		Version: "1.4.0",
		Sink:    st,
		Logger:  log.NewNoop(),
	})
	if err != nil {
		t.Fatalf("runtrack.New: %v", err)
	}
	resolver, err := cascade.NewResolver(cascade.Options{Version: "1.4.0", Logger: log.NewNoop()})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	opts.Catalog = testCatalog()
	opts.Store = st
	opts.Tracker = tracker
	opts.Fetcher = ft
	opts.Resolver = resolver
	if opts.Logger == nil {
		opts.Logger = log.NewNoop()
	}
	runner, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runner.newDiscoverer = func(src source.Source) (discover.Discoverer, error) {
		return fakeDiscoverer{result: &discover.Result{Candidates: cands}}, nil
	}
	return &testRig{store: st, fetcher: ft, tracker: tracker, runner: runner}
}

func (rig *testRig) finish(t *testing.T) store.RunFinish {
	t.Helper()
	if len(rig.store.finishes) != 1 {
		t.Fatalf("got %d run finishes, want 1", len(rig.store.finishes))
	}
	return rig.store.finishes[0]
}

func TestNewRequiredOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New with empty options should fail")
	}
}

func TestRunHappyPath(t *testing.T) {
	rig := newRig(t, Options{},
		pncpCandidate("07954605000160-1-000001/2026"),
		pncpCandidate("07954605000160-1-000002/2026"),
	)

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rig.store.leiloes) != 2 {
		t.Fatalf("got %d primary rows, want 2 (events: %v)", len(rig.store.leiloes), rig.store.eventNames())
	}
	if len(rig.store.quarantined) != 0 {
		t.Errorf("got %d quarantine rows, want 0", len(rig.store.quarantined))
	}

	fin := rig.finish(t)
	if fin.Status != store.StatusSuccess {
		t.Errorf("run status = %q, want SUCCESS", fin.Status)
	}
	want := store.RunCounters{Encontrados: 2, Novos: 2, DownloadsOK: 2}
	if fin.Counters != want {
		t.Errorf("counters = %+v, want %+v", fin.Counters, want)
	}

	for _, evento := range []string{"run.start", "discover.ok", "upsert.ok", "run.finish"} {
		if !rig.store.hasEvent(evento) {
			t.Errorf("missing %s event, got %v", evento, rig.store.eventNames())
		}
	}

	id := record.IDInterno("pncp", "07954605000160-1-000001/2026")
	rec, ok := rig.store.leiloes[id]
	if !ok {
		t.Fatalf("record %s not stored", id)
	}
	if rec.Municipio != "Curitiba" || rec.UF != "PR" {
		t.Errorf("stored place = %q/%q", rec.Municipio, rec.UF)
	}
	if rec.DataLeilao != "15-09-2026" {
		t.Errorf("stored DataLeilao = %q", rec.DataLeilao)
	}
}

func TestRunDuplicateWithinRun(t *testing.T) {
	cand := pncpCandidate("07954605000160-1-000001/2026")
	rig := newRig(t, Options{Workers: 1}, cand, cand)

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rig.store.leiloes) != 1 {
		t.Fatalf("got %d primary rows, want 1", len(rig.store.leiloes))
	}
	if len(rig.store.quarantined) != 0 {
		t.Errorf("duplicate must not reach quarantine, got %d rows", len(rig.store.quarantined))
	}
	fin := rig.finish(t)
	if fin.Counters.Duplicados != 1 {
		t.Errorf("Duplicados = %d, want 1", fin.Counters.Duplicados)
	}
	if fin.Counters.Novos != 1 {
		t.Errorf("Novos = %d, want 1", fin.Counters.Novos)
	}
	if !rig.store.hasEvent("candidate.duplicate") {
		t.Errorf("missing candidate.duplicate event, got %v", rig.store.eventNames())
	}
	if got := rig.fetcher.callCount(); got != 1 {
		t.Errorf("fetcher called %d times, want 1 (duplicate skipped before fetch)", got)
	}
}

func TestRunSkipExisting(t *testing.T) {
	extID := "07954605000160-1-000001/2026"
	rig := newRig(t, Options{}, pncpCandidate(extID))
	rig.store.existing[record.IDInterno("pncp", extID)] = true

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rig.store.leiloes) != 0 {
		t.Fatalf("existing record was rewritten, got %d rows", len(rig.store.leiloes))
	}
	fin := rig.finish(t)
	if fin.Counters.SkipExiste != 1 || fin.Counters.Novos != 0 {
		t.Errorf("counters = %+v, want SkipExiste=1 Novos=0", fin.Counters)
	}
	if !rig.store.hasEvent("candidate.skip_existe") {
		t.Errorf("missing candidate.skip_existe event, got %v", rig.store.eventNames())
	}
}

func TestRunForceRewritesExisting(t *testing.T) {
	extID := "07954605000160-1-000001/2026"
	rig := newRig(t, Options{Force: true}, pncpCandidate(extID))
	rig.store.existing[record.IDInterno("pncp", extID)] = true

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rig.store.leiloes) != 1 {
		t.Fatalf("force mode did not rewrite, got %d rows", len(rig.store.leiloes))
	}
	fin := rig.finish(t)
	if fin.Counters.SkipExiste != 0 || fin.Counters.Novos != 1 {
		t.Errorf("counters = %+v, want SkipExiste=0 Novos=1", fin.Counters)
	}
}

func TestRunQuarantineRouting(t *testing.T) {
	extID := "07954605000160-1-000001/2026"
	rig := newRig(t, Options{}, pncpCandidate(extID))

	// No auction date: complete record, nothing to sell yet.
	delete(rig.fetcher.metas[extID], "dataAberturaProposta")

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rig.store.leiloes) != 0 {
		t.Fatalf("incomplete record reached the primary table")
	}
	if len(rig.store.quarantined) != 1 {
		t.Fatalf("got %d quarantine rows, want 1 (events: %v)", len(rig.store.quarantined), rig.store.eventNames())
	}
	q := rig.store.quarantined[0]
	if q.Status != string(validate.StatusNotSellable) {
		t.Errorf("quarantine status = %q, want NOT_SELLABLE", q.Status)
	}
	if q.RunID != "20260824T120000Z_abcd1234" {
		t.Errorf("quarantine RunID = %q", q.RunID)
	}
	if len(q.Errors) == 0 || len(q.Normalized) == 0 || len(q.Raw) == 0 {
		t.Errorf("quarantine evidence incomplete: errors=%d raw=%d normalized=%d",
			len(q.Errors), len(q.Raw), len(q.Normalized))
	}
	if !rig.store.hasEvent("quarantine.ok") {
		t.Errorf("missing quarantine.ok event, got %v", rig.store.eventNames())
	}

	fin := rig.finish(t)
	if fin.Status != store.StatusSuccess {
		t.Errorf("quarantining is not a run failure, status = %q", fin.Status)
	}
}

func TestRunCapacityBrake(t *testing.T) {
	rig := newRig(t, Options{Workers: 1},
		pncpCandidate("07954605000160-1-000001/2026"),
		pncpCandidate("07954605000160-1-000002/2026"),
		pncpCandidate("07954605000160-1-000003/2026"),
	)
	rig.store.capacityErr = true

	err := rig.runner.Run(context.Background())
	if !errors.Is(err, store.ErrCapacityExceeded) {
		t.Fatalf("Run error = %v, want capacity error", err)
	}

	fin := rig.finish(t)
	if fin.Status != store.StatusFailed {
		t.Errorf("run status = %q, want FAILED", fin.Status)
	}
	if fin.Reason != ReasonCapacity {
		t.Errorf("reason = %q, want %q", fin.Reason, ReasonCapacity)
	}
	if !rig.store.hasEvent("capacity_exceeded") {
		t.Errorf("missing capacity_exceeded event, got %v", rig.store.eventNames())
	}
}

func TestRunFetchErrorContinues(t *testing.T) {
	good := "07954605000160-1-000001/2026"
	bad := "07954605000160-1-000002/2026"
	rig := newRig(t, Options{}, pncpCandidate(good), pncpCandidate(bad))
	rig.fetcher.errs[bad] = errors.New("connection reset")

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("one bad candidate must not fail the run: %v", err)
	}

	if len(rig.store.leiloes) != 1 {
		t.Fatalf("got %d primary rows, want 1", len(rig.store.leiloes))
	}
	if !rig.store.hasEvent("fetch.err") {
		t.Errorf("missing fetch.err event, got %v", rig.store.eventNames())
	}
	if fin := rig.finish(t); fin.Status != store.StatusSuccess {
		t.Errorf("run status = %q, want SUCCESS", fin.Status)
	}
}

func TestRunGoneCandidateSkipped(t *testing.T) {
	gone := "07954605000160-1-000001/2026"
	rig := newRig(t, Options{}, pncpCandidate(gone))
	rig.fetcher.errs[gone] = fmt.Errorf("details: %w", fetch.ErrGone)

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !rig.store.hasEvent("notice.gone") {
		t.Errorf("missing notice.gone event, got %v", rig.store.eventNames())
	}
	if rig.store.hasEvent("fetch.err") {
		t.Errorf("gone candidate counted as a fetch failure")
	}
	if fin := rig.finish(t); fin.Status != store.StatusSuccess {
		t.Errorf("run status = %q, want SUCCESS", fin.Status)
	}
}

func TestRunInterrupted(t *testing.T) {
	rig := newRig(t, Options{}, pncpCandidate("07954605000160-1-000001/2026"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rig.runner.Run(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run error = %v, want ErrInterrupted", err)
	}

	fin := rig.finish(t)
	if fin.Status != store.StatusFailed {
		t.Errorf("run status = %q, want FAILED", fin.Status)
	}
	if fin.Reason != ReasonInterrupted {
		t.Errorf("reason = %q, want %q", fin.Reason, ReasonInterrupted)
	}
}

// failingEnricher always errors; records must still flow through.
type failingEnricher struct{}

func (failingEnricher) Enrich(context.Context, *record.AuctionRecord, string) error {
	return errors.New("model overloaded")
}
func (failingEnricher) Totals() enrich.Totals { return enrich.Totals{} }

func TestRunEnrichFailureIsWarning(t *testing.T) {
	rig := newRig(t, Options{Enricher: failingEnricher{}},
		pncpCandidate("07954605000160-1-000001/2026"))

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rig.store.leiloes) != 1 {
		t.Fatalf("record lost after enrichment failure, got %d rows", len(rig.store.leiloes))
	}
	if !rig.store.hasEvent("enrich.err") {
		t.Errorf("missing enrich.err event, got %v", rig.store.eventNames())
	}
	if fin := rig.finish(t); fin.Status != store.StatusSuccess {
		t.Errorf("run status = %q, want SUCCESS", fin.Status)
	}
}

func TestRunLimitCapsProcessing(t *testing.T) {
	rig := newRig(t, Options{RunLimit: 2, Workers: 1},
		pncpCandidate("07954605000160-1-000001/2026"),
		pncpCandidate("07954605000160-1-000002/2026"),
		pncpCandidate("07954605000160-1-000003/2026"),
		pncpCandidate("07954605000160-1-000004/2026"),
	)

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rig.fetcher.callCount(); got != 2 {
		t.Errorf("fetched %d candidates, want 2", got)
	}
	fin := rig.finish(t)
	if fin.Counters.Encontrados != 4 {
		t.Errorf("Encontrados = %d, want 4 (found counts before the cap)", fin.Counters.Encontrados)
	}
	if fin.Counters.Novos != 2 {
		t.Errorf("Novos = %d, want 2", fin.Counters.Novos)
	}
}

func TestRunUnknownSourceFlag(t *testing.T) {
	rig := newRig(t, Options{}, pncpCandidate("07954605000160-1-000001/2026"))
	rig.runner.only = "superbid"

	if err := rig.runner.Run(context.Background()); err == nil {
		t.Fatal("unknown --source name should fail before the run starts")
	}
	if len(rig.store.starts) != 0 {
		t.Errorf("run row was opened for an unknown source")
	}
}

func TestRunDiscoveryFailureContinues(t *testing.T) {
	rig := newRig(t, Options{})
	rig.runner.newDiscoverer = func(src source.Source) (discover.Discoverer, error) {
		return fakeDiscoverer{err: errors.New("search endpoint down")}, nil
	}

	if err := rig.runner.Run(context.Background()); err != nil {
		t.Fatalf("discovery failure must not fail the run: %v", err)
	}

	if !rig.store.hasEvent("discover.err") {
		t.Errorf("missing discover.err event, got %v", rig.store.eventNames())
	}
	fin := rig.finish(t)
	if fin.Status != store.StatusSuccess {
		t.Errorf("run status = %q, want SUCCESS", fin.Status)
	}
	if fin.Counters.Encontrados != 0 {
		t.Errorf("Encontrados = %d, want 0", fin.Counters.Encontrados)
	}
}

func TestDocumentText(t *testing.T) {
	tests := []struct {
		name     string
		partials []*extract.Partial
		want     string
	}{
		{
			name: "pdf wins over metadata",
			partials: []*extract.Partial{
				{Origin: extract.OriginJSON, Text: "resumo do portal"},
				{Origin: extract.OriginPDF, Text: "texto integral do edital"},
			},
			want: "texto integral do edital",
		},
		{
			name: "fallback to any text",
			partials: []*extract.Partial{
				{Origin: extract.OriginPDF, Text: "   "},
				{Origin: extract.OriginHTML, Text: "página do lote"},
			},
			want: "página do lote",
		},
		{
			name: "nothing to hand over",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := documentText(tt.partials); got != tt.want {
				t.Errorf("documentText() = %q, want %q", got, tt.want)
			}
		})
	}
}
