package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
)

// fakeProvider replays a canned response and records what it was asked.
type fakeProvider struct {
	name    string
	model   string
	content string
	usage   Usage
	err     error

	calls   int
	lastReq *CompletionRequest
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &CompletionResponse{Content: f.content, StopReason: "stop", Usage: f.usage}, nil
}

const goodReply = `{
	"commercial_title": "Grande Leilão de Sucatas",
	"summary": "Prefeitura vende 12 veículos inservíveis.",
	"vehicle_list": ["Fiat Uno 2009", "VW Gol 2012"],
	"auctioneer_url": "www.parquedosleiloes.com.br"
}`

func newTestEnricher(providers ...Provider) *LLMEnricher {
	return New(Options{
		Factory: NewFactoryWithProviders(providers...),
		Logger:  log.NewNoop(),
	})
}

// gapRecord has its commercial fields empty except the title.
func gapRecord() *record.AuctionRecord {
	rec := record.NewAuctionRecord(record.SourcePNCP, "07954605000160-1-000090/2026")
	rec.Titulo = "Leilão de sucatas da frota"
	return rec
}

func TestEnrichMergesOnlyEmptyFields(t *testing.T) {
	fake := &fakeProvider{name: "openai", model: "gpt-5-nano", content: goodReply}
	e := newTestEnricher(fake)
	rec := gapRecord()

	err := e.Enrich(context.Background(), rec, "texto do edital")
	require.NoError(t, err)

	require.Equal(t, "Leilão de sucatas da frota", rec.Titulo, "filled field must not be overwritten")
	require.Equal(t, "Prefeitura vende 12 veículos inservíveis.", rec.Descricao)
	require.Equal(t, "Fiat Uno 2009, VW Gol 2012", rec.ObjetoResumido)
	require.Equal(t, "www.parquedosleiloes.com.br", rec.LeiloeiroURL)
}

func TestEnrichSkipsCompleteRecord(t *testing.T) {
	fake := &fakeProvider{name: "openai", model: "gpt-5-nano", content: goodReply}
	e := newTestEnricher(fake)

	rec := gapRecord()
	rec.Descricao = "Descrição completa."
	rec.ObjetoResumido = "Sucatas"
	rec.LeiloeiroURL = "https://www.leiloes.com.br"

	require.NoError(t, e.Enrich(context.Background(), rec, ""))
	require.Zero(t, fake.calls, "complete records must not spend tokens")
	require.Zero(t, e.Totals().Requests)
}

func TestEnrichUnchangedOnProviderError(t *testing.T) {
	fake := &fakeProvider{name: "openai", model: "gpt-5-nano", err: errors.New("quota exceeded")}
	e := newTestEnricher(fake)

	rec := gapRecord()
	before := *rec

	err := e.Enrich(context.Background(), rec, "")
	require.Error(t, err)
	require.Equal(t, before, *rec)
	require.Zero(t, e.Totals().Requests)
}

func TestEnrichUnchangedOnGarbageReply(t *testing.T) {
	fake := &fakeProvider{
		name:    "openai",
		model:   "gpt-5-nano",
		content: "claro! aqui estão os dados que você pediu",
		usage:   Usage{InputTokens: 500, OutputTokens: 20},
	}
	e := newTestEnricher(fake)

	rec := gapRecord()
	before := *rec

	err := e.Enrich(context.Background(), rec, "")
	require.Error(t, err)
	require.Equal(t, before, *rec)
	require.Equal(t, 1, e.Totals().Requests, "tokens were billed even though the reply was unusable")
}

func TestEnrichParsesFencedReply(t *testing.T) {
	fake := &fakeProvider{
		name:    "claude",
		model:   DefaultClaudeModel,
		content: "```json\n" + goodReply + "\n```",
	}
	e := newTestEnricher(fake)
	rec := gapRecord()

	require.NoError(t, e.Enrich(context.Background(), rec, ""))
	require.Equal(t, "Prefeitura vende 12 veículos inservíveis.", rec.Descricao)
}

func TestEnrichSingleStringVehicleList(t *testing.T) {
	fake := &fakeProvider{
		name:    "openai",
		model:   "gpt-5-nano",
		content: `{"commercial_title":"","summary":"","vehicle_list":"Fiat Uno 2009","auctioneer_url":""}`,
	}
	e := newTestEnricher(fake)
	rec := gapRecord()

	require.NoError(t, e.Enrich(context.Background(), rec, ""))
	require.Equal(t, "Fiat Uno 2009", rec.ObjetoResumido)
}

func TestEnrichAccumulatesCost(t *testing.T) {
	fake := &fakeProvider{
		name:    "openai",
		model:   "gpt-5-nano",
		content: goodReply,
		usage:   Usage{InputTokens: 1000, OutputTokens: 500},
	}
	e := newTestEnricher(fake)

	require.NoError(t, e.Enrich(context.Background(), gapRecord(), ""))
	require.NoError(t, e.Enrich(context.Background(), gapRecord(), ""))

	totals := e.Totals()
	require.Equal(t, 2, totals.Requests)
	require.Equal(t, 2000, totals.InputTokens)
	require.Equal(t, 1000, totals.OutputTokens)
	// 2 * (1000/1e6*0.05 + 500/1e6*0.40)
	require.InDelta(t, 0.0005, totals.Cost, 1e-9)
	require.InDelta(t, totals.Cost, totals.CostOpenAI, 1e-9,
		"all spend went through the openai provider")
}

func TestEnrichOpenAICostShare(t *testing.T) {
	claude := &fakeProvider{
		name:    "claude",
		model:   "claude-3-5-haiku-latest",
		content: goodReply,
		usage:   Usage{InputTokens: 1000, OutputTokens: 500},
	}
	e := newTestEnricher(claude)

	require.NoError(t, e.Enrich(context.Background(), gapRecord(), ""))

	totals := e.Totals()
	require.Positive(t, totals.Cost)
	require.Zero(t, totals.CostOpenAI, "claude spend is not OpenAI spend")
}

func TestEnrichFailoverAfterBreakerTrips(t *testing.T) {
	primary := &fakeProvider{name: "openai", model: "gpt-5-nano", err: errors.New("quota exceeded")}
	fallback := &fakeProvider{name: "claude", model: DefaultClaudeModel, content: goodReply}
	e := newTestEnricher(primary, fallback)

	for range 3 {
		require.Error(t, e.Enrich(context.Background(), gapRecord(), ""))
	}

	rec := gapRecord()
	require.NoError(t, e.Enrich(context.Background(), rec, ""))
	require.Equal(t, 3, primary.calls)
	require.Equal(t, 1, fallback.calls)
	require.Equal(t, "Prefeitura vende 12 veículos inservíveis.", rec.Descricao)
}

func TestEnrichErrorWhenAllBreakersOpen(t *testing.T) {
	only := &fakeProvider{name: "openai", model: "gpt-5-nano", err: errors.New("down")}
	e := newTestEnricher(only)

	for range 3 {
		require.Error(t, e.Enrich(context.Background(), gapRecord(), ""))
	}

	err := e.Enrich(context.Background(), gapRecord(), "")
	require.ErrorContains(t, err, "circuit breakers open")
	require.Equal(t, 3, only.calls, "open breaker must stop requests")
}

func TestEnrichPromptCarriesSanitizedRecord(t *testing.T) {
	fake := &fakeProvider{name: "openai", model: "gpt-5-nano", content: goodReply}
	e := newTestEnricher(fake)

	rec := gapRecord()
	rec.Descricao = "Contato do leiloeiro: CPF 123.456.789-01."

	require.NoError(t, e.Enrich(context.Background(), rec, "texto do documento"))
	require.NotNil(t, fake.lastReq)
	require.Contains(t, fake.lastReq.UserPrompt, "Leilão de sucatas da frota")
	require.Contains(t, fake.lastReq.UserPrompt, "texto do documento")
	require.Contains(t, fake.lastReq.UserPrompt, "[CPF]")
	require.NotContains(t, fake.lastReq.UserPrompt, "123.456.789-01")
}

func TestNoopEnricher(t *testing.T) {
	e := NewNoop()
	rec := gapRecord()
	before := *rec

	require.NoError(t, e.Enrich(context.Background(), rec, "qualquer texto"))
	require.Equal(t, before, *rec)
	require.Zero(t, e.Totals())
}
