package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/achesucatas/auditor/internal/httputil"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
)

// Enricher fills empty commercial fields of a record. Implementations
// must leave the record untouched on any failure.
type Enricher interface {
	// Enrich fills the fields the cascade left empty, in place, using
	// docText as document context.
	Enrich(ctx context.Context, rec *record.AuctionRecord, docText string) error

	// Totals reports the accumulated spend, for the run's FinOps block.
	Totals() Totals
}

// noop is the enricher used when no API key is configured.
type noop struct{}

// NewNoop returns an enricher that does nothing and costs nothing.
func NewNoop() Enricher { return noop{} }

func (noop) Enrich(context.Context, *record.AuctionRecord, string) error { return nil }
func (noop) Totals() Totals                                              { return Totals{} }

// / FromEnv builds the enricher the environment allows: an LLM-backed one
// when an API key is configured, otherwise the no-op.
func FromEnv(client *httputil.Client, logger log.Logger) Enricher {
	if logger == nil {
		logger = log.Default()
	}
	factory, err := NewFactory(client, logger)
	if err != nil {
		logger.Info("enrichment disabled", "reason", err.Error())
		return NewNoop()
	}
	return New(Options{Factory: factory, Logger: logger})
}

// Options configure an LLM enricher.
type Options struct {
	// Factory supplies providers with failover. Required.
	Factory *Factory

	// Sanitizer scrubs and clips text bound for the API. If nil, a
	// default sanitizer is used.
	Sanitizer *Sanitizer

	// MaxTokens caps each reply. Zero means 1024.
	MaxTokens int

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// LLMEnricher asks a model for the commercial fields and merges the
// reply into whatever the cascade left empty. Safe for concurrent use
// by the worker pool.
type LLMEnricher struct {
	factory   *Factory
	sanitizer *Sanitizer
	maxTokens int
	logger    log.Logger

	mu     sync.Mutex
	totals Totals
}

// New creates an LLM enricher.
func New(opts Options) *LLMEnricher {
	sanitizer := opts.Sanitizer
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &LLMEnricher{
		factory:   opts.Factory,
		sanitizer: sanitizer,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

const systemPrompt = `Você extrai dados comerciais de editais de leilão público brasileiros.
Responda somente com um objeto JSON com exatamente estes campos:
  "commercial_title": título comercial curto do leilão,
  "summary": resumo objetivo em até três frases,
  "vehicle_list": lista dos veículos ou lotes principais (array de strings),
  "auctioneer_url": URL do site do leiloeiro, ou "" se o texto não trouxer uma.
Não invente dados: campo sem evidência no texto fica vazio.`

// reply is the shape the model is instructed to return.
type reply struct {
	CommercialTitle string     `json:"commercial_title"`
	Summary         string     `json:"summary"`
	VehicleList     stringList `json:"vehicle_list"`
	AuctioneerURL   string     `json:"auctioneer_url"`
}

// stringList tolerates models answering with a single string where an
// array was asked for.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one != "" {
		*l = stringList{one}
	}
	return nil
}

// Enrich asks the model for the missing fields. The record is written
// only after the reply parses; every failure path returns it unchanged.
func (e *LLMEnricher) Enrich(ctx context.Context, rec *record.AuctionRecord, docText string) error {
	if !needsEnrichment(rec) {
		return nil
	}

	provider, err := e.factory.Pick()
	if err != nil {
		return err
	}

	resp, err := provider.Complete(ctx, e.buildRequest(rec, docText))
	if err != nil {
		e.factory.ReportFailure(provider.Name())
		e.logger.Warn("enrichment failed",
			"id_interno", rec.IDInterno,
			"provider", provider.Name(),
			"error", err,
		)
		return fmt.Errorf("enrich %s: %w", rec.IDInterno, err)
	}
	e.factory.ReportSuccess(provider.Name())
	e.account(provider.Name(), provider.Model(), resp.Usage)

	fields, err := parseReply(resp.Content)
	if err != nil {
		e.logger.Warn("enrichment reply unusable",
			"id_interno", rec.IDInterno,
			"provider", provider.Name(),
			"error", err,
		)
		return fmt.Errorf("enrich %s: %w", rec.IDInterno, err)
	}

	changed := merge(rec, fields)
	e.logger.Debug("record enriched",
		"id_interno", rec.IDInterno,
		"provider", provider.Name(),
		"fields", strings.Join(changed, ","),
	)
	return nil
}

// Totals returns a snapshot of the accumulated spend.
func (e *LLMEnricher) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

func (e *LLMEnricher) account(provider, model string, usage Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cost := usage.Cost(PricingFor(model))
	e.totals.Requests++
	e.totals.InputTokens += usage.InputTokens
	e.totals.OutputTokens += usage.OutputTokens
	e.totals.Cost += cost
	if provider == "openai" {
		e.totals.CostOpenAI += cost
	}
}

func (e *LLMEnricher) buildRequest(rec *record.AuctionRecord, docText string) *CompletionRequest {
	var b strings.Builder
	b.WriteString("TÍTULO: ")
	b.WriteString(rec.Titulo)
	b.WriteString("\n\nDESCRIÇÃO: ")
	b.WriteString(e.sanitizer.Sanitize(rec.Descricao))
	b.WriteString("\n\nTEXTO DO EDITAL:\n")
	b.WriteString(e.sanitizer.Sanitize(docText))
	return &CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   b.String(),
		MaxTokens:    e.maxTokens,
	}
}

// needsEnrichment reports whether any target field is still empty.
func needsEnrichment(rec *record.AuctionRecord) bool {
	return rec.Titulo == "" ||
		rec.Descricao == "" ||
		rec.ObjetoResumido == "" ||
		rec.LeiloeiroURL == ""
}

// parseReply decodes the model's JSON, tolerating a code fence around
// it.
func parseReply(content string) (*reply, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	var r reply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	return &r, nil
}

// merge writes reply fields into rec where the cascade left nothing and
// returns the column names that changed. URLs go in raw: the validator
// normalizes and vets them afterwards.
func merge(rec *record.AuctionRecord, r *reply) []string {
	var changed []string
	if rec.Titulo == "" && r.CommercialTitle != "" {
		rec.Titulo = r.CommercialTitle
		changed = append(changed, "titulo")
	}
	if rec.Descricao == "" && r.Summary != "" {
		rec.Descricao = r.Summary
		changed = append(changed, "descricao")
	}
	if rec.ObjetoResumido == "" && len(r.VehicleList) > 0 {
		rec.ObjetoResumido = strings.Join(r.VehicleList, ", ")
		changed = append(changed, "objeto_resumido")
	}
	if rec.LeiloeiroURL == "" && r.AuctioneerURL != "" {
		rec.LeiloeiroURL = r.AuctioneerURL
		changed = append(changed, "leiloeiro_url")
	}
	return changed
}
