package enrich

import (
	"fmt"
	"os"
	"time"

	"github.com/achesucatas/auditor/internal/httputil"
	"github.com/achesucatas/auditor/internal/log"
)

// Breaker limits for LLM providers. Tighter than the scraper hosts: a
// degraded API should yield to the fallback after three failures, not
// stall the worker pool.
const (
	breakerThreshold = 3
	breakerReset     = 60 * time.Second
)

// Factory hands out LLM providers with a circuit breaker per provider
// and failover from the primary to whatever is still healthy.
type Factory struct {
	providers map[string]Provider
	breakers  map[string]*httputil.CircuitBreaker
	order     []string
	logger    log.Logger
}

// NewFactory detects providers from the environment: OpenAI when
// OPENAI_API_KEY is set (primary, model from OPENAI_MODEL), Claude when
// ANTHROPIC_API_KEY is set. Returns an error when neither key is
// present; the caller then runs without enrichment.
func NewFactory(client *httputil.Client, logger log.Logger) (*Factory, error) {
	if logger == nil {
		logger = log.Default()
	}
	f := &Factory{
		providers: map[string]Provider{},
		breakers:  map[string]*httputil.CircuitBreaker{},
		logger:    logger,
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if p, err := NewOpenAIProvider(client, key, os.Getenv("OPENAI_MODEL")); err == nil {
			f.register(p)
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if p, err := NewClaudeProvider(key, os.Getenv("ANTHROPIC_MODEL")); err == nil {
			f.register(p)
		}
	}

	if len(f.providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return f, nil
}

// NewFactoryWithProviders creates a factory over explicit providers in
// failover order. Tests use it with fakes.
func NewFactoryWithProviders(providers ...Provider) *Factory {
	f := &Factory{
		providers: map[string]Provider{},
		breakers:  map[string]*httputil.CircuitBreaker{},
		logger:    log.Default(),
	}
	for _, p := range providers {
		f.register(p)
	}
	return f
}

func (f *Factory) register(p Provider) {
	name := p.Name()
	if _, ok := f.providers[name]; ok {
		return
	}
	f.providers[name] = p
	f.breakers[name] = httputil.NewCircuitBreakerWithLimits(name, breakerThreshold, breakerReset)
	f.order = append(f.order, name)
}

// Pick returns the first provider in registration order whose breaker
// allows a request.
func (f *Factory) Pick() (Provider, error) {
	for _, name := range f.order {
		if f.breakers[name].Allow() {
			return f.providers[name], nil
		}
	}
	return nil, fmt.Errorf("no LLM provider available: all circuit breakers open")
}

// ReportSuccess closes the provider's breaker.
func (f *Factory) ReportSuccess(name string) {
	if b, ok := f.breakers[name]; ok {
		b.RecordSuccess()
	}
}

// ReportFailure counts one failure against the provider; reaching the
// threshold opens its breaker for the reset window.
func (f *Factory) ReportFailure(name string) {
	b, ok := f.breakers[name]
	if !ok {
		return
	}
	b.RecordFailure()
	if b.State() == httputil.StateOpen {
		f.logger.Warn("llm provider breaker open", "provider", name)
	}
}

// ProviderCount returns the number of registered providers.
func (f *Factory) ProviderCount() int {
	return len(f.providers)
}
