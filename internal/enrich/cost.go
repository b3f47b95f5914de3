package enrich

import (
	"fmt"
	"strings"
)

// Usage tracks token consumption for one or more completions.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Pricing in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost returns the USD cost of u at the given pricing.
func (u Usage) Cost(p Pricing) float64 {
	return float64(u.InputTokens)/1_000_000*p.InputPerMillion +
		float64(u.OutputTokens)/1_000_000*p.OutputPerMillion
}

// modelPricing maps model name prefixes to published list prices.
// Longest prefix wins, so "gpt-5-nano-2025-08-07" finds "gpt-5-nano".
var modelPricing = map[string]Pricing{
	"gpt-5-nano":        {InputPerMillion: 0.05, OutputPerMillion: 0.40},
	"gpt-5-mini":        {InputPerMillion: 0.25, OutputPerMillion: 2.00},
	"gpt-5":             {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
}

// fallbackPricing is deliberately the most expensive tier, so an
// unrecognized model overstates cost rather than hiding it.
var fallbackPricing = Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}

// PricingFor returns the pricing for a model name, matching the longest
// known prefix.
func PricingFor(model string) Pricing {
	best := ""
	for prefix := range modelPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return fallbackPricing
	}
	return modelPricing[best]
}

// Totals is the accumulated spend of an enricher over a run, reported
// into the run's FinOps block. CostOpenAI is the OpenAI share of Cost,
// tracked separately because the FinOps report breaks it out.
type Totals struct {
	Requests     int
	InputTokens  int
	OutputTokens int
	Cost         float64
	CostOpenAI   float64
}

// String returns a one-line summary for logs.
func (t Totals) String() string {
	return fmt.Sprintf("requests: %d, tokens: %d in / %d out, cost: $%.4f",
		t.Requests, t.InputTokens, t.OutputTokens, t.Cost)
}
