package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPricingForLongestPrefix(t *testing.T) {
	tests := []struct {
		model string
		want  float64 // input price per million
	}{
		{"gpt-5-nano", 0.05},
		{"gpt-5-nano-2025-08-07", 0.05},
		{"gpt-5-mini-2025-08-07", 0.25},
		{"gpt-5-2025-08-07", 1.25},
		{"claude-3-5-haiku-latest", 0.80},
		{"modelo-desconhecido", fallbackPricing.InputPerMillion},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			require.Equal(t, tt.want, PricingFor(tt.model).InputPerMillion)
		})
	}
}

func TestUsageCost(t *testing.T) {
	u := Usage{InputTokens: 1_000_000, OutputTokens: 500_000}
	p := Pricing{InputPerMillion: 0.05, OutputPerMillion: 0.40}

	require.InDelta(t, 0.25, u.Cost(p), 1e-9)
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 20}
	u.Add(Usage{InputTokens: 5, OutputTokens: 7})

	require.Equal(t, Usage{InputTokens: 15, OutputTokens: 27}, u)
}

func TestTotalsString(t *testing.T) {
	s := Totals{Requests: 3, InputTokens: 1200, OutputTokens: 400, Cost: 0.0123}.String()

	require.Contains(t, s, "requests: 3")
	require.Contains(t, s, "$0.0123")
}
