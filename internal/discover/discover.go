// Package discover enumerates candidate auction notices for each
// configured source: the PNCP consultation API for term searches over a
// rolling window, and sitemap parsing for auctioneer sites.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/achesucatas/auditor/internal/httputil"
)

// Candidate is one discovered notice, not yet fetched. Payload carries
// the discovery metadata as received so the fetcher can decide whether a
// details call is still needed.
type Candidate struct {
	SourceName       string
	SourceExternalID string
	RawURL           string
	Lastmod          time.Time
	ScoreHint        float64
	Payload          map[string]any
}

// Seed is a parent auction ranked by how many lots point at it.
type Seed struct {
	ParentURL string `json:"parent_url"`
	LotCount  int    `json:"lot_count"`
}

// Report summarizes one discovery pass, written as a JSON artifact next
// to the run logs.
type Report struct {
	Source      string         `json:"source"`
	GeneratedAt time.Time      `json:"generated_at"`
	TotalFound  int            `json:"total_found"`
	Kept        int            `json:"kept"`
	TermCounts  map[string]int `json:"term_counts,omitempty"`
	TopSeeds    []Seed         `json:"top_seeds,omitempty"`
}

// Write persists the report as indented JSON, creating parent
// directories as needed.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal discovery report: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write discovery report: %w", err)
	}
	return nil
}

// Result is the output of one discovery pass.
type Result struct {
	Candidates []Candidate
	Report     *Report
}

// Discoverer enumerates candidates for one source.
type Discoverer interface {
	Discover(ctx context.Context) (*Result, error)
}

// fetchClient is the slice of the fetch client discovery needs.
type fetchClient interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values, v any) httputil.Outcome
	GetBytes(ctx context.Context, rawURL string) httputil.Outcome
}

// Truncate caps the candidate stream at limit. Zero or negative means
// no limit.
func Truncate(candidates []Candidate, limit int) []Candidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}
