package discover

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/achesucatas/auditor/internal/log"
)

// sitemapURLSet is the standard sitemap schema, namespaces ignored.
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	Lastmod string `xml:"lastmod"`
}

// SitemapOptions configures a sitemap discoverer.
type SitemapOptions struct {
	// SourceName recorded on every candidate. Required.
	SourceName string

	// SitemapURL is the absolute sitemap.xml location. Required.
	SitemapURL string

	// LotPattern filters URLs down to lot pages. Nil keeps everything.
	LotPattern *regexp.Regexp

	// TopSeeds is how many parent auctions to rank in the report.
	// Zero skips seed computation.
	TopSeeds int

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// SitemapDiscoverer reads an auctioneer's sitemap and keeps the entries
// that look like lot pages.
type SitemapDiscoverer struct {
	client   fetchClient
	source   string
	sitemap  string
	pattern  *regexp.Regexp
	topSeeds int
	logger   log.Logger

	now func() time.Time
}

// NewSitemapDiscoverer creates a discoverer for one sitemap source.
func NewSitemapDiscoverer(client fetchClient, opts SitemapOptions) *SitemapDiscoverer {
	d := &SitemapDiscoverer{
		client:   client,
		source:   opts.SourceName,
		sitemap:  opts.SitemapURL,
		pattern:  opts.LotPattern,
		topSeeds: opts.TopSeeds,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	return d
}

// Discover fetches and filters the sitemap. The report ranks parent
// auctions by lot count so operators can seed deeper crawls.
func (d *SitemapDiscoverer) Discover(ctx context.Context) (*Result, error) {
	out := d.client.GetBytes(ctx, d.sitemap)
	if !out.OK {
		return nil, fmt.Errorf("failed to fetch sitemap %s: %s (status %d)",
			d.sitemap, out.ErrorClass, out.Status)
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(out.Body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap %s: %w", d.sitemap, err)
	}

	var candidates []Candidate
	parents := make(map[string]int)

	for _, entry := range set.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		if d.pattern != nil && !d.pattern.MatchString(loc) {
			continue
		}

		parsed, err := url.Parse(loc)
		if err != nil {
			d.logger.Debug("skipping unparseable sitemap entry", "loc", loc)
			continue
		}
		externalID := strings.Trim(parsed.Path, "/")
		if externalID == "" {
			externalID = parsed.Hostname()
		}

		cand := Candidate{
			SourceName:       d.source,
			SourceExternalID: externalID,
			RawURL:           loc,
		}
		if lm := strings.TrimSpace(entry.Lastmod); lm != "" {
			cand.Lastmod = parseAPITime(lm)
		}
		if parent := parentURL(loc); parent != "" {
			parents[parent]++
		}
		candidates = append(candidates, cand)
	}

	// Lots under a busy parent auction are the better leads
	for i := range candidates {
		if parent := parentURL(candidates[i].RawURL); parent != "" {
			candidates[i].ScoreHint = float64(parents[parent])
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Lastmod.After(candidates[j].Lastmod)
	})

	d.logger.Info("sitemap discovery complete",
		"source", d.source,
		"entries", len(set.URLs),
		"kept", len(candidates),
	)

	report := &Report{
		Source:      d.source,
		GeneratedAt: d.now(),
		TotalFound:  len(set.URLs),
		Kept:        len(candidates),
		TopSeeds:    rankSeeds(parents, d.topSeeds),
	}
	return &Result{Candidates: candidates, Report: report}, nil
}

// parentURL strips the final path segment, yielding the auction page a
// lot belongs to. Returns "" for top-level URLs.
func parentURL(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	dir := path.Dir(strings.TrimRight(u.Path, "/"))
	if dir == "/" || dir == "." {
		return ""
	}
	parent := *u
	parent.Path = dir
	parent.RawQuery = ""
	parent.Fragment = ""
	return parent.String()
}

// rankSeeds orders parents by lot count, ties broken by URL for
// deterministic reports.
func rankSeeds(parents map[string]int, n int) []Seed {
	if n <= 0 || len(parents) == 0 {
		return nil
	}
	seeds := make([]Seed, 0, len(parents))
	for p, c := range parents {
		seeds = append(seeds, Seed{ParentURL: p, LotCount: c})
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].LotCount != seeds[j].LotCount {
			return seeds[i].LotCount > seeds[j].LotCount
		}
		return seeds[i].ParentURL < seeds[j].ParentURL
	})
	if len(seeds) > n {
		seeds = seeds[:n]
	}
	return seeds
}
