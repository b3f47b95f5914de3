// Package source loads the catalog of configured harvest sources and the
// auctioneer host whitelist. The default catalog ships embedded in the
// binary; an external TOML file can replace it.
package source

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed sources.toml
var embeddedCatalog []byte

// Source kinds. The kind selects the discovery strategy.
const (
	KindPNCP    = "pncp"
	KindSitemap = "sitemap"
)

// Source is one configured origin of auction notices.
type Source struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`

	// Sitemap sources only.
	SitemapPath   string `toml:"sitemap_path"`
	LotURLPattern string `toml:"lot_url_pattern"`
	TopSeeds      int    `toml:"top_seeds"`
}

// Validate checks the fields a discoverer will rely on.
func (s *Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source without a name")
	}
	if s.Kind != KindPNCP && s.Kind != KindSitemap {
		return fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
	}
	if !strings.HasPrefix(s.BaseURL, "https://") && !strings.HasPrefix(s.BaseURL, "http://") {
		return fmt.Errorf("source %s: base_url must be absolute, got %q", s.Name, s.BaseURL)
	}
	if s.Kind == KindSitemap {
		if s.SitemapPath == "" {
			return fmt.Errorf("source %s: sitemap source needs sitemap_path", s.Name)
		}
		if _, err := s.LotPattern(); err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}
	}
	return nil
}

// LotPattern compiles the lot-URL filter. Sitemap sources without a
// pattern accept every URL.
func (s *Source) LotPattern() (*regexp.Regexp, error) {
	if s.LotURLPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(s.LotURLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid lot_url_pattern: %w", err)
	}
	return re, nil
}

// SitemapURL joins the base URL and sitemap path.
func (s *Source) SitemapURL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.SitemapPath
}

// whitelistSection holds the known auctioneer hosts.
type whitelistSection struct {
	Hosts []string `toml:"hosts"`
}

// Catalog is the parsed source configuration.
type Catalog struct {
	Sources   []Source         `toml:"sources"`
	Whitelist whitelistSection `toml:"whitelist"`
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Load reads a catalog from an external TOML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("source catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog TOML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse source catalog: %w", err)
	}
	if len(c.Sources) == 0 {
		return nil, fmt.Errorf("source catalog has no sources")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &c, nil
}

// Get returns the source with the given name.
func (c *Catalog) Get(name string) (*Source, bool) {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

// EnabledSources returns the sources a run should iterate, in catalog
// order.
func (c *Catalog) EnabledSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// WhitelistSet returns the auctioneer hosts as a lowercase lookup set.
func (c *Catalog) WhitelistSet() map[string]bool {
	set := make(map[string]bool, len(c.Whitelist.Hosts))
	for _, h := range c.Whitelist.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = true
		}
	}
	return set
}
