package cascade

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed rules.toml
var embeddedRules []byte

//go:embed taxonomy.toml
var embeddedTaxonomy []byte

// Rules holds the keyword tables the resolver scans with. All entries
// are lowercased at load time; matching is substring matching over
// lowercased text.
type Rules struct {
	TipoLeilao struct {
		Eletronico []string `toml:"eletronico"`
		Presencial []string `toml:"presencial"`
	} `toml:"tipo_leilao"`
	DataLeilao struct {
		Contexto []string `toml:"contexto"`
	} `toml:"data_leilao"`
	ValorEstimado struct {
		Contexto []string `toml:"contexto"`
	} `toml:"valor_estimado"`
	Titulo struct {
		Descartar []string `toml:"descartar"`
	} `toml:"titulo"`
}

// DefaultRules parses the embedded rule tables.
func DefaultRules() (*Rules, error) {
	return ParseRules(embeddedRules)
}

// LoadRules reads a replacement rule file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes and validates rule TOML.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	lists := map[string]*[]string{
		"tipo_leilao.eletronico":  &r.TipoLeilao.Eletronico,
		"tipo_leilao.presencial":  &r.TipoLeilao.Presencial,
		"data_leilao.contexto":    &r.DataLeilao.Contexto,
		"valor_estimado.contexto": &r.ValorEstimado.Contexto,
		"titulo.descartar":        &r.Titulo.Descartar,
	}
	for name, list := range lists {
		cleaned, err := cleanKeywords(*list)
		if err != nil {
			return nil, fmt.Errorf("rules %s: %w", name, err)
		}
		if len(cleaned) == 0 {
			return nil, fmt.Errorf("rules %s: empty keyword list", name)
		}
		*list = cleaned
	}
	return &r, nil
}

// Taxonomy maps tag names to their trigger keywords.
type Taxonomy struct {
	Tags map[string][]string `toml:"tags"`

	names []string
}

// TagNames returns the tag names in stable (sorted) order.
func (t *Taxonomy) TagNames() []string {
	return t.names
}

// DefaultTaxonomy parses the embedded tag table.
func DefaultTaxonomy() (*Taxonomy, error) {
	return ParseTaxonomy(embeddedTaxonomy)
}

// LoadTaxonomy reads a replacement taxonomy file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy %s: %w", path, err)
	}
	t, err := ParseTaxonomy(data)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return t, nil
}

// ParseTaxonomy decodes and validates taxonomy TOML. Tag names are
// uppercased, keywords lowercased.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if len(t.Tags) == 0 {
		return nil, fmt.Errorf("taxonomy has no tags")
	}

	tags := make(map[string][]string, len(t.Tags))
	for name, keywords := range t.Tags {
		upper := strings.ToUpper(strings.TrimSpace(name))
		if upper == "" {
			return nil, fmt.Errorf("taxonomy tag with empty name")
		}
		cleaned, err := cleanKeywords(keywords)
		if err != nil {
			return nil, fmt.Errorf("taxonomy tag %s: %w", upper, err)
		}
		if len(cleaned) == 0 {
			return nil, fmt.Errorf("taxonomy tag %s: no keywords", upper)
		}
		tags[upper] = cleaned
	}
	t.Tags = tags

	t.names = make([]string, 0, len(tags))
	for name := range tags {
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return &t, nil
}

// cleanKeywords lowercases entries, keeping deliberate trailing spaces
// (word guards such as "moto ").
func cleanKeywords(keywords []string) ([]string, error) {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		lowered := strings.ToLower(kw)
		if strings.TrimSpace(lowered) == "" {
			return nil, fmt.Errorf("blank keyword")
		}
		out = append(out, lowered)
	}
	return out, nil
}
