package discover

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
)

// searchPath is the PNCP consultation endpoint, under the source base URL.
const searchPath = "/api/consulta/v1/contratacoes/publicacao"

// Paging defaults for the consultation API.
const (
	DefaultPaginas       = 5
	DefaultTamanhoPagina = 50
)

// controlNumber is the PNCP key format: CNPJ-modality-sequential/year,
// e.g. 00038000000100-1-000123/2026.
var controlNumber = regexp.MustCompile(`^(\d{14})-(\d)-(\d{6})/(\d{4})$`)

// ParseControlNumber splits a PNCP control number into the parts the
// detail endpoints address records by.
func ParseControlNumber(numero string) (cnpj string, ano, seq int, err error) {
	m := controlNumber.FindStringSubmatch(strings.TrimSpace(numero))
	if m == nil {
		return "", 0, 0, fmt.Errorf("malformed PNCP control number: %q", numero)
	}
	ano, _ = strconv.Atoi(m[4])
	seq, _ = strconv.Atoi(m[3])
	return m[1], ano, seq, nil
}

// NoticeURL builds the public notice page for a control number, or ""
// when the number is malformed.
func NoticeURL(baseURL, numero string) string {
	cnpj, ano, seq, err := ParseControlNumber(numero)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s/app/editais/%s/%d/%d", strings.TrimRight(baseURL, "/"), cnpj, ano, seq)
}

// DetailsURL builds the purchase-details API endpoint for a control
// number.
func DetailsURL(baseURL, numero string) (string, error) {
	cnpj, ano, seq, err := ParseControlNumber(numero)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/pncp-api/v1/orgaos/%s/compras/%d/%d",
		strings.TrimRight(baseURL, "/"), cnpj, ano, seq), nil
}

// FilesURL builds the attachment-listing endpoint for a control number.
func FilesURL(baseURL, numero string) (string, error) {
	details, err := DetailsURL(baseURL, numero)
	if err != nil {
		return "", err
	}
	return details + "/arquivos", nil
}

// PNCPOptions configures the PNCP discoverer.
type PNCPOptions struct {
	// BaseURL of the portal. Default: https://pncp.gov.br.
	BaseURL string

	// SourceName recorded on every candidate. Default: "pncp".
	SourceName string

	// Terms searched one by one. At least one is required.
	Terms []string

	// Dias is the lookback window in days. Default: 1.
	Dias int

	// Paginas is the page cap per term. Default: 5.
	Paginas int

	// TamanhoPagina is the page size. Default: 50, clamped to [10, 500].
	TamanhoPagina int

	// Logger for per-page diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// PNCPDiscoverer searches the consultation API term by term over a
// rolling publication window.
type PNCPDiscoverer struct {
	client  fetchClient
	base    string
	source  string
	terms   []string
	dias    int
	paginas int
	tamanho int
	logger  log.Logger

	// now is injectable for testing the window computation.
	now func() time.Time
}

// NewPNCPDiscoverer creates a discoverer. Zero-valued options get
// defaults.
func NewPNCPDiscoverer(client fetchClient, opts PNCPOptions) *PNCPDiscoverer {
	d := &PNCPDiscoverer{
		client:  client,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		source:  opts.SourceName,
		terms:   opts.Terms,
		dias:    opts.Dias,
		paginas: opts.Paginas,
		tamanho: opts.TamanhoPagina,
		logger:  opts.Logger,
		now:     time.Now,
	}
	if d.base == "" {
		d.base = "https://pncp.gov.br"
	}
	if d.source == "" {
		d.source = record.SourcePNCP
	}
	if d.dias <= 0 {
		d.dias = 1
	}
	if d.paginas <= 0 {
		d.paginas = DefaultPaginas
	}
	if d.tamanho <= 0 {
		d.tamanho = DefaultTamanhoPagina
	}
	if d.tamanho < 10 {
		d.tamanho = 10
	}
	if d.tamanho > 500 {
		d.tamanho = 500
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	return d
}

// pncpPage is the consultation API response envelope.
type pncpPage struct {
	Data           []map[string]any `json:"data"`
	TotalRegistros int              `json:"totalRegistros"`
	TotalPaginas   int              `json:"totalPaginas"`
}

// Discover walks every (term, page) pair, collects the returned items
// and orders them most recently updated first. Page failures are logged
// and skipped; only context cancellation aborts the pass.
func (d *PNCPDiscoverer) Discover(ctx context.Context) (*Result, error) {
	dataInicial, dataFinal := record.WindowBR(d.now(), d.dias)

	var candidates []Candidate
	termCounts := make(map[string]int, len(d.terms))

	for _, term := range d.terms {
		for page := 1; page <= d.paginas; page++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			params := url.Values{
				"termo":         {term},
				"dataInicial":   {dataInicial},
				"dataFinal":     {dataFinal},
				"pagina":        {strconv.Itoa(page)},
				"tamanhoPagina": {strconv.Itoa(d.tamanho)},
			}

			var p pncpPage
			out := d.client.GetJSON(ctx, d.base+searchPath, params, &p)
			if !out.OK {
				d.logger.Warn("PNCP search page failed",
					"term", term,
					"page", page,
					"status", out.Status,
					"error_class", string(out.ErrorClass),
				)
				break
			}
			if len(p.Data) == 0 {
				break
			}

			for _, item := range p.Data {
				cand, ok := d.candidateFromItem(item)
				if !ok {
					continue
				}
				candidates = append(candidates, cand)
				termCounts[term]++
			}

			d.logger.Debug("PNCP search page",
				"term", term,
				"page", page,
				"items", len(p.Data),
				"total_paginas", p.TotalPaginas,
			)

			if p.TotalPaginas > 0 && page >= p.TotalPaginas {
				break
			}
		}
	}

	// Most recently updated first; unknown timestamps sink to the end
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Lastmod.After(candidates[j].Lastmod)
	})

	report := &Report{
		Source:      d.source,
		GeneratedAt: d.now(),
		TotalFound:  len(candidates),
		Kept:        len(candidates),
		TermCounts:  termCounts,
	}
	return &Result{Candidates: candidates, Report: report}, nil
}

// candidateFromItem converts one search item. Items without a control
// number cannot be addressed later and are dropped.
func (d *PNCPDiscoverer) candidateFromItem(item map[string]any) (Candidate, bool) {
	numero, _ := item["numeroControlePNCP"].(string)
	if numero == "" {
		d.logger.Warn("PNCP item without numeroControlePNCP, skipping")
		return Candidate{}, false
	}

	cand := Candidate{
		SourceName:       d.source,
		SourceExternalID: numero,
		RawURL:           NoticeURL(d.base, numero),
		Payload:          item,
	}
	if raw, _ := item["dataAtualizacao"].(string); raw != "" {
		cand.Lastmod = parseAPITime(raw)
	}
	return cand, true
}

// parseAPITime accepts the portal's bare and offset datetime forms.
func parseAPITime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
