// Package cascade assembles one auction record from everything the
// extractors produced for a notice. Every field has an ordered list of
// sources; the first non-empty value wins and later sources are never
// consulted. The resolver never rejects anything; gaps and suspect
// values are left for the validator.
package cascade

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/achesucatas/auditor/internal/extract"
	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
)

// Input carries everything the resolver may draw from for one notice.
type Input struct {
	SourceName       string
	SourceExternalID string

	// PNCPURL is the portal page, SourceURL the auctioneer lot page
	// (sitemap sources only).
	PNCPURL   string
	SourceURL string

	// Main-document blob coordinates, recorded as resolved.
	StoragePath string
	PDFHash     string

	Partials []*extract.Partial
}

// Resolution is the cascade output: the assembled record plus the
// extraction trouble the validator turns into notices.
type Resolution struct {
	Record          *record.AuctionRecord
	ExtractionNotes []string
	InvalidDates    []string
	ScannedPDF      bool
}

// Options configures a Resolver.
type Options struct {
	// Rules and Taxonomy default to the embedded tables when nil.
	Rules    *Rules
	Taxonomy *Taxonomy

	// Whitelist hosts bypass the fake-URL heuristic.
	Whitelist map[string]bool

	// Version is stamped on every record as versao_auditor.
	Version string

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// Resolver applies the field-priority tables. One resolver serves the
// whole worker pool; it holds no per-notice state.
type Resolver struct {
	rules     *Rules
	taxonomy  *Taxonomy
	whitelist map[string]bool
	version   string
	logger    log.Logger

	now func() time.Time
}

// NewResolver creates a resolver. Nil rules or taxonomy load the
// embedded defaults.
func NewResolver(opts Options) (*Resolver, error) {
	rules := opts.Rules
	if rules == nil {
		var err error
		rules, err = DefaultRules()
		if err != nil {
			return nil, err
		}
	}
	taxonomy := opts.Taxonomy
	if taxonomy == nil {
		var err error
		taxonomy, err = DefaultTaxonomy()
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		rules:     rules,
		taxonomy:  taxonomy,
		whitelist: opts.Whitelist,
		version:   opts.Version,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Date, money and counting patterns over document text.
var (
	datePattern      = regexp.MustCompile(`\b(?:\d{1,2}[/-]\d{1,2}[/-]\d{4}|\d{4}-\d{2}-\d{2})\b`)
	moneyPattern     = regexp.MustCompile(`R\$\s*[\d.]+,\d{2}`)
	lotePattern      = regexp.MustCompile(`(?mi)^\s*LOTE\s*(?:N[º°O.]{0,2}\s*)?\d+`)
	itemPattern      = regexp.MustCompile(`(?mi)^\s*ITEM\s*(?:N[º°O.]{0,2}\s*)?\d+`)
	leiloeiroPattern = regexp.MustCompile(`(?i:leiloeir[oa](?:[ \t]+oficial)?)(?:[ \t]*:[ \t]*|[ \t]+)([A-ZÀ-Ú][A-Za-zÀ-ú]*(?:[ \t]+(?:d[aeos]{1,3}[ \t]+)?[A-ZÀ-Ú][A-Za-zÀ-ú]*){1,4})`)
	editalPattern    = regexp.MustCompile(`(?i)edital\s+(?:de\s+leil[ãa]o\s+)?n[º°o.]{0,2}\s*(\d{1,5}[./-]\d{2,4})`)
	cityUFPattern    = regexp.MustCompile(`([A-ZÀ-Ú][a-zà-ü]+(?:\s+(?:d[aeo]s?\s+)?[A-ZÀ-Ú][a-zà-ü]+)*)\s*[-–/]\s*([A-Z]{2})\b`)
	pathCityUF       = regexp.MustCompile(`^([a-z][a-z0-9-]*)-([a-z]{2})$`)
)

// orgaoPrefixes mark lines that name the organizing body.
var orgaoPrefixes = []string{
	"prefeitura", "câmara", "camara", "governo", "secretaria",
	"departamento", "detran", "tribunal", "autarquia", "fundação",
	"fundacao", "instituto", "universidade", "consórcio", "consorcio",
}

// Resolve assembles the record for one notice.
func (r *Resolver) Resolve(in Input) *Resolution {
	rec := record.NewAuctionRecord(in.SourceName, in.SourceExternalID)
	rec.PNCPURL = in.PNCPURL
	rec.SourceURL = in.SourceURL
	rec.StoragePath = in.StoragePath
	rec.PDFHash = in.PDFHash
	rec.VersaoAuditor = r.version

	parts := newPartialSet(in.Partials)
	docLines := parts.lines(extract.OriginPDF, extract.OriginDOCX, extract.OriginHTML)
	docText := strings.Join(docLines, "\n")
	pdfLines := parts.lines(extract.OriginPDF)

	r.resolvePlace(rec, parts, in.SourceURL, docText)
	r.resolveDates(rec, parts, docLines, docText)
	r.resolveValor(rec, parts, docLines)
	r.resolveQuantidade(rec, parts, docText)
	r.resolveTitles(rec, parts, docLines, pdfLines)
	r.resolveLeiloeiro(rec, parts, docText)
	rec.LeiloeiroURL = r.resolveLeiloeiroURL(parts)
	rec.TipoLeilao = r.resolveTipo(parts)
	rec.Tags = r.classify(rec, parts)

	res := &Resolution{Record: rec}
	for _, p := range in.Partials {
		res.ExtractionNotes = append(res.ExtractionNotes, p.Notes...)
		res.InvalidDates = appendMissing(res.InvalidDates, p.InvalidDates)
		if p.ScannedPDF {
			res.ScannedPDF = true
		}
	}

	r.logger.Debug("record resolved",
		"id_interno", rec.IDInterno,
		"partials", len(in.Partials),
		"tags", len(rec.Tags),
	)
	return res
}

// resolvePlace fills municipio and uf, each from the first level that
// has it: source metadata, the lot-page URL path, document text, then
// spreadsheet cells.
func (r *Resolver) resolvePlace(rec *record.AuctionRecord, parts *partialSet, sourceURL, docText string) {
	levels := []func() (string, string){
		func() (string, string) {
			return parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.Municipio }),
				parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.UF })
		},
		func() (string, string) { return placeFromPath(sourceURL) },
		func() (string, string) { return placeFromText(docText) },
		func() (string, string) { return placeFromTable(parts.tabular()) },
	}
	for _, level := range levels {
		if rec.Municipio != "" && rec.UF != "" {
			return
		}
		city, uf := level()
		if rec.Municipio == "" {
			rec.Municipio = city
		}
		if rec.UF == "" {
			if n, ok := record.NormalizeUF(uf); ok {
				rec.UF = n
			}
		}
	}
}

// resolveDates fills the three record dates. Publication and update
// dates come from source metadata only; the auction date falls through
// spreadsheet date columns and document text scans.
func (r *Resolver) resolveDates(rec *record.AuctionRecord, parts *partialSet, docLines []string, docText string) {
	rec.DataPublicacao = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.DataPublicacao })
	rec.DataAtualizacao = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.DataAtualizacao })

	if d := parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.DataLeilao }); d != "" {
		rec.DataLeilao = d
		return
	}
	if d := dateFromTable(parts.tabular()); d != "" {
		rec.DataLeilao = d
		return
	}
	if d := r.dateNearContext(docLines); d != "" {
		rec.DataLeilao = d
		return
	}
	if d := dateFromYear(docText, r.now().Year()); d != "" {
		rec.DataLeilao = d
		return
	}
	if d, ok := record.ParseLongFormDate(docText); ok {
		rec.DataLeilao = d
	}
}

// dateNearContext returns the first date on (or right below) a line
// that mentions the auction session.
func (r *Resolver) dateNearContext(lines []string) string {
	for i, line := range lines {
		lower := strings.ToLower(line)
		if !containsAny(lower, r.rules.DataLeilao.Contexto) {
			continue
		}
		if d := firstDateIn(line); d != "" {
			return d
		}
		if i+1 < len(lines) {
			if d := firstDateIn(lines[i+1]); d != "" {
				return d
			}
		}
	}
	return ""
}

// dateFromYear returns the first document date from minYear onward.
func dateFromYear(text string, minYear int) string {
	for _, m := range datePattern.FindAllString(text, -1) {
		d, ok := record.NormalizeDate(m)
		if !ok {
			continue
		}
		t, err := record.DateBRToTime(d)
		if err == nil && t.Year() >= minYear {
			return d
		}
	}
	return ""
}

// dateFromTable scans date-named spreadsheet columns row by row.
func dateFromTable(parts []*extract.Partial) string {
	for _, p := range parts {
		if len(p.Header) == 0 {
			continue
		}
		var cols []int
		for i, h := range p.Header {
			if strings.Contains(strings.ToLower(h), "data") {
				cols = append(cols, i)
			}
		}
		for _, row := range p.Rows {
			for _, col := range cols {
				if col >= len(row) {
					continue
				}
				if d, ok := record.NormalizeDate(row[col]); ok {
					return d
				}
			}
		}
	}
	return ""
}

func firstDateIn(s string) string {
	for _, m := range datePattern.FindAllString(s, -1) {
		if d, ok := record.NormalizeDate(m); ok {
			return d
		}
	}
	return ""
}

// resolveValor fills the estimated value: source metadata first, then a
// money figure near a "valor estimado" mention.
func (r *Resolver) resolveValor(rec *record.AuctionRecord, parts *partialSet, docLines []string) {
	if v := parts.firstFloat(extract.OriginJSON, func(p *extract.Partial) *float64 { return p.ValorEstimado }); v != nil {
		rec.ValorEstimado = v
		return
	}
	for i, line := range docLines {
		if !containsAny(strings.ToLower(line), r.rules.ValorEstimado.Contexto) {
			continue
		}
		m := moneyPattern.FindString(line)
		if m == "" && i+1 < len(docLines) {
			m = moneyPattern.FindString(docLines[i+1])
		}
		if m == "" {
			continue
		}
		if v, ok := record.ParseMoneyBR(m); ok && v > 0 {
			rec.ValorEstimado = record.Float64Ptr(v)
			return
		}
	}
}

// resolveQuantidade fills the item count: source metadata first, then
// numbered LOTE headings, then numbered ITEM headings.
func (r *Resolver) resolveQuantidade(rec *record.AuctionRecord, parts *partialSet, docText string) {
	if v := parts.firstInt(extract.OriginJSON, func(p *extract.Partial) *int { return p.QuantidadeItens }); v != nil {
		rec.QuantidadeItens = v
		return
	}
	if n := len(lotePattern.FindAllString(docText, -1)); n > 0 {
		rec.QuantidadeItens = record.IntPtr(n)
		return
	}
	if n := len(itemPattern.FindAllString(docText, -1)); n > 0 {
		rec.QuantidadeItens = record.IntPtr(n)
	}
}

// resolveTitles fills titulo, descricao, objeto_resumido, orgao,
// modalidade and n_edital.
func (r *Resolver) resolveTitles(rec *record.AuctionRecord, parts *partialSet, docLines, pdfLines []string) {
	rec.Titulo = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.Titulo })
	if rec.Titulo == "" {
		rec.Titulo = parts.firstString(extract.OriginHTML, func(p *extract.Partial) string { return p.Titulo })
	}
	if rec.Titulo == "" {
		rec.Titulo = r.firstContentLine(docLines)
	}

	rec.Descricao = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.Descricao })
	if rec.Descricao == "" {
		rec.Descricao = parts.firstString(extract.OriginHTML, func(p *extract.Partial) string { return p.Descricao })
	}
	if rec.Descricao == "" && len(pdfLines) > 0 {
		n := len(pdfLines)
		if n > 3 {
			n = 3
		}
		rec.Descricao = strings.Join(pdfLines[:n], " ")
	}

	rec.ObjetoResumido = rec.Titulo
	if rec.ObjetoResumido == "" {
		rec.ObjetoResumido = rec.Descricao
	}

	rec.Orgao = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.Orgao })
	if rec.Orgao == "" {
		rec.Orgao = orgaoFromLines(docLines)
	}

	rec.Modalidade = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.Modalidade })

	rec.NEdital = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.NEdital })
	if rec.NEdital == "" {
		if m := editalPattern.FindStringSubmatch(strings.Join(docLines, "\n")); m != nil {
			rec.NEdital = m[1]
		}
	}
}

// firstContentLine returns the first document line that is long enough
// to be a title and is not letterhead.
func (r *Resolver) firstContentLine(lines []string) string {
	for _, line := range lines {
		if len([]rune(line)) < 10 {
			continue
		}
		if containsAny(strings.ToLower(line), r.rules.Titulo.Descartar) {
			continue
		}
		return line
	}
	return ""
}

// orgaoFromLines returns the first line naming an organizing body.
func orgaoFromLines(lines []string) string {
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, prefix := range orgaoPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return line
			}
		}
	}
	return ""
}

// resolveLeiloeiro fills the auctioneer name: source metadata first,
// then the "leiloeiro oficial: Fulano de Tal" document pattern.
func (r *Resolver) resolveLeiloeiro(rec *record.AuctionRecord, parts *partialSet, docText string) {
	rec.NomeLeiloeiro = parts.firstString(extract.OriginJSON, func(p *extract.Partial) string { return p.NomeLeiloeiro })
	if rec.NomeLeiloeiro != "" {
		return
	}
	if m := leiloeiroPattern.FindStringSubmatch(docText); m != nil {
		rec.NomeLeiloeiro = strings.TrimSpace(m[1])
	}
}

// resolveLeiloeiroURL scans, in order: document text, the
// informações complementares metadata field, and pre-extracted page
// links. Tokens that fail the host rules are skipped silently: a notice
// whose only URL-ish token is document shorthand simply has no
// auctioneer URL.
func (r *Resolver) resolveLeiloeiroURL(parts *partialSet) string {
	for _, p := range parts.of(extract.OriginPDF, extract.OriginDOCX) {
		if u := r.scanURL(p.Text); u != "" {
			return u
		}
	}
	for _, p := range parts.of(extract.OriginJSON) {
		if u := r.scanURL(p.InformacoesComplementares); u != "" {
			return u
		}
	}
	for _, p := range parts.ordered {
		if p.LeiloeiroURL == "" {
			continue
		}
		if u, ok := r.acceptURL(p.LeiloeiroURL); ok {
			return u
		}
	}
	return ""
}

// scanURL returns the first whitespace token of text that survives the
// URL rules.
func (r *Resolver) scanURL(text string) string {
	for _, tok := range strings.Fields(text) {
		if !strings.Contains(tok, ".") {
			continue
		}
		if u, ok := r.acceptURL(tok); ok {
			return u
		}
	}
	return ""
}

// acceptURL normalizes a candidate token and applies the host rules.
// Whitelisted hosts skip the fake-URL heuristic.
func (r *Resolver) acceptURL(token string) (string, bool) {
	normalized, _, ok := record.NormalizeURL(token)
	if !ok {
		return "", false
	}
	host := record.HostOf(normalized)
	if host == "" || record.IsEmailProviderHost(host) {
		return "", false
	}
	if r.whitelist[host] {
		return normalized, true
	}
	if record.IsFakeUppercaseURL(token) {
		return "", false
	}
	if !record.AllowedHost(host) {
		return "", false
	}
	return normalized, true
}

// resolveTipo scans every partial's text for modality keywords. Both
// kinds present means a hybrid auction; no keyword leaves the field
// empty, since absence of evidence never promotes to a concrete
// modality.
func (r *Resolver) resolveTipo(parts *partialSet) string {
	text := strings.ToLower(parts.allText())
	eletronico := containsAny(text, r.rules.TipoLeilao.Eletronico)
	presencial := containsAny(text, r.rules.TipoLeilao.Presencial)
	switch {
	case eletronico && presencial:
		return record.TipoHibrido
	case eletronico:
		return record.TipoEletronico
	case presencial:
		return record.TipoPresencial
	}
	return ""
}

// classify runs the tag taxonomy over the resolved title, description
// and all document text. No match yields the sentinel tag, which the
// validator strips.
func (r *Resolver) classify(rec *record.AuctionRecord, parts *partialSet) []string {
	text := strings.ToLower(rec.Titulo + "\n" + rec.Descricao + "\n" + parts.allText())
	var tags []string
	for _, name := range r.taxonomy.TagNames() {
		if containsAny(text, r.taxonomy.Tags[name]) {
			tags = append(tags, name)
		}
	}
	if len(tags) == 0 {
		tags = []string{record.SentinelTag}
	}
	return tags
}

// placeFromPath reads "…/<cidade>-<uf>/…" segments of a lot-page URL.
func placeFromPath(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		m := pathCityUF.FindStringSubmatch(strings.ToLower(seg))
		if m == nil || !record.ValidUF(strings.ToUpper(m[2])) {
			continue
		}
		city := cityFromSlug(m[1])
		if city == "" {
			continue
		}
		return city, strings.ToUpper(m[2])
	}
	return "", ""
}

// slugPrefixes are dropped from city slugs before title-casing.
var slugPrefixes = []string{
	"prefeitura-municipal-de-", "prefeitura-de-", "municipio-de-",
	"cidade-de-", "leilao-", "leilao-de-",
}

// cityFromSlug turns "prefeitura-de-sao-jose-dos-pinhais" into
// "Sao Jose dos Pinhais".
func cityFromSlug(slug string) string {
	for changed := true; changed; {
		changed = false
		for _, prefix := range slugPrefixes {
			if strings.HasPrefix(slug, prefix) {
				slug = strings.TrimPrefix(slug, prefix)
				changed = true
			}
		}
	}
	if slug == "" {
		return ""
	}
	return titleCase(strings.ReplaceAll(slug, "-", " "))
}

// linkWords stay lowercase inside title-cased names.
var linkWords = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "e": true,
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if i > 0 && linkWords[w] {
			continue
		}
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

// placeFromText finds the first "Cidade - UF" pair with a real UF in
// document text.
func placeFromText(text string) (string, string) {
	for _, m := range cityUFPattern.FindAllStringSubmatch(text, -1) {
		if record.ValidUF(m[2]) {
			return strings.TrimSpace(m[1]), m[2]
		}
	}
	return "", ""
}

// placeFromTable scans spreadsheet cells for the same pair.
func placeFromTable(parts []*extract.Partial) (string, string) {
	for _, p := range parts {
		for _, row := range p.Rows {
			for _, cell := range row {
				if city, uf := placeFromText(cell); city != "" {
					return city, uf
				}
			}
		}
	}
	return "", ""
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func appendMissing(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}
