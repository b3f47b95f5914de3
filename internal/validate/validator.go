package validate

import (
	"regexp"
	"slices"
	"strings"

	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
)

// maxDescricao caps the description column, ellipsis included.
const maxDescricao = 500

// Options configure a Validator.
type Options struct {
	// Whitelist maps lowercase hosts that bypass the heuristic URL
	// checks. Usually the catalog's auctioneer hosts.
	Whitelist map[string]bool

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// Validator normalizes records in place and decides their routing
// status. One validator serves the whole worker pool; it holds no
// per-record state.
type Validator struct {
	whitelist map[string]bool
	logger    log.Logger
}

// New creates a validator.
func New(opts Options) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Validator{whitelist: opts.Whitelist, logger: logger}
}

// Trouble carries document-stage findings into validation. The
// validator turns them into notices so quarantine rows keep the full
// story of how a record came to be.
type Trouble struct {
	// ExtractionNotes are non-fatal extractor complaints, verbatim.
	ExtractionNotes []string

	// InvalidDates names date fields whose source value existed but
	// could not be parsed.
	InvalidDates []string
}

// realEstateOnly flags notices that auction property with no vehicle or
// scrap evidence at all. Those are out of scope for the product.
var realEstateOnly = regexp.MustCompile(`(?i)\bim[óo]ve(?:l|is)\b`)

// Validate normalizes rec in place and decides its routing status.
//
// Normalization runs first so that the required-field checks and the
// decision table see exactly the values the repository will store.
func (v *Validator) Validate(rec *record.AuctionRecord, trouble Trouble) *Result {
	res := &Result{Record: rec}

	v.normalizeStrings(rec)
	res.Notices = append(res.Notices, v.normalizeTags(rec)...)
	res.Notices = append(res.Notices, v.normalizeURLs(rec)...)

	badDates := v.checkDates(rec, trouble.InvalidDates)
	res.Notices = append(res.Notices, badDates...)

	flagged := make(map[string]bool, len(badDates))
	for _, n := range badDates {
		flagged[n.Field] = true
	}
	res.Notices = append(res.Notices, v.checkRequired(rec, flagged)...)
	res.Notices = append(res.Notices, v.checkCategory(rec)...)

	for _, note := range trouble.ExtractionNotes {
		res.Notices = append(res.Notices, Notice{Code: CodeExtractionError, Message: note})
	}

	res.Status = decide(res.Notices)
	v.logger.Debug("record validated",
		"id_interno", rec.IDInterno,
		"status", string(res.Status),
		"notices", len(res.Notices),
	)
	return res
}

// normalizeStrings collapses whitespace runs, uppercases the UF and caps
// the description. An UF outside the 27-code set is cleared so the
// required-field check reports it.
func (v *Validator) normalizeStrings(rec *record.AuctionRecord) {
	rec.Municipio = collapse(rec.Municipio)
	rec.Titulo = collapse(rec.Titulo)
	rec.Orgao = collapse(rec.Orgao)
	rec.ObjetoResumido = collapse(rec.ObjetoResumido)
	rec.NomeLeiloeiro = collapse(rec.NomeLeiloeiro)
	rec.NEdital = collapse(rec.NEdital)
	rec.Modalidade = collapse(rec.Modalidade)
	rec.Descricao = truncate(collapse(rec.Descricao), maxDescricao)

	if uf, ok := record.NormalizeUF(rec.UF); ok {
		rec.UF = uf
	} else {
		rec.UF = ""
	}
}

// normalizeTags uppercases, trims, deduplicates and strips the sentinel.
// Emits one TAGS_NORMALIZED notice when the set changed.
func (v *Validator) normalizeTags(rec *record.AuctionRecord) []Notice {
	normalized := make([]string, 0, len(rec.Tags))
	seen := make(map[string]bool, len(rec.Tags))
	for _, tag := range rec.Tags {
		tag = strings.ToUpper(strings.TrimSpace(tag))
		if tag == "" || tag == record.SentinelTag || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}
	if slices.Equal(normalized, rec.Tags) {
		return nil
	}
	rec.Tags = normalized
	return []Notice{{
		Code:    CodeTagsNormalized,
		Field:   "tags",
		Message: "conjunto de tags ajustado na normalização",
	}}
}

// normalizeURLs rewrites the three URL columns into canonical form. The
// auctioneer URL additionally passes the host heuristics; a value that
// fails them flips LeiloeiroURLValid so the router quarantines the
// record with the evidence preserved.
func (v *Validator) normalizeURLs(rec *record.AuctionRecord) []Notice {
	var notices []Notice

	normalize := func(field, raw string) (string, bool) {
		if raw == "" {
			return "", true
		}
		normalized, changed, ok := record.NormalizeURL(raw)
		if !ok {
			notices = append(notices, Notice{
				Code:    CodeInvalidURL,
				Field:   field,
				Message: "URL não normalizável: " + raw,
			})
			return raw, false
		}
		if changed {
			notices = append(notices, Notice{
				Code:    CodeURLNormalized,
				Field:   field,
				Message: "URL reescrita para " + normalized,
			})
		}
		return normalized, true
	}

	rec.PNCPURL, _ = normalize("pncp_url", rec.PNCPURL)
	rec.SourceURL, _ = normalize("source_url", rec.SourceURL)

	// The fake-word heuristic needs the original casing, so it runs
	// before normalization lowercases the host.
	switch raw := rec.LeiloeiroURL; {
	case raw == "":
	case record.IsFakeUppercaseURL(raw) && !v.whitelist[strings.ToLower(raw)]:
		rec.LeiloeiroURLValid = false
		notices = append(notices, Notice{
			Code:    CodeInvalidURL,
			Field:   "leiloeiro_url",
			Message: "palavra em caixa alta no lugar de um domínio: " + raw,
		})
	default:
		url, ok := normalize("leiloeiro_url", raw)
		rec.LeiloeiroURL = url
		if ok && url != "" && !v.credibleHost(url) {
			rec.LeiloeiroURLValid = false
			notices = append(notices, Notice{
				Code:    CodeInvalidURL,
				Field:   "leiloeiro_url",
				Message: "host de leiloeiro não aceito: " + url,
			})
		}
	}
	return notices
}

// credibleHost applies the host heuristics to a URL that survived
// normalization. Whitelisted hosts always pass.
func (v *Validator) credibleHost(u string) bool {
	host := record.HostOf(u)
	if host == "" {
		return false
	}
	if v.whitelist[host] {
		return true
	}
	return !record.IsEmailProviderHost(host) && record.AllowedHost(host)
}

// checkDates verifies that every filled date column reads DD-MM-YYYY,
// repairing recognizable formats silently. Fields the extractors flagged
// as unreadable become notices as well.
func (v *Validator) checkDates(rec *record.AuctionRecord, unreadable []string) []Notice {
	var notices []Notice
	for _, field := range unreadable {
		notices = append(notices, Notice{
			Code:    CodeInvalidDate,
			Field:   field,
			Message: "data presente na origem mas ilegível",
		})
	}
	check := func(field string, value *string) {
		if *value == "" || record.ValidDateBR(*value) {
			return
		}
		if normalized, ok := record.NormalizeDate(*value); ok {
			*value = normalized
			return
		}
		notices = append(notices, Notice{
			Code:    CodeInvalidDate,
			Field:   field,
			Message: "data fora do formato DD-MM-AAAA: " + *value,
		})
	}
	check("data_publicacao", &rec.DataPublicacao)
	check("data_atualizacao", &rec.DataAtualizacao)
	check("data_leilao", &rec.DataLeilao)
	return notices
}

// checkRequired reports every required column left empty. Fields already
// flagged with an invalid-date notice are skipped so each problem is
// reported once. n_edital stays optional.
func (v *Validator) checkRequired(rec *record.AuctionRecord, flagged map[string]bool) []Notice {
	var notices []Notice
	missing := func(field string, empty bool) {
		if !empty || flagged[field] {
			return
		}
		notices = append(notices, Notice{
			Code:    CodeMissingRequired,
			Field:   field,
			Message: "campo obrigatório ausente",
		})
	}
	missing("id_interno", rec.IDInterno == "")
	missing("municipio", rec.Municipio == "")
	missing("uf", rec.UF == "")
	missing("pncp_url", rec.PNCPURL == "")
	missing("data_atualizacao", rec.DataAtualizacao == "")
	missing("titulo", rec.Titulo == "")
	missing("descricao", rec.Descricao == "")
	missing("orgao", rec.Orgao == "")
	missing("objeto_resumido", rec.ObjetoResumido == "")
	missing("tags", len(rec.Tags) == 0)
	missing("valor_estimado", rec.ValorEstimado == nil)
	missing("tipo_leilao", rec.TipoLeilao == "")
	missing("data_publicacao", rec.DataPublicacao == "")
	missing("data_leilao", rec.DataLeilao == "")
	return notices
}

// checkCategory rejects notices whose title announces a real-estate-only
// auction and whose tag set found no vehicle evidence.
func (v *Validator) checkCategory(rec *record.AuctionRecord) []Notice {
	if len(rec.Tags) > 0 || !realEstateOnly.MatchString(rec.Titulo) {
		return nil
	}
	return []Notice{{
		Code:    CodeRejectedCategory,
		Field:   "titulo",
		Message: "leilão exclusivamente de imóveis",
	}}
}

// decide applies the routing table. Rejection beats everything, a record
// whose only gap is the auction date is complete but unscheduled, any
// other gap leaves a draft.
func decide(notices []Notice) Status {
	missing := map[string]bool{}
	rejected := false
	for _, n := range notices {
		switch n.Code {
		case CodeInvalidDate, CodeInvalidURL, CodeRejectedCategory:
			rejected = true
		case CodeMissingRequired:
			missing[n.Field] = true
		}
	}
	switch {
	case rejected:
		return StatusRejected
	case len(missing) == 1 && missing["data_leilao"]:
		return StatusNotSellable
	case len(missing) > 0:
		return StatusDraft
	default:
		return StatusValid
	}
}

// collapse squeezes whitespace runs into single spaces and trims.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate caps s at max runes, spending the last three on an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
