// Package record defines the canonical auction record contract shared by
// the cascade, validator and repository, plus the normalization helpers
// (dates, UF codes, URLs, stable IDs) that keep it consistent.
package record

// Source names for provenance. Every record carries exactly one.
const (
	SourcePNCP      = "pncp"
	SourceLeiloeiro = "leiloeiro"
)

// Auction type enum values. An empty string means "unknown" and is
// preserved as null; only explicit keyword evidence promotes a record to
// a concrete value.
const (
	TipoEletronico = "ELETRONICO"
	TipoPresencial = "PRESENCIAL"
	TipoHibrido    = "HIBRIDO"
)

// SentinelTag is stripped during tag normalization and never stored.
const SentinelTag = "SEM CLASSIFICAÇÃO"

// AuctionRecord is the canonical row of the primary table. Dates are
// DD-MM-YYYY strings, datetimes keep their ISO-8601 offset, and nullable
// columns are pointers or empty strings.
type AuctionRecord struct {
	IDInterno        string `json:"id_interno"`
	SourceExternalID string `json:"source_external_id"`
	SourceName       string `json:"source_name"`

	Municipio string   `json:"municipio"`
	UF        string   `json:"uf"`
	IBGECode  *int     `json:"ibge_code,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`

	DataPublicacao  string `json:"data_publicacao"`
	DataAtualizacao string `json:"data_atualizacao"`
	DataLeilao      string `json:"data_leilao,omitempty"` // empty routes to NOT_SELLABLE

	Titulo         string   `json:"titulo"`
	Descricao      string   `json:"descricao"`
	Orgao          string   `json:"orgao"`
	NEdital        string   `json:"n_edital,omitempty"`
	ObjetoResumido string   `json:"objeto_resumido"`
	Tags           []string `json:"tags"`

	ValorEstimado   *float64 `json:"valor_estimado,omitempty"`
	QuantidadeItens *int     `json:"quantidade_itens,omitempty"`
	TipoLeilao      string   `json:"tipo_leilao,omitempty"`
	Modalidade      string   `json:"modalidade,omitempty"`
	NomeLeiloeiro   string   `json:"nome_leiloeiro,omitempty"`

	PNCPURL      string `json:"pncp_url"`
	SourceURL    string `json:"source_url,omitempty"`
	LeiloeiroURL string `json:"leiloeiro_url,omitempty"`

	StoragePath   string `json:"storage_path,omitempty"`
	PDFHash       string `json:"pdf_hash,omitempty"`
	VersaoAuditor string `json:"versao_auditor"`

	// LeiloeiroURLValid is false when an extracted auctioneer URL was
	// recognized as a false positive (a lone uppercase word that only
	// looks like a domain). Such records are routed to quarantine.
	LeiloeiroURLValid bool `json:"-"`
}

// NewAuctionRecord creates a record with identity fields filled in and
// the stable internal ID derived from them.
func NewAuctionRecord(sourceName, sourceExternalID string) *AuctionRecord {
	return &AuctionRecord{
		IDInterno:         IDInterno(sourceName, sourceExternalID),
		SourceExternalID:  sourceExternalID,
		SourceName:        sourceName,
		LeiloeiroURLValid: true,
	}
}

// HasTag reports whether the record carries the given tag.
func (r *AuctionRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Float64Ptr returns a pointer to v, for optional numeric columns.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v, for optional integer columns.
func IntPtr(v int) *int { return &v }
