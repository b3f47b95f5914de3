// Package extract pulls candidate record fields and raw text out of
// fetched documents. Extractors are partial-record producers: they
// never validate, never fail a run, and report their own trouble as
// notes for the quality pipeline.
package extract

import (
	"context"
	"encoding/json"

	"github.com/achesucatas/auditor/internal/fetch"
)

// Origin identifies which extractor produced a partial. The field
// resolver orders contributions by origin.
type Origin string

const (
	OriginJSON Origin = "json"
	OriginPDF  Origin = "pdf"
	OriginXLSX Origin = "xlsx"
	OriginCSV  Origin = "csv"
	OriginDOCX Origin = "docx"
	OriginHTML Origin = "html"
	OriginZIP  Origin = "zip"
)

// Partial is what one extractor managed to pull from one document.
// Every field is optional; the resolver decides which origin wins.
type Partial struct {
	Origin Origin

	// Typed fields, populated by structured extractors.
	Municipio       string
	UF              string
	DataLeilao      string // canonical DD-MM-YYYY when parseable
	DataPublicacao  string
	DataAtualizacao string
	ValorEstimado   *float64
	QuantidadeItens *int
	Titulo          string
	Descricao       string
	Orgao           string
	Modalidade      string
	NomeLeiloeiro   string
	LeiloeiroURL    string
	NEdital         string

	// InformacoesComplementares is kept verbatim for the auctioneer
	// URL scan.
	InformacoesComplementares string

	// Text is the raw document text for contextual pattern matching.
	Text string

	// Lines are the non-empty trimmed lines of Text, in order.
	Lines []string

	// Header and Rows carry tabular data. Header is the first row that
	// matched the notice-table heuristic, Rows are the rows below it.
	Header []string
	Rows   [][]string

	// ScannedPDF flags image-only documents that need OCR upstream.
	ScannedPDF bool

	// InvalidDates names record fields whose source value exists but
	// would not parse, which downgrades differently than absence.
	InvalidDates []string

	// Notes records extraction trouble without failing the document.
	Notes []string
}

// note appends an extraction problem to the partial.
func (p *Partial) note(msg string) {
	p.Notes = append(p.Notes, msg)
}

// SplitLines fills Lines from Text, dropping blanks.
func (p *Partial) SplitLines() {
	p.Lines = significantLines(p.Text)
}

// FromDocument routes a document to the extractor for its kind. ZIP
// archives can yield several partials, everything else yields one.
// Unknown kinds yield nothing.
func FromDocument(ctx context.Context, doc fetch.Document) []*Partial {
	switch doc.Kind {
	case fetch.KindPDF:
		return []*Partial{PDF(ctx, doc.Bytes)}
	case fetch.KindXLSX:
		return []*Partial{XLSX(doc.Bytes)}
	case fetch.KindXLS:
		return []*Partial{XLS()}
	case fetch.KindCSV:
		return []*Partial{CSV(doc.Bytes)}
	case fetch.KindDOCX:
		return []*Partial{DOCX(doc.Bytes)}
	case fetch.KindHTML:
		return []*Partial{HTML(doc.Bytes)}
	case fetch.KindZIP:
		return ZIP(ctx, doc.Bytes)
	case fetch.KindJSON:
		var meta map[string]any
		if err := json.Unmarshal(doc.Bytes, &meta); err != nil {
			p := &Partial{Origin: OriginJSON}
			p.note("documento JSON inválido: " + err.Error())
			return []*Partial{p}
		}
		return []*Partial{JSON(meta)}
	}
	return nil
}
