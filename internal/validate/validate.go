// Package validate judges assembled auction records before routing.
//
// Validation runs in two phases over the same record: normalization
// (whitespace, tags, UF, URLs, description cap) mutates the record into
// its storage form, then the rule checks decide a routing status. A
// record never fails silently: anything short of VALID carries at least
// one coded notice so its quarantine row explains itself.
package validate

import "github.com/achesucatas/auditor/internal/record"

// Code classifies a validation notice for quarantine triage.
type Code string

const (
	// CodeMissingRequired marks a required column left empty after
	// normalization.
	CodeMissingRequired Code = "MISSING_REQUIRED_FIELD"

	// CodeInvalidDate marks a date that is present but not DD-MM-YYYY
	// and could not be repaired by the date parser.
	CodeInvalidDate Code = "INVALID_DATE_FORMAT"

	// CodeInvalidURL marks a URL that failed normalization or resolves
	// to a host that cannot belong to an auctioneer.
	CodeInvalidURL Code = "INVALID_URL"

	// CodeRejectedCategory marks a notice whose object is out of scope
	// for the product (real estate only, no vehicle or scrap angle).
	CodeRejectedCategory Code = "REJECTED_CATEGORY"

	// CodeExtractionError carries a document-stage failure into the
	// quarantine payload. Informational: never changes the status.
	CodeExtractionError Code = "EXTRACTION_ERROR"

	// CodeURLNormalized records that a URL was rewritten during
	// normalization. Informational.
	CodeURLNormalized Code = "URL_NORMALIZED"

	// CodeTagsNormalized records that the tag set changed during
	// normalization. Informational.
	CodeTagsNormalized Code = "TAGS_NORMALIZED"

	// CodeUnknown is the fallback for failures no other code describes,
	// such as a recovered panic in the worker.
	CodeUnknown Code = "UNKNOWN"
)

// Notice is one validation finding. Field uses the record's column name;
// it is empty for findings that concern the record as a whole.
type Notice struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Status is the routing decision for a validated record.
type Status string

const (
	// StatusValid records go to the primary table.
	StatusValid Status = "VALID"

	// StatusNotSellable records are complete except for the auction
	// date. They wait in quarantine until a date shows up.
	StatusNotSellable Status = "NOT_SELLABLE"

	// StatusRejected records carry at least one invalid value or an
	// out-of-scope category.
	StatusRejected Status = "REJECTED"

	// StatusDraft records are missing required data beyond the auction
	// date.
	StatusDraft Status = "DRAFT"
)

// Result pairs the normalized record with its status and the notices
// that justify it.
type Result struct {
	Status  Status
	Record  *record.AuctionRecord
	Notices []Notice
}

// HasCode reports whether any notice carries the given code.
func (r *Result) HasCode(code Code) bool {
	for _, n := range r.Notices {
		if n.Code == code {
			return true
		}
	}
	return false
}

// Quarantined reports whether the record belongs in the quarantine
// table rather than the primary one.
func (r *Result) Quarantined() bool {
	return r.Status != StatusValid
}

// ReasonCodes returns the non-informational codes present, for quality
// reporting. Order follows the notices.
func (r *Result) ReasonCodes() []Code {
	var codes []Code
	for _, n := range r.Notices {
		switch n.Code {
		case CodeURLNormalized, CodeTagsNormalized:
			continue
		}
		codes = append(codes, n.Code)
	}
	return codes
}
