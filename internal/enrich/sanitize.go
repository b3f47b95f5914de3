package enrich

import (
	"regexp"
	"strings"
)

// Sanitizer scrubs personal data from document text before it leaves
// the process for an LLM API, then clips the result to the prompt
// budget. Editais are public documents but routinely print CPF numbers,
// phone numbers and personal e-mail addresses of servants and
// auctioneers.
type Sanitizer struct {
	maxLength  int
	redactions []redaction
}

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// SanitizerOption configures a Sanitizer.
type SanitizerOption func(*Sanitizer)

// WithMaxLength caps Sanitize output at n runes. Output over the cap is
// truncated with a "... [cortado]" suffix. Zero disables the cap.
func WithMaxLength(n int) SanitizerOption {
	return func(s *Sanitizer) {
		s.maxLength = n
	}
}

// NewSanitizer creates a sanitizer with the default patterns and a
// 2000-rune cap, the prompt budget for one record field.
func NewSanitizer(opts ...SanitizerOption) *Sanitizer {
	s := &Sanitizer{
		maxLength: 2000,
		redactions: []redaction{
			// CPF, punctuated or labeled. CNPJ stays: it identifies the
			// organization, not a person.
			{regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`), "[CPF]"},
			{regexp.MustCompile(`(?i)\bCPF[:\s]*n?[º°.]{0,2}\s*\d[\d.\- ]{9,13}\d`), "[CPF]"},
			// Phone numbers in DDD form.
			{regexp.MustCompile(`\(\d{2}\)\s*9?\d{4}[-\s]?\d{4}`), "[TELEFONE]"},
			// E-mail addresses.
			{regexp.MustCompile(`\b[\w.+-]+@[\w-]+(?:\.[\w-]+)+\b`), "[EMAIL]"},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize redacts personal data and clips the result.
func (s *Sanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}
	result := input
	for _, r := range s.redactions {
		result = r.pattern.ReplaceAllLiteralString(result, r.replacement)
	}
	if s.maxLength > 0 {
		runes := []rune(result)
		if len(runes) > s.maxLength {
			suffix := "... [cortado]"
			result = string(runes[:s.maxLength-len([]rune(suffix))]) + suffix
		}
	}
	return strings.TrimSpace(result)
}

// MaxLength returns the configured cap in runes.
func (s *Sanitizer) MaxLength() int {
	return s.maxLength
}
