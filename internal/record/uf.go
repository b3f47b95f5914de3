package record

import "strings"

// ufCodes is the closed set of 26 states plus the Distrito Federal.
var ufCodes = map[string]bool{
	"AC": true, "AL": true, "AP": true, "AM": true, "BA": true,
	"CE": true, "DF": true, "ES": true, "GO": true, "MA": true,
	"MT": true, "MS": true, "MG": true, "PA": true, "PB": true,
	"PR": true, "PE": true, "PI": true, "RJ": true, "RN": true,
	"RS": true, "RO": true, "RR": true, "SC": true, "SP": true,
	"SE": true, "TO": true,
}

// ValidUF reports whether s is one of the 27 state codes.
// Comparison is case-insensitive; storage is always uppercase.
func ValidUF(s string) bool {
	return ufCodes[strings.ToUpper(strings.TrimSpace(s))]
}

// NormalizeUF uppercases and trims s. Returns false when the result is
// not a known state code.
func NormalizeUF(s string) (string, bool) {
	uf := strings.ToUpper(strings.TrimSpace(s))
	return uf, ufCodes[uf]
}
