package fetch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripAccents decomposes characters and drops the combining marks, so
// "Leilão" becomes "Leilao" before the ASCII filter runs.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// maxNameLen bounds blob file names; long portal titles get cut, the
// hash prefix keeps them unique.
const maxNameLen = 80

// SafeFileName flattens a document title into an ASCII-only file name:
// accents stripped, spaces to underscores, anything else dropped.
func SafeFileName(name string) string {
	flat, _, err := transform.String(stripAccents, name)
	if err != nil {
		flat = name
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range flat {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ', r == '_', r == '/', r == '\\':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "._-")
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	if out == "" {
		return "documento"
	}
	return out
}

// SafeSegment flattens a source external ID into a single storage path
// segment. PNCP control numbers carry a slash, which would otherwise
// nest the blob one level deeper than the layout expects.
func SafeSegment(id string) string {
	return SafeFileName(strings.ReplaceAll(id, "/", "-"))
}

// StoragePath builds the blob key for a document:
// {external_id}/{hash8}_{safe_name}.
func StoragePath(sourceExternalID, hash, fileName string) string {
	short := hash
	if len(short) > 8 {
		short = short[:8]
	}
	return SafeSegment(sourceExternalID) + "/" + short + "_" + fileName
}
