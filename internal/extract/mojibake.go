package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// mojibakeMarkers are the lead characters UTF-8 text grows when it is
// wrongly decoded as latin-1: "Leilão" becomes "LeilÃ£o".
var mojibakeMarkers = []string{"Ã", "Â", "�"}

func artifactCount(s string) int {
	n := 0
	for _, m := range mojibakeMarkers {
		n += strings.Count(s, m)
	}
	return n
}

// FixMojibake repairs double-encoded text by round-tripping it through
// latin-1. The repair is only kept when it strictly reduces the number
// of mojibake artifacts, so already-clean text passes through intact.
func FixMojibake(s string) string {
	before := artifactCount(s)
	if before == 0 {
		return s
	}

	encoded, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(encoded) {
		return s
	}
	if artifactCount(encoded) < before {
		return encoded
	}
	return s
}

// decodeTextBytes turns raw document bytes into a UTF-8 string. Valid
// UTF-8 passes through; anything else is read as Windows-1252, the
// encoding of most legacy Brazilian office documents.
func decodeTextBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

// significantLines splits text into trimmed non-empty lines.
func significantLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
