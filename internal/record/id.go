package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// idPrefix marks internal IDs apart from raw source identifiers.
const idPrefix = "ID_"

// IDInterno derives the stable internal identifier for a record from its
// source name and the source's own external ID. The same pair always
// yields the same ID across runs, which is what makes upserts idempotent.
// Form: ID_ followed by 12 uppercase hex characters.
func IDInterno(sourceName, sourceExternalID string) string {
	if sourceName == "" && sourceExternalID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sourceName + "|" + sourceExternalID))
	return idPrefix + strings.ToUpper(hex.EncodeToString(sum[:6]))
}

// IsIDInterno reports whether s has the internal ID form.
func IsIDInterno(s string) bool {
	if len(s) != len(idPrefix)+12 || !strings.HasPrefix(s, idPrefix) {
		return false
	}
	for _, c := range s[len(idPrefix):] {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
