package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayoutBR is the canonical stored form for all record dates.
const DateLayoutBR = "02-01-2006"

// isoLayouts are the source layouts accepted for normalization, tried in
// order. PNCP sends bare ISO datetimes without an offset.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// longFormDate matches Brazilian long-form dates such as
// "15 de fevereiro de 2026" or "1º de março de 2026".
var longFormDate = regexp.MustCompile(`(?i)(\d{1,2})[ºo°]?\s+de\s+([\p{L}]+)\s+de\s+(\d{4})`)

var monthsBR = map[string]time.Month{
	"janeiro":   time.January,
	"fevereiro": time.February,
	"março":     time.March,
	"marco":     time.March,
	"abril":     time.April,
	"maio":      time.May,
	"junho":     time.June,
	"julho":     time.July,
	"agosto":    time.August,
	"setembro":  time.September,
	"outubro":   time.October,
	"novembro":  time.November,
	"dezembro":  time.December,
}

// NormalizeDate converts any accepted source date form into the canonical
// DD-MM-YYYY string. Returns false when s carries no recognizable,
// calendar-valid date.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// Already canonical
	if t, err := time.Parse(DateLayoutBR, s); err == nil {
		return t.Format(DateLayoutBR), true
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayoutBR), true
		}
	}

	if d, ok := ParseLongFormDate(s); ok {
		return d, true
	}

	return "", false
}

// ParseLongFormDate extracts a "<dia> de <mês> de <ano>" date from s and
// returns it in canonical form.
func ParseLongFormDate(s string) (string, bool) {
	m := longFormDate.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}

	day, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	month, ok := monthsBR[strings.ToLower(m[2])]
	if !ok {
		return "", false
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return "", false
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 31 -> Mar 3); reject those
	if t.Day() != day || t.Month() != month || t.Year() != year {
		return "", false
	}
	return t.Format(DateLayoutBR), true
}

// ValidDateBR reports whether s is a calendar-valid DD-MM-YYYY string.
func ValidDateBR(s string) bool {
	if len(s) != 10 {
		return false
	}
	_, err := time.Parse(DateLayoutBR, s)
	return err == nil
}

// FormatDateBR renders t in the canonical stored form.
func FormatDateBR(t time.Time) string {
	return t.Format(DateLayoutBR)
}

// WindowBR returns the [start, end] pair for a lookback of dias days
// ending today, in the YYYY-MM-DD form the PNCP search API expects.
func WindowBR(now time.Time, dias int) (string, string) {
	if dias < 0 {
		dias = 0
	}
	end := now
	start := now.AddDate(0, 0, -dias)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// DateBRToTime parses a canonical date back into a time.Time, for
// ordering comparisons.
func DateBRToTime(s string) (time.Time, error) {
	t, err := time.Parse(DateLayoutBR, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a DD-MM-YYYY date: %q", s)
	}
	return t, nil
}
