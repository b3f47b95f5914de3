package cascade

import (
	"strings"

	"github.com/achesucatas/auditor/internal/extract"
)

// partialSet indexes a notice's partials by origin while keeping the
// original document order within each origin.
type partialSet struct {
	ordered  []*extract.Partial
	byOrigin map[extract.Origin][]*extract.Partial
}

func newPartialSet(parts []*extract.Partial) *partialSet {
	s := &partialSet{byOrigin: make(map[extract.Origin][]*extract.Partial)}
	for _, p := range parts {
		if p == nil {
			continue
		}
		s.ordered = append(s.ordered, p)
		s.byOrigin[p.Origin] = append(s.byOrigin[p.Origin], p)
	}
	return s
}

// of returns the partials of the given origins, in origin-priority
// order.
func (s *partialSet) of(origins ...extract.Origin) []*extract.Partial {
	var out []*extract.Partial
	for _, o := range origins {
		out = append(out, s.byOrigin[o]...)
	}
	return out
}

// tabular returns the table-shaped partials, spreadsheets first.
func (s *partialSet) tabular() []*extract.Partial {
	return s.of(extract.OriginXLSX, extract.OriginCSV)
}

// firstString returns the first non-blank value of get among partials
// of the given origin.
func (s *partialSet) firstString(origin extract.Origin, get func(*extract.Partial) string) string {
	for _, p := range s.byOrigin[origin] {
		if v := strings.TrimSpace(get(p)); v != "" {
			return v
		}
	}
	return ""
}

func (s *partialSet) firstFloat(origin extract.Origin, get func(*extract.Partial) *float64) *float64 {
	for _, p := range s.byOrigin[origin] {
		if v := get(p); v != nil {
			return v
		}
	}
	return nil
}

func (s *partialSet) firstInt(origin extract.Origin, get func(*extract.Partial) *int) *int {
	for _, p := range s.byOrigin[origin] {
		if v := get(p); v != nil {
			return v
		}
	}
	return nil
}

// lines concatenates the text lines of the given origins, in order.
func (s *partialSet) lines(origins ...extract.Origin) []string {
	var out []string
	for _, p := range s.of(origins...) {
		out = append(out, p.Lines...)
	}
	return out
}

// allText joins every partial's text, for keyword scans.
func (s *partialSet) allText() string {
	var parts []string
	for _, p := range s.ordered {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}
