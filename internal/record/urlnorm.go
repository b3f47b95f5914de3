package record

import (
	"net/url"
	"regexp"
	"strings"
)

// trailingPunct is stripped from the end of extracted URLs. PDF text runs
// sentences together, so links routinely arrive with closing punctuation.
const trailingPunct = `.,;:)>"'`

// brSuffixes are the accepted Brazilian public-domain endings.
var brSuffixes = []string{
	".gov.br",
	".org.br",
	".com.br",
	".net.br",
	".leilao.br",
}

// genericTLDs are accepted top-level domains outside the BR suffixes.
var genericTLDs = map[string]bool{
	"com":  true,
	"org":  true,
	"net":  true,
	"edu":  true,
	"info": true,
	"io":   true,
	"app":  true,
}

// emailProviderHosts are consumer mail domains. A leiloeiro_url pointing
// at one of these is an extracted e-mail address, not a site.
var emailProviderHosts = map[string]bool{
	"gmail.com":    true,
	"hotmail.com":  true,
	"outlook.com":  true,
	"yahoo.com":    true,
	"yahoo.com.br": true,
	"bol.com.br":   true,
	"uol.com.br":   true,
	"terra.com.br": true,
	"live.com":     true,
	"icloud.com":   true,
}

// upperWordURL matches tokens made only of uppercase letters and dots,
// the shape of abbreviations like "ED.COMEMORA" that URL regexes
// mistake for domains.
var upperWordURL = regexp.MustCompile(`^[A-ZÀ-Ú]+(\.[A-ZÀ-Ú]+)*$`)

// NormalizeURL applies the link normalization rules: trim whitespace and
// trailing punctuation, prepend https:// to www-prefixed or bare
// hostnames, and lowercase the host. changed reports whether the result
// differs from the trimmed input; ok is false when s cannot be salvaged
// as an absolute HTTP(S) URL.
func NormalizeURL(raw string) (normalized string, changed, ok bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, trailingPunct)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return "", false, false
	}
	// Anything carrying an @ is an e-mail address or a mailto link, not
	// an auctioneer site
	if strings.Contains(s, "@") {
		return "", false, false
	}

	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		// keep scheme
	case strings.HasPrefix(strings.ToLower(s), "www."):
		s = "https://" + s
	case bareHost(s):
		s = "https://" + s
	default:
		return "", false, false
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", false, false
	}
	if !strings.Contains(u.Hostname(), ".") {
		return "", false, false
	}
	u.Host = strings.ToLower(u.Host)

	normalized = u.String()
	return normalized, normalized != strings.TrimSpace(raw), true
}

// bareHost reports whether s looks like a hostname without a scheme:
// the segment before the first slash contains a dot.
func bareHost(s string) bool {
	if strings.Contains(s, "://") {
		return false
	}
	head, _, _ := strings.Cut(s, "/")
	return strings.Contains(head, ".")
}

// AllowedHost reports whether host ends in a generic TLD or one of the
// known BR public-domain suffixes. Every URL stored in the primary table
// must pass this check.
func AllowedHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, suffix := range brSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	i := strings.LastIndex(host, ".")
	if i < 0 {
		return false
	}
	return genericTLDs[host[i+1:]]
}

// IsEmailProviderHost reports whether host is a consumer mail domain.
func IsEmailProviderHost(host string) bool {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return emailProviderHosts[host]
}

// IsFakeUppercaseURL reports whether raw is a lone uppercase word (or
// dotted abbreviation) whose ending is not an accepted domain suffix.
// Catches document shorthand like "ED.COMEMORA" before it is mistaken
// for an auctioneer site.
func IsFakeUppercaseURL(raw string) bool {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, trailingPunct)
	if s == "" || strings.Contains(s, "://") || strings.Contains(s, "/") {
		return false
	}
	// URL regexes only ever match dotted tokens
	if !strings.Contains(s, ".") {
		return false
	}
	if !upperWordURL.MatchString(s) {
		return false
	}
	return !AllowedHost(s)
}

// HostOf returns the lowercase hostname of rawURL, or "" if unparseable.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
