package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/achesucatas/auditor/internal/record"
)

// HTML mines an auctioneer lot page: title, description hint, body text
// for the keyword scans, and the first link that plausibly points at an
// auctioneer site.
func HTML(data []byte) *Partial {
	p := &Partial{Origin: OriginHTML}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		p.note("html ilegível: " + err.Error())
		return p
	}

	p.Titulo = strings.TrimSpace(doc.Find("title").First().Text())
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		p.Titulo = h1
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		p.Descricao = strings.TrimSpace(desc)
	}

	doc.Find("script, style, noscript").Remove()
	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	p.Text = strings.Join(lines, "\n")
	p.Lines = lines

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		normalized, _, ok := record.NormalizeURL(href)
		if !ok {
			return true
		}
		host := record.HostOf(normalized)
		if host == "" || record.IsEmailProviderHost(host) || !record.AllowedHost(host) {
			return true
		}
		p.LeiloeiroURL = normalized
		return false
	})
	return p
}
