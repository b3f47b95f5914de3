package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// DOCX walks word/document.xml and keeps paragraph and table-cell text
// in document order: paragraphs end lines, cells end with a tab.
func DOCX(data []byte) *Partial {
	p := &Partial{Origin: OriginDOCX}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		p.note("docx ilegível: " + err.Error())
		return p
	}
	entry := zipEntry(zr, "word/document.xml")
	if entry == nil {
		p.note("docx sem word/document.xml")
		return p
	}
	content, err := readZipEntry(entry)
	if err != nil {
		p.note("docx ilegível: " + err.Error())
		return p
	}

	var b strings.Builder
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.note("docx truncado: " + err.Error())
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					b.WriteString(s)
				}
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				b.WriteByte('\n')
			case "tc":
				b.WriteByte('\t')
			}
		}
	}

	p.Text = strings.TrimSpace(b.String())
	p.SplitLines()
	return p
}
