package extract

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

// scannedThreshold is the first-page character count below which a PDF
// is assumed to be a scan without a text layer.
const scannedThreshold = 50

// DefaultPDFTimeout is the soft limit per document. Hitting it keeps
// the text gathered so far instead of failing the document.
const DefaultPDFTimeout = 60 * time.Second

// dictWindow is how far back from a stream keyword the filter
// declaration is searched.
const dictWindow = 512

// maxInflate bounds a single decompressed stream.
const maxInflate = 20 << 20

// PDF mines text from a PDF by walking its content streams in file
// order, without building the cross-reference table: each
// stream/endstream block is inflated when FlateDecode is declared and
// scanned for text-showing operators. Encrypted or image-only streams
// simply yield nothing.
func PDF(ctx context.Context, data []byte) *Partial {
	p := &Partial{Origin: OriginPDF}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		p.note("arquivo não começa com %PDF")
		return p
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultPDFTimeout)
	defer cancel()

	var pages []string
	rest := data
	for {
		if ctx.Err() != nil {
			p.note("extração de PDF interrompida pelo tempo limite")
			break
		}

		dict, stream, remaining, found := nextStream(rest)
		if !found {
			break
		}
		rest = remaining

		content := stream
		if bytes.Contains(dict, []byte("/FlateDecode")) {
			inflated, err := inflate(stream)
			if err != nil {
				continue
			}
			content = inflated
		}

		if text := textFromContent(content); strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	p.Text = strings.Join(pages, "\n")
	p.SplitLines()

	if len(pages) == 0 {
		p.ScannedPDF = true
		p.note("nenhum texto extraído; provável PDF digitalizado")
	} else if len(strings.TrimSpace(pages[0])) < scannedThreshold {
		p.ScannedPDF = true
	}
	return p
}

// nextStream locates the next stream/endstream block. dict is the byte
// window before the keyword, wide enough to hold the stream dictionary.
func nextStream(data []byte) (dict, stream, rest []byte, found bool) {
	idx := bytes.Index(data, []byte("stream"))
	if idx < 0 {
		return nil, nil, nil, false
	}

	dictStart := idx - dictWindow
	if dictStart < 0 {
		dictStart = 0
	}
	dict = data[dictStart:idx]

	body := data[idx+len("stream"):]
	switch {
	case bytes.HasPrefix(body, []byte("\r\n")):
		body = body[2:]
	case len(body) > 0 && (body[0] == '\n' || body[0] == '\r'):
		body = body[1:]
	}

	end := bytes.Index(body, []byte("endstream"))
	if end < 0 {
		return nil, nil, nil, false
	}
	stream = bytes.TrimRight(body[:end], "\r\n")
	rest = body[end+len("endstream"):]
	return dict, stream, rest, true
}

// inflate decompresses one FlateDecode stream with a size guard.
func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxInflate))
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

// textFromContent harvests the strings shown between BT and ET. Text
// positioning operators (Td, TD, T*, ', ") become line breaks so the
// output reads top to bottom.
func textFromContent(content []byte) string {
	var b strings.Builder
	inText := false
	i := 0
	for i < len(content) {
		c := content[i]

		if !inText {
			if c == 'B' && tokenAt(content, i, "BT") {
				inText = true
				i += 2
				continue
			}
			i++
			continue
		}

		switch {
		case c == '(':
			s, next := parseLiteralString(content, i)
			b.WriteString(s)
			i = next
		case c == '<':
			if i+1 < len(content) && content[i+1] == '<' {
				i += 2
				continue
			}
			s, next := parseHexString(content, i)
			b.WriteString(s)
			i = next
		case c == 'E' && tokenAt(content, i, "ET"):
			b.WriteByte('\n')
			inText = false
			i += 2
		case c == 'T' && i+1 < len(content):
			switch content[i+1] {
			case '*', 'd', 'D':
				b.WriteByte('\n')
				i += 2
			case 'j', 'J':
				b.WriteByte(' ')
				i += 2
			default:
				i++
			}
		case c == '\'' || c == '"':
			b.WriteByte('\n')
			i++
		default:
			i++
		}
	}
	return b.String()
}

// tokenAt reports whether an operator token starts at i with a proper
// boundary on both sides.
func tokenAt(content []byte, i int, tok string) bool {
	if !bytes.HasPrefix(content[i:], []byte(tok)) {
		return false
	}
	if i > 0 && isRegular(content[i-1]) {
		return false
	}
	j := i + len(tok)
	return j >= len(content) || !isRegular(content[j])
}

func isRegular(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0,
		'(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

// parseLiteralString reads a (...) string with PDF escapes, returning
// the decoded text and the index after the closing parenthesis.
func parseLiteralString(content []byte, start int) (string, int) {
	var raw []byte
	depth := 1
	i := start + 1
	for i < len(content) && depth > 0 {
		c := content[i]
		switch c {
		case '\\':
			if i+1 >= len(content) {
				return decodePDFString(raw), i + 1
			}
			i++
			e := content[i]
			switch e {
			case 'n':
				raw = append(raw, '\n')
			case 'r':
				raw = append(raw, '\r')
			case 't':
				raw = append(raw, '\t')
			case 'b', 'f':
				// backspace and form feed carry no text
			case '\r', '\n':
				// escaped newline continues the string
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for n := 0; n < 2 && i+1 < len(content) && content[i+1] >= '0' && content[i+1] <= '7'; n++ {
						i++
						val = val*8 + int(content[i]-'0')
					}
					raw = append(raw, byte(val))
				} else {
					raw = append(raw, e)
				}
			}
			i++
		case '(':
			depth++
			raw = append(raw, c)
			i++
		case ')':
			depth--
			if depth > 0 {
				raw = append(raw, c)
			}
			i++
		default:
			raw = append(raw, c)
			i++
		}
	}
	return decodePDFString(raw), i
}

// parseHexString reads a <...> string, returning the decoded text and
// the index after the closing bracket.
func parseHexString(content []byte, start int) (string, int) {
	var digits []byte
	i := start + 1
	for i < len(content) && content[i] != '>' {
		c := content[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
			digits = append(digits, c)
		}
		i++
	}
	if i < len(content) {
		i++ // consume '>'
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}

	raw := make([]byte, 0, len(digits)/2)
	for j := 0; j+1 < len(digits); j += 2 {
		raw = append(raw, hexNibble(digits[j])<<4|hexNibble(digits[j+1]))
	}
	return decodePDFString(raw), i
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// decodePDFString maps raw string bytes to UTF-8: BOM-tagged UTF-16BE,
// valid UTF-8, or WinAnsi (cp1252), which covers the accented Latin of
// Brazilian notices.
func decodePDFString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		return decodeUTF16BE(raw[2:])
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return decodeTextBytes(raw)
}

func decodeUTF16BE(b []byte) string {
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u16 = append(u16, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(u16))
}
