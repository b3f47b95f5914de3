package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxRows caps how many sheet rows are read; notice spreadsheets keep
// their table at the top.
const maxRows = 50

// headerPattern recognizes the notice-table header row.
var headerPattern = regexp.MustCompile(`(?i)edital|data|leil[aã]o|abertura|descri[cç][aã]o|objeto|valor|url`)

// XLSX reads the first worksheet of a workbook: shared strings are
// resolved, rows are capped, and the header heuristic splits the table
// into Header and Rows.
func XLSX(data []byte) *Partial {
	p := &Partial{Origin: OriginXLSX}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		p.note("xlsx ilegível: " + err.Error())
		return p
	}

	sheet := firstSheet(zr)
	if sheet == nil {
		p.note("planilha sem worksheets")
		return p
	}

	rows, err := sheetRows(sheet, sharedStrings(zr))
	if err != nil {
		p.note("falha ao ler a primeira planilha: " + err.Error())
		return p
	}
	fillTable(p, rows)
	return p
}

// XLS flags the legacy binary workbook format, which the pipeline does
// not parse. The note keeps the document visible in quality reports.
func XLS() *Partial {
	p := &Partial{Origin: OriginXLSX}
	p.note("formato xls legado não suportado")
	return p
}

// fillTable applies the header heuristic and derives Header, Rows,
// Text and Lines from raw table rows.
func fillTable(p *Partial, rows [][]string) {
	header := -1
	for i, row := range rows {
		for _, cell := range row {
			if headerPattern.MatchString(cell) {
				header = i
				break
			}
		}
		if header >= 0 {
			break
		}
	}
	if header >= 0 {
		p.Header = rows[header]
		p.Rows = rows[header+1:]
	} else {
		p.Rows = rows
	}

	var lines []string
	for _, row := range rows {
		line := strings.TrimSpace(strings.Join(row, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	p.Text = strings.Join(lines, "\n")
	p.Lines = lines
}

type sharedStringItem struct {
	T    string   `xml:"t"`
	Runs []string `xml:"r>t"`
}

type sharedStringTable struct {
	Items []sharedStringItem `xml:"si"`
}

// sharedStrings loads xl/sharedStrings.xml, joining rich-text runs.
func sharedStrings(zr *zip.Reader) []string {
	entry := zipEntry(zr, "xl/sharedStrings.xml")
	if entry == nil {
		return nil
	}
	data, err := readZipEntry(entry)
	if err != nil {
		return nil
	}

	var table sharedStringTable
	if err := xml.Unmarshal(data, &table); err != nil {
		return nil
	}
	out := make([]string, len(table.Items))
	for i, item := range table.Items {
		if item.T != "" {
			out[i] = item.T
		} else {
			out[i] = strings.Join(item.Runs, "")
		}
	}
	return out
}

// firstSheet picks xl/worksheets/sheet1.xml, or the lexicographically
// first worksheet when the workbook numbers them differently.
func firstSheet(zr *zip.Reader) *zip.File {
	if f := zipEntry(zr, "xl/worksheets/sheet1.xml"); f != nil {
		return f
	}
	var names []string
	byName := make(map[string]*zip.File)
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			names = append(names, f.Name)
			byName[f.Name] = f
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return byName[names[0]]
}

type sheetCell struct {
	Ref  string `xml:"r,attr"`
	Type string `xml:"t,attr"`
	V    string `xml:"v"`
	Is   struct {
		T string `xml:"t"`
	} `xml:"is"`
}

type sheetRowXML struct {
	Cells []sheetCell `xml:"c"`
}

// sheetRows streams row elements out of a worksheet, stopping at the
// row cap so giant exports cost nothing extra.
func sheetRows(f *zip.File, shared []string) ([][]string, error) {
	data, err := readZipEntry(f)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	dec := xml.NewDecoder(bytes.NewReader(data))
	for len(rows) < maxRows {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "row" {
			continue
		}

		var row sheetRowXML
		if err := dec.DecodeElement(&row, &start); err != nil {
			return rows, err
		}
		rows = append(rows, cellValues(row, shared))
	}
	return rows, nil
}

// cellValues resolves one row, honoring cell references so gaps become
// empty strings.
func cellValues(row sheetRowXML, shared []string) []string {
	var out []string
	for _, cell := range row.Cells {
		idx := colIndex(cell.Ref)
		if idx < 0 {
			idx = len(out)
		}
		for len(out) <= idx {
			out = append(out, "")
		}

		var v string
		switch cell.Type {
		case "s":
			if n, err := strconv.Atoi(strings.TrimSpace(cell.V)); err == nil && n >= 0 && n < len(shared) {
				v = shared[n]
			}
		case "inlineStr":
			v = cell.Is.T
		default:
			v = cell.V
		}
		out[idx] = strings.TrimSpace(FixMojibake(v))
	}
	return out
}

// colIndex converts the letter part of a cell reference ("B2") to a
// zero-based column index. Returns -1 when the reference is absent.
func colIndex(ref string) int {
	n := 0
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if c < 'A' || c > 'Z' {
			break
		}
		n = n*26 + int(c-'A') + 1
	}
	return n - 1
}
