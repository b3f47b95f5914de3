package extract

import (
	"encoding/csv"
	"io"
	"strings"
)

// CSV reads up to the row cap from a delimited export. Brazilian
// spreadsheets usually come semicolon-separated and latin-1 encoded;
// both are detected rather than configured.
func CSV(data []byte) *Partial {
	p := &Partial{Origin: OriginCSV}

	text := decodeTextBytes(data)
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for len(rows) < maxRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.note("csv ilegível: " + err.Error())
			break
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(FixMojibake(rec[i]))
		}
		rows = append(rows, rec)
	}
	fillTable(p, rows)
	return p
}

// detectDelimiter picks between comma and semicolon by counting both in
// the first line.
func detectDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
