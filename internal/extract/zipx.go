package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/achesucatas/auditor/internal/fetch"
)

// Archive expansion limits. Attachments are operator-curated but still
// third-party input.
const (
	maxZipEntries   = 20
	maxZipEntrySize = 10 << 20
)

// ZIP expands an archive one level deep and routes each entry to the
// extractor for its kind. Nested archives are skipped, as are entries
// with hostile names or sizes.
func ZIP(ctx context.Context, data []byte) []*Partial {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		p := &Partial{Origin: OriginZIP}
		p.note("zip ilegível: " + err.Error())
		return []*Partial{p}
	}

	var partials []*Partial
	extracted := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if extracted >= maxZipEntries {
			break
		}
		if strings.Contains(f.Name, "..") || strings.HasPrefix(f.Name, "/") {
			continue
		}
		if f.UncompressedSize64 > maxZipEntrySize {
			continue
		}

		kind := kindFromName(f.Name)
		if kind == fetch.KindZIP {
			p := &Partial{Origin: OriginZIP}
			p.note("arquivo zip aninhado ignorado: " + f.Name)
			partials = append(partials, p)
			continue
		}

		content, err := readZipEntry(f)
		if err != nil {
			continue
		}
		if kind == fetch.KindUnknown {
			kind = fetch.DetectKind("", content)
			if kind == fetch.KindUnknown || kind == fetch.KindZIP {
				continue
			}
		}

		extracted++
		partials = append(partials, FromDocument(ctx, fetch.Document{
			Kind:  kind,
			Name:  f.Name,
			Bytes: content,
		})...)
	}

	if len(partials) == 0 {
		p := &Partial{Origin: OriginZIP}
		p.note("zip sem documentos aproveitáveis")
		partials = append(partials, p)
	}
	return partials
}

// kindFromName maps an archive entry to a document kind by extension.
func kindFromName(name string) fetch.Kind {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return fetch.KindPDF
	case ".xlsx":
		return fetch.KindXLSX
	case ".xls":
		return fetch.KindXLS
	case ".csv":
		return fetch.KindCSV
	case ".docx":
		return fetch.KindDOCX
	case ".html", ".htm":
		return fetch.KindHTML
	case ".json":
		return fetch.KindJSON
	case ".zip":
		return fetch.KindZIP
	}
	return fetch.KindUnknown
}

// zipEntry finds a file by exact name.
func zipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// readZipEntry opens and reads one entry with a size guard.
func readZipEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxZipEntrySize {
		return nil, errors.New("entry above size limit")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipEntrySize))
}
