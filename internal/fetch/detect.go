package fetch

import (
	"bytes"
	"mime"
)

// Kind classifies a downloaded document for the extractor dispatch.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindXLSX    Kind = "xlsx"
	KindXLS     Kind = "xls"
	KindDOCX    Kind = "docx"
	KindCSV     Kind = "csv"
	KindZIP     Kind = "zip"
	KindJSON    Kind = "json"
	KindHTML    Kind = "html"
	KindUnknown Kind = "unknown"
)

// Magic numbers. OOXML containers share the zip signature and are told
// apart by the entry paths near the head of the archive.
var (
	magicPDF  = []byte("%PDF")
	magicZip  = []byte("PK\x03\x04")
	magicOLE2 = []byte("\xd0\xcf\x11\xe0")
)

// sniffWindow bounds how far into a zip body we look for OOXML entry
// names.
const sniffWindow = 4096

// DetectKind classifies a document by its Content-Type header first and
// its magic bytes second. Portals routinely mislabel attachments, so a
// generic or missing header falls through to sniffing.
func DetectKind(contentType string, body []byte) Kind {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "application/pdf":
			return KindPDF
		case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
			return KindXLSX
		case "application/vnd.ms-excel":
			return KindXLS
		case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
			return KindDOCX
		case "text/csv", "application/csv":
			return KindCSV
		case "text/html":
			return KindHTML
		case "application/json":
			return KindJSON
		}
	}
	return sniffKind(body)
}

// sniffKind classifies by leading bytes alone.
func sniffKind(body []byte) Kind {
	switch {
	case bytes.HasPrefix(body, magicPDF):
		return KindPDF
	case bytes.HasPrefix(body, magicZip):
		return sniffZip(body)
	case bytes.HasPrefix(body, magicOLE2):
		return KindXLS
	}

	head := body
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	lower := bytes.ToLower(trimmed)
	switch {
	case bytes.HasPrefix(lower, []byte("<!doctype html")), bytes.HasPrefix(lower, []byte("<html")):
		return KindHTML
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		return KindJSON
	}
	return KindUnknown
}

// sniffZip distinguishes OOXML documents from plain archives. The first
// local file headers of xlsx/docx files name their content directories,
// so a substring scan over the head of the body is enough.
func sniffZip(body []byte) Kind {
	head := body
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	switch {
	case bytes.Contains(head, []byte("xl/")):
		return KindXLSX
	case bytes.Contains(head, []byte("word/")):
		return KindDOCX
	}
	return KindZIP
}

// Extension returns the canonical file extension for a kind, dot
// included. Unknown kinds get ".bin".
func (k Kind) Extension() string {
	switch k {
	case KindPDF:
		return ".pdf"
	case KindXLSX:
		return ".xlsx"
	case KindXLS:
		return ".xls"
	case KindDOCX:
		return ".docx"
	case KindCSV:
		return ".csv"
	case KindZIP:
		return ".zip"
	case KindJSON:
		return ".json"
	case KindHTML:
		return ".html"
	}
	return ".bin"
}

// ContentType returns the canonical media type for a kind, used when
// uploading blobs whose origin header was missing or generic.
func (k Kind) ContentType() string {
	switch k {
	case KindPDF:
		return "application/pdf"
	case KindXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case KindXLS:
		return "application/vnd.ms-excel"
	case KindDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case KindCSV:
		return "text/csv"
	case KindZIP:
		return "application/zip"
	case KindJSON:
		return "application/json"
	case KindHTML:
		return "text/html"
	}
	return "application/octet-stream"
}
