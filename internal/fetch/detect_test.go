package fetch

import "testing"

func TestDetectKind(t *testing.T) {
	xlsxBody := append([]byte("PK\x03\x04\x14\x00\x06\x00"), []byte("xl/workbook.xml")...)
	docxBody := append([]byte("PK\x03\x04\x14\x00\x06\x00"), []byte("word/document.xml")...)
	zipBody := append([]byte("PK\x03\x04\x14\x00\x06\x00"), []byte("edital/lista.txt")...)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        Kind
	}{
		{
			name:        "pdf content type",
			contentType: "application/pdf",
			body:        nil,
			want:        KindPDF,
		},
		{
			name:        "pdf content type with charset",
			contentType: "application/pdf; charset=UTF-8",
			body:        nil,
			want:        KindPDF,
		},
		{
			name:        "xlsx content type",
			contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			want:        KindXLSX,
		},
		{
			name:        "docx content type",
			contentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			want:        KindDOCX,
		},
		{
			name:        "legacy excel content type",
			contentType: "application/vnd.ms-excel",
			want:        KindXLS,
		},
		{
			name:        "csv content type",
			contentType: "text/csv",
			want:        KindCSV,
		},
		{
			name:        "octet stream falls back to pdf magic",
			contentType: "application/octet-stream",
			body:        []byte("%PDF-1.7\n..."),
			want:        KindPDF,
		},
		{
			name:        "missing content type with pdf magic",
			contentType: "",
			body:        []byte("%PDF-1.4"),
			want:        KindPDF,
		},
		{
			name:        "zip signature with xl entries",
			contentType: "",
			body:        xlsxBody,
			want:        KindXLSX,
		},
		{
			name:        "zip signature with word entries",
			contentType: "",
			body:        docxBody,
			want:        KindDOCX,
		},
		{
			name:        "plain zip archive",
			contentType: "",
			body:        zipBody,
			want:        KindZIP,
		},
		{
			name:        "mislabeled xlsx served as zip",
			contentType: "application/zip",
			body:        xlsxBody,
			want:        KindXLSX,
		},
		{
			name:        "ole2 legacy xls",
			contentType: "application/octet-stream",
			body:        []byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"),
			want:        KindXLS,
		},
		{
			name:        "html page",
			contentType: "",
			body:        []byte("  <!DOCTYPE html><html><body>lote</body></html>"),
			want:        KindHTML,
		},
		{
			name:        "html content type",
			contentType: "text/html; charset=utf-8",
			want:        KindHTML,
		},
		{
			name:        "json body",
			contentType: "",
			body:        []byte(`{"numeroControlePNCP": "x"}`),
			want:        KindJSON,
		},
		{
			name:        "unclassifiable bytes",
			contentType: "",
			body:        []byte{0x00, 0x01, 0x02, 0x03},
			want:        KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectKind(tt.contentType, tt.body); got != tt.want {
				t.Errorf("DetectKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindExtension(t *testing.T) {
	if got := KindPDF.Extension(); got != ".pdf" {
		t.Errorf("KindPDF.Extension() = %q, want %q", got, ".pdf")
	}
	if got := KindUnknown.Extension(); got != ".bin" {
		t.Errorf("KindUnknown.Extension() = %q, want %q", got, ".bin")
	}
}

func TestKindContentType(t *testing.T) {
	if got := KindPDF.ContentType(); got != "application/pdf" {
		t.Errorf("KindPDF.ContentType() = %q, want %q", got, "application/pdf")
	}
	if got := KindUnknown.ContentType(); got != "application/octet-stream" {
		t.Errorf("KindUnknown.ContentType() = %q, want %q", got, "application/octet-stream")
	}
}
