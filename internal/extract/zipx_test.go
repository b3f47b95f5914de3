package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
)

func makeArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func originsOf(partials []*Partial) map[Origin]int {
	out := make(map[Origin]int)
	for _, p := range partials {
		out[p.Origin]++
	}
	return out
}

func TestZIPRoutesEntriesByKind(t *testing.T) {
	archive := makeArchive(t, map[string][]byte{
		"anexo/relacao.csv": []byte("municipio;uf\nCuritiba;PR\n"),
		"edital.pdf":        makePDF(t, "BT (Edital de leilão público para alienação de sucatas e veículos) Tj ET"),
	})

	partials := ZIP(context.Background(), archive)
	got := originsOf(partials)
	if got[OriginCSV] != 1 {
		t.Errorf("got %d csv partials, want 1 (%v)", got[OriginCSV], got)
	}
	if got[OriginPDF] != 1 {
		t.Errorf("got %d pdf partials, want 1 (%v)", got[OriginPDF], got)
	}
}

func TestZIPNestedArchiveSkippedWithNote(t *testing.T) {
	inner := makeArchive(t, map[string][]byte{"interno.csv": []byte("a;b\n")})
	archive := makeArchive(t, map[string][]byte{
		"anexos.zip":  inner,
		"relacao.csv": []byte("municipio;uf\nCuritiba;PR\n"),
	})

	partials := ZIP(context.Background(), archive)
	noted := false
	for _, p := range partials {
		for _, n := range p.Notes {
			if strings.Contains(n, "anexos.zip") {
				noted = true
			}
		}
	}
	if !noted {
		t.Errorf("partials = %d, want a nested-archive note", len(partials))
	}
	if originsOf(partials)[OriginCSV] != 1 {
		t.Error("the flat entry must still be extracted")
	}
}

func TestZIPHostileNamesSkipped(t *testing.T) {
	archive := makeArchive(t, map[string][]byte{
		"../escape.csv": []byte("a;b\n"),
		"/absoluto.csv": []byte("a;b\n"),
	})

	partials := ZIP(context.Background(), archive)
	if originsOf(partials)[OriginCSV] != 0 {
		t.Errorf("hostile entry names must be skipped, got %v", originsOf(partials))
	}
}

func TestZIPSniffsExtensionlessEntries(t *testing.T) {
	archive := makeArchive(t, map[string][]byte{
		"edital_sem_extensao": makePDF(t, "BT (Conteúdo do edital dentro de um anexo sem extensão no nome) Tj ET"),
	})

	partials := ZIP(context.Background(), archive)
	if originsOf(partials)[OriginPDF] != 1 {
		t.Errorf("got %v, want the entry sniffed as pdf", originsOf(partials))
	}
}

func TestZIPEmptyArchiveLeavesNote(t *testing.T) {
	archive := makeArchive(t, map[string][]byte{
		"leiame.txt": []byte("sem conteúdo estruturado aqui"),
	})

	partials := ZIP(context.Background(), archive)
	if len(partials) != 1 || len(partials[0].Notes) == 0 {
		t.Fatalf("partials = %v, want a single noted partial", partials)
	}
	if !strings.Contains(partials[0].Notes[0], "sem documentos") {
		t.Errorf("Notes = %v", partials[0].Notes)
	}
}

func TestZIPGarbageInput(t *testing.T) {
	partials := ZIP(context.Background(), []byte("não sou um zip"))
	if len(partials) != 1 || len(partials[0].Notes) == 0 {
		t.Fatalf("partials = %v, want a single noted partial", partials)
	}
}
