package extract

import (
	"testing"
)

func fullPNCPMetadata() map[string]any {
	return map[string]any{
		"numeroControlePNCP":        "00038000000100-1-000123/2026",
		"objetoCompra":              "Leilão de sucatas de veículos da frota municipal",
		"informacoesComplementares": "Pregão conduzido por www.parquedosleiloes.com.br",
		"orgaoEntidade":             map[string]any{"razaoSocial": "Prefeitura Municipal de Curitiba"},
		"unidadeOrgao":              map[string]any{"municipioNome": "Curitiba", "ufSigla": "pr"},
		"dataAberturaProposta":      "2026-02-15T10:00:00",
		"dataPublicacaoPncp":        "2026-02-01T08:00:00",
		"dataAtualizacao":           "2026-02-14T09:30:00",
		"valorTotalEstimado":        150000.0,
		"itens":                     []any{map[string]any{}, map[string]any{}, map[string]any{}},
		"nomeResponsavel":           "Carlos Andrade",
		"numeroCompra":              "90005",
		"anoCompra":                 2026.0,
		"modalidadeNome":            "Leilão - Eletrônico",
	}
}

func TestJSONExtractsAllFields(t *testing.T) {
	p := JSON(fullPNCPMetadata())

	if p.Origin != OriginJSON {
		t.Errorf("Origin = %q, want %q", p.Origin, OriginJSON)
	}
	if p.Titulo != "Leilão de sucatas de veículos da frota municipal" {
		t.Errorf("Titulo = %q", p.Titulo)
	}
	if p.Orgao != "Prefeitura Municipal de Curitiba" {
		t.Errorf("Orgao = %q", p.Orgao)
	}
	if p.Municipio != "Curitiba" || p.UF != "PR" {
		t.Errorf("geography = (%q, %q), want (Curitiba, PR)", p.Municipio, p.UF)
	}
	if p.DataLeilao != "15-02-2026" {
		t.Errorf("DataLeilao = %q, want %q", p.DataLeilao, "15-02-2026")
	}
	if p.DataPublicacao != "01-02-2026" {
		t.Errorf("DataPublicacao = %q, want %q", p.DataPublicacao, "01-02-2026")
	}
	if p.DataAtualizacao != "14-02-2026" {
		t.Errorf("DataAtualizacao = %q, want %q", p.DataAtualizacao, "14-02-2026")
	}
	if p.ValorEstimado == nil || *p.ValorEstimado != 150000.0 {
		t.Errorf("ValorEstimado = %v, want 150000", p.ValorEstimado)
	}
	if p.QuantidadeItens == nil || *p.QuantidadeItens != 3 {
		t.Errorf("QuantidadeItens = %v, want 3", p.QuantidadeItens)
	}
	if p.NomeLeiloeiro != "Carlos Andrade" {
		t.Errorf("NomeLeiloeiro = %q", p.NomeLeiloeiro)
	}
	if p.Modalidade != "Leilão - Eletrônico" {
		t.Errorf("Modalidade = %q, want %q", p.Modalidade, "Leilão - Eletrônico")
	}
	if p.NEdital != "90005/2026" {
		t.Errorf("NEdital = %q, want %q", p.NEdital, "90005/2026")
	}
	if p.InformacoesComplementares == "" {
		t.Error("InformacoesComplementares must be kept for the URL scan")
	}
	if len(p.InvalidDates) != 0 {
		t.Errorf("InvalidDates = %v, want none", p.InvalidDates)
	}
	// Modality label must reach the keyword scan text
	if !containsLine(p.Lines, "Leilão - Eletrônico") {
		t.Errorf("Lines = %v, want the modality label included", p.Lines)
	}
}

func TestJSONRepairsMojibake(t *testing.T) {
	meta := map[string]any{
		"objetoCompra": "LeilÃ£o de sucatas e veÃ­culos",
	}
	p := JSON(meta)
	if p.Titulo != "Leilão de sucatas e veículos" {
		t.Errorf("Titulo = %q, want repaired text", p.Titulo)
	}
}

func TestJSONFlagsUnparseableDates(t *testing.T) {
	meta := fullPNCPMetadata()
	meta["dataPublicacaoPncp"] = "em breve"

	p := JSON(meta)
	if p.DataPublicacao != "" {
		t.Errorf("DataPublicacao = %q, want empty", p.DataPublicacao)
	}
	if len(p.InvalidDates) != 1 || p.InvalidDates[0] != "data_publicacao" {
		t.Errorf("InvalidDates = %v, want [data_publicacao]", p.InvalidDates)
	}
	if len(p.Notes) == 0 {
		t.Error("an unparseable date must leave a note")
	}
}

func TestJSONMissingAuctionDateIsNotInvalid(t *testing.T) {
	meta := fullPNCPMetadata()
	delete(meta, "dataAberturaProposta")

	p := JSON(meta)
	if p.DataLeilao != "" {
		t.Errorf("DataLeilao = %q, want empty", p.DataLeilao)
	}
	if len(p.InvalidDates) != 0 {
		t.Errorf("InvalidDates = %v, want none for an absent date", p.InvalidDates)
	}
}

func TestJSONMoneyAsString(t *testing.T) {
	meta := fullPNCPMetadata()
	meta["valorTotalEstimado"] = "R$ 98.500,75"

	p := JSON(meta)
	if p.ValorEstimado == nil || *p.ValorEstimado != 98500.75 {
		t.Errorf("ValorEstimado = %v, want 98500.75", p.ValorEstimado)
	}
}

func TestJSONItemCountFallback(t *testing.T) {
	meta := fullPNCPMetadata()
	delete(meta, "itens")
	meta["numeroItens"] = 7.0

	p := JSON(meta)
	if p.QuantidadeItens == nil || *p.QuantidadeItens != 7 {
		t.Errorf("QuantidadeItens = %v, want 7", p.QuantidadeItens)
	}
}

func TestJSONEmptyMetadata(t *testing.T) {
	p := JSON(nil)
	if len(p.Notes) == 0 {
		t.Error("empty metadata must leave a note")
	}
}

func containsLine(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}
