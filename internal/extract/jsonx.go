package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/achesucatas/auditor/internal/record"
)

// JSON extracts record fields from source API metadata. It is the
// highest-priority origin for almost every field, so values are
// normalized here: mojibake repaired, dates canonicalized, money
// parsed.
func JSON(meta map[string]any) *Partial {
	p := &Partial{Origin: OriginJSON}
	if len(meta) == 0 {
		p.note("metadados JSON vazios")
		return p
	}

	p.Titulo = cleanString(meta["objetoCompra"])
	if p.Titulo == "" {
		p.Titulo = cleanString(meta["objeto"])
	}
	p.InformacoesComplementares = cleanString(meta["informacoesComplementares"])
	p.Descricao = p.InformacoesComplementares
	if p.Descricao == "" {
		p.Descricao = p.Titulo
	}

	if orgao, ok := meta["orgaoEntidade"].(map[string]any); ok {
		p.Orgao = cleanString(orgao["razaoSocial"])
	}
	if unidade, ok := meta["unidadeOrgao"].(map[string]any); ok {
		p.Municipio = cleanString(unidade["municipioNome"])
		if uf, ok := record.NormalizeUF(cleanString(unidade["ufSigla"])); ok {
			p.UF = uf
		}
	}

	p.DataLeilao = jsonDate(p, meta, "dataAberturaProposta", "")
	p.DataPublicacao = jsonDate(p, meta, "dataPublicacaoPncp", "data_publicacao")
	p.DataAtualizacao = jsonDate(p, meta, "dataAtualizacao", "data_atualizacao")

	switch v := meta["valorTotalEstimado"].(type) {
	case float64:
		if v > 0 {
			p.ValorEstimado = record.Float64Ptr(v)
		}
	case json.Number:
		if f, err := v.Float64(); err == nil && f > 0 {
			p.ValorEstimado = record.Float64Ptr(f)
		}
	case string:
		if f, ok := record.ParseMoneyBR(v); ok && f > 0 {
			p.ValorEstimado = record.Float64Ptr(f)
		}
	}

	if itens, ok := meta["itens"].([]any); ok && len(itens) > 0 {
		p.QuantidadeItens = record.IntPtr(len(itens))
	} else if n, ok := asInt(meta["numeroItens"]); ok && n > 0 {
		p.QuantidadeItens = record.IntPtr(n)
	}

	p.NomeLeiloeiro = cleanString(meta["nomeResponsavel"])
	p.NEdital = editalNumber(meta)
	p.Modalidade = cleanString(meta["modalidadeNome"])

	// Modality labels feed the auction-type keyword scan
	p.Text = joinNonEmpty("\n",
		p.Titulo,
		p.InformacoesComplementares,
		p.Modalidade,
		cleanString(meta["modoDisputaNome"]),
	)
	p.SplitLines()
	return p
}

// jsonDate normalizes one date key. A value that exists but does not
// parse is flagged under fieldName; absence is left for the validator
// to judge.
func jsonDate(p *Partial, meta map[string]any, key, fieldName string) string {
	raw := cleanString(meta[key])
	if raw == "" {
		return ""
	}
	if d, ok := record.NormalizeDate(raw); ok {
		return d
	}
	p.note(fmt.Sprintf("%s ilegível: %q", key, raw))
	if fieldName != "" {
		p.InvalidDates = append(p.InvalidDates, fieldName)
	}
	return ""
}

// editalNumber joins numeroCompra and anoCompra into the usual
// "NNN/YYYY" notice number.
func editalNumber(meta map[string]any) string {
	numero := cleanString(meta["numeroCompra"])
	if numero == "" {
		return ""
	}
	if ano, ok := asInt(meta["anoCompra"]); ok && ano > 0 {
		return numero + "/" + strconv.Itoa(ano)
	}
	return numero
}

func cleanString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(FixMojibake(s))
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
