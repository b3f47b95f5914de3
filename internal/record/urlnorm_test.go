package record

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		changed bool
		ok      bool
	}{
		{"already absolute", "https://www.pncp.gov.br/x", "https://www.pncp.gov.br/x", false, true},
		{"www prefix gains scheme", "www.pncp.gov.br/x", "https://www.pncp.gov.br/x", true, true},
		{"bare host gains scheme", "leiloes.example.com.br/lote/9", "https://leiloes.example.com.br/lote/9", true, true},
		{"http preserved", "http://www.exemplo.com.br", "http://www.exemplo.com.br", false, true},
		{"trailing punctuation stripped", "https://www.exemplo.com.br/edital.", "https://www.exemplo.com.br/edital", true, true},
		{"trailing paren and quote", `www.exemplo.com.br/a)"`, "https://www.exemplo.com.br/a", true, true},
		{"uppercase scheme rejected", "HTTPS://WWW.EXEMPLO.COM.BR/Lote", "", false, false},
		{"uppercase www host", "WWW.EXEMPLO.COM.BR/Lote", "https://www.exemplo.com.br/Lote", true, true},
		{"no dot in host", "https://localhost/x", "", false, false},
		{"bare word", "comemora", "", false, false},
		{"email address rejected", "contato@leiloes.com.br", "", false, false},
		{"mailto rejected", "mailto:contato@leiloes.com.br", "", false, false},
		{"embedded space", "www.exemplo.com.br/um lote", "", false, false},
		{"empty", "", "", false, false},
		{"only punctuation", `.,;:"`, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, ok := NormalizeURL(tt.in)
			if ok != tt.ok {
				t.Fatalf("NormalizeURL(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if changed != tt.changed {
				t.Errorf("NormalizeURL(%q) changed = %v, want %v", tt.in, changed, tt.changed)
			}
		})
	}
}

func TestAllowedHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"pncp.gov.br", true},
		{"www.prefeitura.sp.gov.br", true},
		{"leiloes.org.br", true},
		{"lancecerto.com.br", true},
		{"rede.net.br", true},
		{"portal.leilao.br", true},
		{"leiloeira.net", true},
		{"example.com", true},
		{"example.org", true},
		{"ed.comemora", false},
		{"intranet.local", false},
		{"semponto", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := AllowedHost(tt.host); got != tt.want {
			t.Errorf("AllowedHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestIsEmailProviderHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"gmail.com", true},
		{"GMAIL.COM", true},
		{"www.hotmail.com", true},
		{"uol.com.br", true},
		{"leiloesjudiciais.com.br", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEmailProviderHost(tt.host); got != tt.want {
			t.Errorf("IsEmailProviderHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestIsFakeUppercaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ED.COMEMORA", true},
		{"COMEMORA.NET", false},          // accepted TLD, plausible host
		{"WWW.LANCENORTE.COM.BR", false}, // real uppercase host
		{"ed.comemora", false},           // not uppercase, caught by TLD check instead
		{"https://ED.COMEMORA", false},   // explicit scheme, caught by TLD check instead
		{"EDITAL", false},                // no dot, never matches a URL regex
		{"", false},
	}

	for _, tt := range tests {
		if got := IsFakeUppercaseURL(tt.in); got != tt.want {
			t.Errorf("IsFakeUppercaseURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHostOf(t *testing.T) {
	if got := HostOf("https://WWW.Exemplo.COM.br/x"); got != "www.exemplo.com.br" {
		t.Errorf("HostOf = %q, want www.exemplo.com.br", got)
	}
	if got := HostOf("://bad"); got != "" {
		t.Errorf("HostOf on unparseable = %q, want empty", got)
	}
}
