package config

import (
	"testing"
	"time"
)

func TestGetHTTPTimeout(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"unset uses default", "", DefaultHTTPTimeout},
		{"valid duration", "45s", 45 * time.Second},
		{"invalid format uses default", "not-a-duration", DefaultHTTPTimeout},
		{"too low clamps to 1s", "100ms", 1 * time.Second},
		{"too high clamps to 5m", "1h", 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvHTTPTimeout, tt.envValue)
			}
			if got := GetHTTPTimeout(); got != tt.expected {
				t.Errorf("GetHTTPTimeout() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"unset uses default", "", DefaultRateLimit},
		{"valid", "1s", time.Second},
		{"zero allowed", "0s", 0},
		{"negative clamps to zero", "-1s", 0},
		{"too high clamps", "1m", 30 * time.Second},
		{"garbage uses default", "fast", DefaultRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvRateLimit, tt.envValue)
			}
			if got := GetRateLimit(); got != tt.expected {
				t.Errorf("GetRateLimit() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetMaxRetries(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected int
	}{
		{"unset uses default", "", DefaultMaxRetries},
		{"valid", "3", 3},
		{"zero allowed", "0", 0},
		{"negative clamps to zero", "-2", 0},
		{"too high clamps to 10", "50", 10},
		{"garbage uses default", "many", DefaultMaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvMaxRetries, tt.envValue)
			}
			if got := GetMaxRetries(); got != tt.expected {
				t.Errorf("GetMaxRetries() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetWorkers(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected int
	}{
		{"unset uses default", "", DefaultWorkers},
		{"valid", "8", 8},
		{"too low clamps to 1", "0", 1},
		{"too high clamps to 16", "64", 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(EnvWorkers, tt.envValue)
			}
			if got := GetWorkers(); got != tt.expected {
				t.Errorf("GetWorkers() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetMaxPrimaryRows(t *testing.T) {
	t.Run("unset uses default", func(t *testing.T) {
		if got := GetMaxPrimaryRows(); got != DefaultMaxPrimaryRows {
			t.Errorf("GetMaxPrimaryRows() = %d, want %d", got, DefaultMaxPrimaryRows)
		}
	})

	t.Run("valid override", func(t *testing.T) {
		t.Setenv(EnvMaxPrimaryRows, "500")
		if got := GetMaxPrimaryRows(); got != 500 {
			t.Errorf("GetMaxPrimaryRows() = %d, want 500", got)
		}
	})

	t.Run("zero rejected", func(t *testing.T) {
		t.Setenv(EnvMaxPrimaryRows, "0")
		if got := GetMaxPrimaryRows(); got != DefaultMaxPrimaryRows {
			t.Errorf("GetMaxPrimaryRows() = %d, want default %d", got, DefaultMaxPrimaryRows)
		}
	})
}

func TestGetSearchTerms(t *testing.T) {
	t.Run("unset uses defaults", func(t *testing.T) {
		terms := GetSearchTerms()
		if len(terms) == 0 {
			t.Fatal("expected default search terms")
		}
	})

	t.Run("pipe separated", func(t *testing.T) {
		t.Setenv(EnvSearchTerms, "leilão sucata| alienação de bens |")
		terms := GetSearchTerms()
		if len(terms) != 2 {
			t.Fatalf("expected 2 terms, got %d: %v", len(terms), terms)
		}
		if terms[0] != "leilão sucata" || terms[1] != "alienação de bens" {
			t.Errorf("unexpected terms: %v", terms)
		}
	})

	t.Run("only separators falls back", func(t *testing.T) {
		t.Setenv(EnvSearchTerms, " | | ")
		terms := GetSearchTerms()
		if len(terms) == 0 {
			t.Fatal("expected fallback to default terms")
		}
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvSupabaseURL, "https://abcdefgh.supabase.co/")
	t.Setenv(EnvSupabaseServiceKey, "service-key")
	t.Setenv(EnvSupabaseDBPassword, "db-pass")
	t.Setenv(EnvOpenAIKey, "sk-test")

	cfg := FromEnv()

	if cfg.SupabaseURL != "https://abcdefgh.supabase.co" {
		t.Errorf("SupabaseURL = %q, want trailing slash trimmed", cfg.SupabaseURL)
	}
	if cfg.StorageBucket != DefaultStorageBucket {
		t.Errorf("StorageBucket = %q, want %q", cfg.StorageBucket, DefaultStorageBucket)
	}
	if cfg.OpenAIModel != DefaultOpenAIModel {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, DefaultOpenAIModel)
	}
	if cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Workers, DefaultWorkers)
	}
}

func TestValidateDatastore(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"complete", func(c *Config) {}, false},
		{"missing url", func(c *Config) { c.SupabaseURL = "" }, true},
		{"http url rejected", func(c *Config) { c.SupabaseURL = "http://x.supabase.co" }, true},
		{"missing service key", func(c *Config) { c.SupabaseServiceKey = "" }, true},
		{"missing db password", func(c *Config) { c.SupabaseDBPassword = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				SupabaseURL:        "https://abcdefgh.supabase.co",
				SupabaseServiceKey: "key",
				SupabaseDBPassword: "pass",
			}
			tt.mutate(cfg)
			err := cfg.ValidateDatastore()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDatastore() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlertConfigured(t *testing.T) {
	cfg := &Config{}
	if cfg.AlertConfigured() {
		t.Error("empty config should not report alerting configured")
	}

	cfg.EmailAddress = "ops@example.com"
	cfg.EmailAppPassword = "app-pass"
	cfg.AlertEmailTo = "oncall@example.com"
	if !cfg.AlertConfigured() {
		t.Error("complete config should report alerting configured")
	}
}
