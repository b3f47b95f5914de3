// Package config resolves the pipeline's environment contract.
//
// Datastore credentials, search terms, and tuning knobs all arrive through
// environment variables. Getters for tunable values clamp to a sane range
// and warn-and-default on invalid input so a typo in a cron env file never
// takes the nightly run down.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvSupabaseURL is the project URL, e.g. https://abcdefgh.supabase.co
	EnvSupabaseURL = "SUPABASE_URL"

	// EnvSupabaseServiceKey is the service-role key used for Storage uploads.
	EnvSupabaseServiceKey = "SUPABASE_SERVICE_KEY"

	// EnvSupabaseDBPassword is the direct Postgres password for the project.
	EnvSupabaseDBPassword = "SUPABASE_DB_PASSWORD"

	// EnvSearchTerms is the pipe-separated PNCP search term list.
	EnvSearchTerms = "PNCP_SEARCH_TERMS"

	// EnvOpenAIKey enables the OpenAI enrichment provider when set.
	EnvOpenAIKey = "OPENAI_API_KEY"

	// EnvOpenAIModel overrides the enrichment model.
	EnvOpenAIModel = "OPENAI_MODEL"

	// EnvAnthropicKey enables the Claude fallback provider when set.
	EnvAnthropicKey = "ANTHROPIC_API_KEY"

	// EnvMaxPrimaryRows is the safety brake on the primary table.
	EnvMaxPrimaryRows = "MAX_PRIMARY_ROWS"

	// EnvStorageBucket is the blob bucket for edital PDFs.
	EnvStorageBucket = "STORAGE_BUCKET"

	// EnvEmailAddress is the alert sender address.
	EnvEmailAddress = "EMAIL_ADDRESS"

	// EnvEmailAppPassword is the SMTP app password for the sender.
	EnvEmailAppPassword = "EMAIL_APP_PASSWORD"

	// EnvAlertEmailTo is the alert recipient address.
	EnvAlertEmailTo = "ALERT_EMAIL_TO"

	// EnvHTTPTimeout configures the per-request HTTP timeout.
	EnvHTTPTimeout = "AUDITOR_HTTP_TIMEOUT"

	// EnvRateLimit configures the per-host minimum interval between calls.
	EnvRateLimit = "AUDITOR_RATE_LIMIT"

	// EnvMaxRetries configures the HTTP retry budget.
	EnvMaxRetries = "AUDITOR_MAX_RETRIES"

	// EnvWorkers configures the candidate worker pool size.
	EnvWorkers = "AUDITOR_WORKERS"

	// EnvSourcesFile points at an external source catalog TOML that
	// replaces the embedded one.
	EnvSourcesFile = "AUDITOR_SOURCES_FILE"

	// DefaultOpenAIModel is the enrichment model used when none is configured.
	DefaultOpenAIModel = "gpt-5-nano"

	// DefaultMaxPrimaryRows is the safety-brake threshold for the primary table.
	DefaultMaxPrimaryRows = 10000

	// DefaultStorageBucket is the blob bucket for edital PDFs.
	DefaultStorageBucket = "editais-pdfs"

	// DefaultHTTPTimeout is the per-request timeout.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRateLimit is the per-host minimum interval between HTTP calls.
	DefaultRateLimit = 600 * time.Millisecond

	// DefaultMaxRetries is the HTTP retry budget for transient failures.
	DefaultMaxRetries = 5

	// DefaultWorkers is the candidate worker pool size.
	DefaultWorkers = 4
)

// GetHTTPTimeout returns the configured HTTP timeout from AUDITOR_HTTP_TIMEOUT.
// If not set or invalid, returns DefaultHTTPTimeout (30 seconds).
// Accepts duration strings like "30s", "1m", "2m30s".
func GetHTTPTimeout() time.Duration {
	envValue := os.Getenv(EnvHTTPTimeout)
	if envValue == "" {
		return DefaultHTTPTimeout
	}

	duration, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n",
			EnvHTTPTimeout, envValue, DefaultHTTPTimeout)
		return DefaultHTTPTimeout
	}

	if duration < 1*time.Second {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum 1s\n",
			EnvHTTPTimeout, duration)
		return 1 * time.Second
	}
	if duration > 5*time.Minute {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum 5m\n",
			EnvHTTPTimeout, duration)
		return 5 * time.Minute
	}

	return duration
}

// GetRateLimit returns the per-host minimum interval from AUDITOR_RATE_LIMIT.
// If not set or invalid, returns DefaultRateLimit (600 ms).
// Accepts duration strings like "600ms", "1s".
func GetRateLimit() time.Duration {
	envValue := os.Getenv(EnvRateLimit)
	if envValue == "" {
		return DefaultRateLimit
	}

	duration, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n",
			EnvRateLimit, envValue, DefaultRateLimit)
		return DefaultRateLimit
	}

	if duration < 0 {
		fmt.Fprintf(os.Stderr, "Warning: %s negative (%v), using 0\n",
			EnvRateLimit, duration)
		return 0
	}
	if duration > 30*time.Second {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum 30s\n",
			EnvRateLimit, duration)
		return 30 * time.Second
	}

	return duration
}

// GetMaxRetries returns the HTTP retry budget from AUDITOR_MAX_RETRIES.
// If not set or invalid, returns DefaultMaxRetries (5). Clamped to [0, 10].
func GetMaxRetries() int {
	envValue := os.Getenv(EnvMaxRetries)
	if envValue == "" {
		return DefaultMaxRetries
	}

	n, err := strconv.Atoi(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n",
			EnvMaxRetries, envValue, DefaultMaxRetries)
		return DefaultMaxRetries
	}

	if n < 0 {
		fmt.Fprintf(os.Stderr, "Warning: %s negative (%d), using 0\n", EnvMaxRetries, n)
		return 0
	}
	if n > 10 {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%d), using maximum 10\n", EnvMaxRetries, n)
		return 10
	}

	return n
}

// GetWorkers returns the worker pool size from AUDITOR_WORKERS.
// If not set or invalid, returns DefaultWorkers (4). Clamped to [1, 16].
func GetWorkers() int {
	envValue := os.Getenv(EnvWorkers)
	if envValue == "" {
		return DefaultWorkers
	}

	n, err := strconv.Atoi(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n",
			EnvWorkers, envValue, DefaultWorkers)
		return DefaultWorkers
	}

	if n < 1 {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%d), using minimum 1\n", EnvWorkers, n)
		return 1
	}
	if n > 16 {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%d), using maximum 16\n", EnvWorkers, n)
		return 16
	}

	return n
}

// GetMaxPrimaryRows returns the safety-brake threshold from MAX_PRIMARY_ROWS.
// If not set or invalid, returns DefaultMaxPrimaryRows (10000).
func GetMaxPrimaryRows() int {
	envValue := os.Getenv(EnvMaxPrimaryRows)
	if envValue == "" {
		return DefaultMaxPrimaryRows
	}

	n, err := strconv.Atoi(envValue)
	if err != nil || n < 1 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n",
			EnvMaxPrimaryRows, envValue, DefaultMaxPrimaryRows)
		return DefaultMaxPrimaryRows
	}

	return n
}

// GetSearchTerms returns the PNCP search terms from PNCP_SEARCH_TERMS,
// pipe-separated ("leilão sucata|leilão veículos"). Empty entries are
// dropped and surrounding whitespace is trimmed. Returns the default
// term list when unset.
func GetSearchTerms() []string {
	envValue := os.Getenv(EnvSearchTerms)
	if envValue == "" {
		return []string{"leilão de sucata", "leilão de veículos", "alienação de veículos"}
	}

	var terms []string
	for _, t := range strings.Split(envValue, "|") {
		t = strings.TrimSpace(t)
		if t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		fmt.Fprintf(os.Stderr, "Warning: %s contains no usable terms, using defaults\n", EnvSearchTerms)
		return []string{"leilão de sucata", "leilão de veículos", "alienação de veículos"}
	}
	return terms
}

// Config holds the resolved settings for one pipeline run.
type Config struct {
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseDBPassword string
	StorageBucket      string

	SearchTerms []string
	SourcesFile string

	OpenAIKey    string
	OpenAIModel  string
	AnthropicKey string

	MaxPrimaryRows int
	HTTPTimeout    time.Duration
	RateLimit      time.Duration
	MaxRetries     int
	Workers        int

	EmailAddress     string
	EmailAppPassword string
	AlertEmailTo     string
}

// FromEnv reads the full environment contract. It never fails; use
// ValidateDatastore before touching Supabase.
func FromEnv() *Config {
	bucket := os.Getenv(EnvStorageBucket)
	if bucket == "" {
		bucket = DefaultStorageBucket
	}

	model := os.Getenv(EnvOpenAIModel)
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &Config{
		SupabaseURL:        strings.TrimRight(os.Getenv(EnvSupabaseURL), "/"),
		SupabaseServiceKey: os.Getenv(EnvSupabaseServiceKey),
		SupabaseDBPassword: os.Getenv(EnvSupabaseDBPassword),
		StorageBucket:      bucket,
		SearchTerms:        GetSearchTerms(),
		SourcesFile:        os.Getenv(EnvSourcesFile),
		OpenAIKey:          os.Getenv(EnvOpenAIKey),
		OpenAIModel:        model,
		AnthropicKey:       os.Getenv(EnvAnthropicKey),
		MaxPrimaryRows:     GetMaxPrimaryRows(),
		HTTPTimeout:        GetHTTPTimeout(),
		RateLimit:          GetRateLimit(),
		MaxRetries:         GetMaxRetries(),
		Workers:            GetWorkers(),
		EmailAddress:       os.Getenv(EnvEmailAddress),
		EmailAppPassword:   os.Getenv(EnvEmailAppPassword),
		AlertEmailTo:       os.Getenv(EnvAlertEmailTo),
	}
}

// ValidateDatastore checks that the Supabase settings required for a real
// run are present and well-formed. Missing datastore config is fatal per
// the error taxonomy; discovery-only dry runs skip this check.
func (c *Config) ValidateDatastore() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("%s is not set", EnvSupabaseURL)
	}
	u, err := url.Parse(c.SupabaseURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an https URL, got %q", EnvSupabaseURL, c.SupabaseURL)
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("%s is not set", EnvSupabaseServiceKey)
	}
	if c.SupabaseDBPassword == "" {
		return fmt.Errorf("%s is not set", EnvSupabaseDBPassword)
	}
	return nil
}

// AlertConfigured reports whether the e-mail alert settings are complete.
func (c *Config) AlertConfigured() bool {
	return c.EmailAddress != "" && c.EmailAppPassword != "" && c.AlertEmailTo != ""
}
