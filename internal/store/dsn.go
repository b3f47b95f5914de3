package store

import (
	"fmt"
	"net/url"
	"strings"
)

// DSN builds the direct Postgres connection string for a Supabase
// project. The project ref is the first hostname label of the project
// URL (https://<ref>.supabase.co); the database listens at
// db.<ref>.supabase.co as user postgres.
func DSN(supabaseURL, password string) (string, error) {
	if supabaseURL == "" {
		return "", fmt.Errorf("store: SUPABASE_URL is not set")
	}
	if password == "" {
		return "", fmt.Errorf("store: SUPABASE_DB_PASSWORD is not set")
	}
	u, err := url.Parse(supabaseURL)
	if err != nil {
		return "", fmt.Errorf("store: parse SUPABASE_URL: %w", err)
	}
	ref, ok := strings.CutSuffix(u.Hostname(), ".supabase.co")
	if !ok || ref == "" {
		return "", fmt.Errorf("store: %q is not a *.supabase.co project URL", supabaseURL)
	}
	dsn := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword("postgres", password),
		Host:     "db." + ref + ".supabase.co:5432",
		Path:     "/postgres",
		RawQuery: "sslmode=require",
	}
	return dsn.String(), nil
}
