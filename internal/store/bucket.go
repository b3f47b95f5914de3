package store

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/achesucatas/auditor/internal/fetch"
	"github.com/achesucatas/auditor/internal/httputil"
	"github.com/achesucatas/auditor/internal/log"
)

// DefaultBucket is the Supabase Storage bucket for edital PDFs and
// metadata, overridable with STORAGE_BUCKET.
const DefaultBucket = "editais-pdfs"

// Bucket uploads edital artifacts to Supabase Storage over the shared
// fetch client, so storage calls go through the same retry, rate-limit
// and breaker machinery as everything else.
type Bucket struct {
	client  *httputil.Client
	baseURL string
	key     string
	name    string
	logger  log.Logger
}

var _ fetch.BlobStore = (*Bucket)(nil)

// BucketOptions configures the storage client.
type BucketOptions struct {
	// SupabaseURL is the project URL (https://<ref>.supabase.co).
	SupabaseURL string

	// ServiceKey authenticates uploads (SUPABASE_SERVICE_KEY).
	ServiceKey string

	// Name is the bucket name. Empty means DefaultBucket.
	Name string

	// Client is the shared fetch client. If nil, a default one is
	// created.
	Client *httputil.Client

	// Logger defaults to the package default.
	Logger log.Logger
}

// NewBucket creates the storage client.
func NewBucket(opts BucketOptions) (*Bucket, error) {
	if opts.SupabaseURL == "" {
		return nil, fmt.Errorf("store: SUPABASE_URL is required for storage uploads")
	}
	if opts.ServiceKey == "" {
		return nil, fmt.Errorf("store: SUPABASE_SERVICE_KEY is required for storage uploads")
	}
	if opts.Name == "" {
		opts.Name = DefaultBucket
	}
	if opts.Client == nil {
		opts.Client = httputil.NewClient(httputil.FetchOptions{Logger: opts.Logger})
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Bucket{
		client:  opts.Client,
		baseURL: strings.TrimSuffix(opts.SupabaseURL, "/"),
		key:     opts.ServiceKey,
		name:    opts.Name,
		logger:  opts.Logger,
	}, nil
}

// Upload stores one object, overwriting any previous version of the same
// path. Paths are ASCII-safe by construction upstream, so they are sent
// unescaped.
func (b *Bucket) Upload(ctx context.Context, path, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	target := fmt.Sprintf("%s/storage/v1/object/%s/%s",
		b.baseURL, b.name, strings.TrimPrefix(path, "/"))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.key)
	header.Set("Content-Type", contentType)
	header.Set("x-upsert", "true")

	out := b.client.Post(ctx, target, header, data)
	if !out.OK {
		if out.Err != nil {
			return fmt.Errorf("store: upload %s: %w", path, out.Err)
		}
		return fmt.Errorf("store: upload %s: HTTP %d: %s",
			path, out.Status, strings.TrimSpace(string(out.Body)))
	}
	b.logger.Debug("object uploaded", "bucket", b.name, "path", path, "bytes", len(data))
	return nil
}
