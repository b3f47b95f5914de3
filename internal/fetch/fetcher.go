// Package fetch turns discovered candidates into fetched notices:
// merged source metadata plus downloaded, hashed and blob-addressed
// attachments. Sources that vanish mid-run are tombstoned so the pool
// does not ask for them twice.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/achesucatas/auditor/internal/discover"
	"github.com/achesucatas/auditor/internal/httputil"
	"github.com/achesucatas/auditor/internal/log"
)

// ErrGone marks notices that disappeared from the source mid-run. The
// pipeline skips them without counting a hard failure.
var ErrGone = errors.New("notice gone from source")

// DefaultMaxDocuments caps attachment downloads per notice.
const DefaultMaxDocuments = 10

// Document is one downloaded attachment, hashed and addressed for blob
// storage.
type Document struct {
	Kind        Kind
	Name        string
	Bytes       []byte
	ContentType string
	StoragePath string
	Hash        string
}

// Notice bundles everything fetched for one candidate.
type Notice struct {
	Candidate   discover.Candidate
	RawMetadata map[string]any
	Documents   []Document

	DownloadsOK     int
	DownloadsFailed int
}

// MainDocument returns the first PDF, falling back to the first
// document of any kind. Nil when nothing was downloaded.
func (n *Notice) MainDocument() *Document {
	for i := range n.Documents {
		if n.Documents[i].Kind == KindPDF {
			return &n.Documents[i]
		}
	}
	if len(n.Documents) > 0 {
		return &n.Documents[0]
	}
	return nil
}

// BlobStore persists document blobs. Nil disables uploads.
type BlobStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
}

// fetchClient is the slice of the shared HTTP client the fetcher needs.
type fetchClient interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values, v any) httputil.Outcome
	GetBytes(ctx context.Context, rawURL string) httputil.Outcome
}

// requiredMetadataKeys are the payload fields that make a details call
// redundant: when discovery already delivered them all, the record can
// be resolved without another round trip.
var requiredMetadataKeys = []string{
	"numeroControlePNCP",
	"objetoCompra",
	"orgaoEntidade",
	"unidadeOrgao",
	"dataPublicacaoPncp",
	"dataAtualizacao",
	"valorTotalEstimado",
}

// HasCompleteMetadata reports whether the payload carries every field
// the resolver needs, skipping the details endpoint when true.
func HasCompleteMetadata(meta map[string]any) bool {
	if len(meta) == 0 {
		return false
	}
	for _, key := range requiredMetadataKeys {
		v, ok := meta[key]
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}

// Options configures a Fetcher.
type Options struct {
	// BaseURL of the PNCP portal. Default: https://pncp.gov.br.
	BaseURL string

	// Store receives document blobs and the metadados.json companion.
	// Nil disables uploads.
	Store BlobStore

	// MaxDocuments caps download attempts per notice. Default: 10.
	MaxDocuments int

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// Fetcher downloads notice metadata and attachments through the shared
// HTTP client. One fetcher serves the whole worker pool.
type Fetcher struct {
	client  fetchClient
	base    string
	store   BlobStore
	tombs   *TombstoneSet
	maxDocs int
	logger  log.Logger

	now func() time.Time
}

// NewFetcher creates a fetcher. Zero-valued options get defaults.
func NewFetcher(client fetchClient, opts Options) *Fetcher {
	f := &Fetcher{
		client:  client,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		store:   opts.Store,
		tombs:   NewTombstoneSet(),
		maxDocs: opts.MaxDocuments,
		logger:  opts.Logger,
		now:     time.Now,
	}
	if f.base == "" {
		f.base = "https://pncp.gov.br"
	}
	if f.maxDocs <= 0 {
		f.maxDocs = DefaultMaxDocuments
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	return f
}

// Tombstones exposes the in-run tombstone set for diagnostics.
func (f *Fetcher) Tombstones() *TombstoneSet {
	return f.tombs
}

// Fetch resolves one candidate into a notice. PNCP candidates go
// through the details and files endpoints; sitemap candidates are a
// single page download. Returns ErrGone when the source answered 404 or
// 410 and nothing useful could be assembled.
func (f *Fetcher) Fetch(ctx context.Context, cand discover.Candidate) (*Notice, error) {
	notice := &Notice{Candidate: cand, RawMetadata: cloneMetadata(cand.Payload)}

	if _, _, _, err := discover.ParseControlNumber(cand.SourceExternalID); err == nil {
		if err := f.fetchPNCP(ctx, cand, notice); err != nil {
			return nil, err
		}
	} else if err := f.fetchPage(ctx, cand, notice); err != nil {
		return nil, err
	}

	f.upload(ctx, cand, notice)
	return notice, nil
}

func (f *Fetcher) fetchPNCP(ctx context.Context, cand discover.Candidate, notice *Notice) error {
	if !HasCompleteMetadata(notice.RawMetadata) {
		if err := f.fetchDetails(ctx, cand, notice); err != nil {
			return err
		}
	}
	f.fetchFiles(ctx, cand, notice)
	return nil
}

func (f *Fetcher) fetchDetails(ctx context.Context, cand discover.Candidate, notice *Notice) error {
	detailsURL, err := discover.DetailsURL(f.base, cand.SourceExternalID)
	if err != nil {
		// Not addressable; work with whatever discovery delivered
		f.logger.Warn("cannot build details URL",
			"external_id", cand.SourceExternalID, "error", err)
		return nil
	}

	if f.tombs.Gone(detailsURL) {
		if len(notice.RawMetadata) == 0 {
			return fmt.Errorf("details for %s: %w", cand.SourceExternalID, ErrGone)
		}
		return nil
	}

	var details map[string]any
	out := f.client.GetJSON(ctx, detailsURL, nil, &details)
	switch {
	case out.OK:
		notice.RawMetadata = mergeMetadata(notice.RawMetadata, details)
	case IsGoneStatus(out.Status):
		f.tombs.Mark(detailsURL, out.Status)
		if len(notice.RawMetadata) == 0 {
			return fmt.Errorf("details for %s: %w", cand.SourceExternalID, ErrGone)
		}
	default:
		f.logger.Warn("details fetch failed, using discovery payload",
			"external_id", cand.SourceExternalID,
			"status", out.Status,
			"error_class", string(out.ErrorClass),
		)
		if len(notice.RawMetadata) == 0 {
			return fmt.Errorf("no metadata available for %s", cand.SourceExternalID)
		}
	}
	return nil
}

func (f *Fetcher) fetchFiles(ctx context.Context, cand discover.Candidate, notice *Notice) {
	filesURL, err := discover.FilesURL(f.base, cand.SourceExternalID)
	if err != nil || f.tombs.Gone(filesURL) {
		return
	}

	var files []map[string]any
	out := f.client.GetJSON(ctx, filesURL, nil, &files)
	if !out.OK {
		if IsGoneStatus(out.Status) {
			f.tombs.Mark(filesURL, out.Status)
		}
		f.logger.Warn("file listing failed",
			"external_id", cand.SourceExternalID,
			"status", out.Status,
			"error_class", string(out.ErrorClass),
		)
		return
	}

	attempts := 0
	for i, file := range files {
		if attempts >= f.maxDocs {
			f.logger.Debug("attachment cap reached",
				"external_id", cand.SourceExternalID,
				"listed", len(files),
				"cap", f.maxDocs,
			)
			break
		}

		fileURL, _ := file["url"].(string)
		if fileURL == "" {
			fileURL, _ = file["uri"].(string)
		}
		if fileURL == "" {
			continue
		}
		title, _ := file["titulo"].(string)
		if title == "" {
			title = fmt.Sprintf("documento_%d", i+1)
		}

		attempts++
		f.download(ctx, cand, notice, fileURL, title)
	}
}

func (f *Fetcher) download(ctx context.Context, cand discover.Candidate, notice *Notice, fileURL, title string) {
	if f.tombs.Gone(fileURL) {
		notice.DownloadsFailed++
		return
	}

	out := f.client.GetBytes(ctx, fileURL)
	if !out.OK {
		// The shared client already logged the failure
		if IsGoneStatus(out.Status) {
			f.tombs.Mark(fileURL, out.Status)
		}
		notice.DownloadsFailed++
		return
	}

	notice.DownloadsOK++
	notice.Documents = append(notice.Documents, f.buildDocument(cand, title, out))
}

func (f *Fetcher) fetchPage(ctx context.Context, cand discover.Candidate, notice *Notice) error {
	if f.tombs.Gone(cand.RawURL) {
		return fmt.Errorf("page %s: %w", cand.RawURL, ErrGone)
	}

	out := f.client.GetBytes(ctx, cand.RawURL)
	if !out.OK {
		notice.DownloadsFailed++
		if IsGoneStatus(out.Status) {
			f.tombs.Mark(cand.RawURL, out.Status)
			return fmt.Errorf("page %s: %w", cand.RawURL, ErrGone)
		}
		return fmt.Errorf("failed to fetch lot page %s: %s", cand.RawURL, out.ErrorClass)
	}

	notice.DownloadsOK++
	notice.Documents = append(notice.Documents, f.buildDocument(cand, pageTitle(cand.RawURL), out))
	return nil
}

func (f *Fetcher) buildDocument(cand discover.Candidate, title string, out httputil.Outcome) Document {
	contentType := ""
	if out.Header != nil {
		contentType = out.Header.Get("Content-Type")
	}
	kind := DetectKind(contentType, out.Body)

	sum := sha256.Sum256(out.Body)
	hash := hex.EncodeToString(sum[:])

	name := SafeFileName(title)
	if !strings.HasSuffix(strings.ToLower(name), kind.Extension()) {
		name += kind.Extension()
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = kind.ContentType()
	}

	return Document{
		Kind:        kind,
		Name:        name,
		Bytes:       out.Body,
		ContentType: contentType,
		StoragePath: StoragePath(cand.SourceExternalID, hash, name),
		Hash:        hash,
	}
}

// upload pushes every document plus the metadados.json companion to
// blob storage. Upload trouble is logged, never fatal: the record can
// still be resolved from memory.
func (f *Fetcher) upload(ctx context.Context, cand discover.Candidate, notice *Notice) {
	if f.store == nil || len(notice.Documents) == 0 {
		return
	}

	for _, doc := range notice.Documents {
		if err := f.store.Upload(ctx, doc.StoragePath, doc.ContentType, doc.Bytes); err != nil {
			f.logger.Warn("blob upload failed", "path", doc.StoragePath, "error", err)
		}
	}
	f.uploadManifest(ctx, cand, notice)
}

type manifestDocument struct {
	Name        string `json:"nome"`
	Kind        Kind   `json:"tipo"`
	ContentType string `json:"content_type"`
	StoragePath string `json:"storage_path"`
	Hash        string `json:"hash"`
	Size        int    `json:"tamanho_bytes"`
}

type manifest struct {
	SourceName       string             `json:"source_name"`
	SourceExternalID string             `json:"source_external_id"`
	FetchedAt        time.Time          `json:"fetched_at"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
	Documents        []manifestDocument `json:"documentos"`
}

func (f *Fetcher) uploadManifest(ctx context.Context, cand discover.Candidate, notice *Notice) {
	m := manifest{
		SourceName:       cand.SourceName,
		SourceExternalID: cand.SourceExternalID,
		FetchedAt:        f.now().UTC(),
		Metadata:         notice.RawMetadata,
	}
	for _, doc := range notice.Documents {
		m.Documents = append(m.Documents, manifestDocument{
			Name:        doc.Name,
			Kind:        doc.Kind,
			ContentType: doc.ContentType,
			StoragePath: doc.StoragePath,
			Hash:        doc.Hash,
			Size:        len(doc.Bytes),
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		f.logger.Warn("failed to marshal manifest", "external_id", cand.SourceExternalID, "error", err)
		return
	}
	data = append(data, '\n')

	manifestPath := SafeSegment(cand.SourceExternalID) + "/metadados.json"
	if err := f.store.Upload(ctx, manifestPath, "application/json", data); err != nil {
		f.logger.Warn("manifest upload failed", "path", manifestPath, "error", err)
	}
}

// pageTitle derives a document name from the lot page URL.
func pageTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "pagina"
	}
	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "" || base == "." {
		return "pagina"
	}
	return base
}

// cloneMetadata copies the payload so fetch-side merges never alias the
// candidate.
func cloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// mergeMetadata overlays details over the discovery payload; the
// details endpoint is authoritative for shared keys.
func mergeMetadata(base, overlay map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(overlay))
	}
	for k, v := range overlay {
		base[k] = v
	}
	return base
}
