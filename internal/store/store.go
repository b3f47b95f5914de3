// Package store persists the pipeline's output: valid records into the
// primary leiloes table, rejected ones into quarantine, plus the run
// history and event log the tracker writes. The backing datastore is
// Supabase Postgres reached through pgx; PDFs and metadata go to Supabase
// Storage through the Bucket client.
//
// The repository enforces the safety brake: once the primary table grows
// past MaxPrimaryRows, every record write fails closed with
// ErrCapacityExceeded so a runaway source cannot flood the table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/achesucatas/auditor/internal/log"
	"github.com/achesucatas/auditor/internal/record"
)

// DefaultMaxPrimaryRows is the safety-brake ceiling for the leiloes
// table, overridable with MAX_PRIMARY_ROWS.
const DefaultMaxPrimaryRows = 10000

// ErrCapacityExceeded is returned by record writes once the primary table
// is over the configured ceiling. The orchestrator marks the run FAILED
// instead of growing the table further.
var ErrCapacityExceeded = errors.New("primary table capacity exceeded")

// Run lifecycle states as persisted in run_executions.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Run modes. INCREMENTAL skips candidates whose id_interno already exists
// in the primary table; FULL reprocesses everything.
const (
	ModeIncremental = "INCREMENTAL"
	ModeFull        = "FULL"
)

// Etapa identifies the pipeline stage an event belongs to. The set is
// closed and enforced by a CHECK on pipeline_events.
type Etapa string

const (
	EtapaInicio      Etapa = "inicio"
	EtapaBusca       Etapa = "busca"
	EtapaColeta      Etapa = "coleta"
	EtapaPDFDownload Etapa = "pdf_download"
	EtapaPDFParse    Etapa = "pdf_parse"
	EtapaExtract     Etapa = "extract"
	EtapaEnrich      Etapa = "enrich"
	EtapaValidate    Etapa = "validate"
	EtapaUpsert      Etapa = "upsert"
	EtapaQuarantine  Etapa = "quarantine"
	EtapaFim         Etapa = "fim"
)

// Nivel is the severity of a pipeline event.
type Nivel string

const (
	NivelDebug   Nivel = "debug"
	NivelInfo    Nivel = "info"
	NivelWarning Nivel = "warning"
	NivelError   Nivel = "error"
)

// Event is one pipeline_events row. Zero-valued DuracaoMS and Contagem
// are stored as NULL. At is the emit time, kept distinct from the
// insert time because events are buffered before they reach the table.
type Event struct {
	RunID     string
	Etapa     Etapa
	Evento    string
	Nivel     Nivel
	Mensagem  string
	Dados     json.RawMessage
	DuracaoMS int64
	Contagem  int
	At        time.Time
}

// Quarantine is one rejected record bound for triage. Errors holds the
// JSON array of {code, field, message} notices; Raw and Normalized are
// the record snapshots before and after normalization.
type Quarantine struct {
	RunID      string
	IDInterno  string
	Status     string
	Errors     json.RawMessage
	Raw        json.RawMessage
	Normalized json.RawMessage
}

// RunStart holds the fields written when a run begins.
type RunStart struct {
	RunID     string
	Mode      string
	Version   string
	Config    json.RawMessage
	StartedAt time.Time
}

// RunCounters are the cascade-level totals persisted on finish.
type RunCounters struct {
	Encontrados    int
	Novos          int
	SkipExiste     int
	Duplicados     int
	DownloadsOK    int
	DownloadsFalha int
}

// RunFinish updates the run row when the pipeline ends, successfully or
// not. Quality and FinOps carry the marshaled report snapshots.
type RunFinish struct {
	RunID      string
	Status     string
	Reason     string
	Counters   RunCounters
	Quality    json.RawMessage
	FinOps     json.RawMessage
	FinishedAt time.Time
}

// RunSummary is one run_executions row as read back for the history
// report.
type RunSummary struct {
	RunID          string     `json:"run_id"`
	Status         string     `json:"status"`
	Mode           string     `json:"mode"`
	Start          time.Time  `json:"execution_start"`
	End            *time.Time `json:"execution_end,omitempty"`
	Encontrados    int        `json:"editais_encontrados"`
	Novos          int        `json:"editais_novos"`
	SkipExiste     int        `json:"editais_skip_existe"`
	Duplicados     int        `json:"editais_duplicados"`
	DownloadsOK    int        `json:"downloads_ok"`
	DownloadsFalha int        `json:"downloads_falha"`
	CostTotal      float64    `json:"cost_total"`
}

// Store is the persistence surface the router and run tracker write
// through. *Postgres implements it; tests substitute fakes.
type Store interface {
	LeilaoExists(ctx context.Context, idInterno string) (bool, error)
	UpsertLeilao(ctx context.Context, rec *record.AuctionRecord) error
	UpsertQuarantine(ctx context.Context, q Quarantine) error
	CountLeiloes(ctx context.Context) (int, error)
	StartRun(ctx context.Context, start RunStart) error
	FinishRun(ctx context.Context, fin RunFinish) error
	InsertEvents(ctx context.Context, events []Event) error
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// Options configures the Postgres store.
type Options struct {
	// DSN is the Postgres connection string. See DSN for deriving it
	// from the Supabase project URL.
	DSN string

	// MaxPrimaryRows is the safety-brake ceiling. Zero means
	// DefaultMaxPrimaryRows.
	MaxPrimaryRows int

	// Logger for write diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool    *pgxpool.Pool
	maxRows int
	logger  log.Logger
}

var _ Store = (*Postgres)(nil)

// Open connects to the datastore, verifies the connection and applies
// the schema.
func Open(ctx context.Context, opts Options) (*Postgres, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("store: DSN is required")
	}
	if opts.MaxPrimaryRows <= 0 {
		opts.MaxPrimaryRows = DefaultMaxPrimaryRows
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{
		pool:    pool,
		maxRows: opts.MaxPrimaryRows,
		logger:  opts.Logger,
	}, nil
}

// Migrate applies the idempotent schema. Safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// CountLeiloes returns the current primary table row count.
func (p *Postgres) CountLeiloes(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM leiloes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count leiloes: %w", err)
	}
	return n, nil
}

// LeilaoExists reports whether a record with this id_interno is already
// in the primary table. INCREMENTAL runs use it to skip known records.
func (p *Postgres) LeilaoExists(ctx context.Context, idInterno string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM leiloes WHERE id_interno = $1)`,
		idInterno).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check leilao %s: %w", idInterno, err)
	}
	return exists, nil
}

const upsertLeilaoSQL = `
INSERT INTO leiloes (
    id_interno, source_external_id, source_name,
    municipio, uf, ibge_code, lat, lon,
    data_publicacao, data_atualizacao, data_leilao,
    titulo, descricao, orgao, n_edital, objeto_resumido, tags,
    valor_estimado, quantidade_itens, tipo_leilao, modalidade, nome_leiloeiro,
    pncp_url, source_url, leiloeiro_url,
    storage_path, pdf_hash, versao_auditor
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
    $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
)
ON CONFLICT (id_interno) DO UPDATE SET
    source_external_id = EXCLUDED.source_external_id,
    source_name        = EXCLUDED.source_name,
    municipio          = EXCLUDED.municipio,
    uf                 = EXCLUDED.uf,
    ibge_code          = EXCLUDED.ibge_code,
    lat                = EXCLUDED.lat,
    lon                = EXCLUDED.lon,
    data_publicacao    = EXCLUDED.data_publicacao,
    data_atualizacao   = EXCLUDED.data_atualizacao,
    data_leilao        = EXCLUDED.data_leilao,
    titulo             = EXCLUDED.titulo,
    descricao          = EXCLUDED.descricao,
    orgao              = EXCLUDED.orgao,
    n_edital           = EXCLUDED.n_edital,
    objeto_resumido    = EXCLUDED.objeto_resumido,
    tags               = EXCLUDED.tags,
    valor_estimado     = EXCLUDED.valor_estimado,
    quantidade_itens   = EXCLUDED.quantidade_itens,
    tipo_leilao        = EXCLUDED.tipo_leilao,
    modalidade         = EXCLUDED.modalidade,
    nome_leiloeiro     = EXCLUDED.nome_leiloeiro,
    pncp_url           = EXCLUDED.pncp_url,
    source_url         = EXCLUDED.source_url,
    leiloeiro_url      = EXCLUDED.leiloeiro_url,
    storage_path       = COALESCE(EXCLUDED.storage_path, leiloes.storage_path),
    pdf_hash           = COALESCE(EXCLUDED.pdf_hash, leiloes.pdf_hash),
    versao_auditor     = EXCLUDED.versao_auditor,
    updated_at         = now()`

// UpsertLeilao writes a VALID record to the primary table, keyed by
// id_interno. A re-run that did not re-download the PDF sends NULL
// storage_path and pdf_hash; the COALESCE keeps the stored provenance.
func (p *Postgres) UpsertLeilao(ctx context.Context, rec *record.AuctionRecord) error {
	if err := p.guardCapacity(ctx); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, upsertLeilaoSQL, leilaoArgs(rec)...); err != nil {
		return fmt.Errorf("store: upsert leilao %s: %w", rec.IDInterno, err)
	}
	p.logger.Debug("leilao upserted", "id_interno", rec.IDInterno, "source", rec.SourceName)
	return nil
}

const upsertQuarantineSQL = `
INSERT INTO quarentena (run_id, id_interno, status, errors, raw_record, normalized_record)
VALUES ($1, $2, $3, COALESCE($4::jsonb, '[]'::jsonb), $5::jsonb, $6::jsonb)
ON CONFLICT (run_id, id_interno) DO UPDATE SET
    status            = EXCLUDED.status,
    errors            = EXCLUDED.errors,
    raw_record        = EXCLUDED.raw_record,
    normalized_record = EXCLUDED.normalized_record`

// UpsertQuarantine writes a rejected record, keyed by (run_id,
// id_interno) so a candidate seen twice in one run keeps a single row.
func (p *Postgres) UpsertQuarantine(ctx context.Context, q Quarantine) error {
	if err := p.guardCapacity(ctx); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, upsertQuarantineSQL,
		q.RunID, q.IDInterno, q.Status,
		jsonbArg(q.Errors), jsonbArg(q.Raw), jsonbArg(q.Normalized))
	if err != nil {
		return fmt.Errorf("store: quarantine %s: %w", q.IDInterno, err)
	}
	p.logger.Debug("record quarantined", "id_interno", q.IDInterno, "status", q.Status)
	return nil
}

// StartRun inserts the RUNNING row for a new execution.
func (p *Postgres) StartRun(ctx context.Context, start RunStart) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO run_executions (run_id, execution_start, status, mode, versao_miner, config)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		start.RunID, start.StartedAt, StatusRunning, start.Mode,
		start.Version, jsonbArg(start.Config))
	if err != nil {
		return fmt.Errorf("store: start run %s: %w", start.RunID, err)
	}
	return nil
}

// FinishRun closes the execution row with final status, counters and the
// report snapshots.
func (p *Postgres) FinishRun(ctx context.Context, fin RunFinish) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE run_executions SET
		     execution_end       = $2,
		     status              = $3,
		     reason              = $4,
		     editais_encontrados = $5,
		     editais_novos       = $6,
		     editais_skip_existe = $7,
		     editais_duplicados  = $8,
		     downloads_ok        = $9,
		     downloads_falha     = $10,
		     quality_report      = $11::jsonb,
		     finops              = $12::jsonb
		 WHERE run_id = $1`,
		fin.RunID, fin.FinishedAt, fin.Status, nullable(fin.Reason),
		fin.Counters.Encontrados, fin.Counters.Novos, fin.Counters.SkipExiste,
		fin.Counters.Duplicados, fin.Counters.DownloadsOK, fin.Counters.DownloadsFalha,
		jsonbArg(fin.Quality), jsonbArg(fin.FinOps))
	if err != nil {
		return fmt.Errorf("store: finish run %s: %w", fin.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: finish run %s: no such run", fin.RunID)
	}
	return nil
}

const insertEventSQL = `
INSERT INTO pipeline_events (run_id, etapa, evento, nivel, mensagem, dados, duracao_ms, contagem, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`

// InsertEvents writes a buffered batch of pipeline events in one
// round-trip.
func (p *Postgres) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventSQL, eventArgs(e)...)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: insert events: %w", err)
		}
	}
	return nil
}

// RecentRuns returns the newest executions for the history report, most
// recent first.
func (p *Postgres) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT run_id, status, mode, execution_start, execution_end,
		        editais_encontrados, editais_novos, editais_skip_existe,
		        editais_duplicados, downloads_ok, downloads_falha,
		        COALESCE((finops->>'cost_total')::DOUBLE PRECISION, 0)
		 FROM run_executions
		 ORDER BY execution_start DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		err := rows.Scan(&s.RunID, &s.Status, &s.Mode, &s.Start, &s.End,
			&s.Encontrados, &s.Novos, &s.SkipExiste, &s.Duplicados,
			&s.DownloadsOK, &s.DownloadsFalha, &s.CostTotal)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return out, nil
}

// guardCapacity is the safety brake: reads the primary row count before
// a record write and fails closed past the ceiling.
func (p *Postgres) guardCapacity(ctx context.Context) error {
	n, err := p.CountLeiloes(ctx)
	if err != nil {
		return err
	}
	if n > p.maxRows {
		return capacityError(n, p.maxRows)
	}
	return nil
}

func capacityError(rows, limit int) error {
	return fmt.Errorf("store: leiloes holds %d rows, limit %d: %w", rows, limit, ErrCapacityExceeded)
}

// leilaoArgs maps a record onto the upsertLeilaoSQL placeholders, in
// column order. Optional text fields become NULL when empty.
func leilaoArgs(rec *record.AuctionRecord) []any {
	return []any{
		rec.IDInterno,
		rec.SourceExternalID,
		rec.SourceName,
		rec.Municipio,
		rec.UF,
		rec.IBGECode,
		rec.Lat,
		rec.Lon,
		rec.DataPublicacao,
		rec.DataAtualizacao,
		rec.DataLeilao,
		rec.Titulo,
		rec.Descricao,
		rec.Orgao,
		nullable(rec.NEdital),
		rec.ObjetoResumido,
		rec.Tags,
		rec.ValorEstimado,
		rec.QuantidadeItens,
		nullable(rec.TipoLeilao),
		nullable(rec.Modalidade),
		nullable(rec.NomeLeiloeiro),
		rec.PNCPURL,
		nullable(rec.SourceURL),
		nullable(rec.LeiloeiroURL),
		nullable(rec.StoragePath),
		nullable(rec.PDFHash),
		rec.VersaoAuditor,
	}
}

func eventArgs(e Event) []any {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return []any{
		e.RunID,
		string(e.Etapa),
		e.Evento,
		string(e.Nivel),
		e.Mensagem,
		jsonbArg(e.Dados),
		optional(e.DuracaoMS),
		optional(e.Contagem),
		at,
	}
}

// nullable stores empty strings as NULL so optional text columns hold
// real NULLs.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonbArg passes raw JSON through as text for a ::jsonb cast, or NULL
// when empty.
func jsonbArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// optional stores zero-valued counters and timings as NULL.
func optional[T int | int64](n T) any {
	if n == 0 {
		return nil
	}
	return n
}
