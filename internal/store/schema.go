package store

// schema is the canonical DDL for the auction datastore. Every statement
// is idempotent (IF NOT EXISTS) so Migrate can run on every start; Supabase
// keeps the data, this file keeps the shape.
//
// Column conventions mirror the record contract: dates are DD-MM-YYYY
// strings, datetimes are timestamptz, nullable columns hold NULL rather
// than empty strings.
const schema = `
-- Primary table: every row here passed validation as VALID. Records with
-- any other status live exclusively in quarentena.
CREATE TABLE IF NOT EXISTS leiloes (
    id_interno          TEXT PRIMARY KEY,
    source_external_id  TEXT NOT NULL,
    source_name         TEXT NOT NULL CHECK (source_name IN ('pncp', 'leiloeiro')),

    municipio           TEXT NOT NULL,
    uf                  CHAR(2) NOT NULL,
    ibge_code           INTEGER,
    lat                 DOUBLE PRECISION,
    lon                 DOUBLE PRECISION,

    data_publicacao     TEXT NOT NULL CHECK (data_publicacao ~ '^\d{2}-\d{2}-\d{4}$'),
    data_atualizacao    TEXT NOT NULL CHECK (data_atualizacao ~ '^\d{2}-\d{2}-\d{4}$'),
    data_leilao         TEXT NOT NULL CHECK (data_leilao ~ '^\d{2}-\d{2}-\d{4}$'),

    titulo              TEXT NOT NULL,
    descricao           TEXT NOT NULL CHECK (length(descricao) <= 500),
    orgao               TEXT NOT NULL,
    n_edital            TEXT,
    objeto_resumido     TEXT NOT NULL,
    tags                TEXT[] NOT NULL CHECK (cardinality(tags) > 0),

    valor_estimado      NUMERIC NOT NULL CHECK (valor_estimado > 0),
    quantidade_itens    INTEGER CHECK (quantidade_itens > 0),
    tipo_leilao         TEXT CHECK (tipo_leilao IN ('ELETRONICO', 'PRESENCIAL', 'HIBRIDO')),
    modalidade          TEXT,
    nome_leiloeiro      TEXT,

    pncp_url            TEXT NOT NULL CHECK (pncp_url ~ '^https?://'),
    source_url          TEXT,
    leiloeiro_url       TEXT,

    storage_path        TEXT,
    pdf_hash            TEXT,
    versao_auditor      TEXT NOT NULL,

    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),

    UNIQUE (source_name, source_external_id)
);

CREATE INDEX IF NOT EXISTS idx_leiloes_uf ON leiloes (uf);
CREATE INDEX IF NOT EXISTS idx_leiloes_data_leilao ON leiloes (data_leilao);

-- Quarantine: one row per rejected record per run. The same id_interno may
-- be quarantined again on a later run; within a run it upserts.
CREATE TABLE IF NOT EXISTS quarentena (
    run_id            TEXT NOT NULL,
    id_interno        TEXT NOT NULL,
    status            TEXT NOT NULL CHECK (status IN ('DRAFT', 'NOT_SELLABLE', 'REJECTED')),
    errors            JSONB NOT NULL DEFAULT '[]'::jsonb,
    raw_record        JSONB,
    normalized_record JSONB,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),

    PRIMARY KEY (run_id, id_interno)
);

CREATE INDEX IF NOT EXISTS idx_quarentena_status ON quarentena (status);

-- One row per pipeline execution; inserted RUNNING at start, updated with
-- counters, quality report and FinOps numbers at finish.
CREATE TABLE IF NOT EXISTS run_executions (
    run_id               TEXT PRIMARY KEY,
    execution_start      TIMESTAMPTZ NOT NULL,
    execution_end        TIMESTAMPTZ,
    status               TEXT NOT NULL CHECK (status IN ('RUNNING', 'SUCCESS', 'FAILED')),
    mode                 TEXT NOT NULL CHECK (mode IN ('INCREMENTAL', 'FULL')),
    reason               TEXT,
    versao_miner         TEXT NOT NULL,
    config               JSONB,

    editais_encontrados  INTEGER NOT NULL DEFAULT 0,
    editais_novos        INTEGER NOT NULL DEFAULT 0,
    editais_skip_existe  INTEGER NOT NULL DEFAULT 0,
    editais_duplicados   INTEGER NOT NULL DEFAULT 0,
    downloads_ok         INTEGER NOT NULL DEFAULT 0,
    downloads_falha      INTEGER NOT NULL DEFAULT 0,

    quality_report       JSONB,
    finops               JSONB
);

CREATE INDEX IF NOT EXISTS idx_run_executions_start ON run_executions (execution_start DESC);

-- Free-form audit log, batch-inserted by the run tracker.
CREATE TABLE IF NOT EXISTS pipeline_events (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    run_id      TEXT NOT NULL,
    etapa       TEXT NOT NULL CHECK (etapa IN (
                    'inicio', 'busca', 'coleta', 'pdf_download', 'pdf_parse',
                    'extract', 'enrich', 'validate', 'upsert', 'quarantine', 'fim')),
    evento      TEXT NOT NULL,
    nivel       TEXT NOT NULL CHECK (nivel IN ('debug', 'info', 'warning', 'error')),
    mensagem    TEXT NOT NULL,
    dados       JSONB,
    duracao_ms  BIGINT,
    contagem    INTEGER,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipeline_events_run ON pipeline_events (run_id, created_at);
`
