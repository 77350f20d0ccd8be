package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mendel-data/mendel-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":  `INSERT INTO extraction_runs (id, started_at, status, pdf_count, golden_records_count, error_message) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_run":     `SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message FROM extraction_runs WHERE id = $1`,
	"max_version": `SELECT COALESCE(MAX(version), 0) FROM golden_records WHERE lineage = $1`,
	"flip_latest": `UPDATE golden_records SET is_latest = FALSE WHERE lineage = $1 AND is_latest`,
	"get_latest":  `SELECT ` + recordColumns + ` FROM golden_records WHERE lineage = $1 AND is_latest`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const recordColumns = `id, run_id, lineage, product_name, brand, region, document_type, doc_language, revision_date, version, is_latest, completeness, missing_count, source_files, payload, created_at`

const summaryColumns = `id, run_id, product_name, brand, region, document_type, doc_language, revision_date, version, is_latest, completeness, missing_count, source_files, created_at`

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id                   TEXT PRIMARY KEY,
	started_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at          TIMESTAMPTZ,
	status               TEXT NOT NULL DEFAULT 'running',
	pdf_count            INTEGER NOT NULL DEFAULT 0,
	golden_records_count INTEGER NOT NULL DEFAULT 0,
	error_message        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS golden_records (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES extraction_runs(id),
	lineage       TEXT NOT NULL,
	product_name  TEXT NOT NULL,
	brand         TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL,
	document_type TEXT NOT NULL,
	doc_language  TEXT NOT NULL DEFAULT '',
	revision_date TEXT NOT NULL DEFAULT '',
	version       INTEGER NOT NULL,
	is_latest     BOOLEAN NOT NULL DEFAULT FALSE,
	completeness  DOUBLE PRECISION NOT NULL DEFAULT 0,
	missing_count INTEGER NOT NULL DEFAULT 0,
	source_files  JSONB NOT NULL DEFAULT '[]',
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_golden_records_lineage_version ON golden_records(lineage, version);
CREATE INDEX IF NOT EXISTS idx_golden_records_run_id ON golden_records(run_id);
CREATE INDEX IF NOT EXISTS idx_golden_records_lineage ON golden_records(lineage);
CREATE INDEX IF NOT EXISTS idx_golden_records_latest ON golden_records(lineage) WHERE is_latest;
CREATE INDEX IF NOT EXISTS idx_extraction_runs_started_at ON extraction_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, pdfCount int) (*model.ExtractionRun, error) {
	run := &model.ExtractionRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    model.RunStatusRunning,
		PDFCount:  pdfCount,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_runs (id, started_at, status, pdf_count, golden_records_count, error_message) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.StartedAt, string(run.Status), run.PDFCount, 0, "",
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// FinishRun moves a run to a terminal status. Terminal runs are immutable:
// a second finish returns ErrConflict.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, goldenCount int, errMsg string) error {
	if !status.Terminal() {
		return eris.Wrapf(ErrValidation, "finish run with non-terminal status %q", status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_runs SET finished_at = $1, status = $2, golden_records_count = $3, error_message = $4
		 WHERE id = $5 AND status = 'running'`,
		time.Now().UTC(), string(status), goldenCount, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRun(ctx, runID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrConflict, "run %s already finished", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.ExtractionRun, error) {
	var r model.ExtractionRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message FROM extraction_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.PDFCount, &r.GoldenRecordsCount, &r.ErrorMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, page, pageSize int) ([]model.ExtractionRun, int, error) {
	page, pageSize = normalizePage(page, pageSize, 20)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM extraction_runs`).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count runs")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message
		 FROM extraction_runs ORDER BY started_at DESC, id LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ExtractionRun
	for rows.Next() {
		var r model.ExtractionRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.PDFCount, &r.GoldenRecordsCount, &r.ErrorMessage); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, total, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Confirm creates the next version of the lineage inside a transaction.
// A per-lineage advisory lock serializes concurrent confirms of the same
// product; distinct lineages proceed in parallel. The unique
// (lineage, version) index backstops the lock: a violation surfaces as
// ErrConflict and the caller may retry.
func (s *PostgresStore) Confirm(ctx context.Context, runID string, key model.LineageKey, draft *model.ExtractionRecord, sourceFiles []string) (*model.GoldenRecord, error) {
	if err := ValidateDraft(draft); err != nil {
		return nil, err
	}
	rec := buildRecord(runID, key, draft, sourceFiles)
	lineage := key.String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin confirm")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key.Hash()); err != nil {
		return nil, eris.Wrapf(err, "postgres: lock lineage %s", lineage)
	}

	var maxVersion int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM golden_records WHERE lineage = $1`, lineage).Scan(&maxVersion); err != nil {
		return nil, eris.Wrapf(err, "postgres: max version for %s", lineage)
	}
	rec.Version = maxVersion + 1
	rec.IsLatest = true

	if _, err := tx.Exec(ctx, `UPDATE golden_records SET is_latest = FALSE WHERE lineage = $1 AND is_latest`, lineage); err != nil {
		return nil, eris.Wrapf(err, "postgres: retire latest for %s", lineage)
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal payload")
	}
	filesJSON, err := json.Marshal(rec.SourceFiles)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal source files")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO golden_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.RunID, lineage, rec.ProductName, rec.Brand, string(rec.Region), string(rec.DocumentType),
		rec.DocLanguage, rec.RevisionDate, rec.Version, rec.IsLatest, rec.Completeness, rec.MissingCount,
		filesJSON, payloadJSON, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, eris.Wrapf(ErrConflict, "lineage %s version %d taken", lineage, rec.Version)
		}
		return nil, eris.Wrapf(err, "postgres: insert record for %s", lineage)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit confirm for %s", lineage)
	}
	return rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.GoldenRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM golden_records WHERE id = $1`, id)
	rec, err := scanPgRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "record %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, key model.LineageKey) (*model.GoldenRecord, error) {
	lineage := key.String()
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM golden_records WHERE lineage = $1 AND is_latest`, lineage)
	rec, err := scanPgRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "no record for lineage %s", lineage)
		}
		return nil, eris.Wrapf(err, "postgres: get latest for %s", lineage)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.GoldenRecordSummary, int, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize, 50)

	where := ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		where += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.LatestOnly {
		where += ` AND is_latest`
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM golden_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count records")
	}

	query := `SELECT ` + summaryColumns + ` FROM golden_records` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var summaries []model.GoldenRecordSummary
	for rows.Next() {
		sum, err := scanPgSummary(rows)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, *sum)
	}
	return summaries, total, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// ListVersions returns the full version history of the record's lineage,
// newest first, with Current marking the queried record.
func (s *PostgresStore) ListVersions(ctx context.Context, recordID string) ([]model.GoldenRecordSummary, error) {
	var lineage string
	err := s.pool.QueryRow(ctx, `SELECT lineage FROM golden_records WHERE id = $1`, recordID).Scan(&lineage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "record %s", recordID)
		}
		return nil, eris.Wrapf(err, "postgres: get lineage of %s", recordID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM golden_records WHERE lineage = $1 ORDER BY version DESC`,
		lineage,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list versions for %s", lineage)
	}
	defer rows.Close()

	var history []model.GoldenRecordSummary
	for rows.Next() {
		sum, err := scanPgSummary(rows)
		if err != nil {
			return nil, err
		}
		sum.Current = sum.ID == recordID
		history = append(history, *sum)
	}
	return history, eris.Wrap(rows.Err(), "postgres: list versions iterate")
}

// scanners

func scanPgRecord(row pgx.Row) (*model.GoldenRecord, error) {
	var rec model.GoldenRecord
	var lineage string
	var filesJSON, payloadJSON []byte

	err := row.Scan(&rec.ID, &rec.RunID, &lineage, &rec.ProductName, &rec.Brand, &rec.Region, &rec.DocumentType,
		&rec.DocLanguage, &rec.RevisionDate, &rec.Version, &rec.IsLatest, &rec.Completeness, &rec.MissingCount,
		&filesJSON, &payloadJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filesJSON, &rec.SourceFiles); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal source files")
	}
	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal payload")
	}
	return &rec, nil
}

func scanPgSummary(row pgx.Row) (*model.GoldenRecordSummary, error) {
	var sum model.GoldenRecordSummary
	var filesJSON []byte

	err := row.Scan(&sum.ID, &sum.RunID, &sum.ProductName, &sum.Brand, &sum.Region, &sum.DocumentType,
		&sum.DocLanguage, &sum.RevisionDate, &sum.Version, &sum.IsLatest, &sum.Completeness, &sum.MissingCount,
		&filesJSON, &sum.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record summary")
	}
	if err := json.Unmarshal(filesJSON, &sum.SourceFiles); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal source files")
	}
	return &sum, nil
}
