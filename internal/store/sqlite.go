package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mendel-data/mendel-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single connection serializes write transactions, so a confirm never
	// sees SQLITE_BUSY mid-transaction. The unique index still backstops it.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id                   TEXT PRIMARY KEY,
	started_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at          DATETIME,
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
	is_latest     BOOLEAN NOT NULL DEFAULT 0,
	completeness  REAL NOT NULL DEFAULT 0,
	missing_count INTEGER NOT NULL DEFAULT 0,
	source_files  TEXT NOT NULL DEFAULT '[]',
	payload       TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_golden_records_lineage_version ON golden_records(lineage, version);
CREATE INDEX IF NOT EXISTS idx_golden_records_run_id ON golden_records(run_id);
CREATE INDEX IF NOT EXISTS idx_golden_records_lineage ON golden_records(lineage);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_started_at ON extraction_runs(started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StartRun(ctx context.Context, pdfCount int) (*model.ExtractionRun, error) {
	run := &model.ExtractionRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    model.RunStatusRunning,
		PDFCount:  pdfCount,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_runs (id, started_at, status, pdf_count, golden_records_count, error_message) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, string(run.Status), run.PDFCount, 0, "",
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, goldenCount int, errMsg string) error {
	if !status.Terminal() {
		return eris.Wrapf(ErrValidation, "finish run with non-terminal status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_runs SET finished_at = ?, status = ?, golden_records_count = ?, error_message = ?
		 WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), string(status), goldenCount, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, getErr := s.GetRun(ctx, runID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrConflict, "run %s already finished", runID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.ExtractionRun, error) {
	var r model.ExtractionRun
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message FROM extraction_runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.PDFCount, &r.GoldenRecordsCount, &r.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, page, pageSize int) ([]model.ExtractionRun, int, error) {
	page, pageSize = normalizePage(page, pageSize, 20)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_runs`).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count runs")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message
		 FROM extraction_runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ExtractionRun
	for rows.Next() {
		var r model.ExtractionRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.PDFCount, &r.GoldenRecordsCount, &r.ErrorMessage); err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, total, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Confirm assigns the next version optimistically: the transaction reads
// max(version), inserts max+1 and relies on the unique (lineage, version)
// index to reject a racing writer, which surfaces as ErrConflict.
func (s *SQLiteStore) Confirm(ctx context.Context, runID string, key model.LineageKey, draft *model.ExtractionRecord, sourceFiles []string) (*model.GoldenRecord, error) {
	if err := ValidateDraft(draft); err != nil {
		return nil, err
	}
	rec := buildRecord(runID, key, draft, sourceFiles)
	lineage := key.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin confirm")
	}
	defer tx.Rollback() //nolint:errcheck

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM golden_records WHERE lineage = ?`, lineage).Scan(&maxVersion); err != nil {
		return nil, eris.Wrapf(err, "sqlite: max version for %s", lineage)
	}
	rec.Version = maxVersion + 1
	rec.IsLatest = true

	if _, err := tx.ExecContext(ctx, `UPDATE golden_records SET is_latest = 0 WHERE lineage = ? AND is_latest = 1`, lineage); err != nil {
		return nil, eris.Wrapf(err, "sqlite: retire latest for %s", lineage)
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal payload")
	}
	filesJSON, err := json.Marshal(rec.SourceFiles)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal source files")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO golden_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, lineage, rec.ProductName, rec.Brand, string(rec.Region), string(rec.DocumentType),
		rec.DocLanguage, rec.RevisionDate, rec.Version, rec.IsLatest, rec.Completeness, rec.MissingCount,
		string(filesJSON), string(payloadJSON), rec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, eris.Wrapf(ErrConflict, "lineage %s version %d taken", lineage, rec.Version)
		}
		return nil, eris.Wrapf(err, "sqlite: insert record for %s", lineage)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit confirm for %s", lineage)
	}
	return rec, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.GoldenRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM golden_records WHERE id = ?`, id)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "record %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, key model.LineageKey) (*model.GoldenRecord, error) {
	lineage := key.String()
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM golden_records WHERE lineage = ? AND is_latest = 1`, lineage)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "no record for lineage %s", lineage)
		}
		return nil, eris.Wrapf(err, "sqlite: get latest for %s", lineage)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.GoldenRecordSummary, int, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize, 50)

	where := ` WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		where += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.LatestOnly {
		where += ` AND is_latest = 1`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM golden_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count records")
	}

	query := `SELECT ` + summaryColumns + ` FROM golden_records` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var summaries []model.GoldenRecordSummary
	for rows.Next() {
		sum, err := scanSQLiteSummary(rows)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, *sum)
	}
	return summaries, total, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) ListVersions(ctx context.Context, recordID string) ([]model.GoldenRecordSummary, error) {
	var lineage string
	err := s.db.QueryRowContext(ctx, `SELECT lineage FROM golden_records WHERE id = ?`, recordID).Scan(&lineage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "record %s", recordID)
		}
		return nil, eris.Wrapf(err, "sqlite: get lineage of %s", recordID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM golden_records WHERE lineage = ? ORDER BY version DESC`,
		lineage,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list versions for %s", lineage)
	}
	defer rows.Close()

	var history []model.GoldenRecordSummary
	for rows.Next() {
		sum, err := scanSQLiteSummary(rows)
		if err != nil {
			return nil, err
		}
		sum.Current = sum.ID == recordID
		history = append(history, *sum)
	}
	return history, eris.Wrap(rows.Err(), "sqlite: list versions iterate")
}

// scanners

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row scannable) (*model.GoldenRecord, error) {
	var rec model.GoldenRecord
	var lineage, filesJSON, payloadJSON string

	err := row.Scan(&rec.ID, &rec.RunID, &lineage, &rec.ProductName, &rec.Brand, &rec.Region, &rec.DocumentType,
		&rec.DocLanguage, &rec.RevisionDate, &rec.Version, &rec.IsLatest, &rec.Completeness, &rec.MissingCount,
		&filesJSON, &payloadJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filesJSON), &rec.SourceFiles); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal source files")
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal payload")
	}
	return &rec, nil
}

func scanSQLiteSummary(row scannable) (*model.GoldenRecordSummary, error) {
	var sum model.GoldenRecordSummary
	var filesJSON string

	err := row.Scan(&sum.ID, &sum.RunID, &sum.ProductName, &sum.Brand, &sum.Region, &sum.DocumentType,
		&sum.DocLanguage, &sum.RevisionDate, &sum.Version, &sum.IsLatest, &sum.Completeness, &sum.MissingCount,
		&filesJSON, &sum.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record summary")
	}
	if err := json.Unmarshal([]byte(filesJSON), &sum.SourceFiles); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal source files")
	}
	return &sum, nil
}
