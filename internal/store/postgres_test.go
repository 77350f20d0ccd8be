package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendel-data/mendel-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock matches argument counts
// strictly, so expectations that don't care about values still need one
// matcher per argument.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message FROM extraction_runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_AlreadyTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	fin := time.Now().UTC()
	mock.ExpectExec(`UPDATE extraction_runs SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT id, started_at, finished_at, status, pdf_count, golden_records_count, error_message FROM extraction_runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "started_at", "finished_at", "status", "pdf_count", "golden_records_count", "error_message"}).
			AddRow("run-1", fin.Add(-time.Minute), &fin, model.RunStatusCompleted, 3, 3, ""))

	err := s.FinishRun(context.Background(), "run-1", model.RunStatusFailed, 0, "late failure")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Confirm_AssignsNextVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	key := testKey("BELSIL DM 0.65")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(key.Hash()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM golden_records WHERE lineage = \$1`).
		WithArgs(key.String()).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectExec(`UPDATE golden_records SET is_latest = FALSE WHERE lineage = \$1 AND is_latest`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO golden_records`).
		WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, err := s.Confirm(context.Background(), "run-1", key, testDraft("BELSIL DM 0.65"), []string{"belsil.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Version)
	assert.True(t, rec.IsLatest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Confirm_UniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	key := testKey("BELSIL DM 0.65")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(key.Hash()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM golden_records WHERE lineage = \$1`).
		WithArgs(key.String()).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectExec(`UPDATE golden_records SET is_latest = FALSE WHERE lineage = \$1 AND is_latest`).
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`INSERT INTO golden_records`).
		WithArgs(anyArgs(16)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_golden_records_lineage_version"})
	mock.ExpectRollback()

	_, err := s.Confirm(context.Background(), "run-1", key, testDraft("BELSIL DM 0.65"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Confirm_RejectsInvalidDraft(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Validation fails before any SQL runs.
	_, err := s.Confirm(context.Background(), "run-1", testKey("X"), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	key := testKey("NEVER CONFIRMED")

	mock.ExpectQuery(`SELECT .* FROM golden_records WHERE lineage = \$1 AND is_latest`).
		WithArgs(key.String()).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLatest(context.Background(), key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_StablePageOrder(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Now().UTC()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM extraction_runs`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	// Equal start timestamps must not reshuffle across pages: the id
	// tiebreaker is part of the query.
	mock.ExpectQuery(`ORDER BY started_at DESC, id LIMIT \$1 OFFSET \$2`).
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "started_at", "finished_at", "status", "pdf_count", "golden_records_count", "error_message"}).
			AddRow("run-a", started, nil, model.RunStatusRunning, 2, 0, "").
			AddRow("run-b", started, nil, model.RunStatusRunning, 1, 0, ""))

	runs, total, err := s.ListRuns(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
