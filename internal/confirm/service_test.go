package confirm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendel-data/mendel-cli/internal/model"
	"github.com/mendel-data/mendel-cli/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return NewService(st, Config{MaxConcurrent: 2}), st
}

func goodDraft(filename, productName string) model.DraftResult {
	return model.DraftResult{
		Filename: filename,
		Success:  true,
		Record: &model.ExtractionRecord{
			SchemaVersion: model.SchemaVersion,
			DocumentInfo: model.DocumentInfo{
				DocumentType: model.DocTypeTDS,
				Language:     "en",
				Brand:        "WACKER",
			},
			Identity: model.IdentityData{ProductName: productName},
		},
	}
}

func TestConfirmBatch_AllSucceed(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	batch, err := svc.ConfirmBatch(ctx, []model.DraftResult{
		goodDraft("a.pdf", "BELSIL DM 0.65"),
		goodDraft("b.pdf", "ELASTOSIL E43"),
		goodDraft("c.pdf", "SILRES BS 16"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Confirmed)
	assert.Zero(t, batch.Failed)
	assert.Zero(t, batch.Skipped)
	assert.Equal(t, model.RunStatusCompleted, batch.Status)

	run, err := st.GetRun(ctx, batch.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.PDFCount)
	assert.Equal(t, 3, run.GoldenRecordsCount)

	for _, res := range batch.Results {
		assert.True(t, res.Success, res.Filename)
		assert.NotEmpty(t, res.RecordID)
		assert.Equal(t, 1, res.Version)
	}
}

func TestConfirmBatch_FailureIsolation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	noName := goodDraft("noname.pdf", "")

	batch, err := svc.ConfirmBatch(ctx, []model.DraftResult{
		goodDraft("good.pdf", "BELSIL DM 0.65"),
		{Filename: "corrupt.pdf", Success: false, Error: "pdf parse error: damaged xref"},
		noName,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Confirmed)
	assert.Equal(t, 2, batch.Failed)
	assert.Equal(t, model.RunStatusCompleted, batch.Status)

	byFile := map[string]FileResult{}
	for _, res := range batch.Results {
		byFile[res.Filename] = res
	}
	assert.True(t, byFile["good.pdf"].Success)
	assert.Contains(t, byFile["corrupt.pdf"].Error, "pdf parse error")
	assert.Contains(t, byFile["noname.pdf"].Error, "product name")

	run, err := st.GetRun(ctx, batch.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.GoldenRecordsCount)
}

func TestConfirmBatch_AllFailedMarksRunFailed(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	batch, err := svc.ConfirmBatch(ctx, []model.DraftResult{
		{Filename: "a.pdf", Success: false, Error: "ocr timeout"},
		{Filename: "b.pdf", Success: false},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrValidation))
	require.NotNil(t, batch)
	assert.Equal(t, model.RunStatusFailed, batch.Status)
	assert.Zero(t, batch.Confirmed)

	run, err := st.GetRun(ctx, batch.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "no golden records")
}

func TestConfirmBatch_EmptyBatch(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ConfirmBatch(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrValidation))
}

func TestConfirmBatch_DuplicateLineageFirstWins(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	batch, err := svc.ConfirmBatch(ctx, []model.DraftResult{
		goodDraft("first.pdf", "BELSIL DM 0.65"),
		goodDraft("second.pdf", "belsil dm 0.65"), // same lineage, different casing
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Confirmed)
	assert.Equal(t, 1, batch.Skipped)

	var skippedRes FileResult
	for _, res := range batch.Results {
		if res.Skipped {
			skippedRes = res
		}
	}
	assert.Contains(t, skippedRes.Error, "same product as")

	// The lineage carries exactly one version after the batch.
	key := model.LineageKey{ProductName: "BELSIL DM 0.65", Region: model.RegionGlobal, DocumentType: model.DocTypeTDS}
	latest, err := st.GetLatest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestConfirmBatch_SecondBatchBumpsVersion(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.ConfirmBatch(ctx, []model.DraftResult{goodDraft("v1.pdf", "BELSIL DM 0.65")})
	require.NoError(t, err)
	batch2, err := svc.ConfirmBatch(ctx, []model.DraftResult{goodDraft("v2.pdf", "BELSIL DM 0.65")})
	require.NoError(t, err)

	require.Len(t, batch2.Results, 1)
	assert.Equal(t, 2, batch2.Results[0].Version)

	key := model.LineageKey{ProductName: "BELSIL DM 0.65", Region: model.RegionGlobal, DocumentType: model.DocTypeTDS}
	latest, err := st.GetLatest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, []string{"v2.pdf"}, latest.SourceFiles)
}

func TestSortResults(t *testing.T) {
	results := []FileResult{{Filename: "c.pdf"}, {Filename: "a.pdf"}, {Filename: "b.pdf"}}
	SortResults(results)
	assert.Equal(t, "a.pdf", results[0].Filename)
	assert.Equal(t, "c.pdf", results[2].Filename)
}

// failFirstStore fails the first N Confirm calls and then delegates.
type failFirstStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (s *failFirstStore) Confirm(ctx context.Context, runID string, key model.LineageKey, draft *model.ExtractionRecord, sourceFiles []string) (*model.GoldenRecord, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, eris.New("simulated storage outage")
	}
	return s.Store.Confirm(ctx, runID, key, draft, sourceFiles)
}

func TestConfirmBatch_FailedWinnerReleasesLineage(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	flaky := &failFirstStore{Store: st, failures: 1}
	// Concurrency 1 keeps batch order deterministic: the first draft claims
	// the lineage and fails, the second must still get its turn.
	svc := NewService(flaky, Config{MaxConcurrent: 1})

	batch, err := svc.ConfirmBatch(context.Background(), []model.DraftResult{
		goodDraft("first.pdf", "BELSIL DM 0.65"),
		goodDraft("second.pdf", "belsil dm 0.65"), // same lineage
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Confirmed)
	assert.Equal(t, 1, batch.Failed)
	assert.Zero(t, batch.Skipped)

	byFile := map[string]FileResult{}
	for _, res := range batch.Results {
		byFile[res.Filename] = res
	}
	assert.Contains(t, byFile["first.pdf"].Error, "storage outage")
	assert.True(t, byFile["second.pdf"].Success)

	key := model.LineageKey{ProductName: "BELSIL DM 0.65", Region: model.RegionGlobal, DocumentType: model.DocTypeTDS}
	latest, err := st.GetLatest(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, []string{"second.pdf"}, latest.SourceFiles)
}
