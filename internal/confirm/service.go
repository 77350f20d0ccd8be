// Package confirm turns draft extraction results into versioned golden
// records under a run, with per-file failure isolation.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mendel-data/mendel-cli/internal/model"
	"github.com/mendel-data/mendel-cli/internal/store"
)

// conflictRetries bounds how often a single confirm is retried after
// losing a version race.
const conflictRetries = 3

// Config tunes batch confirmation.
type Config struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// Service confirms drafts into golden records.
type Service struct {
	store         store.Store
	maxConcurrent int
}

// NewService creates a confirm service on top of the given store.
func NewService(st store.Store, cfg Config) *Service {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &Service{store: st, maxConcurrent: maxConcurrent}
}

// FileResult is the per-file outcome of a batch confirmation.
type FileResult struct {
	Filename     string             `json:"filename"`
	Success      bool               `json:"success"`
	Skipped      bool               `json:"skipped,omitempty"`
	Error        string             `json:"error,omitempty"`
	RecordID     string             `json:"record_id,omitempty"`
	ProductName  string             `json:"product_name,omitempty"`
	Region       model.Region       `json:"region,omitempty"`
	DocumentType model.DocumentType `json:"document_type,omitempty"`
	Version      int                `json:"version,omitempty"`
}

// BatchResult summarizes one confirmed batch. Confirmed travels on the
// wire as golden_records_created.
type BatchResult struct {
	RunID     string          `json:"run_id"`
	Status    model.RunStatus `json:"status"`
	Confirmed int             `json:"golden_records_created"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Results   []FileResult    `json:"results"`
}

// ConfirmBatch opens a run, confirms every successful draft and closes the
// run. One bad file never aborts the batch; a batch where no draft becomes
// a golden record finishes the run as failed and reports a validation error.
// When several drafts in one batch resolve to the same lineage, the first
// wins and the rest are skipped.
func (s *Service) ConfirmBatch(ctx context.Context, drafts []model.DraftResult) (*BatchResult, error) {
	if len(drafts) == 0 {
		return nil, eris.Wrap(store.ErrValidation, "batch contains no drafts")
	}

	run, err := s.store.StartRun(ctx, len(drafts))
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("confirming batch",
		zap.Int("drafts", len(drafts)),
		zap.Int("concurrency", s.maxConcurrent),
	)

	var (
		mu      sync.Mutex
		claimed = map[string]string{} // lineage -> filename that won it
	)
	claim := func(lineage, filename string) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		if winner, ok := claimed[lineage]; ok {
			return winner, false
		}
		claimed[lineage] = filename
		return filename, true
	}
	// A winner whose confirm ultimately fails frees the lineage so a
	// later draft in the batch can still produce the record.
	release := func(lineage, filename string) {
		mu.Lock()
		defer mu.Unlock()
		if claimed[lineage] == filename {
			delete(claimed, lineage)
		}
	}

	results := make([]FileResult, len(drafts))
	var confirmed, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for i, draft := range drafts {
		g.Go(func() error {
			res := s.confirmOne(gctx, run.ID, draft, claim, release, log)
			switch {
			case res.Success:
				confirmed.Add(1)
			case res.Skipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			results[i] = res
			return nil // one bad file never aborts the batch
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &BatchResult{
		RunID:     run.ID,
		Confirmed: int(confirmed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Results:   results,
	}

	if batch.Confirmed == 0 {
		batch.Status = model.RunStatusFailed
		msg := fmt.Sprintf("no golden records confirmed from %d drafts", len(drafts))
		if err := s.store.FinishRun(ctx, run.ID, model.RunStatusFailed, 0, msg); err != nil {
			return nil, err
		}
		log.Warn("batch produced no golden records", zap.Int("failed", batch.Failed))
		return batch, eris.Wrap(store.ErrValidation, msg)
	}

	batch.Status = model.RunStatusCompleted
	if err := s.store.FinishRun(ctx, run.ID, model.RunStatusCompleted, batch.Confirmed, ""); err != nil {
		return nil, err
	}
	log.Info("batch confirmed",
		zap.Int("confirmed", batch.Confirmed),
		zap.Int("failed", batch.Failed),
		zap.Int("skipped", batch.Skipped),
	)
	return batch, nil
}

func (s *Service) confirmOne(ctx context.Context, runID string, draft model.DraftResult, claim func(lineage, filename string) (string, bool), release func(lineage, filename string), log *zap.Logger) FileResult {
	res := FileResult{Filename: draft.Filename}

	if !draft.Success {
		res.Error = draft.Error
		if res.Error == "" {
			res.Error = "extraction failed"
		}
		return res
	}
	if err := store.ValidateDraft(draft.Record); err != nil {
		res.Error = err.Error()
		return res
	}

	key := model.LineageKey{
		ProductName:  draft.Record.Identity.ProductName,
		Region:       model.ResolveRegion(draft.Record),
		DocumentType: draft.Record.DocumentInfo.DocumentType,
	}
	res.ProductName = key.ProductName
	res.Region = key.Region
	res.DocumentType = key.DocumentType

	if winner, ok := claim(key.String(), draft.Filename); !ok {
		res.Skipped = true
		res.Error = fmt.Sprintf("same product as %s in this batch", winner)
		return res
	}

	rec, err := s.confirmWithRetry(ctx, runID, key, draft)
	if err != nil {
		release(key.String(), draft.Filename)
		res.Error = err.Error()
		log.Error("confirm failed",
			zap.String("file", draft.Filename),
			zap.String("lineage", key.Label()),
			zap.Error(err),
		)
		return res
	}

	res.Success = true
	res.RecordID = rec.ID
	res.Version = rec.Version
	log.Info("golden record confirmed",
		zap.String("file", draft.Filename),
		zap.String("lineage", key.Label()),
		zap.Int("version", rec.Version),
	)
	return res
}

func (s *Service) confirmWithRetry(ctx context.Context, runID string, key model.LineageKey, draft model.DraftResult) (*model.GoldenRecord, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		rec, err := s.store.Confirm(ctx, runID, key, draft.Record, []string{draft.Filename})
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// SortResults orders file results by filename for stable CLI output.
func SortResults(results []FileResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Filename < results[j].Filename
	})
}
