// Package store persists extraction runs and versioned golden records.
// Two implementations share one contract: Postgres for deployments and
// SQLite for local single-user use. Version assignment is atomic per
// lineage in both.
package store

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/mendel-data/mendel-cli/internal/model"
)

// RecordFilter specifies criteria for listing golden records.
type RecordFilter struct {
	RunID      string `json:"run_id,omitempty"`
	LatestOnly bool   `json:"latest_only,omitempty"`
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
}

// Store defines the persistence interface for runs and golden records.
// List operations return the page plus the unfiltered-by-paging total.
type Store interface {
	// Runs
	StartRun(ctx context.Context, pdfCount int) (*model.ExtractionRun, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, goldenCount int, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.ExtractionRun, error)
	ListRuns(ctx context.Context, page, pageSize int) ([]model.ExtractionRun, int, error)

	// Golden records. Confirm assigns the next version for the lineage
	// and moves the latest flag in one atomic step.
	Confirm(ctx context.Context, runID string, key model.LineageKey, draft *model.ExtractionRecord, sourceFiles []string) (*model.GoldenRecord, error)
	GetRecord(ctx context.Context, id string) (*model.GoldenRecord, error)
	GetLatest(ctx context.Context, key model.LineageKey) (*model.GoldenRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.GoldenRecordSummary, int, error)
	ListVersions(ctx context.Context, recordID string) ([]model.GoldenRecordSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ValidateDraft rejects drafts that cannot become a golden record.
func ValidateDraft(draft *model.ExtractionRecord) error {
	if draft == nil {
		return eris.Wrap(ErrValidation, "draft has no extraction payload")
	}
	if strings.TrimSpace(draft.Identity.ProductName) == "" {
		return eris.Wrap(ErrValidation, "draft has no product name")
	}
	if draft.DocumentInfo.DocumentType == "" {
		return eris.Wrap(ErrValidation, "draft has no document type")
	}
	return nil
}

// buildRecord assembles the backend-independent part of a new golden
// record: identity, denormalized lookup columns and freshly recomputed
// completeness. Version and IsLatest are assigned inside the backend's
// confirm transaction.
func buildRecord(runID string, key model.LineageKey, draft *model.ExtractionRecord, sourceFiles []string) *model.GoldenRecord {
	payload := *draft
	if payload.SchemaVersion == 0 {
		payload.SchemaVersion = model.SchemaVersion
	}

	// Completeness is recomputed at write time; the extraction pipeline's
	// own bookkeeping is not trusted.
	pct, missing := model.Completeness(&payload)
	payload.MissingAttributes = missing

	// A fact value without source_section/raw_string breaks the pipeline's
	// provenance contract. The record is still usable, so flag it rather
	// than reject.
	for _, name := range provenanceGaps(&payload) {
		warning := name + ": value without source provenance"
		if !slices.Contains(payload.ExtractionWarnings, warning) {
			payload.ExtractionWarnings = append(payload.ExtractionWarnings, warning)
		}
	}

	return &model.GoldenRecord{
		ID:           uuid.New().String(),
		RunID:        runID,
		ProductName:  key.ProductName,
		Brand:        payload.DocumentInfo.Brand,
		Region:       key.Region,
		DocumentType: key.DocumentType,
		DocLanguage:  payload.DocumentInfo.Language,
		RevisionDate: payload.DocumentInfo.RevisionDate,
		Completeness: pct,
		MissingCount: len(missing),
		SourceFiles:  sourceFiles,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
}

// provenanceGaps lists fact fields that hold a value but omit where it
// was read from.
func provenanceGaps(r *model.ExtractionRecord) []string {
	var gaps []string
	for _, sec := range model.Sections() {
		for _, f := range sec.Fields {
			if f.Kind != model.FieldFact {
				continue
			}
			fact := f.Fact(r)
			if fact.Defined() && (fact.SourceSection == "" || fact.RawString == "") {
				gaps = append(gaps, f.Name)
			}
		}
	}
	return gaps
}

// normalizePage clamps paging parameters to sane values.
func normalizePage(page, pageSize, defaultSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultSize
	}
	return page, pageSize
}

// pages returns the page count for a total at the given page size.
func pages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
