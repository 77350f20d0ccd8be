package model

import "time"

// RunStatus represents the lifecycle state of an extraction run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// GoldenRecord is a persisted, versioned, confirmed extraction snapshot.
// It is created exactly once by a confirm operation and never mutated;
// a re-extraction of the same lineage creates a new record at version+1
// and moves the latest flag.
type GoldenRecord struct {
	ID           string           `json:"id"`
	RunID        string           `json:"run_id"`
	ProductName  string           `json:"product_name"`
	Brand        string           `json:"brand,omitempty"`
	Region       Region           `json:"region"`
	DocumentType DocumentType     `json:"document_type"`
	DocLanguage  string           `json:"doc_language,omitempty"`
	RevisionDate string           `json:"revision_date,omitempty"`
	Version      int              `json:"version"`
	IsLatest     bool             `json:"is_latest"`
	Completeness float64          `json:"completeness"`
	MissingCount int              `json:"missing_count"`
	SourceFiles  []string         `json:"source_files"`
	Payload      ExtractionRecord `json:"payload"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Lineage returns the record's lineage key.
func (g *GoldenRecord) Lineage() LineageKey {
	return LineageKey{
		ProductName:  g.ProductName,
		Region:       g.Region,
		DocumentType: g.DocumentType,
	}
}

// Summary returns the compact list view of the record.
func (g *GoldenRecord) Summary() GoldenRecordSummary {
	return GoldenRecordSummary{
		ID:           g.ID,
		RunID:        g.RunID,
		ProductName:  g.ProductName,
		Brand:        g.Brand,
		Region:       g.Region,
		DocumentType: g.DocumentType,
		DocLanguage:  g.DocLanguage,
		RevisionDate: g.RevisionDate,
		Version:      g.Version,
		IsLatest:     g.IsLatest,
		Completeness: g.Completeness,
		MissingCount: g.MissingCount,
		SourceFiles:  g.SourceFiles,
		CreatedAt:    g.CreatedAt,
	}
}

// GoldenRecordSummary is the payload-free view used in lists, run details
// and version histories. Current marks the record the history was queried
// by, independent of IsLatest.
type GoldenRecordSummary struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	ProductName  string       `json:"product_name"`
	Brand        string       `json:"brand,omitempty"`
	Region       Region       `json:"region"`
	DocumentType DocumentType `json:"document_type"`
	DocLanguage  string       `json:"doc_language,omitempty"`
	RevisionDate string       `json:"revision_date,omitempty"`
	Version      int          `json:"version"`
	IsLatest     bool         `json:"is_latest"`
	Completeness float64      `json:"completeness"`
	MissingCount int          `json:"missing_count"`
	SourceFiles  []string     `json:"source_files,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Current      bool         `json:"current,omitempty"`
}

// ExtractionRun groups the confirm operations of one user-triggered batch.
// GoldenRecordsCount is the count of records the run created, not a live
// query.
type ExtractionRun struct {
	ID                 string     `json:"id"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Status             RunStatus  `json:"status"`
	PDFCount           int        `json:"pdf_count"`
	GoldenRecordsCount int        `json:"golden_records_count"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}
