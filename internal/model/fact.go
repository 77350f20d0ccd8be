package model

// Confidence is the coarse reviewer-facing trust tier for an extracted fact.
// It is not a raw probability.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Fact is a single extracted value with unit, confidence and provenance.
// A nil Value means "not found in the document", which is distinct from
// "field not applicable"; such a Fact is treated as absent everywhere.
type Fact struct {
	Value           any        `json:"value"` // string, float64 or nil
	Unit            string     `json:"unit,omitempty"`
	SourceSection   string     `json:"source_section"` // e.g. "TDS Spec Table", "SDS Sec 9"
	RawString       string     `json:"raw_string"`     // original quote from the document
	Confidence      Confidence `json:"confidence"`
	IsSpecification bool       `json:"is_specification"` // guaranteed spec vs typical value
	TestMethod      string     `json:"test_method,omitempty"`
}

// Defined reports whether the fact carries an extracted value.
func (f *Fact) Defined() bool {
	return f != nil && f.Value != nil
}
