package model

// SchemaVersion identifies the current ExtractionRecord wire schema.
// Records persisted under different schema versions refuse to diff.
const SchemaVersion = 1

// DocumentType classifies the source document.
type DocumentType string

const (
	DocTypeTDS      DocumentType = "TDS"
	DocTypeSDS      DocumentType = "SDS"
	DocTypeRPI      DocumentType = "RPI"
	DocTypeCoA      DocumentType = "CoA"
	DocTypeBrochure DocumentType = "Brochure"
	DocTypeUnknown  DocumentType = "unknown"
)

// DocumentInfo holds metadata about the parsed document.
type DocumentInfo struct {
	DocumentType DocumentType `json:"document_type"`
	Language     string       `json:"language,omitempty"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Brand        string       `json:"brand,omitempty"`
	RevisionDate string       `json:"revision_date,omitempty"`
	PageCount    int          `json:"page_count,omitempty"`
}

// IdentityData holds product identity and classification attributes.
type IdentityData struct {
	ProductName     string   `json:"product_name"`
	ProductLine     string   `json:"product_line,omitempty"`
	SKU             string   `json:"sku,omitempty"` // ERP/SAP material id
	MaterialNumbers []string `json:"material_numbers,omitempty"`
	ProductURL      string   `json:"product_url,omitempty"`
	Grade           *Fact    `json:"grade,omitempty"` // Tech / Food / Pharma / Cosmetic
}

// ChemicalData holds chemical identity and composition.
type ChemicalData struct {
	CASNumbers         *Fact    `json:"cas_numbers,omitempty"` // comma-separated if multiple
	ChemicalComponents []string `json:"chemical_components,omitempty"`
	ChemicalSynonyms   []string `json:"chemical_synonyms,omitempty"`
	Purity             *Fact    `json:"purity,omitempty"`
}

// PhysicalData holds physical and technical specifications.
type PhysicalData struct {
	PhysicalForm     *Fact `json:"physical_form,omitempty"` // Liquid / Powder / Paste
	Density          *Fact `json:"density,omitempty"`
	FlashPoint       *Fact `json:"flash_point,omitempty"`
	TemperatureRange *Fact `json:"temperature_range,omitempty"`
	ShelfLife        *Fact `json:"shelf_life,omitempty"`
	CureSystem       *Fact `json:"cure_system,omitempty"`
}

// ApplicationData holds application context and packaging.
type ApplicationData struct {
	MainApplication   string   `json:"main_application,omitempty"`
	UsageRestrictions []string `json:"usage_restrictions,omitempty"`
	PackagingOptions  []string `json:"packaging_options,omitempty"`
}

// SafetyData holds safety, regulatory and inventory data.
type SafetyData struct {
	GHSStatements     []string `json:"ghs_statements,omitempty"` // H319, P264, ...
	UNNumber          *Fact    `json:"un_number,omitempty"`      // SDS Section 14 only
	Certifications    []string `json:"certifications,omitempty"` // RoHS, FDA, Halal, Kosher
	GlobalInventories []string `json:"global_inventories,omitempty"`
	BlockedCountries  []string `json:"blocked_countries,omitempty"`
	BlockedIndustries []string `json:"blocked_industries,omitempty"`
}

// ComplianceData holds the derived compliance verdict.
type ComplianceData struct {
	Status        string `json:"status,omitempty"` // GREEN LIGHT | ATTENTION | RED FLAG
	SalesAdvisory string `json:"sales_advisory,omitempty"`
}

// ExtractionRecord is a full structured extraction snapshot: seven fixed
// sections plus derived bookkeeping. Produced by the external extraction
// pipeline as an untrusted draft; persisted verbatim inside a GoldenRecord.
type ExtractionRecord struct {
	SchemaVersion      int             `json:"schema_version"`
	DocumentInfo       DocumentInfo    `json:"document_info"`
	Identity           IdentityData    `json:"identity"`
	Chemical           ChemicalData    `json:"chemical"`
	Physical           PhysicalData    `json:"physical"`
	Application        ApplicationData `json:"application"`
	Safety             SafetyData      `json:"safety"`
	Compliance         ComplianceData  `json:"compliance"`
	MissingAttributes  []string        `json:"missing_attributes,omitempty"`
	ExtractionWarnings []string        `json:"extraction_warnings,omitempty"`
}

// DraftResult is the envelope the external extraction pipeline hands over
// for one document. A failed draft produces no golden record but still
// counts toward the run's file total.
type DraftResult struct {
	Filename         string            `json:"filename"`
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
	ProcessingTimeMS int64             `json:"processing_time_ms,omitempty"`
	Record           *ExtractionRecord `json:"result,omitempty"`
}
