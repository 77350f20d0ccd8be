package model

import "strconv"

// FieldKind discriminates how a schema field is stored and compared.
type FieldKind int

const (
	FieldScalar FieldKind = iota // plain string (or int rendered as string)
	FieldFact                    // *Fact with value/unit/confidence
	FieldList                    // ordered []string, compared as a set
)

// FieldDef describes one named field of an ExtractionRecord section.
// Exactly one accessor is set, matching Kind.
type FieldDef struct {
	Name   string
	Kind   FieldKind
	Scalar func(*ExtractionRecord) string
	Fact   func(*ExtractionRecord) *Fact
	List   func(*ExtractionRecord) []string
}

// Defined reports whether the field holds a value in r.
func (f FieldDef) Defined(r *ExtractionRecord) bool {
	switch f.Kind {
	case FieldScalar:
		return f.Scalar(r) != ""
	case FieldFact:
		return f.Fact(r).Defined()
	case FieldList:
		return len(f.List(r)) > 0
	}
	return false
}

// SectionDef is one of the seven fixed record sections with its fields in
// schema order. Diff, completeness and export all iterate this table; map
// iteration order never leaks into output.
type SectionDef struct {
	Name   string
	Fields []FieldDef
}

// schema is the fixed 33-attribute inventory.
var schema = []SectionDef{
	{
		Name: "document_info",
		Fields: []FieldDef{
			{Name: "document_type", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return string(r.DocumentInfo.DocumentType) }},
			{Name: "language", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.DocumentInfo.Language }},
			{Name: "manufacturer", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.DocumentInfo.Manufacturer }},
			{Name: "brand", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.DocumentInfo.Brand }},
			{Name: "revision_date", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.DocumentInfo.RevisionDate }},
			{Name: "page_count", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string {
				if r.DocumentInfo.PageCount == 0 {
					return ""
				}
				return strconv.Itoa(r.DocumentInfo.PageCount)
			}},
		},
	},
	{
		Name: "identity",
		Fields: []FieldDef{
			{Name: "product_name", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Identity.ProductName }},
			{Name: "product_line", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Identity.ProductLine }},
			{Name: "sku", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Identity.SKU }},
			{Name: "material_numbers", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Identity.MaterialNumbers }},
			{Name: "product_url", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Identity.ProductURL }},
			{Name: "grade", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Identity.Grade }},
		},
	},
	{
		Name: "chemical",
		Fields: []FieldDef{
			{Name: "cas_numbers", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Chemical.CASNumbers }},
			{Name: "chemical_components", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Chemical.ChemicalComponents }},
			{Name: "chemical_synonyms", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Chemical.ChemicalSynonyms }},
			{Name: "purity", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Chemical.Purity }},
		},
	},
	{
		Name: "physical",
		Fields: []FieldDef{
			{Name: "physical_form", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Physical.PhysicalForm }},
			{Name: "density", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Physical.Density }},
			{Name: "flash_point", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Physical.FlashPoint }},
			{Name: "temperature_range", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Physical.TemperatureRange }},
			{Name: "shelf_life", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Physical.ShelfLife }},
			{Name: "cure_system", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Physical.CureSystem }},
		},
	},
	{
		Name: "application",
		Fields: []FieldDef{
			{Name: "main_application", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Application.MainApplication }},
			{Name: "usage_restrictions", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Application.UsageRestrictions }},
			{Name: "packaging_options", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Application.PackagingOptions }},
		},
	},
	{
		Name: "safety",
		Fields: []FieldDef{
			{Name: "ghs_statements", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Safety.GHSStatements }},
			{Name: "un_number", Kind: FieldFact, Fact: func(r *ExtractionRecord) *Fact { return r.Safety.UNNumber }},
			{Name: "certifications", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Safety.Certifications }},
			{Name: "global_inventories", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Safety.GlobalInventories }},
			{Name: "blocked_countries", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Safety.BlockedCountries }},
			{Name: "blocked_industries", Kind: FieldList, List: func(r *ExtractionRecord) []string { return r.Safety.BlockedIndustries }},
		},
	},
	{
		Name: "compliance",
		Fields: []FieldDef{
			{Name: "status", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Compliance.Status }},
			{Name: "sales_advisory", Kind: FieldScalar, Scalar: func(r *ExtractionRecord) string { return r.Compliance.SalesAdvisory }},
		},
	},
}

// Sections returns the seven record sections in fixed schema order.
func Sections() []SectionDef {
	return schema
}

// TotalAttributes is the number of schema fields across all sections.
func TotalAttributes() int {
	n := 0
	for _, s := range schema {
		n += len(s.Fields)
	}
	return n
}

// Completeness returns the percentage of schema fields that hold a value,
// rounded to one decimal, plus the list of missing attribute names.
func Completeness(r *ExtractionRecord) (pct float64, missing []string) {
	total := 0
	defined := 0
	for _, sec := range schema {
		for _, f := range sec.Fields {
			total++
			if f.Defined(r) {
				defined++
			} else {
				missing = append(missing, f.Name)
			}
		}
	}
	if total == 0 {
		return 0, nil
	}
	pct = float64(defined) / float64(total) * 100
	pct = float64(int(pct*10+0.5)) / 10
	return pct, missing
}
