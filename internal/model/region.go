package model

import "strings"

// Region is the geographic scope of a golden record lineage.
type Region string

const (
	RegionEU     Region = "EU"
	RegionUS     Region = "US"
	RegionJP     Region = "JP"
	RegionCN     Region = "CN"
	RegionKR     Region = "KR"
	RegionGlobal Region = "GLOBAL"
)

// langToRegion maps an SDS language code to its default region. EN/DE/FR
// safety sheets default to EU; the inventory override below catches the
// US case.
var langToRegion = map[string]Region{
	"en": RegionEU,
	"de": RegionEU,
	"fr": RegionEU,
	"es": RegionEU,
	"it": RegionEU,
	"pt": RegionEU,
	"nl": RegionEU,
	"pl": RegionEU,
	"ja": RegionJP,
	"zh": RegionCN,
	"ko": RegionKR,
}

// globalDocTypes are document types that are not region-specific.
var globalDocTypes = map[DocumentType]bool{
	DocTypeTDS:      true,
	DocTypeCoA:      true,
	DocTypeBrochure: true,
	DocTypeRPI:      true,
}

// ResolveRegion determines the region for a draft record:
// non-regional document types are GLOBAL; SDS derives from language, with
// an inventory override (TSCA listed but not REACH means a US sheet);
// anything else falls back to GLOBAL.
func ResolveRegion(r *ExtractionRecord) Region {
	docType := r.DocumentInfo.DocumentType
	if globalDocTypes[docType] {
		return RegionGlobal
	}

	if docType == DocTypeSDS {
		lang := strings.ToLower(r.DocumentInfo.Language)
		if lang == "" {
			lang = "en"
		}
		if len(lang) > 2 {
			lang = lang[:2]
		}
		region, ok := langToRegion[lang]
		if !ok {
			region = RegionGlobal
		}

		if inv := r.Safety.GlobalInventories; len(inv) > 0 {
			joined := strings.ToUpper(strings.Join(inv, " "))
			hasTSCA := strings.Contains(joined, "TSCA")
			hasREACH := strings.Contains(joined, "REACH")
			if hasTSCA && !hasREACH {
				region = RegionUS
			}
		}
		return region
	}

	return RegionGlobal
}
