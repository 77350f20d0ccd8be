package model

import (
	"hash/fnv"
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// NormalizeProductName reduces a product name to its lineage identity:
// case-folded, whitespace-collapsed. Display names are stored verbatim;
// only lineage matching goes through this.
func NormalizeProductName(name string) string {
	folded := foldCaser.String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(folded), " ")
}

// LineageKey identifies "the same product over time": all versions of one
// product/region/document-type share a lineage.
type LineageKey struct {
	ProductName  string       `json:"product_name"`
	Region       Region       `json:"region"`
	DocumentType DocumentType `json:"document_type"`
}

// String returns the canonical lineage identity used for version grouping
// and lock keying.
func (k LineageKey) String() string {
	return NormalizeProductName(k.ProductName) + "|" + string(k.Region) + "|" + string(k.DocumentType)
}

// Hash returns a stable 64-bit hash of the lineage identity, used as the
// per-lineage advisory lock key so distinct lineages never serialize
// against each other.
func (k LineageKey) Hash() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.String()))
	return int64(h.Sum64())
}

// Label returns a short human-readable form for logs and CLI tables.
func (k LineageKey) Label() string {
	return k.ProductName + " (" + string(k.Region) + "/" + string(k.DocumentType) + ")"
}
