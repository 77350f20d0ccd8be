// Package diff computes structural differences between two extraction
// snapshots, section by section in schema order.
package diff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mendel-data/mendel-cli/internal/model"
)

// ErrSchemaMismatch is returned when the two records were produced under
// different extraction schema versions and cannot be compared field by field.
var ErrSchemaMismatch = eris.New("extraction schema version mismatch")

// ChangeType classifies a single field-level change.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
	ChangeChanged ChangeType = "changed"
)

// Entry is one field-level change. For list fields there is one entry per
// added or removed element, never a combined before/after pair. Values
// serialize without omitempty: an explicit null on an added entry's old
// side is part of the format, and a legitimate zero value must survive.
type Entry struct {
	Field         string           `json:"field"`
	ChangeType    ChangeType       `json:"change_type"`
	OldValue      any              `json:"old_value"`
	NewValue      any              `json:"new_value"`
	OldUnit       string           `json:"old_unit,omitempty"`
	NewUnit       string           `json:"new_unit,omitempty"`
	OldConfidence model.Confidence `json:"old_confidence,omitempty"`
	NewConfidence model.Confidence `json:"new_confidence,omitempty"`
}

// SectionDiff groups the changes of one record section.
type SectionDiff struct {
	Section string  `json:"section"`
	Changes []Entry `json:"changes"`
}

// Result is the full comparison of two records. Sections holds only
// sections that actually changed, in schema order.
type Result struct {
	Sections     []SectionDiff `json:"sections"`
	TotalChanges int           `json:"total_changes"`
	Summary      string        `json:"summary"`
}

// Compare diffs two extraction records field by field. Comparing a record
// against itself yields zero changes.
func Compare(a, b *model.ExtractionRecord) (*Result, error) {
	if a.SchemaVersion != b.SchemaVersion {
		return nil, eris.Wrapf(ErrSchemaMismatch, "old schema v%d vs new schema v%d", a.SchemaVersion, b.SchemaVersion)
	}

	res := &Result{}
	for _, sec := range model.Sections() {
		var changes []Entry
		for _, f := range sec.Fields {
			changes = append(changes, diffField(f, a, b)...)
		}
		if len(changes) > 0 {
			res.Sections = append(res.Sections, SectionDiff{Section: sec.Name, Changes: changes})
			res.TotalChanges += len(changes)
		}
	}
	res.Summary = summarize(res)
	return res, nil
}

func diffField(f model.FieldDef, a, b *model.ExtractionRecord) []Entry {
	switch f.Kind {
	case model.FieldFact:
		return diffFact(f.Name, f.Fact(a), f.Fact(b))
	case model.FieldList:
		return diffList(f.Name, f.List(a), f.List(b))
	default:
		return diffScalar(f.Name, f.Scalar(a), f.Scalar(b))
	}
}

func diffFact(field string, oldF, newF *model.Fact) []Entry {
	oldDef := oldF.Defined()
	newDef := newF.Defined()
	switch {
	case !oldDef && !newDef:
		return nil
	case !oldDef:
		return []Entry{{
			Field:         field,
			ChangeType:    ChangeAdded,
			NewValue:      newF.Value,
			NewUnit:       newF.Unit,
			NewConfidence: newF.Confidence,
		}}
	case !newDef:
		return []Entry{{
			Field:         field,
			ChangeType:    ChangeRemoved,
			OldValue:      oldF.Value,
			OldUnit:       oldF.Unit,
			OldConfidence: oldF.Confidence,
		}}
	}
	// A confidence shift with a stable value still surfaces as changed.
	if !valueEqual(oldF.Value, newF.Value) || oldF.Unit != newF.Unit || oldF.Confidence != newF.Confidence {
		return []Entry{{
			Field:         field,
			ChangeType:    ChangeChanged,
			OldValue:      oldF.Value,
			NewValue:      newF.Value,
			OldUnit:       oldF.Unit,
			NewUnit:       newF.Unit,
			OldConfidence: oldF.Confidence,
			NewConfidence: newF.Confidence,
		}}
	}
	return nil
}

// diffList treats lists as sets: element order is not a change, and every
// added or removed element gets its own entry, sorted for stable output.
func diffList(field string, oldList, newList []string) []Entry {
	oldSet := toSet(oldList)
	newSet := toSet(newList)

	var added, removed []string
	for v := range newSet {
		if !oldSet[v] {
			added = append(added, v)
		}
	}
	for v := range oldSet {
		if !newSet[v] {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	var entries []Entry
	for _, v := range added {
		entries = append(entries, Entry{Field: field, ChangeType: ChangeAdded, NewValue: v})
	}
	for _, v := range removed {
		entries = append(entries, Entry{Field: field, ChangeType: ChangeRemoved, OldValue: v})
	}
	return entries
}

func diffScalar(field, oldV, newV string) []Entry {
	switch {
	case oldV == newV:
		return nil
	case oldV == "":
		return []Entry{{Field: field, ChangeType: ChangeAdded, NewValue: newV}}
	case newV == "":
		return []Entry{{Field: field, ChangeType: ChangeRemoved, OldValue: oldV}}
	}
	return []Entry{{Field: field, ChangeType: ChangeChanged, OldValue: oldV, NewValue: newV}}
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = true
	}
	return set
}

// valueEqual compares two fact values, numerically when both sides parse
// as numbers so 0.65 and "0.65" never produce a phantom change.
func valueEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return stringify(a) == stringify(b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

func summarize(r *Result) string {
	var changed, added, removed int
	for _, sec := range r.Sections {
		for _, c := range sec.Changes {
			switch c.ChangeType {
			case ChangeChanged:
				changed++
			case ChangeAdded:
				added++
			case ChangeRemoved:
				removed++
			}
		}
	}
	return fmt.Sprintf("%d changed, %d added, %d removed", changed, added, removed)
}
