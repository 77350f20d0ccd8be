package diff

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendel-data/mendel-cli/internal/model"
)

func baseRecord() *model.ExtractionRecord {
	return &model.ExtractionRecord{
		SchemaVersion: model.SchemaVersion,
		DocumentInfo: model.DocumentInfo{
			DocumentType: model.DocTypeTDS,
			Language:     "en",
			Manufacturer: "Wacker Chemie AG",
			Brand:        "BELSIL",
			RevisionDate: "2023-01-10",
		},
		Identity: model.IdentityData{ProductName: "BELSIL DM 0.65"},
		Physical: model.PhysicalData{
			Density:    &model.Fact{Value: 0.76, Unit: "g/cm3", Confidence: model.ConfidenceMedium},
			FlashPoint: &model.Fact{Value: -5.0, Unit: "°C", Confidence: model.ConfidenceHigh},
		},
		Safety: model.SafetyData{
			Certifications: []string{"RoHS", "FDA"},
		},
	}
}

func TestCompare_IdenticalRecords(t *testing.T) {
	a := baseRecord()
	b := baseRecord()

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
	assert.Empty(t, res.Sections)
	assert.Equal(t, "0 changed, 0 added, 0 removed", res.Summary)
}

func TestCompare_SelfDiffIsEmpty(t *testing.T) {
	a := baseRecord()

	res, err := Compare(a, a)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
}

func TestCompare_SchemaMismatch(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.SchemaVersion = a.SchemaVersion + 1

	_, err := Compare(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestCompare_FactValueChanged(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.DocumentInfo.RevisionDate = "2024-03-12"
	b.Physical.Density = &model.Fact{Value: 0.65, Unit: "g/cm3", Confidence: model.ConfidenceHigh}

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalChanges)

	// Section order follows the schema: document_info before physical.
	require.Len(t, res.Sections, 2)
	assert.Equal(t, "document_info", res.Sections[0].Section)
	assert.Equal(t, "physical", res.Sections[1].Section)

	density := res.Sections[1].Changes[0]
	assert.Equal(t, "density", density.Field)
	assert.Equal(t, ChangeChanged, density.ChangeType)
	assert.Equal(t, 0.76, density.OldValue)
	assert.Equal(t, 0.65, density.NewValue)
	assert.Equal(t, model.ConfidenceMedium, density.OldConfidence)
	assert.Equal(t, model.ConfidenceHigh, density.NewConfidence)
}

func TestCompare_ConfidenceOnlyShiftIsAChange(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.Physical.Density = &model.Fact{Value: 0.76, Unit: "g/cm3", Confidence: model.ConfidenceLow}

	res, err := Compare(a, b)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalChanges)

	entry := res.Sections[0].Changes[0]
	assert.Equal(t, ChangeChanged, entry.ChangeType)
	assert.Equal(t, model.ConfidenceMedium, entry.OldConfidence)
	assert.Equal(t, model.ConfidenceLow, entry.NewConfidence)
}

func TestCompare_NumericValuesComparedByValue(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	// Same density serialized differently must not produce a change.
	a.Physical.Density = &model.Fact{Value: "0.76", Unit: "g/cm3", Confidence: model.ConfidenceMedium}
	b.Physical.Density = &model.Fact{Value: 0.76, Unit: "g/cm3", Confidence: model.ConfidenceMedium}

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
}

func TestCompare_FactAddedAndRemoved(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.Physical.FlashPoint = nil
	b.Chemical.Purity = &model.Fact{Value: 99.5, Unit: "%", Confidence: model.ConfidenceHigh}

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalChanges)

	require.Len(t, res.Sections, 2)
	assert.Equal(t, "chemical", res.Sections[0].Section)
	purity := res.Sections[0].Changes[0]
	assert.Equal(t, ChangeAdded, purity.ChangeType)
	assert.Equal(t, 99.5, purity.NewValue)
	assert.Nil(t, purity.OldValue)

	assert.Equal(t, "physical", res.Sections[1].Section)
	flash := res.Sections[1].Changes[0]
	assert.Equal(t, ChangeRemoved, flash.ChangeType)
	assert.Equal(t, -5.0, flash.OldValue)
}

func TestCompare_NilValueFactIsAbsent(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	// A Fact with nil value is "not found", same as a nil Fact.
	a.Chemical.Purity = &model.Fact{Value: nil, Confidence: model.ConfidenceLow}
	b.Chemical.Purity = nil

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
}

func TestCompare_ListPerElementEntries(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	a.Safety.Certifications = []string{"RoHS", "FDA"}
	b.Safety.Certifications = []string{"RoHS", "Halal", "Kosher"}

	res, err := Compare(a, b)
	require.NoError(t, err)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, "safety", res.Sections[0].Section)

	// One entry per element, sorted: Halal added, Kosher added, FDA removed.
	changes := res.Sections[0].Changes
	require.Len(t, changes, 3)
	assert.Equal(t, ChangeAdded, changes[0].ChangeType)
	assert.Equal(t, "Halal", changes[0].NewValue)
	assert.Equal(t, ChangeAdded, changes[1].ChangeType)
	assert.Equal(t, "Kosher", changes[1].NewValue)
	assert.Equal(t, ChangeRemoved, changes[2].ChangeType)
	assert.Equal(t, "FDA", changes[2].OldValue)

	assert.Equal(t, "0 changed, 2 added, 1 removed", res.Summary)
}

func TestCompare_ListOrderIsNotAChange(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	a.Safety.Certifications = []string{"FDA", "RoHS"}
	b.Safety.Certifications = []string{"RoHS", "FDA"}

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
}

func TestCompare_ListIgnoresBlankElements(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	a.Safety.Certifications = []string{"RoHS", "FDA", ""}
	b.Safety.Certifications = []string{" RoHS ", "FDA"}

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChanges)
}

func TestCompare_ScalarChanges(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.Application.MainApplication = "Cosmetic formulations"
	b.DocumentInfo.Manufacturer = ""

	res, err := Compare(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalChanges)

	assert.Equal(t, "document_info", res.Sections[0].Section)
	manufacturer := res.Sections[0].Changes[0]
	assert.Equal(t, ChangeRemoved, manufacturer.ChangeType)
	assert.Equal(t, "Wacker Chemie AG", manufacturer.OldValue)

	assert.Equal(t, "application", res.Sections[1].Section)
	app := res.Sections[1].Changes[0]
	assert.Equal(t, ChangeAdded, app.ChangeType)
	assert.Equal(t, "Cosmetic formulations", app.NewValue)
}

func TestCompare_UnitChangeIsAChange(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.Physical.Density = &model.Fact{Value: 0.76, Unit: "kg/m3", Confidence: model.ConfidenceMedium}

	res, err := Compare(a, b)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalChanges)

	entry := res.Sections[0].Changes[0]
	assert.Equal(t, ChangeChanged, entry.ChangeType)
	assert.Equal(t, "g/cm3", entry.OldUnit)
	assert.Equal(t, "kg/m3", entry.NewUnit)
}

func TestCompare_Symmetry(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.Physical.Density = &model.Fact{Value: 0.65, Unit: "g/cm3", Confidence: model.ConfidenceHigh}
	b.Safety.Certifications = []string{"RoHS"}

	forward, err := Compare(a, b)
	require.NoError(t, err)
	backward, err := Compare(b, a)
	require.NoError(t, err)

	// Same change count; adds and removes swap direction.
	assert.Equal(t, forward.TotalChanges, backward.TotalChanges)
	assert.Equal(t, "1 changed, 0 added, 1 removed", forward.Summary)
	assert.Equal(t, "1 changed, 1 added, 0 removed", backward.Summary)
}

func TestCompare_SerializesZeroAndAbsentValues(t *testing.T) {
	a := baseRecord()
	a.Physical.Density = &model.Fact{Value: 0.0, Unit: "g/cm3", Confidence: model.ConfidenceLow}
	b := baseRecord()
	b.Physical.Density = &model.Fact{Value: 5.0, Unit: "g/cm3", Confidence: model.ConfidenceHigh}
	b.Physical.ShelfLife = &model.Fact{Value: "12 months", Confidence: model.ConfidenceMedium}

	res, err := Compare(a, b)
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	// A zero old value is data, not absence.
	assert.Contains(t, string(data), `"old_value":0`)
	// An added entry carries an explicit null old side.
	assert.Contains(t, string(data), `"old_value":null`)
}
