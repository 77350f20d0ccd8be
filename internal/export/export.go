// Package export renders golden records as CSV or XLSX tables.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/mendel-data/mendel-cli/internal/model"
	"github.com/mendel-data/mendel-cli/internal/store"
)

// maxExportRecords caps how many records one export may pull.
const maxExportRecords = 10000

// Columns is the fixed, ordered export header. Column order is part of
// the format and never derived from a map.
var Columns = []string{
	"id",
	"product_name",
	"brand",
	"region",
	"version",
	"is_latest",
	"document_type",
	"language",
	"manufacturer",
	"revision_date",
	"product_line",
	"sku",
	"cas_numbers",
	"chemical_components",
	"purity",
	"physical_form",
	"density",
	"flash_point",
	"temperature_range",
	"shelf_life",
	"cure_system",
	"main_application",
	"packaging_options",
	"ghs_statements",
	"un_number",
	"certifications",
	"global_inventories",
	"compliance_status",
	"completeness",
	"missing_count",
	"source_files",
	"created_at",
}

// buildRow flattens a golden record into one export row, in Columns order.
func buildRow(rec *model.GoldenRecord) []string {
	p := rec.Payload
	return []string{
		rec.ID,
		rec.ProductName,
		rec.Brand,
		string(rec.Region),
		strconv.Itoa(rec.Version),
		strconv.FormatBool(rec.IsLatest),
		string(p.DocumentInfo.DocumentType),
		p.DocumentInfo.Language,
		p.DocumentInfo.Manufacturer,
		p.DocumentInfo.RevisionDate,
		p.Identity.ProductLine,
		p.Identity.SKU,
		factStr(p.Chemical.CASNumbers),
		joinList(p.Chemical.ChemicalComponents),
		factStr(p.Chemical.Purity),
		factStr(p.Physical.PhysicalForm),
		factStr(p.Physical.Density),
		factStr(p.Physical.FlashPoint),
		factStr(p.Physical.TemperatureRange),
		factStr(p.Physical.ShelfLife),
		factStr(p.Physical.CureSystem),
		p.Application.MainApplication,
		joinList(p.Application.PackagingOptions),
		joinList(p.Safety.GHSStatements),
		factStr(p.Safety.UNNumber),
		joinList(p.Safety.Certifications),
		joinList(p.Safety.GlobalInventories),
		p.Compliance.Status,
		strconv.FormatFloat(rec.Completeness, 'f', 1, 64),
		strconv.Itoa(rec.MissingCount),
		joinList(rec.SourceFiles),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// WriteCSV writes the records as CSV with a header row.
func WriteCSV(w io.Writer, records []*model.GoldenRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, rec := range records {
		if err := cw.Write(buildRow(rec)); err != nil {
			return eris.Wrapf(err, "export: write csv row for %s", rec.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes the records as a single-sheet workbook.
func WriteXLSX(w io.Writer, records []*model.GoldenRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Golden Records")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().Value = col
	}
	for _, rec := range records {
		row := sheet.AddRow()
		for _, cell := range buildRow(rec) {
			row.AddCell().Value = cell
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

// Collect loads the full records matching the filter, paging through the
// store. Export needs payloads, so summaries are hydrated one by one.
func Collect(ctx context.Context, st store.Store, filter store.RecordFilter) ([]*model.GoldenRecord, error) {
	filter.Page = 1
	if filter.PageSize < 1 {
		filter.PageSize = 500
	}

	var records []*model.GoldenRecord
	for {
		summaries, _, err := st.ListRecords(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(summaries) == 0 {
			break
		}
		for _, sum := range summaries {
			rec, err := st.GetRecord(ctx, sum.ID)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
			if len(records) >= maxExportRecords {
				return records, nil
			}
		}
		filter.Page++
	}

	if len(records) == 0 {
		return nil, eris.Wrap(store.ErrNotFound, "no records to export")
	}
	return records, nil
}

func factStr(f *model.Fact) string {
	if !f.Defined() {
		return ""
	}
	v := strings.TrimSpace(fmt.Sprintf("%v", f.Value))
	if f.Unit != "" {
		return v + " " + f.Unit
	}
	return v
}

func joinList(list []string) string {
	return strings.Join(list, "; ")
}
