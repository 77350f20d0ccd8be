package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mendel-data/mendel-cli/internal/diff"
	"github.com/mendel-data/mendel-cli/internal/export"
	"github.com/mendel-data/mendel-cli/internal/model"
	"github.com/mendel-data/mendel-cli/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Browse, compare and export golden records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List golden records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		latestOnly, _ := cmd.Flags().GetBool("latest")
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		records, total, err := st.ListRecords(ctx, store.RecordFilter{
			RunID:      runID,
			LatestOnly: latestOnly,
			Page:       page,
			PageSize:   pageSize,
		})
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, records)
		fmt.Fprintf(os.Stdout, "\n%d of %d records\n", len(records), total)
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show a golden record with its full extraction payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var recordsVersionsCmd = &cobra.Command{
	Use:   "versions <record-id>",
	Short: "Show the full version history of a record's product lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		history, err := st.ListVersions(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records versions")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "VERSION\tID\tLATEST\tCOMPLETE\tCREATED\t")
		for _, h := range history {
			marker := ""
			if h.Current {
				marker = "<- queried"
			}
			latest := ""
			if h.IsLatest {
				latest = "yes"
			}
			_, _ = fmt.Fprintf(w, "v%d\t%s\t%s\t%.1f%%\t%s\t%s\n",
				h.Version, truncateID(h.ID), latest, h.Completeness,
				h.CreatedAt.Format("2006-01-02 15:04"), marker)
		}
		return w.Flush()
	},
}

var recordsDiffCmd = &cobra.Command{
	Use:   "diff <record-id> <record-id>",
	Short: "Compare two golden records field by field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		oldRec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records diff")
		}
		newRec, err := st.GetRecord(ctx, args[1])
		if err != nil {
			return eris.Wrap(err, "records diff")
		}

		result, err := diff.Compare(&oldRec.Payload, &newRec.Payload)
		if err != nil {
			return eris.Wrap(err, "records diff")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		formatDiff(os.Stdout, oldRec, newRec, result)
		return nil
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export <output-file>",
	Short: "Export golden records as CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = formatFromPath(args[0])
		}
		if format != "csv" && format != "xlsx" {
			return eris.Errorf("invalid format %q: must be csv or xlsx", format)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		latestOnly, _ := cmd.Flags().GetBool("latest")

		records, err := export.Collect(ctx, st, store.RecordFilter{RunID: runID, LatestOnly: latestOnly})
		if err != nil {
			return eris.Wrap(err, "records export")
		}

		f, err := os.Create(args[0])
		if err != nil {
			return eris.Wrap(err, "records export: create file")
		}
		defer f.Close() //nolint:errcheck

		if format == "xlsx" {
			err = export.WriteXLSX(f, records)
		} else {
			err = export.WriteCSV(f, records)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Exported %d records to %s\n", len(records), args[0])
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("run", "", "filter by run ID")
	recordsListCmd.Flags().Bool("latest", false, "only latest versions")
	recordsListCmd.Flags().Int("page", 1, "page number")
	recordsListCmd.Flags().Int("page-size", 50, "records per page")

	recordsDiffCmd.Flags().Bool("json", false, "emit the diff as JSON")

	recordsExportCmd.Flags().String("format", "", "export format: csv or xlsx (default from file extension)")
	recordsExportCmd.Flags().String("run", "", "filter by run ID")
	recordsExportCmd.Flags().Bool("latest", true, "only latest versions")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsVersionsCmd)
	recordsCmd.AddCommand(recordsDiffCmd)
	recordsCmd.AddCommand(recordsExportCmd)
	rootCmd.AddCommand(recordsCmd)
}

// formatRecordsList writes a tabular record list to w.
func formatRecordsList(out io.Writer, records []model.GoldenRecordSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRODUCT\tREGION\tTYPE\tVERSION\tLATEST\tCOMPLETE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t----\t-------\t------\t--------\t-------")

	for _, r := range records {
		product := r.ProductName
		if len(product) > 30 {
			product = product[:27] + "..."
		}
		latest := ""
		if r.IsLatest {
			latest = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\tv%d\t%s\t%.1f%%\t%s\n",
			truncateID(r.ID), product, r.Region, r.DocumentType,
			r.Version, latest, r.Completeness, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// formatDiff writes a human-readable diff to w.
func formatDiff(out io.Writer, oldRec, newRec *model.GoldenRecord, result *diff.Result) {
	fmt.Fprintf(out, "%s: v%d -> v%d\n", oldRec.ProductName, oldRec.Version, newRec.Version)
	if result.TotalChanges == 0 {
		fmt.Fprintln(out, "No changes.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, section := range result.Sections {
		_, _ = fmt.Fprintf(w, "\n[%s]\t\t\n", section.Section)
		for _, c := range section.Changes {
			switch c.ChangeType {
			case diff.ChangeAdded:
				_, _ = fmt.Fprintf(w, "  + %s\t%s\t\n", c.Field, renderValue(c.NewValue, c.NewUnit))
			case diff.ChangeRemoved:
				_, _ = fmt.Fprintf(w, "  - %s\t%s\t\n", c.Field, renderValue(c.OldValue, c.OldUnit))
			default:
				_, _ = fmt.Fprintf(w, "  ~ %s\t%s -> %s\t%s\n",
					c.Field,
					renderValue(c.OldValue, c.OldUnit),
					renderValue(c.NewValue, c.NewUnit),
					renderConfidence(c))
			}
		}
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n%s\n", result.Summary)
}

func renderValue(v any, unit string) string {
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if unit != "" {
		return s + " " + unit
	}
	return s
}

func renderConfidence(c diff.Entry) string {
	if c.OldConfidence == c.NewConfidence {
		return ""
	}
	return fmt.Sprintf("(%s -> %s)", c.OldConfidence, c.NewConfidence)
}

func formatFromPath(path string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".xlsx"):
		return "xlsx"
	default:
		return "csv"
	}
}
