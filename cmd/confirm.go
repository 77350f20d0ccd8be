package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mendel-data/mendel-cli/internal/confirm"
	"github.com/mendel-data/mendel-cli/internal/model"
)

var confirmConcurrency int

var confirmCmd = &cobra.Command{
	Use:   "confirm <results.json> [more.json ...]",
	Short: "Confirm a batch of draft extraction results into golden records",
	Long:  "Reads the extraction pipeline's batch output, opens a run, versions every successful draft as a golden record and closes the run.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var drafts []model.DraftResult
		for _, path := range args {
			batch, err := loadDrafts(path)
			if err != nil {
				return err
			}
			drafts = append(drafts, batch...)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		confirmCfg := cfg.Confirm
		if confirmConcurrency > 0 {
			confirmCfg.MaxConcurrent = confirmConcurrency
		}
		svc := confirm.NewService(st, confirmCfg)

		batch, err := svc.ConfirmBatch(ctx, drafts)
		if batch != nil {
			confirm.SortResults(batch.Results)
			formatBatchResult(os.Stdout, batch)
		}
		return err
	},
}

func init() {
	confirmCmd.Flags().IntVar(&confirmConcurrency, "concurrency", 0, "max concurrent confirms (default from config)")
	rootCmd.AddCommand(confirmCmd)
}

// loadDrafts reads a draft batch file: either a bare JSON array of draft
// results or the pipeline envelope {"results": [...]}.
func loadDrafts(path string) ([]model.DraftResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read drafts file %s", path)
	}

	var drafts []model.DraftResult
	if err := json.Unmarshal(data, &drafts); err == nil {
		return drafts, nil
	}

	var envelope struct {
		Results []model.DraftResult `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, eris.Wrapf(err, "parse drafts file %s", path)
	}
	return envelope.Results, nil
}

// formatBatchResult writes the per-file table and batch summary to w.
func formatBatchResult(out io.Writer, batch *confirm.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSTATUS\tPRODUCT\tREGION\tTYPE\tVERSION\tDETAIL")
	_, _ = fmt.Fprintln(w, "----\t------\t-------\t------\t----\t-------\t------")

	for _, res := range batch.Results {
		status := "failed"
		version := ""
		switch {
		case res.Success:
			status = "confirmed"
			version = "v" + strconv.Itoa(res.Version)
		case res.Skipped:
			status = "skipped"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			res.Filename, status, res.ProductName, res.Region, res.DocumentType, version, res.Error)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nRun %s: %d confirmed, %d failed, %d skipped (%s)\n",
		batch.RunID, batch.Confirmed, batch.Failed, batch.Skipped, batch.Status)
}
