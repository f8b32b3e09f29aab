package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/covid-loader/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent loads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListLoads(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No loads found.")
			return nil
		}

		formatLoadsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "max number of loads to display")
	rootCmd.AddCommand(statusCmd)
}

// formatLoadsList writes a tabular list of load runs to out.
func formatLoadsList(out io.Writer, runs []model.LoadRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tMODE\tSTATUS\tFACTS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t-----\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		facts := ""
		if r.Summary != nil {
			facts = fmt.Sprint(r.Summary.FactsWritten)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.File, 40),
			r.Mode,
			r.Status,
			facts,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(r.Error, 50),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
