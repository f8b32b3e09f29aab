package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/covid-loader/internal/fetcher"
	"github.com/sells-group/covid-loader/internal/loader"
	"github.com/sells-group/covid-loader/internal/model"
)

// loadFlags are the load command flags. Zero values defer to config.
type loadFlags struct {
	mode        string
	rows        string
	concurrency int
	dryRun      bool
	output      string
}

var loadOpts loadFlags

var loadCmd = &cobra.Command{
	Use:   "load <path|url>...",
	Short: "Load extract files",
	Long:  "Loads CSV, XLSX and ZIP extracts from local paths or http(s)/ftp URLs and prints a summary per file.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("load"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runLoad(ctx, os.Stdout, newLoader(st), args, loadOpts)
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadOpts.mode, "mode", "", "load mode: append, new or replace (default from config)")
	loadCmd.Flags().StringVar(&loadOpts.rows, "rows", "", "zero-based data row ranges to load, e.g. 3,10-20")
	loadCmd.Flags().IntVar(&loadOpts.concurrency, "concurrency", 0, "files loaded at once (default from config)")
	loadCmd.Flags().BoolVar(&loadOpts.dryRun, "dry-run", false, "resolve inputs without writing anything")
	loadCmd.Flags().StringVarP(&loadOpts.output, "output", "o", "table", "summary format: table, yaml or json")
	rootCmd.AddCommand(loadCmd)
}

// runLoad resolves targets, loads them and writes the summaries to out. The
// summaries are written even when some files fail.
func runLoad(ctx context.Context, out io.Writer, l *loader.Loader, targets []string, f loadFlags) error {
	mode := cfg.Loader.Mode
	if f.mode != "" {
		mode = f.mode
	}
	m, err := model.ParseMode(mode)
	if err != nil {
		return err
	}
	ranges, err := loader.ParseRanges(f.rows)
	if err != nil {
		return err
	}
	concurrency := cfg.Loader.Concurrency
	if f.concurrency > 0 {
		concurrency = f.concurrency
	}

	inputs, cleanup, err := openTargets(ctx, targets, concurrency)
	defer cleanup()
	if err != nil {
		return err
	}

	opts := loader.Options{Mode: m, Ranges: ranges, DryRun: f.dryRun || cfg.Loader.DryRun}
	zap.L().Info("loading inputs",
		zap.Int("inputs", len(inputs)),
		zap.String("mode", string(m)),
		zap.Stringer("rows", ranges),
		zap.Int("concurrency", concurrency),
	)

	sums, loadErr := l.LoadAll(ctx, inputs, opts, concurrency)
	if err := writeSummaries(out, sums, f.output); err != nil {
		return err
	}
	if loadErr != nil {
		return eris.Wrap(loadErr, "load")
	}
	return nil
}

// openTargets resolves every target into inputs, downloading remote ones
// concurrently. Inputs keep the order of targets.
func openTargets(ctx context.Context, targets []string, concurrency int) ([]loader.Input, func(), error) {
	resolved := make([][]loader.Input, len(targets))
	cleanups := make([]func(), len(targets))
	cleanup := func() {
		for _, c := range cleanups {
			if c != nil {
				c()
			}
		}
	}

	oo := openOptions()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i, t := range targets {
		g.Go(func() error {
			in, c, err := fetcher.Open(gctx, t, oo)
			cleanups[i] = c
			if err != nil {
				return eris.Wrapf(err, "open %s", t)
			}
			resolved[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, cleanup, err
	}

	var inputs []loader.Input
	for _, in := range resolved {
		inputs = append(inputs, in...)
	}
	return inputs, cleanup, nil
}

// writeSummaries renders summaries as a table, YAML or JSON.
func writeSummaries(out io.Writer, sums []*model.LoadSummary, format string) error {
	switch format {
	case "", "table":
		formatSummaryTable(out, sums)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(sums), "encode summaries")
	case "yaml":
		b, err := yaml.Marshal(sums)
		if err != nil {
			return eris.Wrap(err, "encode summaries")
		}
		_, err = out.Write(b)
		return eris.Wrap(err, "write summaries")
	default:
		return eris.Errorf("unknown output format %q (table, yaml, json)", format)
	}
}

func formatSummaryTable(out io.Writer, sums []*model.LoadSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tMODE\tSTATUS\tREAD\tLOADED\tSKIPPED\tFACTS\tMISMATCHES\tWARNINGS\tELAPSED")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t----\t------\t-------\t-----\t----------\t--------\t-------")
	for _, s := range sums {
		if s == nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.File, s.Mode, s.Outcome(),
			s.RowsRead, s.RowsLoaded, s.RowsSkipped, s.FactsWritten, s.Mismatches, s.Warnings,
			s.Elapsed().Round(time.Millisecond),
		)
	}
	_ = w.Flush()
}
