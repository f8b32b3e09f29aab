// Package loader ingests wide-format extract files into narrow facts.
//
// Rows are processed strictly in order: group classification, the group-row
// counter and the repeated-value check all depend on the previous row, so a
// single file is never parallelized. Independent files may be loaded
// concurrently under append and new modes.
package loader

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/model"
	"github.com/sells-group/covid-loader/internal/notify"
	"github.com/sells-group/covid-loader/internal/store"
)

const (
	// DefaultProvider is the canonical daily-report provider id.
	DefaultProvider = "doe-covid19"
	// DefaultHospitalSentinel marks a facility header row in "other".
	DefaultHospitalSentinel = "HospitalName"
	// DefaultCountry fills files without a country column.
	DefaultCountry = "US"
)

// mandatoryColumns must appear in every file header.
var mandatoryColumns = []string{"access_time", "state"}

// optionalColumns are expected but often absent; they read as empty.
var optionalColumns = []string{
	"resolution", "no_longer_monitored", "page", "pending", "quarantined",
	"percent", "county", "other_value", "region",
}

// Store is the persistence the loader needs.
type Store interface {
	store.Dictionary
	store.GeoUnits
	store.Attributes
	store.Scrapes
	store.Facts
	store.LoadLog
}

// Options controls a single load.
type Options struct {
	Mode   model.Mode
	Ranges Ranges
	DryRun bool
}

// Loader ingests files into a Store.
type Loader struct {
	store           Store
	notifier        notify.Notifier
	log             *zap.Logger
	defaultProvider string
	sentinel        string
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. The caller owns its lifecycle.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// WithNotifier sets the collaborator told about structural failures.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Loader) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithDefaultProvider overrides DefaultProvider.
func WithDefaultProvider(p string) Option {
	return func(l *Loader) {
		if p != "" {
			l.defaultProvider = p
		}
	}
}

// WithHospitalSentinel overrides DefaultHospitalSentinel.
func WithHospitalSentinel(s string) Option {
	return func(l *Loader) {
		if s != "" {
			l.sentinel = s
		}
	}
}

// New creates a Loader.
func New(st Store, opts ...Option) *Loader {
	l := &Loader{
		store:           st,
		notifier:        notify.Nop{},
		log:             zap.NewNop(),
		defaultProvider: DefaultProvider,
		sentinel:        DefaultHospitalSentinel,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load ingests src, recorded under fname. The returned summary is non-nil
// even when err is not. Only structural problems are returned as errors;
// row-level problems are logged and counted.
func (l *Loader) Load(ctx context.Context, src RecordSource, fname string, opts Options) (*model.LoadSummary, error) {
	if opts.Mode == "" {
		opts.Mode = model.ModeAppend
	}
	sum := &model.LoadSummary{
		File:      fname,
		Mode:      opts.Mode,
		StartedAt: time.Now().UTC(),
	}
	log := l.log.With(zap.String("file", fname), zap.String("mode", string(opts.Mode)))
	log.Info("load started")

	if opts.DryRun {
		log.Info("dry run, nothing loaded")
		sum.DryRun = true
		sum.CompletedAt = time.Now().UTC()
		return sum, nil
	}

	runID, err := l.store.StartLoad(ctx, fname, opts.Mode)
	if err != nil {
		sum.CompletedAt = time.Now().UTC()
		sum.Error = err.Error()
		return sum, eris.Wrapf(err, "loader: start load of %s", fname)
	}

	r := &run{
		l:        l,
		file:     fname,
		ranges:   opts.Ranges,
		log:      log,
		sum:      sum,
		geoUnits: make(map[string]bool),
		attrs:    make(map[string]bool),
	}
	err = r.load(ctx, src, opts.Mode)
	sum.CompletedAt = time.Now().UTC()

	if err != nil {
		sum.Error = err.Error()
		log.Error("load failed", zap.Error(err), zap.Duration("elapsed", sum.Elapsed()))
		if logErr := l.store.FailLoad(ctx, runID, err.Error(), sum); logErr != nil {
			log.Error("failed to record load failure", zap.Error(logErr))
		}
		l.alert(ctx, err, sum)
		return sum, err
	}

	if err := l.store.CompleteLoad(ctx, runID, sum); err != nil {
		log.Error("failed to record load completion", zap.Error(err))
	}
	log.Info("load completed",
		zap.Int("rows_read", sum.RowsRead),
		zap.Int("rows_loaded", sum.RowsLoaded),
		zap.Int("rows_skipped", sum.RowsSkipped),
		zap.Int("facts", sum.FactsWritten),
		zap.Int("mismatches", sum.Mismatches),
		zap.Duration("elapsed", sum.Elapsed()),
	)
	return sum, nil
}

// alert notifies about the failures that warrant a human: a structurally
// broken file or an unhandled classification case.
func (l *Loader) alert(ctx context.Context, err error, sum *model.LoadSummary) {
	var (
		fatal *FatalFileError
		bug   *UnknownGroupError
		a     notify.Alert
	)
	switch {
	case errors.As(err, &fatal):
		a = notify.Alert{
			Type:     notify.AlertStructuralFailure,
			Severity: "high",
			Message:  err.Error(),
			Details:  map[string]any{"file": fatal.File, "column": fatal.Column},
		}
	case errors.As(err, &bug):
		a = notify.Alert{
			Type:     notify.AlertLoaderBug,
			Severity: "critical",
			Message:  err.Error(),
			Details:  map[string]any{"file": bug.File, "row": bug.Row, "group": bug.Group.String()},
		}
	default:
		return
	}
	a.Details["rows_read"] = sum.RowsRead
	a.Timestamp = time.Now().UTC()
	if nerr := l.notifier.Notify(ctx, a); nerr != nil {
		l.log.Error("failed to send alert", zap.String("type", string(a.Type)), zap.Error(nerr))
	}
}

// run carries the per-file context that does not change from row to row.
type run struct {
	l      *Loader
	file   string
	ranges Ranges
	log    *zap.Logger
	sum    *model.LoadSummary

	// geoUnits and attrs memoize dictionary entries already ensured during
	// this load.
	geoUnits map[string]bool
	attrs    map[string]bool
}

func (r *run) load(ctx context.Context, src RecordSource, mode model.Mode) error {
	switch mode {
	case model.ModeReplace:
		if err := r.removePrevious(ctx); err != nil {
			return err
		}
	case model.ModeNew:
		n, err := r.l.store.CountScrapesByFile(ctx, r.file)
		if err != nil {
			return eris.Wrapf(err, "loader: check %s already loaded", r.file)
		}
		if n > 0 {
			r.log.Info("already loaded, skipping", zap.Int64("scrapes", n))
			r.sum.AlreadyLoaded = true
			return nil
		}
	case model.ModeAppend:
	default:
		return eris.Errorf("loader: unknown load mode %q", mode)
	}

	cols := normalizeHeader(src.Header())
	if err := r.checkHeader(cols); err != nil {
		return err
	}

	st := State{}
	for rowNo := 0; ; rowNo++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "loader: %s interrupted at row %d", r.file, rowNo)
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "loader: read %s row %d", r.file, rowNo)
		}
		r.sum.RowsRead++

		var out outcome
		st, out, err = r.step(ctx, st, newRow(cols, rec), rowNo)
		if err != nil {
			return err
		}
		switch out {
		case outcomeLoaded:
			r.sum.RowsLoaded++
		case outcomeSkipped:
			r.sum.RowsSkipped++
		case outcomeStop:
			r.sum.RowsSkipped++
			r.log.Info("row ranges exhausted, rest of file skipped", zap.Int("row", rowNo))
			return nil
		}
	}
}

// removePrevious deletes facts and scrapes from an earlier load of the same
// file. The fact count is read before and after the delete, so it is only
// exact when no other load runs at the same time.
func (r *run) removePrevious(ctx context.Context) error {
	before, err := r.l.store.CountFacts(ctx)
	if err != nil {
		return eris.Wrap(err, "loader: count facts before replace")
	}
	_, scrapes, err := r.l.store.DeleteByFile(ctx, r.file)
	if err != nil {
		return eris.Wrapf(err, "loader: remove previous load of %s", r.file)
	}
	after, err := r.l.store.CountFacts(ctx)
	if err != nil {
		return eris.Wrap(err, "loader: count facts after replace")
	}
	r.sum.FactsDeleted = before - after
	r.sum.ScrapesDeleted = scrapes
	r.log.Info("removed facts previously loaded from this file",
		zap.Int64("facts", r.sum.FactsDeleted),
		zap.Int64("scrapes", scrapes),
	)
	return nil
}

func (r *run) checkHeader(cols []string) error {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	for _, c := range mandatoryColumns {
		if !present[c] {
			return &FatalFileError{File: r.file, Column: c}
		}
	}
	for _, c := range optionalColumns {
		if !present[c] {
			r.sum.MissingColumns = append(r.sum.MissingColumns, c)
		}
	}
	if len(r.sum.MissingColumns) > 0 {
		r.log.Warn("missing columns", zap.Strings("columns", r.sum.MissingColumns))
	}
	return nil
}

// warn logs a recoverable row problem and counts it.
func (r *run) warn(rowNo int, reason string, fields ...zap.Field) {
	r.sum.Warnings++
	r.log.Warn(reason, append([]zap.Field{zap.Int("row", rowNo), zap.String("reason", reason)}, fields...)...)
}
