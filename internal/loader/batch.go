package loader

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/covid-loader/internal/model"
)

// Input is a named record source.
type Input struct {
	Name   string
	Source RecordSource
}

// LoadAll loads independent inputs with up to concurrency files in flight.
// Replace mode is never run concurrently. A failing file does not stop the
// others; summaries are returned in input order along with every error
// joined.
func (l *Loader) LoadAll(ctx context.Context, inputs []Input, opts Options, concurrency int) ([]*model.LoadSummary, error) {
	if concurrency < 1 || opts.Mode == model.ModeReplace {
		concurrency = 1
	}

	summaries := make([]*model.LoadSummary, len(inputs))
	errs := make([]error, len(inputs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			summaries[i], errs[i] = l.Load(ctx, in.Source, in.Name, opts)
			return nil
		})
	}
	_ = g.Wait()

	return summaries, errors.Join(errs...)
}
