package backtest

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one independent replay.
type Job struct {
	Name           string
	Symbol         string
	Bars           []Bar
	InitialCapital float64
	Params         Params
}

// RunBatch replays jobs on up to workers goroutines. Results come back in
// job order. The first failure cancels the remaining jobs.
func RunBatch(ctx context.Context, jobs []Job, workers int, opts ...Option) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			r, err := Run(ctx, job.Symbol, job.Bars, job.InitialCapital, job.Params, opts...)
			if err != nil {
				return fmt.Errorf("job %d (%s): %w", i, job.Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Compare runs every parameter set over the same bars.
func Compare(ctx context.Context, symbol string, bars []Bar, initialCapital float64, sets map[string]Params, log *zap.Logger) ([]string, []Result, error) {
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, Job{Name: name, Symbol: symbol, Bars: bars, InitialCapital: initialCapital, Params: sets[name]})
	}
	results, err := RunBatch(ctx, jobs, 0, WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return names, results, nil
}
