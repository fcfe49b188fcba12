package strategy

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// JobResult pairs a request with its outcome. Err is set when the run
// failed; Result is then nil.
type JobResult struct {
	Request Request
	Result  *Result
	Err     error
}

// Batch runs independent requests in parallel. Every run builds its own
// policy, ledger and position manager, so runs share nothing mutable.
type Batch struct {
	bt      *Backtester
	workers int
}

// NewBatch creates a Batch running at most workers runs at once. A
// non-positive value uses GOMAXPROCS.
func NewBatch(bt *Backtester, workers int) *Batch {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Batch{bt: bt, workers: workers}
}

// Run executes reqs and returns results in request order. A failing run
// does not stop the others; only cancellation of ctx does.
func (b *Batch) Run(ctx context.Context, reqs []Request) ([]JobResult, error) {
	results := make([]JobResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.bt.Run(gctx, req)
			results[i] = JobResult{Request: req, Result: res, Err: err}
			if err != nil {
				b.bt.logger.Warn("batch run failed",
					"strategy", req.Strategy, "symbol", req.Symbol, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
