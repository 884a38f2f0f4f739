package delegation

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"automatosx/internal/errs"
)

// ParallelOptions tune a batch of concurrent delegations.
type ParallelOptions struct {
	MaxConcurrent     int  // bound on simultaneous children (default 4)
	ContinueOnFailure bool // gather all results even when some fail
}

// ParallelOutcome pairs each request with its result or error, in request
// order.
type ParallelOutcome struct {
	Request Request
	Result  *Result
	Err     error
}

// DelegateParallel runs independent delegations concurrently. Each child
// gets its own cloned chain via Delegate. Without ContinueOnFailure the
// first error cancels the remaining children; with it, all children run
// and per-child errors are collected in the outcomes.
func (e *Engine) DelegateParallel(ctx context.Context, reqs []Request, opts ParallelOptions) ([]ParallelOutcome, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}

	outcomes := make([]ParallelOutcome, len(reqs))
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))

	if opts.ContinueOnFailure {
		var wg sync.WaitGroup
		for i, req := range reqs {
			outcomes[i].Request = req
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					outcomes[i].Err = err
					return
				}
				defer sem.Release(1)
				outcomes[i].Result, outcomes[i].Err = e.Delegate(ctx, req)
			}()
		}
		wg.Wait()

		var firstErr error
		for _, o := range outcomes {
			if o.Err != nil {
				firstErr = o.Err
				break
			}
		}
		if firstErr != nil {
			return outcomes, errs.Wrap(errs.CodeDelegationExecutionFailed,
				"one or more parallel delegations failed", firstErr)
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		outcomes[i].Request = req
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes[i].Err = err
				return err
			}
			defer sem.Release(1)
			outcomes[i].Result, outcomes[i].Err = e.Delegate(gctx, req)
			return outcomes[i].Err
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
