// Package workerpool provides the bounded-concurrency fan-out primitive
// shared by stage 1 (line classification), stage 3 (entity extraction), and
// stage 4 (flow/reference extraction), per §5: "Parallel worker tasks with
// bounded concurrency ... capped by a semaphore whose default size is a
// stage-specific constant." It generalizes tarsy's pkg/queue worker-pool
// shape (goroutines dispatched under a cap, results joined by the
// dispatcher, no shared mutable state across workers) to a single in-process
// fan-out-and-join call rather than a long-lived daemon pool, since the
// pipeline's workers are per-invocation rather than per-process.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run executes fn once for each item in [0, n) under a semaphore capped at
// concurrency, per §5's "Suspension points ... only at outbound LLM/storage
// calls" — local work never yields, so this only matters for what the
// caller does inside fn. If ctx is cancelled, Run stops dispatching new
// work and returns as soon as in-flight calls complete, matching §5's
// cancellation contract. The first non-nil error is returned, but results
// should be collected into the caller-owned aggregator (passed by reference)
// exactly as §5 "Shared resources" allows — each worker writes only its own
// output into a per-index or per-key slot.
func Run(ctx context.Context, n, concurrency int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RunCollect is Run for callers that produce one result per item. Results
// are written to slot i of the returned slice regardless of completion
// order, satisfying §5's "No temporal ordering between concurrent worker
// results is exposed" by constructing a stable, index-addressed collection
// rather than an append-as-completed one. A per-item error is captured
// alongside its result rather than aborting the whole run — callers that
// want stage-level abort-on-error should inspect errs themselves; callers
// that want §4.1/§4.3/§4.4's "log and keep going with a safe default"
// policy should fold the error into fn's own zero-value result instead.
// Once ctx is cancelled no further items are dispatched; each item left
// undispatched keeps a zero result and carries ctx's error in errs.
func RunCollect[T any](ctx context.Context, n, concurrency int, fn func(ctx context.Context, i int) (T, error)) ([]T, []error) {
	results := make([]T, n)
	errs := make([]error, n)
	if n == 0 {
		return results, errs
	}
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			for ; i < n; i++ {
				errs[i] = err
			}
			break
		}
		i := i
		g.Go(func() error {
			r, err := fn(gctx, i)
			results[i] = r
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}
