// Package workerpool implements a bounded worker pool that releases its
// results in submission order regardless of completion order, matching
// spec.md §4.2/§4.7's requirement that parallel layer fetch/push preserve
// apply order at the element boundary. Grounded on regclient's
// internal/pqueue + internal/throttle split (a priority queue paired with
// a concurrency throttle for blob operations); Occystrap's need is
// narrower — strict submission-order release, not arbitrary priority —
// so the two are merged into one cohesive package here.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task produces a result or an error. Tasks run on a bounded set of
// goroutines; Ordered stores each result at its task's index.
type Task func(ctx context.Context) (interface{}, error)

// Pool runs Tasks with at most Size concurrent in flight and exposes
// their results through Ordered, which yields them in submission order.
type Pool struct {
	size int
}

// New returns a Pool with the given worker count. A size <= 0 is treated
// as 1, matching spec.md §4.2's "default 4, configurable" worker count
// being always at least one worker.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size}
}

// Ordered fans tasks out across the pool and returns their results in the
// same order tasks were given, blocking until each is ready. This is the
// "small ordered channel" spec.md §4.2 describes for parking out-of-order
// downloads until they can be released in sequence.
func (p *Pool) Ordered(ctx context.Context, tasks []Task) ([]interface{}, error) {
	results := make([]interface{}, len(tasks))
	errs := make([]error, len(tasks))

	sem := make(chan struct{}, p.size)
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		i, task := i, task
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			// A failed task cancels gctx; report that task's own error
			// rather than the derived context error.
			_ = g.Wait()
			for _, err := range errs {
				if err != nil {
					return nil, err
				}
			}
			return nil, gctx.Err()
		}
		g.Go(func() error {
			defer func() { <-sem }()
			res, err := task(gctx)
			results[i] = res
			errs[i] = err
			return err
		})
	}

	// errgroup.Wait returns the first error encountered; the caller may
	// still want to inspect all results/errs for partial success, so we
	// surface the first non-nil error in submission order rather than
	// errgroup's goroutine-completion order.
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Each runs fn for every item with at most Size concurrent, ignoring
// return values; used where ordering doesn't matter (e.g. HEAD probes).
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	sem := make(chan struct{}, p.size)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			return gctx.Err()
		}
		g.Go(func() error {
			defer func() { <-sem }()
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
