package dataset

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEachOrdered loads items 0..n-1 on up to workers goroutines and calls fn
// with each in index order from a single goroutine. With workers <= 1 it runs
// serially. It stops at the first error or when ctx is done.
func ForEachOrdered[T any](ctx context.Context, n, workers int, load func(int) (T, error), fn func(int, T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := load(i)
			if err != nil {
				return err
			}
			if err := fn(i, v); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan int)
	results := make([]chan T, n)
	for i := range results {
		results[i] = make(chan T, 1)
	}
	// bounds items loaded ahead of fn
	sem := make(chan struct{}, 2*workers)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				v, err := load(i)
				if err != nil {
					return err
				}
				results[i] <- v
			}
			return nil
		})
	}

	g.Go(func() error {
		for i := 0; i < n; i++ {
			var v T
			select {
			case v = <-results[i]:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := fn(i, v); err != nil {
				return err
			}
			<-sem
		}
		return nil
	})

	return g.Wait()
}
