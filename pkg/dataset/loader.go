package dataset

import (
	"context"
	"math/rand"
)

// LoaderOptions configure a Loader.
type LoaderOptions struct {
	BatchSize  int
	NumWorkers int
	Shuffle    bool
	Seed       int64
}

// Loader iterates a WindowDataset in batches. Workers build batches
// concurrently but batches are always delivered in order, so a run with a
// fixed seed sees the same sequence for any number of workers.
type Loader struct {
	ds   *WindowDataset
	opts LoaderOptions
	rng  *rand.Rand
}

// NewLoader returns a loader over ds.
func NewLoader(ds *WindowDataset, opts LoaderOptions) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Loader{ds: ds, opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}
}

// NumBatches returns the number of batches per epoch. The last batch may be short.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Loader) plan() [][]int {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var batches [][]int
	for start := 0; start < len(order); start += l.opts.BatchSize {
		batches = append(batches, order[start:min(start+l.opts.BatchSize, len(order))])
	}
	return batches
}

// Epoch calls fn with every batch of one pass over the dataset. It stops at
// the first error from fn or a worker, or when ctx is done.
func (l *Loader) Epoch(ctx context.Context, fn func(*Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batches := l.plan()
	return ForEachOrdered(ctx, len(batches), l.opts.NumWorkers,
		func(i int) (*Batch, error) { return l.ds.batch(batches[i]) },
		func(_ int, b *Batch) error { return fn(b) },
	)
}
