package dataset

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FramesOptions configure a FramesDataset.
type FramesOptions struct {
	WindowSize int
	NumClasses int
	Transform  Transform
}

// FramesItem is a whole sample cut into padded windows.
type FramesItem struct {
	Sample    *Sample
	Windows   []*mat.Dense // frequency bins × window size, last one zero padded
	NumFrames int          // frames before padding
}

// FramesDataset serves whole samples for evaluation and prediction.
type FramesDataset struct {
	opts    FramesOptions
	records []Record
}

// NewFramesDataset indexes records without loading them.
func NewFramesDataset(records []Record, opts FramesOptions) (*FramesDataset, error) {
	if opts.WindowSize <= 0 {
		return nil, errors.Errorf("window_size must be positive, got %d", opts.WindowSize)
	}
	return &FramesDataset{opts: opts, records: records}, nil
}

// Len returns the number of samples.
func (d *FramesDataset) Len() int {
	return len(d.records)
}

// Record returns the csv row of sample i.
func (d *FramesDataset) Record(i int) Record {
	return d.records[i]
}

// Get loads sample i, applies the transform and splits it into windows.
func (d *FramesDataset) Get(i int) (*FramesItem, error) {
	if i < 0 || i >= len(d.records) {
		return nil, errors.Errorf("sample index %d out of range [0, %d)", i, len(d.records))
	}

	s, err := d.records[i].Load(d.opts.NumClasses)
	if err != nil {
		return nil, err
	}

	frames := s.Frames
	if d.opts.Transform != nil {
		frames = d.opts.Transform(mat.DenseCopyOf(frames))
	}

	return &FramesItem{
		Sample:    s,
		Windows:   PadToWindows(frames, d.opts.WindowSize),
		NumFrames: s.NumFrames(),
	}, nil
}

// Each calls fn with every sample in order, loading up to numWorkers ahead.
func (d *FramesDataset) Each(ctx context.Context, numWorkers int, fn func(i int, item *FramesItem) error) error {
	return ForEachOrdered(ctx, d.Len(), numWorkers, d.Get, fn)
}

// PadToWindows zero pads frames to a multiple of windowSize and splits them
// into windows.
func PadToWindows(frames *mat.Dense, windowSize int) []*mat.Dense {
	rows, cols := frames.Dims()
	n := (cols + windowSize - 1) / windowSize
	if n == 0 {
		n = 1
	}

	out := make([]*mat.Dense, n)
	for w := 0; w < n; w++ {
		win := mat.NewDense(rows, windowSize, nil)
		start := w * windowSize
		end := min(start+windowSize, cols)
		if end > start {
			win.Slice(0, rows, 0, end-start).(*mat.Dense).Copy(frames.Slice(0, rows, start, end))
		}
		out[w] = win
	}
	return out
}

// Unpad stacks per-window outputs (window size × classes) and crops the
// padding, returning numFrames × classes.
func Unpad(outputs []*mat.Dense, numFrames int) *mat.Dense {
	if len(outputs) == 0 {
		return nil
	}
	_, k := outputs[0].Dims()
	out := mat.NewDense(numFrames, k, nil)
	row := 0
	for _, o := range outputs {
		r, _ := o.Dims()
		for i := 0; i < r && row < numFrames; i++ {
			out.SetRow(row, o.RawRowView(i))
			row++
		}
	}
	return out
}
