package dataset

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Transform maps a frequency bins × frames matrix to a new one.
type Transform func(*mat.Dense) *mat.Dense

// Window is a fixed-size slice of one sample.
type Window struct {
	SampleID string
	Start    int
	Frames   *mat.Dense // frequency bins × window size
	Labels   []int
}

// Batch is a group of windows for one training step.
type Batch struct {
	Frames []*mat.Dense
	Labels [][]int
}

// Len returns the number of windows in the batch.
func (b *Batch) Len() int {
	return len(b.Frames)
}

// WindowOptions configure a WindowDataset.
type WindowOptions struct {
	WindowSize int
	Stride     int
	NumClasses int
	FrameDur   float64
	Transform  Transform
}

type windowRef struct {
	sample int
	start  int
}

// WindowDataset serves fixed-size windows for training. Windows never cross
// sample boundaries; samples shorter than one window contribute none.
type WindowDataset struct {
	opts    WindowOptions
	samples []*Sample
	windows []windowRef
	frames  int
}

// NewWindowDataset loads records and indexes their windows.
func NewWindowDataset(records []Record, opts WindowOptions) (*WindowDataset, error) {
	if opts.WindowSize <= 0 {
		return nil, errors.Errorf("window_size must be positive, got %d", opts.WindowSize)
	}
	if opts.Stride <= 0 {
		opts.Stride = 1
	}

	ds := &WindowDataset{opts: opts}
	for _, r := range records {
		s, err := r.Load(opts.NumClasses)
		if err != nil {
			return nil, err
		}
		if s.Labels == nil {
			return nil, errors.Errorf("sample %s has no frame labels", s.ID)
		}

		idx := len(ds.samples)
		ds.samples = append(ds.samples, s)
		n := s.NumFrames()
		ds.frames += n
		for start := 0; start+opts.WindowSize <= n; start += opts.Stride {
			ds.windows = append(ds.windows, windowRef{sample: idx, start: start})
		}
	}
	if len(ds.windows) == 0 {
		return nil, errors.Errorf("no sample has at least window_size=%d frames", opts.WindowSize)
	}
	return ds, nil
}

// Len returns the number of windows.
func (d *WindowDataset) Len() int {
	return len(d.windows)
}

// NumSamples returns the number of samples indexed.
func (d *WindowDataset) NumSamples() int {
	return len(d.samples)
}

// Bins returns the number of frequency bins per frame.
func (d *WindowDataset) Bins() int {
	r, _ := d.samples[0].Frames.Dims()
	return r
}

// Duration returns the total duration of the indexed samples in seconds.
func (d *WindowDataset) Duration() float64 {
	return float64(d.frames) * d.opts.FrameDur
}

// Get returns window i with the transform applied.
func (d *WindowDataset) Get(i int) (*Window, error) {
	if i < 0 || i >= len(d.windows) {
		return nil, errors.Errorf("window index %d out of range [0, %d)", i, len(d.windows))
	}

	ref := d.windows[i]
	s := d.samples[ref.sample]
	rows, _ := s.Frames.Dims()
	end := ref.start + d.opts.WindowSize

	frames := mat.DenseCopyOf(s.Frames.Slice(0, rows, ref.start, end))
	if d.opts.Transform != nil {
		frames = d.opts.Transform(frames)
	}

	return &Window{
		SampleID: s.ID,
		Start:    ref.start,
		Frames:   frames,
		Labels:   append([]int(nil), s.Labels[ref.start:end]...),
	}, nil
}

func (d *WindowDataset) batch(indices []int) (*Batch, error) {
	b := &Batch{
		Frames: make([]*mat.Dense, len(indices)),
		Labels: make([][]int, len(indices)),
	}
	for j, i := range indices {
		w, err := d.Get(i)
		if err != nil {
			return nil, err
		}
		b.Frames[j] = w.Frames
		b.Labels[j] = w.Labels
	}
	return b, nil
}
