package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/labels"
)

const testFrameDur = 0.002

type fakeSample struct {
	split  string
	labels []int
}

// writeDataset writes samples with random 4-bin frames into a new dataset dir.
func writeDataset(t *testing.T, samples []fakeSample) string {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(1))

	var records []Record
	for i, s := range samples {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, s.split), 0755))
		stem := fmt.Sprintf("sample%02d", i)

		frames := mat.NewDense(4, len(s.labels), nil)
		for c, l := range s.labels {
			for r := 0; r < 4; r++ {
				frames.Set(r, c, float64(l)+rng.Float64())
			}
		}

		fp := filepath.Join(s.split, stem+FramesSuffix)
		lp := filepath.Join(s.split, stem+FrameLabelsSuffix)
		require.NoError(t, WriteFrames(filepath.Join(dir, fp), frames))
		require.NoError(t, WriteFrameLabels(filepath.Join(dir, lp), s.labels))

		records = append(records, Record{
			SpectPath:       "/audio/" + stem + ".wav.spect.npz",
			Split:           s.split,
			Duration:        float64(len(s.labels)) * testFrameDur,
			FramesPath:      fp,
			FrameLabelsPath: lp,
		})
	}

	meta := Metadata{DatasetCSVFilename: "data.csv", FrameDur: testFrameDur, HasUnlabeled: true}
	require.NoError(t, Create(dir, meta, labels.ToMap([]string{"a", "b"}, true), records))
	return dir
}

func seq(pattern []int, repeat int) []int {
	var out []int
	for _, l := range pattern {
		for i := 0; i < repeat; i++ {
			out = append(out, l)
		}
	}
	return out
}

func TestOpen(t *testing.T) {
	dir := writeDataset(t, []fakeSample{
		{SplitTrain, seq([]int{0, 1, 0, 2}, 10)},
		{SplitTrain, seq([]int{0, 2, 1}, 10)},
		{SplitVal, seq([]int{1, 2}, 5)},
	})

	ds, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, testFrameDur, ds.FrameDur())
	assert.Equal(t, []string{SplitTrain, SplitVal}, ds.Splits())
	assert.Len(t, ds.Split(SplitTrain), 2)
	assert.False(t, ds.HasSplit(SplitTest))
	assert.InDelta(t, 70*testFrameDur, ds.Duration(SplitTrain), 1e-9)
	assert.Equal(t, 3, ds.Labelmap().NumClasses())

	s, err := ds.Split(SplitVal)[0].Load(3)
	require.NoError(t, err)
	assert.Equal(t, "sample02", s.ID)
	assert.Equal(t, 10, s.NumFrames())
	assert.Equal(t, seq([]int{1, 2}, 5), s.Labels)

	_, err = ds.Split(SplitTrain)[0].Load(2)
	assert.Error(t, err, "label 2 is outside a 2 class map")

	_, err = Open(t.TempDir())
	assert.Error(t, err)
}

func TestWindowDataset(t *testing.T) {
	dir := writeDataset(t, []fakeSample{
		{SplitTrain, seq([]int{0, 1}, 10)}, // 20 frames
		{SplitTrain, seq([]int{2}, 5)},     // shorter than a window
		{SplitTrain, seq([]int{1, 2}, 8)},  // 16 frames
	})
	ds, err := Open(dir)
	require.NoError(t, err)

	wd, err := NewWindowDataset(ds.Split(SplitTrain), WindowOptions{WindowSize: 8, Stride: 4, NumClasses: 3, FrameDur: testFrameDur})
	require.NoError(t, err)

	// starts 0,4,8,12 in the first sample and 0,4,8 in the last
	assert.Equal(t, 7, wd.Len())
	assert.Equal(t, 3, wd.NumSamples())
	assert.InDelta(t, 41*testFrameDur, wd.Duration(), 1e-9)

	for i := 0; i < wd.Len(); i++ {
		w, err := wd.Get(i)
		require.NoError(t, err)
		r, c := w.Frames.Dims()
		assert.Equal(t, 4, r)
		assert.Equal(t, 8, c)
		assert.Len(t, w.Labels, 8)
		assert.NotEqual(t, "sample01", w.SampleID)
	}

	w, err := wd.Get(3)
	require.NoError(t, err)
	assert.Equal(t, 12, w.Start)
	assert.Equal(t, seq([]int{1}, 8), w.Labels)

	_, err = wd.Get(wd.Len())
	assert.Error(t, err)

	_, err = NewWindowDataset(ds.Split(SplitTrain), WindowOptions{WindowSize: 100, Stride: 1, NumClasses: 3})
	assert.Error(t, err)
}

func TestFramesDataset(t *testing.T) {
	dir := writeDataset(t, []fakeSample{{SplitTest, seq([]int{0, 1, 2}, 7)}})
	ds, err := Open(dir)
	require.NoError(t, err)

	fd, err := NewFramesDataset(ds.Split(SplitTest), FramesOptions{WindowSize: 8, NumClasses: 3})
	require.NoError(t, err)
	require.Equal(t, 1, fd.Len())

	item, err := fd.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 21, item.NumFrames)
	require.Len(t, item.Windows, 3)
	assert.Equal(t, item.Sample.Frames.At(2, 20), item.Windows[2].At(2, 4))
	assert.Equal(t, 0.0, item.Windows[2].At(0, 7))

	// per-window outputs are window size × classes
	outs := make([]*mat.Dense, len(item.Windows))
	for w := range outs {
		outs[w] = mat.NewDense(8, 3, nil)
		for r := 0; r < 8; r++ {
			outs[w].Set(r, 0, float64(w*8+r))
		}
	}
	probs := Unpad(outs, item.NumFrames)
	r, c := probs.Dims()
	assert.Equal(t, 21, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 20.0, probs.At(20, 0))
}

func TestLoader_Deterministic(t *testing.T) {
	dir := writeDataset(t, []fakeSample{
		{SplitTrain, seq([]int{0, 1, 2, 1}, 12)},
		{SplitTrain, seq([]int{2, 0, 1}, 12)},
	})
	ds, err := Open(dir)
	require.NoError(t, err)
	wd, err := NewWindowDataset(ds.Split(SplitTrain), WindowOptions{WindowSize: 8, Stride: 2, NumClasses: 3})
	require.NoError(t, err)

	collect := func(workers int) [][]int {
		l := NewLoader(wd, LoaderOptions{BatchSize: 3, NumWorkers: workers, Shuffle: true, Seed: 7})
		var got [][]int
		for epoch := 0; epoch < 2; epoch++ {
			err := l.Epoch(context.Background(), func(b *Batch) error {
				assert.LessOrEqual(t, b.Len(), 3)
				for _, lbls := range b.Labels {
					got = append(got, lbls)
				}
				return nil
			})
			require.NoError(t, err)
		}
		return got
	}

	serial := collect(0)
	assert.Len(t, serial, 2*wd.Len())
	assert.Equal(t, serial, collect(4))
	assert.Equal(t, serial, collect(1))
}

func TestLoader_StopsOnError(t *testing.T) {
	dir := writeDataset(t, []fakeSample{{SplitTrain, seq([]int{0, 1}, 40)}})
	ds, err := Open(dir)
	require.NoError(t, err)
	wd, err := NewWindowDataset(ds.Split(SplitTrain), WindowOptions{WindowSize: 4, Stride: 1, NumClasses: 3})
	require.NoError(t, err)

	stop := errors.New("stop")
	for _, workers := range []int{0, 3} {
		l := NewLoader(wd, LoaderOptions{BatchSize: 2, NumWorkers: workers})
		n := 0
		err := l.Epoch(context.Background(), func(b *Batch) error {
			n++
			if n == 3 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 3, n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(wd, LoaderOptions{BatchSize: 2, NumWorkers: 2})
	assert.Error(t, l.Epoch(ctx, func(*Batch) error { return nil }))
}

func TestSubsetByDuration(t *testing.T) {
	var samples []fakeSample
	for i := 0; i < 6; i++ {
		samples = append(samples, fakeSample{SplitTrain, seq([]int{0, 1, 0, 2, 0}, 10)})
	}
	dir := writeDataset(t, samples)
	ds, err := Open(dir)
	require.NoError(t, err)
	train := ds.Split(SplitTrain)

	subset, err := SubsetByDuration(train, testFrameDur, 0.13, ds.Labelmap(), 3, true)
	require.NoError(t, err)

	frames := 0
	for _, r := range subset {
		s, err := r.Load(3)
		require.NoError(t, err)
		frames += s.NumFrames()
	}
	assert.Equal(t, 65, frames)
	assert.Equal(t, 15, subset[len(subset)-1].CropFrames)

	again, err := SubsetByDuration(train, testFrameDur, 0.13, ds.Labelmap(), 3, true)
	require.NoError(t, err)
	assert.Equal(t, subset, again)

	path := filepath.Join(t.TempDir(), SubsetFilename)
	require.NoError(t, WriteRecords(path, subset))
	loaded, err := ReadRecords(path, dir)
	require.NoError(t, err)
	assert.Equal(t, subset, loaded)

	// the first 20 frames only hold labels 0 and 1
	_, err = SubsetByDuration(train, testFrameDur, 0.04, ds.Labelmap(), 3, false)
	var verr *check.ValueError
	assert.ErrorAs(t, err, &verr)

	_, err = SubsetByDuration(train, testFrameDur, 10, ds.Labelmap(), 3, true)
	assert.ErrorAs(t, err, &verr)
}

func TestStandardizeSpect(t *testing.T) {
	dir := writeDataset(t, []fakeSample{
		{SplitTrain, seq([]int{0, 1, 2}, 20)},
		{SplitTrain, seq([]int{2, 1}, 20)},
	})
	ds, err := Open(dir)
	require.NoError(t, err)

	scaler, err := FitStandardizeSpectRecords(ds.Split(SplitTrain))
	require.NoError(t, err)
	require.Len(t, scaler.Mean, 4)

	path := filepath.Join(t.TempDir(), StandardizeSpectFilename)
	require.NoError(t, scaler.Save(path))
	loaded, err := LoadStandardizeSpect(path)
	require.NoError(t, err)
	assert.Equal(t, scaler, loaded)

	var row []float64
	for _, r := range ds.Split(SplitTrain) {
		s, err := r.Load(0)
		require.NoError(t, err)
		row = append(row, loaded.Transform(s.Frames).RawRowView(1)...)
	}
	mean, std := stat.PopMeanStdDev(row, nil)
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, std, 1e-9)

	_, err = FitStandardizeSpect(nil)
	assert.Error(t, err)
}

func TestFramesDataset_Each(t *testing.T) {
	var samples []fakeSample
	for i := 0; i < 5; i++ {
		samples = append(samples, fakeSample{SplitTest, seq([]int{0, 1}, 3+i)})
	}
	ds, err := Open(writeDataset(t, samples))
	require.NoError(t, err)
	fd, err := NewFramesDataset(ds.Split(SplitTest), FramesOptions{WindowSize: 4, NumClasses: 3})
	require.NoError(t, err)

	for _, workers := range []int{0, 3} {
		var ids []string
		err := fd.Each(context.Background(), workers, func(i int, item *FramesItem) error {
			assert.Equal(t, 2*(3+i), item.NumFrames)
			ids = append(ids, item.Sample.ID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"sample00", "sample01", "sample02", "sample03", "sample04"}, ids)
	}
}
