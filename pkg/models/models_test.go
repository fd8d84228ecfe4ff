package models

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/checkpoint"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/metrics"
	"github.com/nzoschke/vak/pkg/transforms"
)

var testLabelmap = labels.ToMap([]string{"a", "b"}, true)

// toyBatch makes windows whose bin values encode the frame label, so the
// classes are separable from a single frame.
func toyBatch(rng *rand.Rand, n, bins, frames int) *dataset.Batch {
	b := &dataset.Batch{}
	for w := 0; w < n; w++ {
		x := mat.NewDense(bins, frames, nil)
		lbls := make([]int, frames)
		for t := 0; t < frames; t++ {
			l := (t / 4) % 3
			lbls[t] = l
			for k := 0; k < bins; k++ {
				v := rng.NormFloat64() * 0.1
				if k == l {
					v += 2
				}
				x.Set(k, t, v)
			}
		}
		b.Frames = append(b.Frames, x)
		b.Labels = append(b.Labels, lbls)
	}
	return b
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"FrameMLP", "ONNXFrameNet", "TeenyFrameMLP"}, Names())

	d, err := Get("FrameMLP")
	require.NoError(t, err)
	assert.Equal(t, 0.003, d.Defaults.Optimizer.LR)

	_, err = Get("TweetyNet")
	var uerr *UnknownModelError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "TweetyNet", uerr.Name)

	assert.Error(t, Register(d))

	var verr *check.ValueError
	assert.NoError(t, CheckDevice("FrameMLP", DeviceCPU))
	assert.ErrorAs(t, CheckDevice("FrameMLP", DeviceCUDA), &verr)
	assert.NoError(t, CheckDevice("ONNXFrameNet", DeviceCUDA))

	_, err = New("FrameMLP", Config{}, testLabelmap, 4, DeviceCUDA)
	assert.ErrorAs(t, err, &verr)
}

func TestConfigMerge(t *testing.T) {
	d, err := Get("FrameMLP")
	require.NoError(t, err)

	cfg := d.Defaults.Merge(Config{Optimizer: OptimizerConfig{LR: 0.1}, Seed: 3})
	assert.Equal(t, 0.1, cfg.Optimizer.LR)
	assert.Equal(t, 0.9, cfg.Optimizer.Beta1)
	assert.Equal(t, 64, cfg.Network.HiddenSize)
	assert.Equal(t, int64(3), cfg.Seed)
}

func TestMLP_GradientCheck(t *testing.T) {
	net, err := NewMLP(3, 1, 5, 3, 1)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	x := mat.NewDense(3, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 6; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}
	target := []int{0, 1, 2, 2, 1, 0}

	loss := func() float64 {
		acts, err := net.Forward(x)
		require.NoError(t, err)
		ce, err := metrics.CrossEntropy(Softmax(acts.Logits), target)
		require.NoError(t, err)
		return ce
	}

	acts, err := net.Forward(x)
	require.NoError(t, err)
	d := Softmax(acts.Logits)
	for i, y := range target {
		d.Set(i, y, d.At(i, y)-1)
	}
	d.Scale(1/float64(len(target)), d)
	require.NoError(t, net.Backward(acts, d))

	const h = 1e-5
	for _, p := range net.Params() {
		r, c := p.W.Dims()
		for i := 0; i < r; i += 2 {
			for j := 0; j < c; j += 2 {
				orig := p.W.At(i, j)
				p.W.Set(i, j, orig+h)
				up := loss()
				p.W.Set(i, j, orig-h)
				down := loss()
				p.W.Set(i, j, orig)
				assert.InDelta(t, (up-down)/(2*h), p.Grad.At(i, j), 1e-6, "%s[%d,%d]", p.Name, i, j)
			}
		}
	}

	_, err = net.Forward(mat.NewDense(4, 6, nil))
	assert.Error(t, err)
}

func TestTrainStep_Learns(t *testing.T) {
	m, err := New("TeenyFrameMLP", Config{Seed: 1}, testLabelmap, 4, DeviceCPU)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	first := math.Inf(1)
	var last float64
	for step := 0; step < 150; step++ {
		last, err = m.TrainStep(toyBatch(rng, 4, 4, 16))
		require.NoError(t, err)
		if step == 0 {
			first = last
		}
	}
	assert.Less(t, last, first/2)

	b := toyBatch(rng, 1, 4, 24)
	item := &dataset.FramesItem{
		Sample:    &dataset.Sample{ID: "x", Frames: b.Frames[0], Labels: b.Labels[0]},
		Windows:   dataset.PadToWindows(b.Frames[0], 16),
		NumFrames: 24,
	}
	res, err := m.EvalStep(item, 0.01, transforms.PostProcess{MinSegmentDur: 0.02, MajorityVote: true})
	require.NoError(t, err)
	assert.Greater(t, res[metrics.Acc], 0.9)
	for _, name := range metrics.Names {
		assert.Contains(t, res, name)
	}
	assert.Contains(t, res, metrics.Acc+metrics.TransformedSuffix)
	assert.Contains(t, res, metrics.SegmentErrorRate+metrics.TransformedSuffix)
}

func TestStateRoundTrip(t *testing.T) {
	m, err := New("TeenyFrameMLP", Config{Seed: 1}, testLabelmap, 4, DeviceCPU)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 5; i++ {
		_, err := m.TrainStep(toyBatch(rng, 2, 4, 8))
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), checkpoint.LatestName)
	_, err = checkpoint.Save(path, m.State(5, 1, Metrics{"val_acc": 0.5}))
	require.NoError(t, err)

	other, err := New("TeenyFrameMLP", Config{Seed: 99}, testLabelmap, 4, DeviceCPU)
	require.NoError(t, err)
	state, err := other.Restore(path)
	require.NoError(t, err)
	assert.Equal(t, 5, state.Step)
	assert.Equal(t, 5, other.opt.t)

	x := toyBatch(rng, 1, 4, 8).Frames
	want, err := m.PredictStep(x)
	require.NoError(t, err)
	got, err := other.PredictStep(x)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want[0], got[0], 1e-12))

	lm := labels.ToMap([]string{"a", "b", "c"}, true)
	wrong, err := New("TeenyFrameMLP", Config{}, lm, 4, DeviceCPU)
	require.NoError(t, err)
	_, err = wrong.Restore(path)
	assert.Error(t, err)
}

func TestONNXFrameNet_PredictOnly(t *testing.T) {
	m, err := New("ONNXFrameNet", Config{}, testLabelmap, 4, DeviceCPU)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.TrainStep(toyBatch(rand.New(rand.NewSource(1)), 1, 4, 8))
	assert.True(t, errors.Is(err, ErrPredictOnly))

	_, err = m.PredictStep([]*mat.Dense{mat.NewDense(4, 8, nil)})
	assert.Error(t, err)

	_, err = m.Restore(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}

func TestONNXModelInfo_Check(t *testing.T) {
	info := &ONNXModelInfo{
		Inputs:  []ort.InputOutputInfo{{Name: "input", Dimensions: ort.NewShape(1, 64, -1)}},
		Outputs: []ort.InputOutputInfo{{Name: "output", Dimensions: ort.NewShape(1, 4, -1)}},
	}
	assert.NoError(t, info.Check("input", "output"))

	err := info.Check("spect", "output")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[input]")

	assert.Error(t, info.Check("input", "logits"))

	info.Inputs[0].Dimensions = ort.NewShape(1, 64)
	assert.Error(t, info.Check("input", "output"))
}
