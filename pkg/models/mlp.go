package models

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MLP classifies each frame from the spectrogram columns around it with one
// ReLU hidden layer.
type MLP struct {
	bins    int
	context int
	w1, b1  *Param
	w2, b2  *Param
}

type mlpCache struct {
	x  *mat.Dense // frames × features
	z1 *mat.Dense // frames × hidden, before ReLU
	a1 *mat.Dense // frames × hidden
}

func newParam(name string, r, c int) *Param {
	return &Param{Name: name, W: mat.NewDense(r, c, nil), Grad: mat.NewDense(r, c, nil)}
}

// NewMLP returns an MLP with He-initialized weights drawn from seed.
func NewMLP(bins, context, hidden, classes int, seed int64) (*MLP, error) {
	if bins <= 0 || hidden <= 0 || classes <= 0 || context < 0 {
		return nil, fmt.Errorf("invalid MLP shape: bins=%d context=%d hidden=%d classes=%d", bins, context, hidden, classes)
	}

	features := bins * (2*context + 1)
	n := &MLP{
		bins:    bins,
		context: context,
		w1:      newParam("w1", features, hidden),
		b1:      newParam("b1", 1, hidden),
		w2:      newParam("w2", hidden, classes),
		b2:      newParam("b2", 1, classes),
	}

	rng := rand.New(rand.NewSource(seed))
	initNormal(n.w1.W, math.Sqrt(2/float64(features)), rng)
	initNormal(n.w2.W, math.Sqrt(1/float64(hidden)), rng)
	return n, nil
}

func initNormal(m *mat.Dense, std float64, rng *rand.Rand) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64()*std)
		}
	}
}

// Params returns the trainable parameters in a fixed order.
func (n *MLP) Params() []*Param {
	return []*Param{n.w1, n.b1, n.w2, n.b2}
}

// features stacks each frame with its neighbours, zero beyond the window edges.
func (n *MLP) features(x *mat.Dense) (*mat.Dense, error) {
	bins, frames := x.Dims()
	if bins != n.bins {
		return nil, fmt.Errorf("input has %d frequency bins, network expects %d", bins, n.bins)
	}

	width := 2*n.context + 1
	out := mat.NewDense(frames, bins*width, nil)
	for t := 0; t < frames; t++ {
		row := out.RawRowView(t)
		for k := 0; k < width; k++ {
			src := t + k - n.context
			if src < 0 || src >= frames {
				continue
			}
			for b := 0; b < bins; b++ {
				row[k*bins+b] = x.At(b, src)
			}
		}
	}
	return out, nil
}

func addRowVector(m *mat.Dense, v *mat.Dense) {
	r, _ := m.Dims()
	bias := v.RawRowView(0)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
}

func addColumnSums(dst *mat.Dense, m *mat.Dense) {
	r, _ := m.Dims()
	out := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
}

// Forward computes per-frame logits for one window.
func (n *MLP) Forward(x *mat.Dense) (*Activations, error) {
	feats, err := n.features(x)
	if err != nil {
		return nil, err
	}

	var z1 mat.Dense
	z1.Mul(feats, n.w1.W)
	addRowVector(&z1, n.b1.W)

	var a1 mat.Dense
	a1.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, &z1)

	var logits mat.Dense
	logits.Mul(&a1, n.w2.W)
	addRowVector(&logits, n.b2.W)

	return &Activations{Logits: &logits, cache: &mlpCache{x: feats, z1: &z1, a1: &a1}}, nil
}

// Backward accumulates gradients for one window.
func (n *MLP) Backward(a *Activations, dLogits *mat.Dense) error {
	c, ok := a.cache.(*mlpCache)
	if !ok {
		return fmt.Errorf("activations were not produced by this network")
	}

	var dw2 mat.Dense
	dw2.Mul(c.a1.T(), dLogits)
	n.w2.Grad.Add(n.w2.Grad, &dw2)
	addColumnSums(n.b2.Grad, dLogits)

	var dz1 mat.Dense
	dz1.Mul(dLogits, n.w2.W.T())
	dz1.Apply(func(i, j int, v float64) float64 {
		if c.z1.At(i, j) <= 0 {
			return 0
		}
		return v
	}, &dz1)

	var dw1 mat.Dense
	dw1.Mul(c.x.T(), &dz1)
	n.w1.Grad.Add(n.w1.Grad, &dw1)
	addColumnSums(n.b1.Grad, &dz1)
	return nil
}
