package models

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrPredictOnly is returned when training a network that cannot be trained.
var ErrPredictOnly = errors.New("network supports prediction only")

// Param is a trainable matrix and its accumulated gradient.
type Param struct {
	Name string
	W    *mat.Dense
	Grad *mat.Dense
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Activations is the result of a forward pass over one window. The cached
// state is only meaningful to the network that produced it.
type Activations struct {
	Logits *mat.Dense // frames × classes
	cache  any
}

// Network maps one window (frequency bins × frames) to per-frame class logits.
type Network interface {
	Forward(x *mat.Dense) (*Activations, error)
	// Backward accumulates parameter gradients given the gradient of the loss
	// with respect to a.Logits.
	Backward(a *Activations, dLogits *mat.Dense) error
	Params() []*Param
}

// FileLoader is implemented by networks whose weights come from a model file
// rather than a checkpoint.
type FileLoader interface {
	LoadFile(path string) error
	Close() error
}

// Softmax returns row-wise softmax probabilities.
func Softmax(logits *mat.Dense) *mat.Dense {
	r, c := logits.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := logits.RawRowView(i)
		hi := row[0]
		for _, v := range row {
			if v > hi {
				hi = v
			}
		}
		dst := out.RawRowView(i)
		var sum float64
		for j, v := range row {
			dst[j] = math.Exp(v - hi)
			sum += dst[j]
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	return out
}
