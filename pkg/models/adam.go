package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/vak/pkg/checkpoint"
)

// Adam implements the Adam optimizer with optional L2 weight decay.
type Adam struct {
	cfg OptimizerConfig
	t   int
	m   []*mat.Dense
	v   []*mat.Dense
}

// NewAdam returns an optimizer for params.
func NewAdam(cfg OptimizerConfig, params []*Param) *Adam {
	a := &Adam{cfg: cfg}
	for _, p := range params {
		r, c := p.W.Dims()
		a.m = append(a.m, mat.NewDense(r, c, nil))
		a.v = append(a.v, mat.NewDense(r, c, nil))
	}
	return a
}

// Step applies one update from the accumulated gradients and clears them.
func (a *Adam) Step(params []*Param) {
	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	c1 := 1 - math.Pow(b1, float64(a.t))
	c2 := 1 - math.Pow(b2, float64(a.t))

	for i, p := range params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[i].RawMatrix().Data
		v := a.v[i].RawMatrix().Data
		for j := range w {
			grad := g[j] + a.cfg.WeightDecay*w[j]
			m[j] = b1*m[j] + (1-b1)*grad
			v[j] = b2*v[j] + (1-b2)*grad*grad
			w[j] -= a.cfg.LR * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.cfg.Eps)
		}
		p.ZeroGrad()
	}
}

// State returns the optimizer moments for a checkpoint.
func (a *Adam) State(params []*Param) checkpoint.OptimizerState {
	s := checkpoint.OptimizerState{Kind: "adam", T: a.t}
	for i, p := range params {
		s.M = append(s.M, toCheckpointParam(p.Name, a.m[i]))
		s.V = append(s.V, toCheckpointParam(p.Name, a.v[i]))
	}
	return s
}

// Restore loads moments saved by State.
func (a *Adam) Restore(s checkpoint.OptimizerState) error {
	if s.Kind != "adam" {
		return fmt.Errorf("checkpoint optimizer is %q, expected adam", s.Kind)
	}
	if len(s.M) != len(a.m) || len(s.V) != len(a.v) {
		return fmt.Errorf("checkpoint has %d optimizer moments, expected %d", len(s.M), len(a.m))
	}
	for i := range a.m {
		if err := fromCheckpointParam(a.m[i], s.M[i]); err != nil {
			return err
		}
		if err := fromCheckpointParam(a.v[i], s.V[i]); err != nil {
			return err
		}
	}
	a.t = s.T
	return nil
}

func toCheckpointParam(name string, m *mat.Dense) checkpoint.Param {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return checkpoint.Param{Name: name, Rows: r, Cols: c, Data: data}
}

func fromCheckpointParam(dst *mat.Dense, p checkpoint.Param) error {
	r, c := dst.Dims()
	if p.Rows != r || p.Cols != c || len(p.Data) != r*c {
		return fmt.Errorf("checkpoint param %s is %dx%d, expected %dx%d", p.Name, p.Rows, p.Cols, r, c)
	}
	dst.Copy(mat.NewDense(r, c, p.Data))
	return nil
}
