package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/vak/pkg/checkpoint"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/metrics"
	"github.com/nzoschke/vak/pkg/transforms"
)

// Metrics maps metric names to values.
type Metrics map[string]float64

// Model is what the training, evaluation and prediction loops need from a
// model.
type Model interface {
	Name() string
	NumClasses() int
	TrainStep(b *dataset.Batch) (float64, error)
	EvalStep(item *dataset.FramesItem, frameDur float64, pp transforms.PostProcess) (Metrics, error)
	PredictStep(windows []*mat.Dense) ([]*mat.Dense, error)
	State(step, epoch int, m Metrics) *checkpoint.State
	Restore(path string) (*checkpoint.State, error)
}

// WindowedFrameClassificationModel trains a network on fixed-size windows with
// per-frame cross entropy and evaluates on whole padded samples.
type WindowedFrameClassificationModel struct {
	def       Definition
	cfg       Config
	net       Network
	opt       *Adam
	labelmap  labels.Map
	unlabeled int
}

var _ Model = (*WindowedFrameClassificationModel)(nil)

func newWindowed(d Definition, cfg Config, net Network, lm labels.Map) *WindowedFrameClassificationModel {
	m := &WindowedFrameClassificationModel{def: d, cfg: cfg, net: net, labelmap: lm, unlabeled: transforms.NoUnlabeled}
	if id, ok := lm.UnlabeledID(); ok {
		m.unlabeled = id
	}
	if d.Trainable {
		m.opt = NewAdam(cfg.Optimizer, net.Params())
	}
	return m
}

// Name returns the registered model name.
func (m *WindowedFrameClassificationModel) Name() string {
	return m.def.Name
}

// NumClasses returns the number of output classes.
func (m *WindowedFrameClassificationModel) NumClasses() int {
	return m.labelmap.NumClasses()
}

// Config returns the merged config the model was built with.
func (m *WindowedFrameClassificationModel) Config() Config {
	return m.cfg
}

// Unlabeled returns the background class id, or transforms.NoUnlabeled.
func (m *WindowedFrameClassificationModel) Unlabeled() int {
	return m.unlabeled
}

// TrainStep runs forward and backward over a batch and updates the weights.
// It returns the mean per-frame loss.
func (m *WindowedFrameClassificationModel) TrainStep(b *dataset.Batch) (float64, error) {
	if m.opt == nil {
		return 0, fmt.Errorf("%s: %w", m.Name(), ErrPredictOnly)
	}

	frames := 0
	for _, l := range b.Labels {
		frames += len(l)
	}
	if frames == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	scale := 1 / float64(frames)

	var loss float64
	for i, x := range b.Frames {
		acts, err := m.net.Forward(x)
		if err != nil {
			return 0, err
		}
		probs := Softmax(acts.Logits)
		ce, err := metrics.CrossEntropy(probs, b.Labels[i])
		if err != nil {
			return 0, err
		}
		loss += ce * float64(len(b.Labels[i]))

		// d(mean CE)/d(logits) = (p - onehot) / N
		for t, y := range b.Labels[i] {
			probs.Set(t, y, probs.At(t, y)-1)
		}
		probs.Scale(scale, probs)
		if err := m.net.Backward(acts, probs); err != nil {
			return 0, err
		}
	}

	m.opt.Step(m.net.Params())
	return loss * scale, nil
}

// PredictStep returns per-frame class probabilities (frames × classes) for
// each window.
func (m *WindowedFrameClassificationModel) PredictStep(windows []*mat.Dense) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(windows))
	for i, x := range windows {
		acts, err := m.net.Forward(x)
		if err != nil {
			return nil, err
		}
		out[i] = Softmax(acts.Logits)
	}
	return out, nil
}

// EvalStep scores one whole sample. With post-processing enabled the metrics
// are also reported on the cleaned labels with a _tfm suffix.
func (m *WindowedFrameClassificationModel) EvalStep(item *dataset.FramesItem, frameDur float64, pp transforms.PostProcess) (Metrics, error) {
	target := item.Sample.Labels
	if target == nil {
		return nil, fmt.Errorf("sample %s has no frame labels", item.Sample.ID)
	}

	outs, err := m.PredictStep(item.Windows)
	if err != nil {
		return nil, err
	}
	probs := dataset.Unpad(outs, item.NumFrames)

	loss, err := metrics.CrossEntropy(probs, target)
	if err != nil {
		return nil, err
	}
	pred := metrics.Argmax(probs)

	result := Metrics{metrics.Loss: loss}
	if err := m.score(result, pred, target, ""); err != nil {
		return nil, err
	}
	if pp.Enabled() {
		tfm := pp.Apply(pred, frameDur, m.unlabeled)
		if err := m.score(result, tfm, target, metrics.TransformedSuffix); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *WindowedFrameClassificationModel) score(out Metrics, pred, target []int, suffix string) error {
	acc, err := metrics.Accuracy(pred, target)
	if err != nil {
		return err
	}
	predSeq := transforms.ToLabelSeq(pred, m.unlabeled)
	targetSeq := transforms.ToLabelSeq(target, m.unlabeled)

	out[metrics.Acc+suffix] = acc
	out[metrics.Levenshtein+suffix] = float64(metrics.EditDistance(predSeq, targetSeq))
	out[metrics.SegmentErrorRate+suffix] = metrics.SegmentErrorRateOf(predSeq, targetSeq)
	return nil
}

// State snapshots weights and optimizer moments.
func (m *WindowedFrameClassificationModel) State(step, epoch int, vals Metrics) *checkpoint.State {
	s := &checkpoint.State{
		Model:      m.Name(),
		NumClasses: m.NumClasses(),
		Step:       step,
		Epoch:      epoch,
		Metrics:    vals,
	}
	params := m.net.Params()
	for _, p := range params {
		s.Params = append(s.Params, toCheckpointParam(p.Name, p.W))
	}
	if m.opt != nil {
		s.Optimizer = m.opt.State(params)
	}
	return s
}

// Load applies a checkpoint's weights and, when present, optimizer moments.
func (m *WindowedFrameClassificationModel) Load(s *checkpoint.State) error {
	if s.Model != m.Name() {
		return fmt.Errorf("checkpoint is for model %s, not %s", s.Model, m.Name())
	}
	if s.NumClasses != m.NumClasses() {
		return fmt.Errorf("checkpoint has %d classes, label map has %d", s.NumClasses, m.NumClasses())
	}

	params := m.net.Params()
	if len(s.Params) != len(params) {
		return fmt.Errorf("checkpoint has %d params, network has %d", len(s.Params), len(params))
	}
	for i, p := range params {
		if err := fromCheckpointParam(p.W, s.Params[i]); err != nil {
			return err
		}
	}
	if m.opt != nil && s.Optimizer.Kind != "" {
		return m.opt.Restore(s.Optimizer)
	}
	return nil
}

// Restore loads weights from path. Networks that read their own model files
// load path directly.
func (m *WindowedFrameClassificationModel) Restore(path string) (*checkpoint.State, error) {
	if fl, ok := m.net.(FileLoader); ok {
		if err := fl.LoadFile(path); err != nil {
			return nil, err
		}
		return &checkpoint.State{Model: m.Name(), NumClasses: m.NumClasses()}, nil
	}

	s, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	if err := m.Load(s); err != nil {
		return nil, fmt.Errorf("restore %s: %w", path, err)
	}
	return s, nil
}

// Close releases resources held by the network.
func (m *WindowedFrameClassificationModel) Close() error {
	if fl, ok := m.net.(FileLoader); ok {
		return fl.Close()
	}
	return nil
}
