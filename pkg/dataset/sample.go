package dataset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Sample is one loaded recording.
type Sample struct {
	ID     string
	Record Record
	Frames *mat.Dense // frequency bins × frames
	Labels []int      // one class id per frame, nil for unlabeled data
}

// NumFrames returns the number of frames.
func (s *Sample) NumFrames() int {
	_, c := s.Frames.Dims()
	return c
}

// ID returns the sample id, the frames file name without its suffix.
func (r Record) ID() string {
	p := r.FramesPath
	if p == "" {
		p = r.SpectPath
	}
	base := filepath.Base(p)
	for _, suffix := range []string{FramesSuffix, ".spect.npz", ".npz"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

// Load reads the sample's arrays. Frame labels outside [0, numClasses) are an
// error; numClasses 0 skips the check.
func (r Record) Load(numClasses int) (*Sample, error) {
	frames, err := ReadFrames(r.resolve(r.FramesPath))
	if err != nil {
		return nil, err
	}

	var lbls []int
	if r.FrameLabelsPath != "" {
		if lbls, err = ReadFrameLabels(r.resolve(r.FrameLabelsPath)); err != nil {
			return nil, err
		}
		if _, c := frames.Dims(); c != len(lbls) {
			return nil, errors.Errorf("sample %s: %d frames but %d frame labels", r.ID(), c, len(lbls))
		}
		if numClasses > 0 {
			for i, l := range lbls {
				if l < 0 || l >= numClasses {
					return nil, errors.Errorf("sample %s: frame %d has label %d outside label map range [0, %d)", r.ID(), i, l, numClasses)
				}
			}
		}
	}

	if r.CropFrames > 0 {
		rows, cols := frames.Dims()
		if r.CropFrames > cols {
			return nil, errors.Errorf("sample %s: crop to %d frames but sample has %d", r.ID(), r.CropFrames, cols)
		}
		frames = mat.DenseCopyOf(frames.Slice(0, rows, 0, r.CropFrames))
		if lbls != nil {
			lbls = lbls[:r.CropFrames]
		}
	}

	return &Sample{ID: r.ID(), Record: r, Frames: frames, Labels: lbls}, nil
}

// ReadFrames reads a frequency bins × frames array from a .npy file.
func ReadFrames(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open frames")
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, errors.Wrapf(err, "read frames %s", path)
	}
	return &m, nil
}

// WriteFrames writes a frames array to a .npy file.
func WriteFrames(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create frames")
	}
	defer f.Close()
	if err := npyio.Write(f, m); err != nil {
		return errors.Wrapf(err, "write frames %s", path)
	}
	return f.Close()
}

// ReadFrameLabels reads an int64 vector of frame labels.
func ReadFrameLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open frame labels")
	}
	defer f.Close()

	var raw []int64
	if err := npyio.Read(f, &raw); err != nil {
		return nil, errors.Wrapf(err, "read frame labels %s", path)
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	return out, nil
}

// WriteFrameLabels writes frame labels as an int64 vector.
func WriteFrameLabels(path string, lbls []int) error {
	raw := make([]int64, len(lbls))
	for i, v := range lbls {
		raw[i] = int64(v)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create frame labels")
	}
	defer f.Close()
	if err := npyio.Write(f, raw); err != nil {
		return errors.Wrapf(err, "write frame labels %s", path)
	}
	return f.Close()
}
