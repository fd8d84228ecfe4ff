package dataset

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardizeSpectFilename is the file name of a saved scaler.
const StandardizeSpectFilename = "StandardizeSpect"

// StandardizeSpect standardizes each frequency bin to zero mean and unit
// variance using statistics fit on the training split.
type StandardizeSpect struct {
	Mean []float64 `json:"mean_freqs"`
	Std  []float64 `json:"std_freqs"`
}

// FitStandardizeSpect computes per-bin statistics over all frames of samples.
func FitStandardizeSpect(frames []*mat.Dense) (*StandardizeSpect, error) {
	if len(frames) == 0 {
		return nil, errors.Errorf("no spectrograms to fit scaler")
	}

	rows, _ := frames[0].Dims()
	s := &StandardizeSpect{Mean: make([]float64, rows), Std: make([]float64, rows)}

	for i := 0; i < rows; i++ {
		var x []float64
		for _, f := range frames {
			r, _ := f.Dims()
			if r != rows {
				return nil, errors.Errorf("inconsistent frequency bins: %d and %d", rows, r)
			}
			x = append(x, f.RawRowView(i)...)
		}
		mean, std := stat.PopMeanStdDev(x, nil)
		// constant bins pass through centered
		if std < 1e-10 {
			std = 1
		}
		s.Mean[i] = mean
		s.Std[i] = std
	}
	return s, nil
}

// FitStandardizeSpectRecords loads records and fits a scaler on them.
func FitStandardizeSpectRecords(records []Record) (*StandardizeSpect, error) {
	frames := make([]*mat.Dense, 0, len(records))
	for _, r := range records {
		s, err := r.Load(0)
		if err != nil {
			return nil, err
		}
		frames = append(frames, s.Frames)
	}
	return FitStandardizeSpect(frames)
}

// Transform standardizes m in place and returns it.
func (s *StandardizeSpect) Transform(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	for i := 0; i < rows && i < len(s.Mean); i++ {
		row := m.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] = (row[j] - s.Mean[i]) / s.Std[i]
		}
	}
	return m
}

// Save writes the scaler as JSON.
func (s *StandardizeSpect) Save(path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadStandardizeSpect reads a scaler written by Save.
func LoadStandardizeSpect(path string) (*StandardizeSpect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read spect scaler")
	}
	var s StandardizeSpect
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "parse spect scaler %s", path)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return nil, errors.Errorf("spect scaler %s: mean and std must be non-empty and equal length", path)
	}
	return &s, nil
}
