// Package spect computes, loads and saves spectrograms.
package spect

import (
	"fmt"
	"math"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// Default array keys inside a spectrogram .npz file.
const (
	DefaultSpectKey    = "s"
	DefaultFreqKey     = "f"
	DefaultTimebinsKey = "t"
)

// FileSuffix is appended to an audio file name to name its spectrogram file.
const FileSuffix = ".spect.npz"

// Params configure spectrogram computation.
type Params struct {
	FFTSize       int
	StepSize      int
	FreqCutoffs   []float64 // [low, high] in Hz, optional
	Thresh        float64   // floor applied after the log transform, 0 disables
	TransformType string    // "log_spect" or "" for linear magnitude
}

// DefaultParams mirrors common birdsong settings.
func DefaultParams() Params {
	return Params{FFTSize: 512, StepSize: 64, TransformType: "log_spect"}
}

// Spect is a spectrogram with its frequency and time axes.
type Spect struct {
	S *mat.Dense // frequency bins × time bins
	F []float64
	T []float64
}

// NumTimebins returns the number of time bins.
func (s *Spect) NumTimebins() int {
	_, c := s.S.Dims()
	return c
}

// TimebinDur returns the duration of one time bin, from the time axis.
func (s *Spect) TimebinDur() (float64, error) {
	if len(s.T) < 2 {
		return 0, fmt.Errorf("need at least 2 time bins to compute duration, got %d", len(s.T))
	}
	return s.T[1] - s.T[0], nil
}

// Compute makes a spectrogram from mono samples.
func Compute(samples []float32, sampleRate int, p Params) (*Spect, error) {
	if p.FFTSize <= 0 || p.StepSize <= 0 {
		return nil, fmt.Errorf("fft_size and step_size must be positive, got %d and %d", p.FFTSize, p.StepSize)
	}

	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}

	frames := magnitudes(x, p.FFTSize, p.StepSize)
	if len(frames) == 0 {
		return nil, fmt.Errorf("audio too short for fft_size %d: %d samples", p.FFTSize, len(samples))
	}

	numBins := p.FFTSize/2 + 1
	var keep []int
	var freqs []float64
	for j := 0; j < numBins; j++ {
		f := float64(j) * float64(sampleRate) / float64(p.FFTSize)
		if len(p.FreqCutoffs) == 2 && (f < p.FreqCutoffs[0] || f > p.FreqCutoffs[1]) {
			continue
		}
		keep = append(keep, j)
		freqs = append(freqs, f)
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("freq_cutoffs %v leave no frequency bins", p.FreqCutoffs)
	}

	s := mat.NewDense(len(keep), len(frames), nil)
	times := make([]float64, len(frames))
	for i, frame := range frames {
		times[i] = float64(i*p.StepSize+p.FFTSize/2) / float64(sampleRate)
		for r, j := range keep {
			v := frame[j]
			if p.TransformType == "log_spect" {
				v = math.Log10(math.Max(v, 1e-10))
				if p.Thresh != 0 && v < p.Thresh {
					v = p.Thresh
				}
			}
			s.Set(r, i, v)
		}
	}

	return &Spect{S: s, F: freqs, T: times}, nil
}

// Save writes the spectrogram to an .npz file with the default keys.
func (s *Spect) Save(path string) error {
	w, err := npz.Create(path)
	if err != nil {
		return fmt.Errorf("create spect file: %w", err)
	}
	if err := w.Write(DefaultSpectKey, s.S); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", DefaultSpectKey, err)
	}
	if err := w.Write(DefaultFreqKey, s.F); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", DefaultFreqKey, err)
	}
	if err := w.Write(DefaultTimebinsKey, s.T); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", DefaultTimebinsKey, err)
	}
	return w.Close()
}

// Load reads a spectrogram .npz file. The frequency array is optional.
func Load(path, spectKey, freqKey, timebinsKey string) (*Spect, error) {
	if spectKey == "" {
		spectKey = DefaultSpectKey
	}
	if freqKey == "" {
		freqKey = DefaultFreqKey
	}
	if timebinsKey == "" {
		timebinsKey = DefaultTimebinsKey
	}

	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spect file: %w", err)
	}
	defer r.Close()

	var s mat.Dense
	if err := r.Read(spectKey, &s); err != nil {
		return nil, fmt.Errorf("read %q from %s: %w", spectKey, path, err)
	}
	var t []float64
	if err := r.Read(timebinsKey, &t); err != nil {
		return nil, fmt.Errorf("read %q from %s: %w", timebinsKey, path, err)
	}
	if _, c := s.Dims(); c != len(t) {
		return nil, fmt.Errorf("spect file %s: %d time bins in %q but %d in %q", path, c, spectKey, len(t), timebinsKey)
	}

	out := &Spect{S: &s, T: t}
	var f []float64
	if err := r.Read(freqKey, &f); err == nil {
		out.F = f
	}
	return out, nil
}
