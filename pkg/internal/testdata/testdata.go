// Package testdata generates synthetic annotated spectrograms and prepared
// datasets for tests.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/prep"
	"github.com/nzoschke/vak/pkg/spect"
)

// Synthetic recording layout.
const (
	Bins        = 8
	FrameDur    = 0.002
	FileDur     = 1.0
	SyllableDur = 0.06
	GapDur      = 0.04
)

// Labelset is the label set of generated annotations.
var Labelset = []string{"a", "b", "c"}

// Recording returns a spectrogram and annotation where each label lights up
// its own pair of frequency bins. Files cycle through Labelset starting at a
// different label.
func Recording(index int, seed int64) (*spect.Spect, []labels.Segment) {
	rng := rand.New(rand.NewSource(seed + int64(index)))
	frames := int(FileDur / FrameDur)

	s := &spect.Spect{S: mat.NewDense(Bins, frames, nil), T: make([]float64, frames), F: make([]float64, Bins)}
	for b := range s.F {
		s.F[b] = float64(b) * 1000
	}
	for t := 0; t < frames; t++ {
		s.T[t] = float64(t) * FrameDur
		for b := 0; b < Bins; b++ {
			s.S.Set(b, t, rng.NormFloat64()*0.1)
		}
	}

	var segs []labels.Segment
	k := index
	for onset := GapDur; onset+SyllableDur < FileDur; onset += SyllableDur + GapDur {
		l := k % len(Labelset)
		k++
		seg := labels.Segment{Onset: onset, Offset: onset + SyllableDur, Label: Labelset[l]}
		segs = append(segs, seg)
		for t := 0; t < frames; t++ {
			if s.T[t] >= seg.Onset && s.T[t] < seg.Offset {
				s.S.Set(2*l, t, s.S.At(2*l, t)+2)
				s.S.Set(2*l+1, t, s.S.At(2*l+1, t)+2)
			}
		}
	}
	return s, segs
}

// WriteSpectFiles writes n recordings as songNN.wav.spect.npz with
// songNN.wav.csv annotations into dir and returns the spectrogram paths.
func WriteSpectFiles(t testing.TB, dir string, n int, seed int64) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		s, segs := Recording(i, seed)
		name := fmt.Sprintf("song%02d.wav", i)
		path := filepath.Join(dir, name+spect.FileSuffix)
		require.NoError(t, s.Save(path))
		require.NoError(t, labels.WriteAnnotCSV(filepath.Join(dir, name+prep.AnnotSuffix), segs))
		out = append(out, path)
	}
	return out
}

// DatasetOptions describe a dataset to prepare.
type DatasetOptions struct {
	NumFiles int
	Purpose  string
	TrainDur float64
	ValDur   float64
	TestDur  float64
	Seed     int64
}

// PrepDataset writes recordings into a temp dir, runs prep on them and
// returns the dataset path.
func PrepDataset(t testing.TB, o DatasetOptions) string {
	t.Helper()
	if o.NumFiles == 0 {
		o.NumFiles = 6
	}
	if o.Purpose == "" {
		o.Purpose = prep.PurposeTrain
	}

	dataDir := filepath.Join(t.TempDir(), "songs")
	require.NoError(t, os.Mkdir(dataDir, 0755))
	WriteSpectFiles(t, dataDir, o.NumFiles, o.Seed)

	opts := prep.Options{
		DataDir:     dataDir,
		OutputDir:   t.TempDir(),
		SpectFormat: "npz",
		Purpose:     o.Purpose,
		TrainDur:    o.TrainDur,
		ValDur:      o.ValDur,
		TestDur:     o.TestDur,
		Seed:        o.Seed,
	}
	if o.Purpose != prep.PurposePredict {
		opts.Labelset = Labelset
	}
	path, err := prep.Prep(context.Background(), opts)
	require.NoError(t, err)
	return path
}

// SplitDataset prepares six files with one second each of test and val and
// four seconds of train.
func SplitDataset(t testing.TB) string {
	t.Helper()
	return PrepDataset(t, DatasetOptions{NumFiles: 6, TrainDur: -1, ValDur: 1, TestDur: 1, Seed: 1})
}
