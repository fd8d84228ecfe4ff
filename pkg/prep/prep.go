// Package prep turns a directory of audio or spectrogram files and their
// annotations into a frame classification dataset.
package prep

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/paths"
	"github.com/nzoschke/vak/pkg/runlog"
	"github.com/nzoschke/vak/pkg/spect"
	"github.com/nzoschke/vak/pkg/transforms"
)

// Purposes a dataset can be prepared for.
const (
	PurposeTrain      = "train"
	PurposeLearnCurve = "learncurve"
	PurposeEval       = "eval"
	PurposePredict    = "predict"
)

// AnnotSuffix is appended to a data file's name, without any .spect.npz
// suffix, to find its annotation csv.
const AnnotSuffix = ".csv"

// SpectDirName holds spectrograms computed from audio inside the dataset dir.
const SpectDirName = "spectrograms"

// frameDurTolerance is how far frame durations may differ across files.
const frameDurTolerance = 1e-6

// Options configure Prep.
type Options struct {
	DataDir     string
	OutputDir   string
	AudioFormat string // "wav" or "mp3"; empty when SpectFormat is set
	SpectFormat string // "npz"
	Labelset    []string
	Purpose     string
	TrainDur    float64
	ValDur      float64
	TestDur     float64
	SpectParams spect.Params
	SpectKey    string
	TimebinsKey string
	NumWorkers  int
	Seed        int64
	Logger      *zap.Logger
}

// source is one input file with everything derived from it.
type source struct {
	path     string
	name     string
	annot    string
	segs     []labels.Segment
	spect    *spect.Spect
	spectRel string
	labels   []int
	duration float64
	present  map[int]bool
}

func checkOptions(opts *Options) error {
	if err := check.Dir("data_dir", opts.DataDir); err != nil {
		return err
	}
	if err := check.Dir("output_dir", opts.OutputDir); err != nil {
		return err
	}
	switch opts.Purpose {
	case PurposeTrain, PurposeLearnCurve, PurposeEval, PurposePredict:
	default:
		return check.Valuef("purpose", "must be one of train, learncurve, eval, predict, got %q", opts.Purpose)
	}
	if opts.Purpose != PurposePredict && len(opts.Labelset) == 0 {
		return check.Valuef("labelset", "must be specified to prepare a dataset for %s", opts.Purpose)
	}
	switch {
	case opts.AudioFormat != "" && opts.SpectFormat != "":
		return check.Valuef("audio_format", "audio_format and spect_format are mutually exclusive")
	case opts.AudioFormat != "":
		if _, ok := spect.AudioFormats[opts.AudioFormat]; !ok {
			return check.Valuef("audio_format", "unsupported audio format %q", opts.AudioFormat)
		}
	case opts.SpectFormat != "":
		if opts.SpectFormat != "npz" {
			return check.Valuef("spect_format", "unsupported spectrogram format %q", opts.SpectFormat)
		}
	default:
		return check.Valuef("audio_format", "one of audio_format or spect_format must be specified")
	}
	for _, d := range []struct {
		name string
		v    float64
	}{{"train_dur", opts.TrainDur}, {"val_dur", opts.ValDur}, {"test_dur", opts.TestDur}} {
		if d.v < 0 && !(d.name == "train_dur" && d.v == -1) {
			return check.Valuef(d.name, "must be non-negative, got %g", d.v)
		}
	}
	return nil
}

func (opts *Options) suffix() string {
	if opts.SpectFormat != "" {
		return spect.FileSuffix
	}
	return spect.AudioFormats[opts.AudioFormat]
}

// findFiles walks DataDir for input files, sorted by path.
func findFiles(dir, suffix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(path), suffix) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Prep builds a dataset directory under OutputDir and returns its path.
func Prep(ctx context.Context, opts Options) (datasetPath string, err error) {
	if err = checkOptions(&opts); err != nil {
		return "", err
	}
	log := runlog.OrNop(opts.Logger)

	files, err := findFiles(opts.DataDir, opts.suffix())
	if err != nil {
		return "", errors.Wrap(err, "find data files")
	}
	if len(files) == 0 {
		return "", check.Valuef("data_dir", "no %s files found in %s", opts.suffix(), opts.DataDir)
	}

	var lm labels.Map
	if opts.Purpose != PurposePredict {
		lm = labels.ToMap(opts.Labelset, true)
	}

	var sources []*source
	names := map[string]string{}
	for _, f := range files {
		s := &source{path: f, name: strings.TrimSuffix(filepath.Base(f), spect.FileSuffix)}
		if prev, ok := names[s.name]; ok {
			return "", check.Valuef("data_dir", "files %s and %s have the same name", prev, f)
		}
		names[s.name] = f

		if lm != nil {
			s.annot = filepath.Join(filepath.Dir(f), s.name+AnnotSuffix)
			if err := check.File("annotation", s.annot); err != nil {
				return "", err
			}
			if s.segs, err = labels.ReadAnnotCSV(s.annot); err != nil {
				return "", err
			}
			if missing := notIn(labels.LabelsOf(s.segs), lm); len(missing) > 0 {
				log.Info("dropping file with labels not in labelset", zap.String("file", f), zap.Strings("labels", missing))
				continue
			}
		}
		sources = append(sources, s)
	}
	if len(sources) == 0 {
		return "", check.Valuef("labelset", "no files have only labels in labelset %v", opts.Labelset)
	}

	datasetPath = filepath.Join(opts.OutputDir, fmt.Sprintf("%s-vak-frame-classification-dataset-generated-%s", filepath.Base(filepath.Clean(opts.DataDir)), paths.Timestamp()))
	if err := os.Mkdir(datasetPath, 0755); err != nil {
		return "", errors.Wrap(err, "create dataset dir")
	}
	defer func() {
		if err != nil {
			os.RemoveAll(datasetPath)
		}
	}()
	if opts.AudioFormat != "" {
		if err := os.Mkdir(filepath.Join(datasetPath, SpectDirName), 0755); err != nil {
			return "", errors.Wrap(err, "create spectrograms dir")
		}
	}

	err = dataset.ForEachOrdered(ctx, len(sources), opts.NumWorkers,
		func(i int) (*source, error) { return sources[i], loadSource(sources[i], &opts, lm, datasetPath) },
		func(_ int, s *source) error { return nil },
	)
	if err != nil {
		return "", err
	}

	frameDur, err := sources[0].spect.TimebinDur()
	if err != nil {
		return "", errors.Wrapf(err, "spectrogram %s", sources[0].path)
	}
	hasUnlabeled := false
	for _, s := range sources {
		d, err := s.spect.TimebinDur()
		if err != nil {
			return "", errors.Wrapf(err, "spectrogram %s", s.path)
		}
		if math.Abs(d-frameDur) > frameDurTolerance {
			return "", errors.Errorf("frame duration of %s is %g, expected %g like %s", s.path, d, frameDur, sources[0].path)
		}
		s.duration = float64(s.spect.NumTimebins()) * frameDur
		if lm != nil && labels.HasUnlabeled(s.segs, s.duration) {
			hasUnlabeled = true
		}
	}

	splits, err := assignSplits(sources, &opts, lm)
	if err != nil {
		return "", err
	}

	var records []dataset.Record
	for i, s := range sources {
		split := splits[i]
		if split == "" {
			continue
		}
		r, err := writeSample(datasetPath, split, s)
		if err != nil {
			return "", err
		}
		records = append(records, r)
		log.Debug("prepared", zap.String("file", s.path), zap.String("split", split), zap.Float64("duration_s", s.duration))
	}

	meta := dataset.Metadata{
		DatasetCSVFilename: fmt.Sprintf("%s_prep_%s.csv", filepath.Base(filepath.Clean(opts.DataDir)), paths.Timestamp()),
		FrameDur:           frameDur,
		HasUnlabeled:       hasUnlabeled,
	}
	if err := dataset.Create(datasetPath, meta, lm, records); err != nil {
		return "", err
	}

	log.Info("prepared dataset", zap.String("path", datasetPath), zap.Int("samples", len(records)), zap.Float64("frame_dur", frameDur))
	return datasetPath, nil
}

func notIn(lbls []string, lm labels.Map) []string {
	var out []string
	for _, l := range lbls {
		if _, ok := lm[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// loadSource computes or loads the spectrogram and frame labels of s.
func loadSource(s *source, opts *Options, lm labels.Map, datasetPath string) error {
	var err error
	if opts.SpectFormat != "" {
		if s.spect, err = spect.Load(s.path, opts.SpectKey, "", opts.TimebinsKey); err != nil {
			return err
		}
		if s.spectRel, err = filepath.Abs(s.path); err != nil {
			return err
		}
	} else {
		samples, rate, err := spect.LoadAudioMono(s.path)
		if err != nil {
			return errors.Wrapf(err, "load audio %s", s.path)
		}
		if s.spect, err = spect.Compute(samples, rate, opts.SpectParams); err != nil {
			return errors.Wrapf(err, "spectrogram of %s", s.path)
		}
		s.spectRel = filepath.Join(SpectDirName, s.name+spect.FileSuffix)
		if err := s.spect.Save(filepath.Join(datasetPath, s.spectRel)); err != nil {
			return err
		}
	}

	if lm == nil {
		return nil
	}
	if s.labels, err = transforms.FrameLabels(s.segs, s.spect.T, lm, lm[labels.Unlabeled]); err != nil {
		return errors.Wrapf(err, "frame labels for %s", s.path)
	}
	s.present = map[int]bool{}
	for _, l := range s.labels {
		s.present[l] = true
	}
	return nil
}

func writeSample(datasetPath, split string, s *source) (dataset.Record, error) {
	if err := os.MkdirAll(filepath.Join(datasetPath, split), 0755); err != nil {
		return dataset.Record{}, err
	}

	r := dataset.Record{
		SpectPath:  s.spectRel,
		Split:      split,
		Duration:   s.duration,
		FramesPath: filepath.Join(split, s.name+dataset.FramesSuffix),
	}
	if s.annot != "" {
		abs, err := filepath.Abs(s.annot)
		if err != nil {
			return r, err
		}
		r.AnnotPath = abs
	}
	if err := dataset.WriteFrames(filepath.Join(datasetPath, r.FramesPath), s.spect.S); err != nil {
		return r, err
	}
	if s.labels != nil {
		r.FrameLabelsPath = filepath.Join(split, s.name+dataset.FrameLabelsSuffix)
		if err := dataset.WriteFrameLabels(filepath.Join(datasetPath, r.FrameLabelsPath), s.labels); err != nil {
			return r, err
		}
	}
	return r, nil
}
