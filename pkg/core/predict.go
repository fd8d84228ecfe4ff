package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/metrics"
	"github.com/nzoschke/vak/pkg/models"
	"github.com/nzoschke/vak/pkg/runlog"
	"github.com/nzoschke/vak/pkg/spect"
	"github.com/nzoschke/vak/pkg/transforms"
)

// NetOutputSuffix names saved network outputs, one file per sample.
const NetOutputSuffix = ".output.npz"

// NetOutputName returns the net output file name for a spectrogram file: its
// stem plus NetOutputSuffix, e.g. a.wav.spect.npz gives a.wav.spect.output.npz.
func NetOutputName(spectPath string) string {
	base := filepath.Base(spectPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + NetOutputSuffix
}

// NetOutputKey is the array name inside a net output file.
const NetOutputKey = "net_output"

// PredictModel is one member of a prediction ensemble.
type PredictModel struct {
	Name           string
	Config         models.Config
	CheckpointPath string
}

// PredictOptions configure Predict.
type PredictOptions struct {
	CSVPath          string
	Models           []PredictModel
	LabelmapPath     string
	WindowSize       int
	NumWorkers       int
	SpectKey         string
	TimebinsKey      string
	SpectScalerPath  string
	Device           string
	AnnotCSVFilename string
	OutputDir        string
	MinSegmentDur    float64
	MajorityVote     bool
	SaveNetOutputs   bool
	Logger           *zap.Logger
}

// AnnotRow is one row of the predicted annotation csv. A sample with no
// predicted segments gets a single row with empty onset, offset and label.
type AnnotRow struct {
	SampleID  string `csv:"sample_id"`
	SpectPath string `csv:"spect_path"`
	Onset     string `csv:"onset_s"`
	Offset    string `csv:"offset_s"`
	Label     string `csv:"label"`
}

// PredictResult points at the outputs of Predict.
type PredictResult struct {
	AnnotCSVPath   string
	NetOutputPaths []string
	NumSamples     int
}

func checkPredict(opts *PredictOptions) error {
	if err := check.Dir("output_dir", opts.OutputDir); err != nil {
		return err
	}
	if opts.CSVPath == "" {
		return check.Valuef("csv_path", "must be specified")
	}
	if err := check.File("csv_path", opts.CSVPath); err != nil {
		return err
	}
	if err := check.File("labelmap_path", opts.LabelmapPath); err != nil {
		return err
	}
	if opts.SpectScalerPath != "" {
		if err := check.File("spect_scaler_path", opts.SpectScalerPath); err != nil {
			return err
		}
	}
	if len(opts.Models) == 0 {
		return check.Valuef("models", "at least one model must be specified")
	}
	for _, m := range opts.Models {
		if err := models.CheckDevice(m.Name, device(opts.Device)); err != nil {
			return err
		}
		if err := check.File("checkpoint_path", m.CheckpointPath); err != nil {
			return err
		}
	}
	if opts.WindowSize <= 0 {
		return check.Valuef("window_size", "must be positive, got %d", opts.WindowSize)
	}
	return nil
}

// AnnotCSVName returns the default annotation csv name for a dataset csv.
func AnnotCSVName(csvPath string) string {
	return strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath)) + ".annot.csv"
}

// Predict labels every sample of a prepared dataset csv with an ensemble of
// one or more trained models and writes the segments to an annotation csv.
// Running it twice on the same inputs writes identical files.
func Predict(ctx context.Context, opts PredictOptions) (*PredictResult, error) {
	if err := checkPredict(&opts); err != nil {
		return nil, err
	}
	if opts.AnnotCSVFilename == "" {
		opts.AnnotCSVFilename = AnnotCSVName(opts.CSVPath)
	}
	log := runlog.OrNop(opts.Logger)

	lm, err := labels.Load(opts.LabelmapPath)
	if err != nil {
		return nil, err
	}
	inverse := lm.Inverse()
	unlabeled := transforms.NoUnlabeled
	if id, ok := lm.UnlabeledID(); ok {
		unlabeled = id
	}
	pp := transforms.PostProcess{MinSegmentDur: opts.MinSegmentDur, MajorityVote: opts.MajorityVote}

	records, err := dataset.ReadRecords(opts.CSVPath, filepath.Dir(opts.CSVPath))
	if err != nil {
		return nil, err
	}
	var predict []dataset.Record
	for _, r := range records {
		if r.Split == dataset.SplitPredict {
			predict = append(predict, r)
		}
	}
	if len(predict) == 0 {
		predict = records
	}

	transform, err := loadTransform(opts.SpectScalerPath)
	if err != nil {
		return nil, err
	}
	fd, err := dataset.NewFramesDataset(predict, dataset.FramesOptions{WindowSize: opts.WindowSize, Transform: transform})
	if err != nil {
		return nil, err
	}

	ensemble := make([]*models.WindowedFrameClassificationModel, 0, len(opts.Models))
	defer func() {
		for _, m := range ensemble {
			m.Close()
		}
	}()

	res := &PredictResult{AnnotCSVPath: filepath.Join(opts.OutputDir, opts.AnnotCSVFilename)}
	var rows []AnnotRow

	err = fd.Each(ctx, opts.NumWorkers, func(_ int, item *dataset.FramesItem) error {
		if len(ensemble) == 0 {
			bins, _ := item.Sample.Frames.Dims()
			for _, pm := range opts.Models {
				m, err := models.New(pm.Name, pm.Config, lm, bins, device(opts.Device))
				if err != nil {
					return err
				}
				ensemble = append(ensemble, m)
				if _, err := m.Restore(pm.CheckpointPath); err != nil {
					return err
				}
				log.Info("loaded model", zap.String("model", pm.Name), zap.String("checkpoint", pm.CheckpointPath))
			}
		}

		probs, err := ensembleProbs(ensemble, item)
		if err != nil {
			return errors.Wrapf(err, "predict %s", item.Sample.ID)
		}

		if opts.SaveNetOutputs {
			path := filepath.Join(opts.OutputDir, NetOutputName(item.Sample.Record.SpectPath))
			if err := saveNetOutput(path, probs); err != nil {
				return err
			}
			res.NetOutputPaths = append(res.NetOutputPaths, path)
		}

		sp, err := spect.Load(item.Sample.Record.SpectFile(), opts.SpectKey, "", opts.TimebinsKey)
		if err != nil {
			return errors.Wrapf(err, "load time bins for %s", item.Sample.ID)
		}
		if len(sp.T) != item.NumFrames {
			return errors.Errorf("sample %s: %d frames but %d time bins in %s", item.Sample.ID, item.NumFrames, len(sp.T), item.Sample.Record.SpectPath)
		}
		timebinDur, err := sp.TimebinDur()
		if err != nil {
			return err
		}

		pred := pp.Apply(metrics.Argmax(probs), timebinDur, unlabeled)
		segs, err := transforms.ToSegments(pred, sp.T, inverse, unlabeled)
		if err != nil {
			return errors.Wrapf(err, "segments for %s", item.Sample.ID)
		}
		rows = append(rows, annotRows(item.Sample, segs)...)
		res.NumSamples++
		log.Debug("predicted", zap.String("sample", item.Sample.ID), zap.Int("segments", len(segs)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	f, err := os.Create(res.AnnotCSVPath)
	if err != nil {
		return nil, errors.Wrap(err, "create annotation csv")
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return nil, errors.Wrap(err, "write annotation csv")
	}

	log.Info("prediction finished", zap.String("annot_csv", res.AnnotCSVPath), zap.Int("samples", res.NumSamples))
	return res, nil
}

// ensembleProbs averages per-frame probabilities across models and crops the
// window padding.
func ensembleProbs(ensemble []*models.WindowedFrameClassificationModel, item *dataset.FramesItem) (*mat.Dense, error) {
	var sum *mat.Dense
	for _, m := range ensemble {
		outs, err := m.PredictStep(item.Windows)
		if err != nil {
			return nil, err
		}
		probs := dataset.Unpad(outs, item.NumFrames)
		if sum == nil {
			sum = probs
			continue
		}
		sum.Add(sum, probs)
	}
	sum.Scale(1/float64(len(ensemble)), sum)
	return sum, nil
}

func annotRows(s *dataset.Sample, segs []labels.Segment) []AnnotRow {
	if len(segs) == 0 {
		return []AnnotRow{{SampleID: s.ID, SpectPath: s.Record.SpectPath}}
	}
	rows := make([]AnnotRow, len(segs))
	for i, seg := range segs {
		rows[i] = AnnotRow{
			SampleID:  s.ID,
			SpectPath: s.Record.SpectPath,
			Onset:     formatFloat(seg.Onset),
			Offset:    formatFloat(seg.Offset),
			Label:     seg.Label,
		}
	}
	return rows
}

func saveNetOutput(path string, probs *mat.Dense) error {
	w, err := npz.Create(path)
	if err != nil {
		return errors.Wrap(err, "create net output")
	}
	if err := w.Write(NetOutputKey, probs); err != nil {
		w.Close()
		return errors.Wrapf(err, "write net output %s", path)
	}
	return w.Close()
}

// ReadAnnotCSV reads a predicted annotation csv.
func ReadAnnotCSV(path string) ([]AnnotRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open annotation csv")
	}
	defer f.Close()
	var rows []AnnotRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "parse annotation csv %s", path)
	}
	return rows, nil
}
