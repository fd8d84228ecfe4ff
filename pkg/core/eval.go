package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/metrics"
	"github.com/nzoschke/vak/pkg/models"
	"github.com/nzoschke/vak/pkg/paths"
	"github.com/nzoschke/vak/pkg/runlog"
	"github.com/nzoschke/vak/pkg/transforms"
)

// EvalOptions configure Eval.
type EvalOptions struct {
	ModelName       string
	ModelConfig     models.Config
	CheckpointPath  string
	LabelmapPath    string
	DatasetPath     string
	Split           string
	WindowSize      int
	NumWorkers      int
	SpectScalerPath string
	OutputDir       string
	PostProcess     transforms.PostProcess
	Device          string
	Logger          *zap.Logger
}

// EvalRow is the single row of an eval csv. Post-processed metrics are empty
// when post-processing was not configured.
type EvalRow struct {
	ModelName              string  `csv:"model_name"`
	CheckpointPath         string  `csv:"checkpoint_path"`
	LabelmapPath           string  `csv:"labelmap_path"`
	SpectScalerPath        string  `csv:"spect_scaler_path"`
	DatasetPath            string  `csv:"dataset_path"`
	Split                  string  `csv:"split"`
	AvgAcc                 float64 `csv:"avg_acc"`
	AvgLevenshtein         float64 `csv:"avg_levenshtein"`
	AvgSegmentErrorRate    float64 `csv:"avg_segment_error_rate"`
	AvgLoss                float64 `csv:"avg_loss"`
	AvgAccTfm              string  `csv:"avg_acc_tfm"`
	AvgLevenshteinTfm      string  `csv:"avg_levenshtein_tfm"`
	AvgSegmentErrorRateTfm string  `csv:"avg_segment_error_rate_tfm"`
}

// Metrics returns the averaged metrics by name.
func (r EvalRow) Metrics() map[string]float64 {
	m := map[string]float64{
		metrics.Acc:              r.AvgAcc,
		metrics.Levenshtein:      r.AvgLevenshtein,
		metrics.SegmentErrorRate: r.AvgSegmentErrorRate,
		metrics.Loss:             r.AvgLoss,
	}
	for name, s := range map[string]string{
		metrics.Acc + metrics.TransformedSuffix:              r.AvgAccTfm,
		metrics.Levenshtein + metrics.TransformedSuffix:      r.AvgLevenshteinTfm,
		metrics.SegmentErrorRate + metrics.TransformedSuffix: r.AvgSegmentErrorRateTfm,
	} {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			m[name] = v
		}
	}
	return m
}

// EvalResult is the output of Eval.
type EvalResult struct {
	CSVPath string
	Row     EvalRow
}

// EvalCSVName returns eval_<model>_<timestamp>.csv.
func EvalCSVName(modelName string) string {
	return fmt.Sprintf("eval_%s_%s.csv", modelName, paths.Timestamp())
}

func checkEval(opts *EvalOptions) error {
	if opts.DatasetPath == "" {
		return check.Valuef("dataset_path", "must be specified")
	}
	if err := check.Dir("dataset_path", opts.DatasetPath); err != nil {
		return err
	}
	if err := check.Dir("output_dir", opts.OutputDir); err != nil {
		return err
	}
	if err := check.File("checkpoint_path", opts.CheckpointPath); err != nil {
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
	if opts.WindowSize <= 0 {
		return check.Valuef("window_size", "must be positive, got %d", opts.WindowSize)
	}
	return models.CheckDevice(opts.ModelName, device(opts.Device))
}

func loadTransform(scalerPath string) (dataset.Transform, error) {
	if scalerPath == "" {
		return nil, nil
	}
	scaler, err := dataset.LoadStandardizeSpect(scalerPath)
	if err != nil {
		return nil, err
	}
	return scaler.Transform, nil
}

// Eval scores a checkpoint on one split of a dataset and writes an eval csv
// to OutputDir.
func Eval(ctx context.Context, opts EvalOptions) (*EvalResult, error) {
	if opts.Split == "" {
		opts.Split = dataset.SplitTest
	}
	if err := checkEval(&opts); err != nil {
		return nil, err
	}
	log := runlog.OrNop(opts.Logger).With(zap.String("model", opts.ModelName))

	lm, err := labels.Load(opts.LabelmapPath)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Open(opts.DatasetPath)
	if err != nil {
		return nil, err
	}
	records := ds.Split(opts.Split)
	if len(records) == 0 {
		return nil, check.Valuef("split", "dataset has no %s split: %s", opts.Split, opts.DatasetPath)
	}

	transform, err := loadTransform(opts.SpectScalerPath)
	if err != nil {
		return nil, err
	}
	fd, err := dataset.NewFramesDataset(records, dataset.FramesOptions{
		WindowSize: opts.WindowSize,
		NumClasses: lm.NumClasses(),
		Transform:  transform,
	})
	if err != nil {
		return nil, err
	}

	var model *models.WindowedFrameClassificationModel
	var results []map[string]float64
	err = fd.Each(ctx, opts.NumWorkers, func(_ int, item *dataset.FramesItem) error {
		if model == nil {
			bins, _ := item.Sample.Frames.Dims()
			built, err := models.New(opts.ModelName, opts.ModelConfig, lm, bins, device(opts.Device))
			if err != nil {
				return err
			}
			model = built
			if _, err := model.Restore(opts.CheckpointPath); err != nil {
				return err
			}
		}
		m, err := model.EvalStep(item, ds.FrameDur(), opts.PostProcess)
		if err != nil {
			return errors.Wrapf(err, "evaluate %s", item.Sample.ID)
		}
		results = append(results, m)
		return nil
	})
	if model != nil {
		defer model.Close()
	}
	if err != nil {
		return nil, err
	}

	avg := metrics.Mean(results)
	row := EvalRow{
		ModelName:           opts.ModelName,
		CheckpointPath:      opts.CheckpointPath,
		LabelmapPath:        opts.LabelmapPath,
		SpectScalerPath:     opts.SpectScalerPath,
		DatasetPath:         opts.DatasetPath,
		Split:               opts.Split,
		AvgAcc:              avg[metrics.Acc],
		AvgLevenshtein:      avg[metrics.Levenshtein],
		AvgSegmentErrorRate: avg[metrics.SegmentErrorRate],
		AvgLoss:             avg[metrics.Loss],
	}
	if opts.PostProcess.Enabled() {
		row.AvgAccTfm = formatFloat(avg[metrics.Acc+metrics.TransformedSuffix])
		row.AvgLevenshteinTfm = formatFloat(avg[metrics.Levenshtein+metrics.TransformedSuffix])
		row.AvgSegmentErrorRateTfm = formatFloat(avg[metrics.SegmentErrorRate+metrics.TransformedSuffix])
	}

	csvPath := filepath.Join(opts.OutputDir, EvalCSVName(opts.ModelName))
	f, err := os.Create(csvPath)
	if err != nil {
		return nil, errors.Wrap(err, "create eval csv")
	}
	defer f.Close()
	rows := []EvalRow{row}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return nil, errors.Wrap(err, "write eval csv")
	}

	log.Info("evaluation finished", zap.String("csv", csvPath), zap.Int("samples", len(results)), zap.Any("metrics", avg))
	return &EvalResult{CSVPath: csvPath, Row: row}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadEvalCSV reads the rows of an eval csv.
func ReadEvalCSV(path string) ([]EvalRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open eval csv")
	}
	defer f.Close()
	var rows []EvalRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "parse eval csv %s", path)
	}
	return rows, nil
}
