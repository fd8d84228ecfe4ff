package core

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/paths"
	"github.com/nzoschke/vak/pkg/runlog"
)

// Learning curve output files.
const (
	LearningCurveFilename = "learning_curve.csv"
	SummaryFilename       = "learning_curve_summary.csv"
)

// LearnCurveOptions configure LearningCurve. PreviousRunPath names an earlier
// learning curve results dir whose training subsets are reused.
type LearnCurveOptions struct {
	TrainOptions
	TrainSetDurs  []float64
	NumReplicates int
}

// CurveRow is one row of learning_curve.csv.
type CurveRow struct {
	TrainSetDur  float64 `csv:"train_set_dur"`
	ReplicateNum int     `csv:"replicate_num"`
	Metric       string  `csv:"metric"`
	Value        float64 `csv:"value"`
}

// SummaryRow is one row of learning_curve_summary.csv.
type SummaryRow struct {
	TrainSetDur float64 `csv:"train_set_dur"`
	Metric      string  `csv:"metric"`
	Mean        float64 `csv:"mean"`
	Std         float64 `csv:"std"`
	N           int     `csv:"n"`
}

// LearnCurveResult points at the outputs of a learning curve.
type LearnCurveResult struct {
	ResultsPath string
	CSVPath     string
	SummaryPath string
}

func replicateDir(resultsPath string, dur float64, rep int) string {
	return filepath.Join(resultsPath, paths.TrainDurDir(dur), paths.ReplicateDir(rep))
}

func checkLearnCurve(opts *LearnCurveOptions) (*dataset.Dataset, error) {
	ds, err := checkCommon(&opts.TrainOptions)
	if err != nil {
		return nil, err
	}
	if len(opts.TrainSetDurs) == 0 {
		return nil, check.Valuef("train_set_durs", "must list at least one duration")
	}
	if opts.NumReplicates < 1 {
		return nil, check.Valuef("num_replicates", "must be at least 1, got %d", opts.NumReplicates)
	}
	if !ds.HasSplit(dataset.SplitTest) {
		return nil, check.Valuef("dataset_path", "dataset has no %s split: %s", dataset.SplitTest, opts.DatasetPath)
	}

	total := ds.Duration(dataset.SplitTrain)
	for _, d := range opts.TrainSetDurs {
		if d <= 0 {
			return nil, check.Valuef("train_set_durs", "durations must be positive, got %g", d)
		}
		if d > total {
			return nil, check.Valuef("train_set_durs", "duration %gs is longer than the %gs train split", d, total)
		}
	}

	if opts.PreviousRunPath != "" {
		for _, d := range opts.TrainSetDurs {
			for rep := 1; rep <= opts.NumReplicates; rep++ {
				p := filepath.Join(replicateDir(opts.PreviousRunPath, d, rep), dataset.SubsetFilename)
				if err := check.File("previous run train subset", p); err != nil {
					return nil, err
				}
			}
		}
	}
	return ds, nil
}

// CheckLearnCurve returns the precondition error LearningCurve would return
// for opts, without writing anything.
func CheckLearnCurve(opts LearnCurveOptions) error {
	_, err := checkLearnCurve(&opts)
	return err
}

// LearningCurve trains and evaluates one model per training set duration and
// replicate, sequentially, and summarizes test metrics against duration.
func LearningCurve(ctx context.Context, opts LearnCurveOptions) (*LearnCurveResult, error) {
	ds, err := checkLearnCurve(&opts)
	if err != nil {
		return nil, err
	}

	resultsPath, err := opts.Results.Resolve()
	if err != nil {
		return nil, err
	}
	log := runlog.OrNop(opts.Logger)
	res := &LearnCurveResult{
		ResultsPath: resultsPath,
		CSVPath:     filepath.Join(resultsPath, LearningCurveFilename),
		SummaryPath: filepath.Join(resultsPath, SummaryFilename),
	}

	train := ds.Split(dataset.SplitTrain)
	var all []CurveRow
	for i, dur := range opts.TrainSetDurs {
		for rep := 1; rep <= opts.NumReplicates; rep++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			dir := replicateDir(resultsPath, dur, rep)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrap(err, "create replicate dir")
			}
			rlog := log.With(zap.Float64("train_set_dur", dur), zap.Int("replicate", rep))
			rlog.Info("training replicate", zap.String("dir", dir))

			var subset []dataset.Record
			if opts.PreviousRunPath != "" {
				prev := filepath.Join(replicateDir(opts.PreviousRunPath, dur, rep), dataset.SubsetFilename)
				if subset, err = dataset.ReadRecords(prev, ds.Path); err != nil {
					return nil, err
				}
			} else {
				// Shuffle orders training batches. Subsets are always drawn at
				// random, otherwise every replicate would train on the same records.
				seed := opts.Seed + int64(i*opts.NumReplicates+rep)
				if subset, err = dataset.SubsetByDuration(train, ds.FrameDur(), dur, ds.Labelmap(), seed, true); err != nil {
					return nil, err
				}
			}
			if err := dataset.WriteRecords(filepath.Join(dir, dataset.SubsetFilename), subset); err != nil {
				return nil, err
			}

			topts := opts.TrainOptions
			topts.Results = paths.Existing(dir)
			topts.PreviousRunPath = ""
			topts.Logger = rlog
			tres, err := runTrain(ctx, topts, ds, dir, subset)
			if err != nil {
				return nil, errors.Wrapf(err, "train_set_dur %g replicate %d", dur, rep)
			}

			ckpt := tres.CheckpointPath
			if tres.BestCheckpointPath != "" {
				ckpt = tres.BestCheckpointPath
			}
			eres, err := Eval(ctx, EvalOptions{
				ModelName:       opts.ModelName,
				ModelConfig:     opts.ModelConfig,
				CheckpointPath:  ckpt,
				LabelmapPath:    filepath.Join(dir, labels.Filename),
				DatasetPath:     ds.Path,
				Split:           dataset.SplitTest,
				WindowSize:      opts.WindowSize,
				NumWorkers:      opts.NumWorkers,
				SpectScalerPath: tres.ScalerPath,
				OutputDir:       dir,
				PostProcess:     opts.PostProcess,
				Device:          opts.Device,
				Logger:          rlog,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "eval train_set_dur %g replicate %d", dur, rep)
			}

			rows := curveRows(dur, rep, eres.Row.Metrics())
			if err := appendCurveRows(res.CSVPath, rows); err != nil {
				return nil, err
			}
			all = append(all, rows...)
		}
	}

	summary, err := Summarize(all)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(res.SummaryPath)
	if err != nil {
		return nil, errors.Wrap(err, "create learning curve summary")
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&summary, f); err != nil {
		return nil, errors.Wrap(err, "write learning curve summary")
	}

	log.Info("learning curve finished", zap.String("csv", res.CSVPath), zap.String("summary", res.SummaryPath))
	return res, nil
}

func curveRows(dur float64, rep int, m map[string]float64) []CurveRow {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([]CurveRow, 0, len(names))
	for _, k := range names {
		rows = append(rows, CurveRow{TrainSetDur: dur, ReplicateNum: rep, Metric: k, Value: m[k]})
	}
	return rows
}

// appendCurveRows appends to the csv at path, writing the header when the
// file is new.
func appendCurveRows(path string, rows []CurveRow) error {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "open learning curve csv")
	}
	defer f.Close()

	if os.IsNotExist(statErr) {
		err = gocsv.MarshalFile(&rows, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(&rows, f)
	}
	if err != nil {
		return errors.Wrap(err, "write learning curve csv")
	}
	return nil
}

// ReadCurveCSV reads learning_curve.csv.
func ReadCurveCSV(path string) ([]CurveRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open learning curve csv")
	}
	defer f.Close()
	var rows []CurveRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "parse learning curve csv %s", path)
	}
	return rows, nil
}

// Summarize computes mean and sample standard deviation of each metric across
// replicates for every training set duration.
func Summarize(rows []CurveRow) ([]SummaryRow, error) {
	type key struct {
		dur    float64
		metric string
	}
	groups := map[key][]float64{}
	var keys []key
	for _, r := range rows {
		k := key{r.TrainSetDur, r.Metric}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r.Value)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].dur != keys[j].dur {
			return keys[i].dur < keys[j].dur
		}
		return keys[i].metric < keys[j].metric
	})

	out := make([]SummaryRow, 0, len(keys))
	for _, k := range keys {
		vals := stats.Float64Data(groups[k])
		mean, err := stats.Mean(vals)
		if err != nil {
			return nil, errors.Wrapf(err, "mean of %s at %gs", k.metric, k.dur)
		}
		var std float64
		if len(vals) > 1 {
			if std, err = stats.StandardDeviationSample(vals); err != nil {
				return nil, errors.Wrapf(err, "std of %s at %gs", k.metric, k.dur)
			}
		}
		out = append(out, SummaryRow{TrainSetDur: k.dur, Metric: k.metric, Mean: mean, Std: std, N: len(vals)})
	}
	return out, nil
}
