package core

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/checkpoint"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/metrics"
	"github.com/nzoschke/vak/pkg/models"
	"github.com/nzoschke/vak/pkg/paths"
	"github.com/nzoschke/vak/pkg/runlog"
	"github.com/nzoschke/vak/pkg/transforms"
)

// MetricsFilename is the training history csv inside a model's results dir.
const MetricsFilename = "metrics.csv"

// BestMetric is the validation metric the best checkpoint tracks.
const BestMetric = "val_acc"

// TrainOptions configure Train.
type TrainOptions struct {
	ModelName             string
	ModelConfig           models.Config
	DatasetPath           string
	WindowSize            int
	Stride                int
	BatchSize             int
	NumEpochs             int
	NumWorkers            int
	Results               paths.Results
	PreviousRunPath       string
	NormalizeSpectrograms bool
	Shuffle               bool
	ValStep               int
	CkptStep              int
	Patience              int
	Device                string
	Seed                  int64
	PostProcess           transforms.PostProcess
	Logger                *zap.Logger
}

// TrainResult summarizes a finished training run.
type TrainResult struct {
	ResultsPath        string
	Steps              int
	Epochs             int
	BestValAcc         float64
	CheckpointPath     string
	BestCheckpointPath string
	ScalerPath         string
	LabelmapPath       string
}

// HistoryRow is one row of metrics.csv.
type HistoryRow struct {
	Step   int     `csv:"step"`
	Epoch  int     `csv:"epoch"`
	Split  string  `csv:"split"`
	Metric string  `csv:"metric"`
	Value  float64 `csv:"value"`
}

var errStopEarly = errors.New("patience exhausted")

func device(d string) string {
	if d == "" {
		return models.DeviceCPU
	}
	return d
}

// checkCommon validates the options shared by Train and LearningCurve and
// opens the dataset. It has no side effects.
func checkCommon(opts *TrainOptions) (*dataset.Dataset, error) {
	if opts.DatasetPath == "" {
		return nil, check.Valuef("dataset_path", "must be specified")
	}
	if err := check.Dir("dataset_path", opts.DatasetPath); err != nil {
		return nil, err
	}
	if err := opts.Results.Check(); err != nil {
		return nil, err
	}
	if opts.PreviousRunPath != "" {
		if err := check.Dir("previous_run_path", opts.PreviousRunPath); err != nil {
			return nil, err
		}
	}
	if err := models.CheckDevice(opts.ModelName, device(opts.Device)); err != nil {
		return nil, err
	}
	if opts.WindowSize <= 0 {
		return nil, check.Valuef("window_size", "must be positive, got %d", opts.WindowSize)
	}
	if opts.BatchSize <= 0 {
		return nil, check.Valuef("batch_size", "must be positive, got %d", opts.BatchSize)
	}
	if opts.NumEpochs <= 0 {
		return nil, check.Valuef("num_epochs", "must be positive, got %d", opts.NumEpochs)
	}

	ds, err := dataset.Open(opts.DatasetPath)
	if err != nil {
		return nil, err
	}
	if ds.Labelmap() == nil {
		return nil, &check.FileNotFoundError{Name: "labelmap", Path: filepath.Join(opts.DatasetPath, labels.Filename)}
	}
	if !ds.HasSplit(dataset.SplitTrain) {
		return nil, check.Valuef("dataset_path", "dataset has no %s split: %s", dataset.SplitTrain, opts.DatasetPath)
	}
	if opts.ValStep > 0 && !ds.HasSplit(dataset.SplitVal) {
		return nil, check.Valuef("val_step", "val_step is %d but dataset has no %s split: %s", opts.ValStep, dataset.SplitVal, opts.DatasetPath)
	}
	return ds, nil
}

func previousCheckpoint(runPath, modelName string) string {
	return filepath.Join(runPath, modelName, checkpoint.DirName, checkpoint.LatestName)
}

func checkTrain(opts *TrainOptions) (*dataset.Dataset, error) {
	ds, err := checkCommon(opts)
	if err != nil {
		return nil, err
	}
	if opts.PreviousRunPath != "" {
		ckpt := previousCheckpoint(opts.PreviousRunPath, opts.ModelName)
		if err := check.File("previous run checkpoint", ckpt); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// CheckTrain returns the precondition error Train would return for opts,
// without writing anything.
func CheckTrain(opts TrainOptions) error {
	_, err := checkTrain(&opts)
	return err
}

// Train trains a model on the dataset's train split. Every precondition is
// checked before anything is written.
func Train(ctx context.Context, opts TrainOptions) (*TrainResult, error) {
	ds, err := checkTrain(&opts)
	if err != nil {
		return nil, err
	}

	resultsPath, err := opts.Results.Resolve()
	if err != nil {
		return nil, err
	}
	return runTrain(ctx, opts, ds, resultsPath, ds.Split(dataset.SplitTrain))
}

// trainer holds the state of one training run.
type trainer struct {
	opts    TrainOptions
	log     *zap.Logger
	ds      *dataset.Dataset
	model   *models.WindowedFrameClassificationModel
	mgr     *checkpoint.Manager
	val     *dataset.FramesDataset
	history []HistoryRow

	modelDir    string
	step        int
	epoch       int
	best        float64
	stale       int
	lastValStep int
}

func runTrain(ctx context.Context, opts TrainOptions, ds *dataset.Dataset, resultsPath string, train []dataset.Record) (*TrainResult, error) {
	log := runlog.OrNop(opts.Logger).With(zap.String("model", opts.ModelName))
	lm := ds.Labelmap()
	res := &TrainResult{ResultsPath: resultsPath, BestValAcc: math.NaN()}

	res.LabelmapPath = filepath.Join(resultsPath, labels.Filename)
	if err := lm.Save(res.LabelmapPath); err != nil {
		return nil, errors.Wrap(err, "save label map")
	}

	var transform dataset.Transform
	if opts.NormalizeSpectrograms {
		scaler, err := dataset.FitStandardizeSpectRecords(train)
		if err != nil {
			return nil, errors.Wrap(err, "fit spect scaler")
		}
		res.ScalerPath = filepath.Join(resultsPath, dataset.StandardizeSpectFilename)
		if err := scaler.Save(res.ScalerPath); err != nil {
			return nil, errors.Wrap(err, "save spect scaler")
		}
		transform = scaler.Transform
		log.Info("normalizing spectrograms", zap.String("scaler", res.ScalerPath))
	}

	wd, err := dataset.NewWindowDataset(train, dataset.WindowOptions{
		WindowSize: opts.WindowSize,
		Stride:     opts.Stride,
		NumClasses: lm.NumClasses(),
		FrameDur:   ds.FrameDur(),
		Transform:  transform,
	})
	if err != nil {
		return nil, errors.Wrap(err, "load training data")
	}
	log.Info("training data",
		zap.Int("samples", wd.NumSamples()),
		zap.Int("windows", wd.Len()),
		zap.Float64("duration_s", wd.Duration()),
	)

	cfg := opts.ModelConfig
	if cfg.Seed == 0 {
		cfg.Seed = opts.Seed
	}
	model, err := models.New(opts.ModelName, cfg, lm, wd.Bins(), device(opts.Device))
	if err != nil {
		return nil, err
	}

	t := &trainer{
		opts:        opts,
		log:         log,
		ds:          ds,
		model:       model,
		modelDir:    filepath.Join(resultsPath, opts.ModelName),
		best:        math.Inf(-1),
		lastValStep: -1,
	}
	if t.mgr, err = checkpoint.NewManager(t.modelDir); err != nil {
		return nil, err
	}

	if opts.PreviousRunPath != "" {
		ckpt := previousCheckpoint(opts.PreviousRunPath, opts.ModelName)
		state, err := model.Restore(ckpt)
		if err != nil {
			return nil, err
		}
		t.step, t.epoch = state.Step, state.Epoch
		log.Info("resumed from checkpoint", zap.String("path", ckpt), zap.Int("step", t.step), zap.Int("epoch", t.epoch))
	}

	if opts.ValStep > 0 {
		t.val, err = dataset.NewFramesDataset(ds.Split(dataset.SplitVal), dataset.FramesOptions{
			WindowSize: opts.WindowSize,
			NumClasses: lm.NumClasses(),
			Transform:  transform,
		})
		if err != nil {
			return nil, err
		}
	}

	loader := dataset.NewLoader(wd, dataset.LoaderOptions{
		BatchSize:  opts.BatchSize,
		NumWorkers: opts.NumWorkers,
		Shuffle:    opts.Shuffle,
		Seed:       opts.Seed,
	})

	for t.epoch < opts.NumEpochs {
		err := loader.Epoch(ctx, func(b *dataset.Batch) error { return t.trainStep(ctx, b) })
		if errors.Is(err, errStopEarly) {
			log.Info("stopping early", zap.Int("patience", opts.Patience), zap.Int("step", t.step))
			break
		}
		if err != nil {
			return nil, err
		}
		t.epoch++
		log.Info("finished epoch", zap.Int("epoch", t.epoch), zap.Int("step", t.step))
	}

	if opts.ValStep > 0 && t.lastValStep != t.step {
		if err := t.validate(ctx); err != nil && !errors.Is(err, errStopEarly) {
			return nil, err
		}
	}
	if err := t.saveLatest(); err != nil {
		return nil, err
	}
	if err := t.writeHistory(); err != nil {
		return nil, err
	}

	res.Steps = t.step
	res.Epochs = t.epoch
	res.CheckpointPath = t.mgr.LatestPath()
	if opts.ValStep > 0 {
		res.BestValAcc = t.best
		res.BestCheckpointPath = t.mgr.BestPath(BestMetric)
	}
	log.Info("training finished", zap.Int("steps", t.step), zap.String("checkpoint", res.CheckpointPath))
	return res, nil
}

func (t *trainer) trainStep(ctx context.Context, b *dataset.Batch) error {
	loss, err := t.model.TrainStep(b)
	if err != nil {
		return errors.Wrapf(err, "train step %d", t.step+1)
	}
	t.step++
	t.history = append(t.history, HistoryRow{Step: t.step, Epoch: t.epoch, Split: dataset.SplitTrain, Metric: metrics.Loss, Value: loss})
	t.log.Debug("train step", zap.Int("step", t.step), zap.Float64("loss", loss))

	if t.opts.CkptStep > 0 && t.step%t.opts.CkptStep == 0 {
		if err := t.saveLatest(); err != nil {
			return err
		}
	}
	if t.opts.ValStep > 0 && t.step%t.opts.ValStep == 0 {
		return t.validate(ctx)
	}
	return nil
}

// validate scores the val split, saves the best checkpoint on improvement and
// returns errStopEarly once patience runs out.
func (t *trainer) validate(ctx context.Context) error {
	var results []map[string]float64
	err := t.val.Each(ctx, t.opts.NumWorkers, func(_ int, item *dataset.FramesItem) error {
		m, err := t.model.EvalStep(item, t.ds.FrameDur(), t.opts.PostProcess)
		if err != nil {
			return err
		}
		results = append(results, m)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "validate")
	}
	t.lastValStep = t.step

	mean := metrics.Mean(results)
	names := make([]string, 0, len(mean))
	for k := range mean {
		names = append(names, k)
	}
	sort.Strings(names)

	avg := models.Metrics{}
	for _, k := range names {
		avg["val_"+k] = mean[k]
		t.history = append(t.history, HistoryRow{Step: t.step, Epoch: t.epoch, Split: dataset.SplitVal, Metric: k, Value: mean[k]})
	}
	t.log.Info("validation", zap.Int("step", t.step), zap.Any("metrics", avg))

	if acc := avg[BestMetric]; acc > t.best {
		t.best = acc
		t.stale = 0
		path, n, err := t.mgr.SaveBest(BestMetric, t.model.State(t.step, t.epoch, avg))
		if err != nil {
			return err
		}
		t.log.Info("saved best checkpoint", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(n))), zap.Float64(BestMetric, acc))
		return nil
	}

	t.stale++
	if t.opts.Patience > 0 && t.stale >= t.opts.Patience {
		return errStopEarly
	}
	return nil
}

func (t *trainer) saveLatest() error {
	path, n, err := t.mgr.SaveLatest(t.model.State(t.step, t.epoch, nil))
	if err != nil {
		return err
	}
	t.log.Info("saved checkpoint", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(n))), zap.Int("step", t.step))
	return nil
}

func (t *trainer) writeHistory() error {
	f, err := os.Create(filepath.Join(t.modelDir, MetricsFilename))
	if err != nil {
		return errors.Wrap(err, "create metrics csv")
	}
	defer f.Close()
	rows := t.history
	if rows == nil {
		rows = []HistoryRow{}
	}
	return gocsv.MarshalFile(&rows, f)
}
