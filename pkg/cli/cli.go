// Package cli runs vak commands from a config file: it resolves where output
// goes, copies the config there, opens the run log and calls into core.
package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/config"
	"github.com/nzoschke/vak/pkg/core"
	"github.com/nzoschke/vak/pkg/paths"
	"github.com/nzoschke/vak/pkg/prep"
	"github.com/nzoschke/vak/pkg/runlog"
)

// Command names, also used as log file prefixes.
const (
	CommandPrep       = "prep"
	CommandTrain      = "train"
	CommandLearnCurve = "learncurve"
	CommandEval       = "eval"
	CommandPredict    = "predict"
)

func load(tomlPath, command string) (*config.Config, error) {
	cfg, err := config.FromTOMLPath(tomlPath)
	if err != nil {
		return nil, err
	}
	missing := func(section string) error {
		return check.Valuef("config", "%s needs a [%s] section in %s", command, section, tomlPath)
	}
	switch {
	case command == CommandPrep && cfg.Prep == nil:
		return nil, missing(config.SectionPrep)
	case command == CommandTrain && cfg.Train == nil:
		return nil, missing(config.SectionTrain)
	case command == CommandLearnCurve && cfg.LearnCurve == nil:
		return nil, missing(config.SectionLearnCurve)
	case command == CommandEval && cfg.Eval == nil:
		return nil, missing(config.SectionEval)
	case command == CommandPredict && cfg.Predict == nil:
		return nil, missing(config.SectionPredict)
	}
	return cfg, nil
}

// startResults resolves the results dir, copies the config into it and opens
// the run log there.
func startResults(command, tomlPath string, results paths.Results) (string, *runlog.Log, error) {
	resultsPath, err := results.Resolve()
	if err != nil {
		return "", nil, err
	}
	if _, err := paths.CopyConfig(tomlPath, resultsPath); err != nil {
		return "", nil, err
	}
	l, err := runlog.Open(command, resultsPath)
	if err != nil {
		return "", nil, err
	}
	l.Logger().Info("results", zap.String("path", resultsPath), zap.String("config", tomlPath))
	return resultsPath, l, nil
}

// Prep prepares the dataset described by [PREP] for the purpose of the other
// command section in the file and returns the dataset path. The path must be
// set as dataset_path (or csv_path) before running that command.
func Prep(ctx context.Context, tomlPath string) (string, error) {
	cfg, err := load(tomlPath, CommandPrep)
	if err != nil {
		return "", err
	}
	purpose, err := cfg.Purpose()
	if err != nil {
		return "", err
	}
	if err := check.Dir("output_dir", cfg.Prep.OutputDir); err != nil {
		return "", err
	}

	l, err := runlog.Open(CommandPrep, cfg.Prep.OutputDir)
	if err != nil {
		return "", err
	}
	defer l.Close()

	path, err := prep.Prep(ctx, prep.Options{
		DataDir:     cfg.Prep.DataDir,
		OutputDir:   cfg.Prep.OutputDir,
		AudioFormat: cfg.Prep.AudioFormat,
		SpectFormat: cfg.Prep.SpectFormat,
		Labelset:    cfg.Prep.Labels(),
		Purpose:     purpose,
		TrainDur:    cfg.Prep.TrainDur,
		ValDur:      cfg.Prep.ValDur,
		TestDur:     cfg.Prep.TestDur,
		SpectParams: cfg.SpectParams.Params(),
		SpectKey:    cfg.SpectParams.SpectKey,
		TimebinsKey: cfg.SpectParams.TimebinsKey,
		NumWorkers:  cfg.Prep.NumWorkers,
		Seed:        cfg.Prep.Seed,
		Logger:      l.Logger(),
	})
	if err != nil {
		l.Logger().Error("prep failed", zap.Error(err))
		return "", err
	}

	key := "dataset_path"
	if purpose == prep.PurposePredict {
		key = "csv_path"
	}
	l.Logger().Info(fmt.Sprintf("set %s in the [%s] section of %s to use this dataset", key, purpose, tomlPath), zap.String(key, path))
	return path, nil
}

func trainOptions(tc config.TrainConfig, cfg *config.Config, tomlPath string) (core.TrainOptions, error) {
	if tc.DatasetPath == "" {
		return core.TrainOptions{}, check.Valuef("dataset_path", "must be specified, run vak prep %s first", tomlPath)
	}
	results, err := paths.NewResults(tc.ResultsPath, tc.RootResultsDir)
	if err != nil {
		return core.TrainOptions{}, err
	}
	mc, err := config.ModelConfigFromTOMLPath(tomlPath, tc.Model)
	if err != nil {
		return core.TrainOptions{}, err
	}
	return core.TrainOptions{
		ModelName:             tc.Model,
		ModelConfig:           mc,
		DatasetPath:           tc.DatasetPath,
		WindowSize:            cfg.Dataloader.WindowSize,
		Stride:                tc.Stride,
		BatchSize:             tc.BatchSize,
		NumEpochs:             tc.NumEpochs,
		NumWorkers:            tc.NumWorkers,
		Results:               results,
		PreviousRunPath:       tc.PreviousRunPath,
		NormalizeSpectrograms: tc.NormalizeSpectrograms,
		Shuffle:               tc.Shuffle,
		ValStep:               tc.ValStep,
		CkptStep:              tc.CkptStep,
		Patience:              tc.Patience,
		Device:                tc.Device,
		Seed:                  tc.Seed,
		PostProcess:           tc.PostProcess(),
	}, nil
}

// Train runs [TRAIN].
func Train(ctx context.Context, tomlPath string) (*core.TrainResult, error) {
	cfg, err := load(tomlPath, CommandTrain)
	if err != nil {
		return nil, err
	}
	opts, err := trainOptions(*cfg.Train, cfg, tomlPath)
	if err != nil {
		return nil, err
	}
	if err := core.CheckTrain(opts); err != nil {
		return nil, err
	}

	resultsPath, l, err := startResults(CommandTrain, tomlPath, opts.Results)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	opts.Results = paths.Existing(resultsPath)
	opts.Logger = l.Logger()
	res, err := core.Train(ctx, opts)
	if err != nil {
		l.Logger().Error("train failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// LearnCurve runs [LEARNCURVE].
func LearnCurve(ctx context.Context, tomlPath string) (*core.LearnCurveResult, error) {
	cfg, err := load(tomlPath, CommandLearnCurve)
	if err != nil {
		return nil, err
	}
	topts, err := trainOptions(cfg.LearnCurve.TrainConfig, cfg, tomlPath)
	if err != nil {
		return nil, err
	}
	lopts := core.LearnCurveOptions{
		TrainOptions:  topts,
		TrainSetDurs:  cfg.LearnCurve.TrainSetDurs,
		NumReplicates: cfg.LearnCurve.NumReplicates,
	}
	if err := core.CheckLearnCurve(lopts); err != nil {
		return nil, err
	}

	resultsPath, l, err := startResults(CommandLearnCurve, tomlPath, lopts.Results)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	lopts.Results = paths.Existing(resultsPath)
	lopts.Logger = l.Logger()
	res, err := core.LearningCurve(ctx, lopts)
	if err != nil {
		l.Logger().Error("learncurve failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// Eval runs [EVAL]. The run log goes to output_dir next to the eval csv.
func Eval(ctx context.Context, tomlPath string) (*core.EvalResult, error) {
	cfg, err := load(tomlPath, CommandEval)
	if err != nil {
		return nil, err
	}
	ec := cfg.Eval
	if ec.DatasetPath == "" {
		return nil, check.Valuef("dataset_path", "must be specified, run vak prep %s first", tomlPath)
	}
	if err := check.Dir("output_dir", ec.OutputDir); err != nil {
		return nil, err
	}
	mc, err := config.ModelConfigFromTOMLPath(tomlPath, ec.Model)
	if err != nil {
		return nil, err
	}

	l, err := runlog.Open(CommandEval, ec.OutputDir)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	res, err := core.Eval(ctx, core.EvalOptions{
		ModelName:       ec.Model,
		ModelConfig:     mc,
		CheckpointPath:  ec.CheckpointPath,
		LabelmapPath:    ec.LabelmapPath,
		DatasetPath:     ec.DatasetPath,
		Split:           ec.Split,
		WindowSize:      cfg.Dataloader.WindowSize,
		NumWorkers:      ec.NumWorkers,
		SpectScalerPath: ec.SpectScalerPath,
		OutputDir:       ec.OutputDir,
		PostProcess:     ec.PostProcess(),
		Device:          ec.Device,
		Logger:          l.Logger(),
	})
	if err != nil {
		l.Logger().Error("eval failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// Predict runs [PREDICT]. The run log goes to output_dir next to the
// annotation csv.
func Predict(ctx context.Context, tomlPath string) (*core.PredictResult, error) {
	cfg, err := load(tomlPath, CommandPredict)
	if err != nil {
		return nil, err
	}
	pc := cfg.Predict
	if pc.CSVPath == "" {
		return nil, check.Valuef("csv_path", "must be specified, run vak prep %s first", tomlPath)
	}
	if err := check.Dir("output_dir", pc.OutputDir); err != nil {
		return nil, err
	}
	ckpts, err := pc.Checkpoints()
	if err != nil {
		return nil, err
	}
	mcs, err := config.ModelConfigMapFromTOMLPath(tomlPath, pc.Models)
	if err != nil {
		return nil, err
	}
	ms := make([]core.PredictModel, len(pc.Models))
	for i, name := range pc.Models {
		ms[i] = core.PredictModel{Name: name, Config: mcs[name], CheckpointPath: ckpts[i]}
	}

	l, err := runlog.Open(CommandPredict, pc.OutputDir)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	res, err := core.Predict(ctx, core.PredictOptions{
		CSVPath:          pc.CSVPath,
		Models:           ms,
		LabelmapPath:     pc.LabelmapPath,
		WindowSize:       cfg.Dataloader.WindowSize,
		NumWorkers:       pc.NumWorkers,
		SpectKey:         cfg.SpectParams.SpectKey,
		TimebinsKey:      cfg.SpectParams.TimebinsKey,
		SpectScalerPath:  pc.SpectScalerPath,
		Device:           pc.Device,
		AnnotCSVFilename: pc.AnnotCSVFilename,
		OutputDir:        pc.OutputDir,
		MinSegmentDur:    pc.MinSegmentDur,
		MajorityVote:     pc.MajorityVote,
		SaveNetOutputs:   pc.SaveNetOutputs,
		Logger:           l.Logger(),
	})
	if err != nil {
		l.Logger().Error("predict failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}
