// Package config parses the TOML files that drive every vak command.
//
// A file has one section per command ([PREP], [TRAIN], [LEARNCURVE], [EVAL],
// [PREDICT]) plus shared [SPECT_PARAMS] and [DATALOADER] sections, and one
// table per model name holding its network and optimizer settings:
//
//	[TRAIN]
//	model = "FrameMLP"
//	dataset_path = "/data/bird1-dataset"
//	root_results_dir = "/data/results"
//
//	[FrameMLP.optimizer]
//	lr = 0.001
package config

import (
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/labels"
	"github.com/nzoschke/vak/pkg/models"
	"github.com/nzoschke/vak/pkg/spect"
	"github.com/nzoschke/vak/pkg/transforms"
)

// Section names.
const (
	SectionPrep        = "PREP"
	SectionSpectParams = "SPECT_PARAMS"
	SectionDataloader  = "DATALOADER"
	SectionTrain       = "TRAIN"
	SectionLearnCurve  = "LEARNCURVE"
	SectionEval        = "EVAL"
	SectionPredict     = "PREDICT"
)

// DeviceEnv overrides the device of every section when set.
const DeviceEnv = "VAK_DEVICE"

// DefaultWindowSize is used when [DATALOADER] does not set window_size.
const DefaultWindowSize = 88

// PrepConfig is the [PREP] section.
type PrepConfig struct {
	DataDir     string  `toml:"data_dir"`
	OutputDir   string  `toml:"output_dir"`
	AudioFormat string  `toml:"audio_format"`
	SpectFormat string  `toml:"spect_format"`
	AnnotFormat string  `toml:"annot_format"`
	Labelset    string  `toml:"labelset"`
	TrainDur    float64 `toml:"train_dur"`
	ValDur      float64 `toml:"val_dur"`
	TestDur     float64 `toml:"test_dur"`
	NumWorkers  int     `toml:"num_workers"`
	Seed        int64   `toml:"seed"`
}

// Labels returns the parsed labelset.
func (p PrepConfig) Labels() []string {
	return labels.ParseLabelset(p.Labelset)
}

// SpectParamsConfig is the [SPECT_PARAMS] section.
type SpectParamsConfig struct {
	FFTSize       int       `toml:"fft_size"`
	StepSize      int       `toml:"step_size"`
	FreqCutoffs   []float64 `toml:"freq_cutoffs"`
	Thresh        float64   `toml:"thresh"`
	TransformType string    `toml:"transform_type"`
	SpectKey      string    `toml:"spect_key"`
	FreqKey       string    `toml:"freq_key"`
	TimebinsKey   string    `toml:"timebins_key"`
}

// Params returns the spectrogram parameters.
func (s SpectParamsConfig) Params() spect.Params {
	return spect.Params{
		FFTSize:       s.FFTSize,
		StepSize:      s.StepSize,
		FreqCutoffs:   s.FreqCutoffs,
		Thresh:        s.Thresh,
		TransformType: s.TransformType,
	}
}

// DataloaderConfig is the [DATALOADER] section.
type DataloaderConfig struct {
	WindowSize int `toml:"window_size"`
}

// PostProcessConfig holds the post-processing options shared by the sections
// that score or emit predictions.
type PostProcessConfig struct {
	MinSegmentDur float64 `toml:"min_segment_dur"`
	MajorityVote  bool    `toml:"majority_vote"`
}

// PostProcess returns the configured clean-up.
func (p PostProcessConfig) PostProcess() transforms.PostProcess {
	return transforms.PostProcess{MinSegmentDur: p.MinSegmentDur, MajorityVote: p.MajorityVote}
}

// TrainConfig is the [TRAIN] section.
type TrainConfig struct {
	PostProcessConfig
	Model                 string `toml:"model"`
	DatasetPath           string `toml:"dataset_path"`
	RootResultsDir        string `toml:"root_results_dir"`
	ResultsPath           string `toml:"results_path"`
	PreviousRunPath       string `toml:"previous_run_path"`
	NumEpochs             int    `toml:"num_epochs"`
	BatchSize             int    `toml:"batch_size"`
	Stride                int    `toml:"stride"`
	NormalizeSpectrograms bool   `toml:"normalize_spectrograms"`
	Shuffle               bool   `toml:"shuffle"`
	ValStep               int    `toml:"val_step"`
	CkptStep              int    `toml:"ckpt_step"`
	Patience              int    `toml:"patience"`
	NumWorkers            int    `toml:"num_workers"`
	Device                string `toml:"device"`
	Seed                  int64  `toml:"seed"`
}

// LearnCurveConfig is the [LEARNCURVE] section. previous_run_path names an
// earlier learning curve whose training subsets are reused.
type LearnCurveConfig struct {
	TrainConfig
	TrainSetDurs  []float64 `toml:"train_set_durs"`
	NumReplicates int       `toml:"num_replicates"`
}

// EvalConfig is the [EVAL] section.
type EvalConfig struct {
	PostProcessConfig
	Model           string `toml:"model"`
	CheckpointPath  string `toml:"checkpoint_path"`
	LabelmapPath    string `toml:"labelmap_path"`
	DatasetPath     string `toml:"dataset_path"`
	Split           string `toml:"split"`
	SpectScalerPath string `toml:"spect_scaler_path"`
	OutputDir       string `toml:"output_dir"`
	NumWorkers      int    `toml:"num_workers"`
	Device          string `toml:"device"`
}

// PredictConfig is the [PREDICT] section. Each model in Models uses the
// matching entry of CheckpointPaths, or CheckpointPath when only one model
// is listed.
type PredictConfig struct {
	PostProcessConfig
	CSVPath          string   `toml:"csv_path"`
	Models           []string `toml:"models"`
	CheckpointPath   string   `toml:"checkpoint_path"`
	CheckpointPaths  []string `toml:"checkpoint_paths"`
	LabelmapPath     string   `toml:"labelmap_path"`
	SpectScalerPath  string   `toml:"spect_scaler_path"`
	AnnotCSVFilename string   `toml:"annot_csv_filename"`
	OutputDir        string   `toml:"output_dir"`
	SaveNetOutputs   bool     `toml:"save_net_outputs"`
	NumWorkers       int      `toml:"num_workers"`
	Device           string   `toml:"device"`
}

// Checkpoints pairs each model with its checkpoint path.
func (p PredictConfig) Checkpoints() ([]string, error) {
	switch {
	case len(p.CheckpointPaths) > 0:
		if len(p.CheckpointPaths) != len(p.Models) {
			return nil, check.Valuef("checkpoint_paths", "got %d checkpoint paths for %d models", len(p.CheckpointPaths), len(p.Models))
		}
		return p.CheckpointPaths, nil
	case len(p.Models) == 1:
		return []string{p.CheckpointPath}, nil
	default:
		return nil, check.Valuef("checkpoint_paths", "an ensemble of %d models needs checkpoint_paths", len(p.Models))
	}
}

// Config is a parsed config file. Command sections are nil when absent.
type Config struct {
	Path        string
	Prep        *PrepConfig
	SpectParams SpectParamsConfig
	Dataloader  DataloaderConfig
	Train       *TrainConfig
	LearnCurve  *LearnCurveConfig
	Eval        *EvalConfig
	Predict     *PredictConfig
}

// Purpose returns the command section the file configures besides [PREP],
// which decides what prep builds a dataset for.
func (c *Config) Purpose() (string, error) {
	var found []string
	if c.Train != nil {
		found = append(found, "train")
	}
	if c.LearnCurve != nil {
		found = append(found, "learncurve")
	}
	if c.Eval != nil {
		found = append(found, "eval")
	}
	if c.Predict != nil {
		found = append(found, "predict")
	}
	if len(found) != 1 {
		return "", check.Valuef("config", "expected exactly one of [TRAIN], [LEARNCURVE], [EVAL] or [PREDICT] in %s, got %v", c.Path, found)
	}
	return found[0], nil
}

func defaultSpectParams() SpectParamsConfig {
	p := spect.DefaultParams()
	return SpectParamsConfig{FFTSize: p.FFTSize, StepSize: p.StepSize, TransformType: p.TransformType}
}

func defaultTrain() TrainConfig {
	return TrainConfig{NumEpochs: 2, BatchSize: 8, Shuffle: true, NumWorkers: 2}
}

func decodeFile(path string) (toml.MetaData, map[string]toml.Primitive, error) {
	if err := check.File("toml_path", path); err != nil {
		return toml.MetaData{}, nil, err
	}
	var raw map[string]toml.Primitive
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return md, nil, errors.Wrapf(err, "parse config %s", path)
	}
	return md, raw, nil
}

// FromTOMLPath parses and validates a config file.
func FromTOMLPath(path string) (*Config, error) {
	md, raw, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Path:        path,
		SpectParams: defaultSpectParams(),
		Dataloader:  DataloaderConfig{WindowSize: DefaultWindowSize},
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	modelSections := map[string]bool{}
	for _, name := range names {
		prim := raw[name]
		switch name {
		case SectionPrep:
			cfg.Prep = &PrepConfig{}
			err = md.PrimitiveDecode(prim, cfg.Prep)
		case SectionSpectParams:
			err = md.PrimitiveDecode(prim, &cfg.SpectParams)
		case SectionDataloader:
			err = md.PrimitiveDecode(prim, &cfg.Dataloader)
		case SectionTrain:
			cfg.Train = &TrainConfig{}
			*cfg.Train = defaultTrain()
			err = md.PrimitiveDecode(prim, cfg.Train)
		case SectionLearnCurve:
			cfg.LearnCurve = &LearnCurveConfig{TrainConfig: defaultTrain(), NumReplicates: 1}
			err = md.PrimitiveDecode(prim, cfg.LearnCurve)
		case SectionEval:
			cfg.Eval = &EvalConfig{NumWorkers: 2}
			err = md.PrimitiveDecode(prim, cfg.Eval)
		case SectionPredict:
			cfg.Predict = &PredictConfig{NumWorkers: 2}
			err = md.PrimitiveDecode(prim, cfg.Predict)
		default:
			if _, merr := models.Get(name); merr != nil {
				return nil, check.Valuef("config", "unknown section [%s] in %s, expected one of %s or a model name from %v",
					name, path, strings.Join([]string{SectionPrep, SectionSpectParams, SectionDataloader, SectionTrain, SectionLearnCurve, SectionEval, SectionPredict}, ", "), models.Names())
			}
			modelSections[name] = true
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decode [%s] in %s", name, path)
		}
	}

	for _, key := range md.Undecoded() {
		if len(key) > 1 && modelSections[key[0]] {
			continue
		}
		return nil, check.Valuef("config", "unknown option %s in %s", key.String(), path)
	}

	cfg.applyEnv(os.Getenv(DeviceEnv))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(device string) {
	if device == "" {
		return
	}
	if c.Train != nil {
		c.Train.Device = device
	}
	if c.LearnCurve != nil {
		c.LearnCurve.Device = device
	}
	if c.Eval != nil {
		c.Eval.Device = device
	}
	if c.Predict != nil {
		c.Predict.Device = device
	}
}

func (c *Config) validate() error {
	if c.Prep != nil && c.Prep.AnnotFormat != "" && c.Prep.AnnotFormat != "csv" {
		return check.Valuef("annot_format", "unsupported annotation format %q, only csv is supported", c.Prep.AnnotFormat)
	}
	if c.Dataloader.WindowSize <= 0 {
		return check.Valuef("window_size", "must be positive, got %d", c.Dataloader.WindowSize)
	}

	var names []string
	if c.Train != nil {
		names = append(names, c.Train.Model)
	}
	if c.LearnCurve != nil {
		names = append(names, c.LearnCurve.Model)
	}
	if c.Eval != nil {
		names = append(names, c.Eval.Model)
	}
	if c.Predict != nil {
		if len(c.Predict.Models) == 0 {
			return check.Valuef("models", "[PREDICT] must list at least one model")
		}
		names = append(names, c.Predict.Models...)
	}
	for _, name := range names {
		if name == "" {
			return check.Valuef("model", "must be specified")
		}
		if _, err := models.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// ModelConfigFromTOMLPath returns the named model's config from its table in
// the file, merged over the model's defaults.
func ModelConfigFromTOMLPath(path, modelName string) (models.Config, error) {
	m, err := ModelConfigMapFromTOMLPath(path, []string{modelName})
	if err != nil {
		return models.Config{}, err
	}
	return m[modelName], nil
}

// ModelConfigMapFromTOMLPath returns configs for several models keyed by name.
// A model without a table in the file gets its defaults.
func ModelConfigMapFromTOMLPath(path string, names []string) (map[string]models.Config, error) {
	md, raw, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Config, len(names))
	for _, name := range names {
		def, err := models.Get(name)
		if err != nil {
			return nil, err
		}
		var over models.Config
		if prim, ok := raw[name]; ok {
			if err := md.PrimitiveDecode(prim, &over); err != nil {
				return nil, errors.Wrapf(err, "decode [%s] in %s", name, path)
			}
		}
		out[name] = def.Defaults.Merge(over)
	}
	return out, nil
}
