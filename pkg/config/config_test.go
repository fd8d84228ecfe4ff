package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/models"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const trainTOML = `
[PREP]
data_dir = "/data/bird1"
output_dir = "/data/prep"
spect_format = "npz"
labelset = "iabcdefghjk"
train_dur = 50
val_dur = 15
test_dur = 30

[SPECT_PARAMS]
fft_size = 1024
step_size = 32
freq_cutoffs = [500.0, 10000.0]
thresh = -4.5

[DATALOADER]
window_size = 44

[TRAIN]
model = "FrameMLP"
dataset_path = "/data/prep/bird1-dataset"
root_results_dir = "/data/results"
num_epochs = 3
batch_size = 4
normalize_spectrograms = true
val_step = 50
patience = 4
min_segment_dur = 0.02
majority_vote = true

[FrameMLP.network]
hidden_size = 32

[FrameMLP.optimizer]
lr = 0.001
`

func TestFromTOMLPath(t *testing.T) {
	path := writeTOML(t, trainTOML)
	cfg, err := FromTOMLPath(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Prep)
	assert.Equal(t, "/data/bird1", cfg.Prep.DataDir)
	assert.Len(t, cfg.Prep.Labels(), 11)
	assert.Equal(t, 30.0, cfg.Prep.TestDur)

	p := cfg.SpectParams.Params()
	assert.Equal(t, 1024, p.FFTSize)
	assert.Equal(t, []float64{500, 10000}, p.FreqCutoffs)
	assert.Equal(t, -4.5, p.Thresh)
	assert.Equal(t, "log_spect", p.TransformType)

	assert.Equal(t, 44, cfg.Dataloader.WindowSize)

	require.NotNil(t, cfg.Train)
	assert.Equal(t, "FrameMLP", cfg.Train.Model)
	assert.Equal(t, 3, cfg.Train.NumEpochs)
	assert.True(t, cfg.Train.Shuffle)
	assert.True(t, cfg.Train.NormalizeSpectrograms)
	assert.Equal(t, 0.02, cfg.Train.PostProcess().MinSegmentDur)
	assert.True(t, cfg.Train.PostProcess().MajorityVote)
	assert.Nil(t, cfg.Eval)

	purpose, err := cfg.Purpose()
	require.NoError(t, err)
	assert.Equal(t, "train", purpose)
}

func TestFromTOMLPath_Defaults(t *testing.T) {
	cfg, err := FromTOMLPath(writeTOML(t, `
[EVAL]
model = "TeenyFrameMLP"
checkpoint_path = "/r/checkpoint.pt"
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowSize, cfg.Dataloader.WindowSize)
	assert.Equal(t, 512, cfg.SpectParams.FFTSize)
	assert.Equal(t, 2, cfg.Eval.NumWorkers)
	assert.False(t, cfg.Eval.PostProcess().Enabled())
}

func TestFromTOMLPath_Errors(t *testing.T) {
	var verr *check.ValueError

	_, err := FromTOMLPath(writeTOML(t, "[TRIAN]\nmodel = \"FrameMLP\"\n"))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "TRIAN")

	_, err = FromTOMLPath(writeTOML(t, "[TRAIN]\nmodel = \"FrameMLP\"\nnum_epoch = 3\n"))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "num_epoch")

	_, err = FromTOMLPath(writeTOML(t, "[TRAIN]\nmodel = \"TweetyNet\"\n"))
	var uerr *models.UnknownModelError
	assert.ErrorAs(t, err, &uerr)

	_, err = FromTOMLPath(writeTOML(t, "[PREDICT]\ncsv_path = \"x.csv\"\n"))
	assert.ErrorAs(t, err, &verr)

	_, err = FromTOMLPath(writeTOML(t, "[TRAIN\n"))
	assert.Error(t, err)

	var ferr *check.FileNotFoundError
	_, err = FromTOMLPath(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorAs(t, err, &ferr)
}

func TestFromTOMLPath_DeviceEnv(t *testing.T) {
	t.Setenv(DeviceEnv, models.DeviceCUDA)
	cfg, err := FromTOMLPath(writeTOML(t, trainTOML))
	require.NoError(t, err)
	assert.Equal(t, models.DeviceCUDA, cfg.Train.Device)
}

func TestPurpose(t *testing.T) {
	cfg := &Config{Train: &TrainConfig{}, Eval: &EvalConfig{}}
	_, err := cfg.Purpose()
	var verr *check.ValueError
	assert.ErrorAs(t, err, &verr)

	_, err = (&Config{}).Purpose()
	assert.ErrorAs(t, err, &verr)

	p, err := (&Config{Predict: &PredictConfig{}}).Purpose()
	require.NoError(t, err)
	assert.Equal(t, "predict", p)
}

func TestModelConfigFromTOMLPath(t *testing.T) {
	path := writeTOML(t, trainTOML)

	c, err := ModelConfigFromTOMLPath(path, "FrameMLP")
	require.NoError(t, err)
	assert.Equal(t, 32, c.Network.HiddenSize)
	assert.Equal(t, 0.001, c.Optimizer.LR)

	def, err := models.Get("FrameMLP")
	require.NoError(t, err)
	assert.Equal(t, def.Defaults.Network.Context, c.Network.Context)
	assert.Equal(t, def.Defaults.Optimizer.Beta2, c.Optimizer.Beta2)

	m, err := ModelConfigMapFromTOMLPath(path, []string{"FrameMLP", "TeenyFrameMLP"})
	require.NoError(t, err)
	teeny, err := models.Get("TeenyFrameMLP")
	require.NoError(t, err)
	assert.Equal(t, teeny.Defaults, m["TeenyFrameMLP"])

	_, err = ModelConfigFromTOMLPath(path, "TweetyNet")
	var uerr *models.UnknownModelError
	assert.ErrorAs(t, err, &uerr)
}

func TestPredictCheckpoints(t *testing.T) {
	got, err := PredictConfig{Models: []string{"FrameMLP"}, CheckpointPath: "a.pt"}.Checkpoints()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pt"}, got)

	got, err = PredictConfig{Models: []string{"FrameMLP", "FrameMLP"}, CheckpointPaths: []string{"a.pt", "b.pt"}}.Checkpoints()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pt", "b.pt"}, got)

	var verr *check.ValueError
	_, err = PredictConfig{Models: []string{"FrameMLP", "FrameMLP"}, CheckpointPath: "a.pt"}.Checkpoints()
	assert.ErrorAs(t, err, &verr)
	_, err = PredictConfig{Models: []string{"FrameMLP"}, CheckpointPaths: []string{"a.pt", "b.pt"}}.Checkpoints()
	assert.ErrorAs(t, err, &verr)
}
