// Package checkpoint persists and restores model and optimizer state.
//
// Checkpoints are gob-encoded, snappy-compressed and written atomically: the
// state goes to a temporary file in the destination directory which is then
// renamed over the target, so a crash mid-write leaves the previous file intact.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	"github.com/nzoschke/vak/pkg/version"
)

// LatestName is the file name of the rolling checkpoint.
const LatestName = "checkpoint.pt"

// DirName is the checkpoints directory inside a model's results directory.
const DirName = "checkpoints"

// Param is a named dense parameter matrix.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// OptimizerState holds optimizer moments aligned with State.Params.
type OptimizerState struct {
	Kind string
	T    int
	M    []Param
	V    []Param
}

// State is everything needed to resume training or run inference.
type State struct {
	ToolkitVersion string
	Model          string
	NumClasses     int
	Step           int
	Epoch          int
	Params         []Param
	Optimizer      OptimizerState
	Metrics        map[string]float64
}

// Save writes state to path atomically.
func Save(path string, state *State) (int, error) {
	if state.ToolkitVersion == "" {
		state.ToolkitVersion = version.Version
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return 0, fmt.Errorf("encode checkpoint: %w", err)
	}
	data := snappy.Encode(nil, buf.Bytes())

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace checkpoint: %w", err)
	}
	return len(data), nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint %s: %w", path, err)
	}

	var state State
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if err := version.Compatible(state.ToolkitVersion); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return &state, nil
}

// BestName returns the file name of the best checkpoint for a tracked metric,
// e.g. "val_acc" gives "max-val-acc-checkpoint.pt".
func BestName(metric string) string {
	return "max-" + strings.ReplaceAll(metric, "_", "-") + "-checkpoint.pt"
}

// Manager owns the checkpoints directory of one model in one run.
type Manager struct {
	Dir string
}

// NewManager creates <modelDir>/checkpoints.
func NewManager(modelDir string) (*Manager, error) {
	dir := filepath.Join(modelDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoints dir: %w", err)
	}
	return &Manager{Dir: dir}, nil
}

// LatestPath is the rolling checkpoint path.
func (m *Manager) LatestPath() string {
	return filepath.Join(m.Dir, LatestName)
}

// BestPath is the best-so-far checkpoint path for metric.
func (m *Manager) BestPath(metric string) string {
	return filepath.Join(m.Dir, BestName(metric))
}

// SaveLatest overwrites the rolling checkpoint.
func (m *Manager) SaveLatest(state *State) (string, int, error) {
	n, err := Save(m.LatestPath(), state)
	return m.LatestPath(), n, err
}

// SaveBest overwrites the best checkpoint for metric.
func (m *Manager) SaveBest(metric string, state *State) (string, int, error) {
	n, err := Save(m.BestPath(metric), state)
	return m.BestPath(metric), n, err
}

// HasBest reports whether a best checkpoint exists for metric.
func (m *Manager) HasBest(metric string) bool {
	_, err := os.Stat(m.BestPath(metric))
	return err == nil
}
