// Package paths lays out results directories.
package paths

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nzoschke/vak/pkg/check"
)

// ResultsDirPrefix starts the name of every results directory.
const ResultsDirPrefix = "results_"

// TimestampFormat is used in results directory and log file names.
const TimestampFormat = "060102_150405"

// Timestamp returns the current time formatted for file names.
func Timestamp() string {
	return time.Now().Format(TimestampFormat)
}

// GenerateResultsDirName returns root/results_<timestamp>. It does not create it.
func GenerateResultsDirName(root string) string {
	return filepath.Join(root, ResultsDirPrefix+Timestamp())
}

// TrainDurDir returns the learning curve directory name for a training set duration.
func TrainDurDir(dur float64) string {
	return "train_dur_" + strconv.FormatFloat(dur, 'f', -1, 64) + "s"
}

// ReplicateDir returns the learning curve directory name for a replicate.
func ReplicateDir(n int) string {
	return fmt.Sprintf("replicate_%d", n)
}

type resultsKind int

const (
	resultsExisting resultsKind = iota + 1
	resultsFresh
)

// Results is where a run writes its output: either an existing directory used
// as given, or a fresh timestamped directory created under a parent.
type Results struct {
	kind resultsKind
	path string
}

// Existing targets a directory that must already exist.
func Existing(path string) Results {
	return Results{kind: resultsExisting, path: path}
}

// FreshUnder targets a new results directory created under root.
func FreshUnder(root string) Results {
	return Results{kind: resultsFresh, path: root}
}

// NewResults builds Results from the two mutually exclusive options.
// Exactly one of them must be set.
func NewResults(resultsPath, rootResultsDir string) (Results, error) {
	switch {
	case resultsPath != "" && rootResultsDir != "":
		return Results{}, check.Valuef("results_path", "results_path and root_results_dir are mutually exclusive, got %q and %q", resultsPath, rootResultsDir)
	case resultsPath != "":
		return Existing(resultsPath), nil
	case rootResultsDir != "":
		return FreshUnder(rootResultsDir), nil
	default:
		return Results{}, check.Valuef("results_path", "one of results_path or root_results_dir must be specified")
	}
}

// IsSet reports whether the Results was constructed.
func (r Results) IsSet() bool {
	return r.kind != 0
}

// Check validates the target without side effects.
func (r Results) Check() error {
	switch r.kind {
	case resultsExisting:
		return check.Dir("results_path", r.path)
	case resultsFresh:
		return check.Dir("root_results_dir", r.path)
	default:
		return check.Valuef("results_path", "one of results_path or root_results_dir must be specified")
	}
}

// Resolve returns the concrete results path, creating it for FreshUnder.
func (r Results) Resolve() (string, error) {
	if err := r.Check(); err != nil {
		return "", err
	}
	if r.kind == resultsExisting {
		return r.path, nil
	}

	path := GenerateResultsDirName(r.path)
	if err := os.Mkdir(path, 0755); err != nil {
		if os.IsExist(err) {
			return "", check.Valuef("root_results_dir", "results directory already exists: %s", path)
		}
		return "", fmt.Errorf("create results directory: %w", err)
	}
	return path, nil
}

// String describes the target.
func (r Results) String() string {
	switch r.kind {
	case resultsExisting:
		return r.path
	case resultsFresh:
		return filepath.Join(r.path, ResultsDirPrefix+"*")
	default:
		return "<unset>"
	}
}

// CopyConfig copies a config file into the results directory for provenance.
func CopyConfig(configPath, resultsPath string) (string, error) {
	src, err := os.Open(configPath)
	if err != nil {
		return "", fmt.Errorf("open config: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(resultsPath, filepath.Base(configPath))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create config copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("copy config: %w", err)
	}
	return dstPath, dst.Close()
}
