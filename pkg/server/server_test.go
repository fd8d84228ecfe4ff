package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/vak/pkg/core"
	"github.com/nzoschke/vak/pkg/metrics"
)

func writeCSV(t *testing.T, path string, rows any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gocsv.MarshalFile(rows, f))
}

// fixture lays out a learning curve run and a plain train run.
func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	lc := filepath.Join(root, "results_240101_120000")
	writeCSV(t, filepath.Join(lc, core.LearningCurveFilename), &[]core.CurveRow{
		{TrainSetDur: 30, ReplicateNum: 1, Metric: metrics.Acc, Value: 0.8},
		{TrainSetDur: 30, ReplicateNum: 2, Metric: metrics.Acc, Value: 0.9},
	})
	for _, rep := range []string{"replicate_1", "replicate_2"} {
		writeCSV(t, filepath.Join(lc, "train_dur_30s", rep, "eval_FrameMLP_240101_120001.csv"), &[]core.EvalRow{
			{ModelName: "FrameMLP", Split: "test", AvgAcc: 0.85, AvgLoss: 0.3},
		})
	}

	require.NoError(t, os.Mkdir(filepath.Join(root, "results_240102_090000"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "scratch"), 0755))
	return root
}

func get(t *testing.T, root, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	New(root).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListResults(t *testing.T) {
	rec := get(t, fixture(t), "/api/results")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []Results
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Equal(t, []Results{
		{Name: "results_240101_120000", HasLearningCurve: true, Evals: 2},
		{Name: "results_240102_090000"},
	}, results)
}

func TestLearningCurve(t *testing.T) {
	root := fixture(t)

	rec := get(t, root, "/api/results/results_240101_120000/learning_curve")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []core.CurveRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 0.9, rows[1].Value)

	assert.Equal(t, http.StatusNotFound, get(t, root, "/api/results/results_240102_090000/learning_curve").Code)
	assert.Equal(t, http.StatusNotFound, get(t, root, "/api/results/results_missing/learning_curve").Code)
	assert.Equal(t, http.StatusNotFound, get(t, root, "/api/results/scratch/learning_curve").Code)
}

func TestEvals(t *testing.T) {
	rec := get(t, fixture(t), "/api/results/results_240101_120000/evals")
	require.Equal(t, http.StatusOK, rec.Code)

	var evals []Eval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evals))
	require.Len(t, evals, 2)
	assert.Equal(t, "train_dur_30s/replicate_1/eval_FrameMLP_240101_120001.csv", evals[0].Path)
	assert.Equal(t, "FrameMLP", evals[0].Model)
	assert.Equal(t, 0.85, evals[0].Metrics[metrics.Acc])
	assert.NotContains(t, evals[0].Metrics, metrics.Acc+metrics.TransformedSuffix)
}

func TestTraversal(t *testing.T) {
	root := fixture(t)
	assert.Equal(t, http.StatusForbidden, get(t, root, "/api/results/..%2F..%2Fetc/evals").Code)
	assert.Equal(t, http.StatusForbidden, get(t, root, "/api/results/../evals").Code)
}
