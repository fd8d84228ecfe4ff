// Package server provides the Echo web server that browses results
// directories: learning curves and eval scores.
package server

import (
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nzoschke/vak/pkg/core"
	"github.com/nzoschke/vak/pkg/paths"
)

// Results describes one results directory.
type Results struct {
	Name             string `json:"name"`
	HasLearningCurve bool   `json:"has_learning_curve"`
	Evals            int    `json:"evals"`
}

// Eval is one eval csv found under a results directory.
type Eval struct {
	Path    string             `json:"path"`
	Split   string             `json:"split"`
	Model   string             `json:"model"`
	Metrics map[string]float64 `json:"metrics"`
}

type handler struct {
	root string
}

// New returns the server for results directories under root.
func New(root string) *echo.Echo {
	h := &handler{root: root}

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/api/results", h.listResults)
	e.GET("/api/results/:name/learning_curve", h.learningCurve)
	e.GET("/api/results/:name/evals", h.evals)

	return e
}

// Run serves results under root on addr.
func Run(addr, root string) error {
	e := New(root)
	e.Use(middleware.Logger())
	return e.Start(addr)
}

// listResults returns every results directory under root.
func (h *handler) listResults(c echo.Context) error {
	entries, err := os.ReadDir(h.root)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	results := []Results{}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), paths.ResultsDirPrefix) {
			continue
		}
		dir := filepath.Join(h.root, e.Name())
		r := Results{Name: e.Name()}
		if _, err := os.Stat(filepath.Join(dir, core.LearningCurveFilename)); err == nil {
			r.HasLearningCurve = true
		}
		evals, err := findEvals(dir)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		r.Evals = len(evals)
		results = append(results, r)
	}
	return c.JSON(http.StatusOK, results)
}

// resultsDir resolves the :name param to a results directory.
func (h *handler) resultsDir(c echo.Context) (string, error) {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid name encoding")
	}

	// Security: prevent directory traversal
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", echo.NewHTTPError(http.StatusForbidden, "invalid name")
	}

	dir := filepath.Join(h.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() || !strings.HasPrefix(name, paths.ResultsDirPrefix) {
		return "", echo.NewHTTPError(http.StatusNotFound, "results not found")
	}
	return dir, nil
}

// learningCurve returns the rows of a run's learning_curve.csv.
func (h *handler) learningCurve(c echo.Context) error {
	dir, err := h.resultsDir(c)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, core.LearningCurveFilename)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no learning curve")
	}
	rows, err := core.ReadCurveCSV(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rows)
}

// evals returns every eval csv under a run.
func (h *handler) evals(c echo.Context) error {
	dir, err := h.resultsDir(c)
	if err != nil {
		return err
	}
	files, err := findEvals(dir)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	evals := []Eval{}
	for _, p := range files {
		rows, err := core.ReadEvalCSV(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		rel, _ := filepath.Rel(dir, p)
		for _, r := range rows {
			evals = append(evals, Eval{Path: filepath.ToSlash(rel), Split: r.Split, Model: r.ModelName, Metrics: r.Metrics()})
		}
	}
	return c.JSON(http.StatusOK, evals)
}

// findEvals returns the eval csvs under dir, sorted by path.
func findEvals(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "eval_") && strings.HasSuffix(name, ".csv") {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
