// Package metrics scores frame label predictions.
package metrics

import (
	"fmt"
	"math"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"gonum.org/v1/gonum/mat"
)

// Metric names reported by evaluation.
const (
	Acc              = "acc"
	Levenshtein      = "levenshtein"
	SegmentErrorRate = "segment_error_rate"
	Loss             = "loss"
)

// Names lists the metrics every evaluation reports, in output order.
var Names = []string{Acc, Levenshtein, SegmentErrorRate, Loss}

// TransformedSuffix marks metrics computed after post-processing.
const TransformedSuffix = "_tfm"

// Accuracy returns the fraction of frames where pred equals target.
func Accuracy(pred, target []int) (float64, error) {
	if len(pred) != len(target) {
		return 0, fmt.Errorf("accuracy: %d predictions for %d targets", len(pred), len(target))
	}
	if len(target) == 0 {
		return 0, fmt.Errorf("accuracy: no frames")
	}
	correct := 0
	for i := range pred {
		if pred[i] == target[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(target)), nil
}

// runes maps class ids to runes so sequences can be compared as strings.
func runes(seq []int) []rune {
	out := make([]rune, len(seq))
	for i, v := range seq {
		out[i] = rune(v + 'A')
	}
	return out
}

// every edit costs 1
var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// EditDistance returns the Levenshtein distance between two label sequences.
func EditDistance(pred, target []int) int {
	return levenshtein.DistanceForStrings(runes(pred), runes(target), editOptions)
}

// SegmentErrorRateOf is the edit distance normalized by the target length.
// An empty target scores 0 against an empty prediction and 1 otherwise.
func SegmentErrorRateOf(pred, target []int) float64 {
	d := EditDistance(pred, target)
	if len(target) == 0 {
		if d == 0 {
			return 0
		}
		return 1
	}
	return float64(d) / float64(len(target))
}

// CrossEntropy returns the mean negative log probability of the target class
// over the rows of probs (frames × classes).
func CrossEntropy(probs *mat.Dense, target []int) (float64, error) {
	r, k := probs.Dims()
	if r != len(target) {
		return 0, fmt.Errorf("cross entropy: %d rows for %d targets", r, len(target))
	}
	var sum float64
	for i, y := range target {
		if y < 0 || y >= k {
			return 0, fmt.Errorf("cross entropy: target %d outside [0, %d)", y, k)
		}
		sum -= math.Log(math.Max(probs.At(i, y), 1e-12))
	}
	return sum / float64(r), nil
}

// Argmax returns the most probable class per row.
func Argmax(probs *mat.Dense) []int {
	r, _ := probs.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		row := probs.RawRowView(i)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// Mean averages each metric over a list of per-sample results.
func Mean(results []map[string]float64) map[string]float64 {
	out := map[string]float64{}
	if len(results) == 0 {
		return out
	}
	for _, r := range results {
		for k, v := range r {
			out[k] += v
		}
	}
	for k := range out {
		out[k] /= float64(len(results))
	}
	return out
}
