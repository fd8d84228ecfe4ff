// Package transforms cleans up predicted frame labels and converts them to
// annotated segments.
package transforms

import (
	"fmt"

	"github.com/nzoschke/vak/pkg/labels"
)

// NoUnlabeled is passed as the background id when the label map has none.
const NoUnlabeled = -1

// SegmentRuns returns [start, end) index pairs of runs of frames that are not
// background. Adjacent frames with different labels share a run.
func SegmentRuns(frameLabels []int, unlabeled int) [][2]int {
	var runs [][2]int
	start := -1
	for i, l := range frameLabels {
		switch {
		case l != unlabeled && start < 0:
			start = i
		case l == unlabeled && start >= 0:
			runs = append(runs, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, [2]int{start, len(frameLabels)})
	}
	return runs
}

// RemoveShortSegments sets runs shorter than minSegmentDur seconds to background.
func RemoveShortSegments(frameLabels []int, timebinDur, minSegmentDur float64, unlabeled int) []int {
	out := append([]int(nil), frameLabels...)
	if unlabeled == NoUnlabeled {
		return out
	}
	for _, run := range SegmentRuns(out, unlabeled) {
		if float64(run[1]-run[0])*timebinDur < minSegmentDur {
			for i := run[0]; i < run[1]; i++ {
				out[i] = unlabeled
			}
		}
	}
	return out
}

// MajorityVote gives every frame of a run the run's most frequent label.
// Ties go to the smallest id. Without a background class there are no runs to
// vote in and the labels are returned unchanged.
func MajorityVote(frameLabels []int, unlabeled int) []int {
	out := append([]int(nil), frameLabels...)
	if unlabeled == NoUnlabeled {
		return out
	}
	for _, run := range SegmentRuns(out, unlabeled) {
		counts := map[int]int{}
		for _, l := range out[run[0]:run[1]] {
			counts[l]++
		}
		best, bestN := 0, -1
		for l, n := range counts {
			if n > bestN || (n == bestN && l < best) {
				best, bestN = l, n
			}
		}
		for i := run[0]; i < run[1]; i++ {
			out[i] = best
		}
	}
	return out
}

// PostProcess configures cleanup of predicted frame labels.
type PostProcess struct {
	MinSegmentDur float64
	MajorityVote  bool
}

// Enabled reports whether Apply changes anything.
func (p PostProcess) Enabled() bool {
	return p.MinSegmentDur > 0 || p.MajorityVote
}

// Apply removes short segments, then applies majority vote.
func (p PostProcess) Apply(frameLabels []int, timebinDur float64, unlabeled int) []int {
	out := frameLabels
	if p.MinSegmentDur > 0 {
		out = RemoveShortSegments(out, timebinDur, p.MinSegmentDur, unlabeled)
	}
	if p.MajorityVote {
		out = MajorityVote(out, unlabeled)
	}
	return out
}

// labelRuns returns runs of equal non-background labels.
func labelRuns(frameLabels []int, unlabeled int) [][2]int {
	var runs [][2]int
	for i := 0; i < len(frameLabels); {
		j := i + 1
		for j < len(frameLabels) && frameLabels[j] == frameLabels[i] {
			j++
		}
		if frameLabels[i] != unlabeled {
			runs = append(runs, [2]int{i, j})
		}
		i = j
	}
	return runs
}

// ToLabelSeq collapses frame labels to the sequence of segment labels.
func ToLabelSeq(frameLabels []int, unlabeled int) []int {
	var seq []int
	for _, run := range labelRuns(frameLabels, unlabeled) {
		seq = append(seq, frameLabels[run[0]])
	}
	return seq
}

// ToSegments converts frame labels to segments. Onset is the time of a run's
// first frame and offset the time of its last.
func ToSegments(frameLabels []int, timebins []float64, inverse map[int]string, unlabeled int) ([]labels.Segment, error) {
	if len(frameLabels) != len(timebins) {
		return nil, fmt.Errorf("%d frame labels but %d time bins", len(frameLabels), len(timebins))
	}

	var segs []labels.Segment
	for _, run := range labelRuns(frameLabels, unlabeled) {
		id := frameLabels[run[0]]
		sym, ok := inverse[id]
		if !ok {
			return nil, fmt.Errorf("class id %d not in label map", id)
		}
		segs = append(segs, labels.Segment{
			Onset:  timebins[run[0]],
			Offset: timebins[run[1]-1],
			Label:  sym,
		})
	}
	return segs, nil
}

// FrameLabels assigns each time bin the id of the segment covering it, and
// the background id elsewhere. A bin is covered when onset <= t < offset.
func FrameLabels(segs []labels.Segment, timebins []float64, lm labels.Map, unlabeled int) ([]int, error) {
	out := make([]int, len(timebins))
	for i := range out {
		out[i] = unlabeled
	}
	for _, s := range segs {
		id, ok := lm[s.Label]
		if !ok {
			return nil, fmt.Errorf("label %q not in label map", s.Label)
		}
		for i, t := range timebins {
			if t >= s.Onset && t < s.Offset {
				out[i] = id
			}
		}
	}
	return out, nil
}
