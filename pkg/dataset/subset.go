package dataset

import (
	"math"
	"math/rand"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/labels"
)

// SubsetFilename is the csv a training subset is saved to.
const SubsetFilename = "train_subset.csv"

// subsetAttempts bounds reshuffles looking for a subset with every label.
const subsetAttempts = 1000

// SubsetByDuration picks records totalling exactly targetDur seconds of
// frames, cropping the last one. Every label in lm other than the background
// class must occur in the subset. The same seed always gives the same subset.
func SubsetByDuration(records []Record, frameDur, targetDur float64, lm labels.Map, seed int64, shuffle bool) ([]Record, error) {
	if targetDur <= 0 {
		return nil, check.Valuef("train_set_dur", "must be positive, got %g", targetDur)
	}

	target := int(math.Round(targetDur / frameDur))
	lbls := make([][]int, len(records))
	total := 0
	for i, r := range records {
		l, err := ReadFrameLabels(r.resolve(r.FrameLabelsPath))
		if err != nil {
			return nil, err
		}
		if r.CropFrames > 0 && r.CropFrames < len(l) {
			l = l[:r.CropFrames]
		}
		lbls[i] = l
		total += len(l)
	}
	if target > total {
		return nil, check.Valuef("train_set_dur", "%gs is longer than the %gs of training data", targetDur, float64(total)*frameDur)
	}

	var required []int
	unlabeledID, hasUnlabeled := lm.UnlabeledID()
	for _, id := range lm {
		if hasUnlabeled && id == unlabeledID {
			continue
		}
		required = append(required, id)
	}

	attempts := 1
	if shuffle {
		attempts = subsetAttempts
	}
	rng := rand.New(rand.NewSource(seed))

	for a := 0; a < attempts; a++ {
		order := make([]int, len(records))
		for i := range order {
			order[i] = i
		}
		if shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var subset []Record
		seen := map[int]bool{}
		n := 0
		for _, i := range order {
			if n >= target {
				break
			}
			keep := min(len(lbls[i]), target-n)
			r := records[i]
			if keep < len(lbls[i]) {
				r.CropFrames = keep
				r.Duration = float64(keep) * frameDur
			}
			for _, l := range lbls[i][:keep] {
				seen[l] = true
			}
			subset = append(subset, r)
			n += keep
		}

		complete := true
		for _, id := range required {
			if !seen[id] {
				complete = false
				break
			}
		}
		if complete {
			return subset, nil
		}
	}

	return nil, check.Valuef("train_set_dur", "could not find a %gs subset of the training data containing every label", targetDur)
}
