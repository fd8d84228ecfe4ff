package prep

import (
	"math/rand"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/dataset"
	"github.com/nzoschke/vak/pkg/labels"
)

// splitAttempts bounds reshuffles looking for splits that each hold every label.
const splitAttempts = 1000

// assignSplits returns the split of each source, "" for unused ones.
// Durations are filled in the order test, val, train. A train duration of 0
// or -1 gives train every remaining file.
func assignSplits(sources []*source, opts *Options, lm labels.Map) ([]string, error) {
	out := make([]string, len(sources))

	switch {
	case opts.Purpose == PurposePredict:
		for i := range out {
			out[i] = dataset.SplitPredict
		}
		return out, nil
	case opts.Purpose == PurposeEval:
		for i := range out {
			out[i] = dataset.SplitTest
		}
		return out, nil
	case opts.TrainDur <= 0 && opts.ValDur == 0 && opts.TestDur == 0:
		for i := range out {
			out[i] = dataset.SplitTrain
		}
		return out, nil
	}

	var total float64
	for _, s := range sources {
		total += s.duration
	}
	need := opts.TestDur + opts.ValDur + max(opts.TrainDur, 0)
	if need > total {
		return nil, check.Valuef("train_dur", "train, val and test durations add up to %gs but there are only %gs of data", need, total)
	}

	var required []int
	for l, id := range lm {
		if l != labels.Unlabeled {
			required = append(required, id)
		}
	}

	targets := []struct {
		split string
		dur   float64
	}{
		{dataset.SplitTest, opts.TestDur},
		{dataset.SplitVal, opts.ValDur},
		{dataset.SplitTrain, opts.TrainDur},
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	for attempt := 0; attempt < splitAttempts; attempt++ {
		order := rng.Perm(len(sources))
		for i := range out {
			out[i] = ""
		}

		ok := true
		next := 0
		for _, t := range targets {
			rest := t.split == dataset.SplitTrain && t.dur <= 0
			if t.dur <= 0 && !rest {
				continue
			}

			present := map[int]bool{}
			var got float64
			for next < len(order) && (rest || got < t.dur) {
				s := sources[order[next]]
				out[order[next]] = t.split
				got += s.duration
				for l := range s.present {
					present[l] = true
				}
				next++
			}
			if (!rest && got < t.dur) || got == 0 {
				ok = false
				break
			}
			for _, id := range required {
				if !present[id] {
					ok = false
					break
				}
			}
			if !ok {
				break
			}
		}
		if ok {
			return out, nil
		}
	}

	return nil, check.Valuef("labelset", "could not split data so that every split has all labels in %v", lm.Labels())
}
