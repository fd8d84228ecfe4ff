package labels

import (
	"fmt"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// Segment is one annotated unit.
type Segment struct {
	Onset  float64 `csv:"onset_s"`
	Offset float64 `csv:"offset_s"`
	Label  string  `csv:"label"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.Offset - s.Onset
}

// ReadAnnotCSV reads segments from a csv with onset_s, offset_s and label columns.
// Segments are returned sorted by onset.
func ReadAnnotCSV(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open annotation: %w", err)
	}
	defer f.Close()

	var segs []Segment
	if err := gocsv.UnmarshalFile(f, &segs); err != nil {
		return nil, fmt.Errorf("parse annotation %s: %w", path, err)
	}
	for i, s := range segs {
		if s.Offset <= s.Onset {
			return nil, fmt.Errorf("annotation %s row %d: offset %.4f not after onset %.4f", path, i+1, s.Offset, s.Onset)
		}
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Onset < segs[j].Onset })
	return segs, nil
}

// WriteAnnotCSV writes segments to a csv.
func WriteAnnotCSV(path string, segs []Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if segs == nil {
		segs = []Segment{}
	}
	return gocsv.MarshalFile(&segs, f)
}

// LabelsOf returns the distinct labels used in segments.
func LabelsOf(segs []Segment) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range segs {
		if !seen[s.Label] {
			seen[s.Label] = true
			out = append(out, s.Label)
		}
	}
	sort.Strings(out)
	return out
}

// HasUnlabeled returns true if any part of a recording of the given duration
// is not covered by a segment: before the first onset, between segments, or
// after the last offset.
func HasUnlabeled(segs []Segment, duration float64) bool {
	if len(segs) == 0 {
		return duration > 0
	}
	if segs[0].Onset > 0 {
		return true
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Onset > segs[i-1].Offset {
			return true
		}
	}
	return segs[len(segs)-1].Offset < duration
}
