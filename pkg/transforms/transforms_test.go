package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/vak/pkg/labels"
)

func TestSegmentRuns(t *testing.T) {
	assert.Equal(t, [][2]int{{1, 4}, {5, 7}}, SegmentRuns([]int{0, 1, 2, 1, 0, 3, 3}, 0))
	assert.Nil(t, SegmentRuns([]int{0, 0}, 0))
	assert.Equal(t, [][2]int{{0, 2}}, SegmentRuns([]int{0, 0}, NoUnlabeled))
}

func TestRemoveShortSegments(t *testing.T) {
	in := []int{0, 1, 0, 2, 2, 2, 0}
	out := RemoveShortSegments(in, 0.01, 0.02, 0)
	assert.Equal(t, []int{0, 0, 0, 2, 2, 2, 0}, out)
	assert.Equal(t, []int{0, 1, 0, 2, 2, 2, 0}, in)

	assert.Equal(t, in, RemoveShortSegments(in, 0.01, 0.02, NoUnlabeled))
}

func TestMajorityVote(t *testing.T) {
	assert.Equal(t, []int{0, 2, 2, 2, 0, 1, 1}, MajorityVote([]int{0, 2, 1, 2, 0, 3, 1}, 0))

	in := []int{0, 1, 1, 2, 0, 0, 0}
	out := MajorityVote(in, NoUnlabeled)
	assert.Equal(t, []int{0, 1, 1, 2, 0, 0, 0}, out)
	out[0] = 9
	assert.Equal(t, 0, in[0])

	p := PostProcess{MinSegmentDur: 1, MajorityVote: true}
	assert.Equal(t, in, p.Apply(in, 0.01, NoUnlabeled))
}

func TestPostProcess(t *testing.T) {
	p := PostProcess{MinSegmentDur: 0.025, MajorityVote: true}
	assert.True(t, p.Enabled())
	out := p.Apply([]int{0, 1, 1, 0, 2, 3, 2, 0}, 0.01, 0)
	assert.Equal(t, []int{0, 0, 0, 0, 2, 2, 2, 0}, out)

	assert.False(t, PostProcess{}.Enabled())
}

func TestToSegments(t *testing.T) {
	lm := labels.ToMap([]string{"a", "b"}, true)
	timebins := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5}
	frameLabels := []int{0, 1, 1, 2, 0, 2}

	segs, err := ToSegments(frameLabels, timebins, lm.Inverse(), 0)
	require.NoError(t, err)
	assert.Equal(t, []labels.Segment{
		{Onset: 0.1, Offset: 0.2, Label: "a"},
		{Onset: 0.3, Offset: 0.3, Label: "b"},
		{Onset: 0.5, Offset: 0.5, Label: "b"},
	}, segs)
	assert.Equal(t, []int{1, 2, 2}, ToLabelSeq(frameLabels, 0))

	_, err = ToSegments(frameLabels, timebins[:3], lm.Inverse(), 0)
	assert.Error(t, err)
	_, err = ToSegments([]int{7}, []float64{0}, lm.Inverse(), 0)
	assert.Error(t, err)

	segs, err = ToSegments([]int{0, 0}, []float64{0, 1}, lm.Inverse(), 0)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestFrameLabels(t *testing.T) {
	lm := labels.ToMap([]string{"a", "b"}, true)
	timebins := []float64{0, 0.1, 0.2, 0.3, 0.4}
	segs := []labels.Segment{{Onset: 0.05, Offset: 0.25, Label: "a"}, {Onset: 0.3, Offset: 0.35, Label: "b"}}

	got, err := FrameLabels(segs, timebins, lm, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 2, 0}, got)

	_, err = FrameLabels([]labels.Segment{{Onset: 0, Offset: 1, Label: "z"}}, timebins, lm, 0)
	assert.Error(t, err)
}
