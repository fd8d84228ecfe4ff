package labels

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMap(t *testing.T) {
	m := ToMap([]string{"c", "a", "b", "a"}, true)
	assert.Equal(t, Map{"unlabeled": 0, "a": 1, "b": 2, "c": 3}, m)
	require.NoError(t, m.Validate())

	m = ToMap([]string{"b", "a"}, false)
	assert.Equal(t, Map{"a": 0, "b": 1}, m)
	_, ok := m.UnlabeledID()
	assert.False(t, ok)
}

func TestParseLabelset(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "i"}, ParseLabelset("iabc"))
	assert.Equal(t, []string{"call", "trill"}, ParseLabelset("trill, call"))
	assert.Nil(t, ParseLabelset(""))
}

func TestMapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	m := ToMap([]string{"i", "a", "b"}, true)
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	for id := 0; id < loaded.NumClasses(); id++ {
		sym, err := loaded.Symbol(id)
		require.NoError(t, err)
		assert.Equal(t, id, loaded[sym])
	}
	_, err = loaded.Symbol(loaded.NumClasses())
	assert.Error(t, err)
	_, err = loaded.Symbol(-1)
	assert.Error(t, err)

	assert.Equal(t, []string{"unlabeled", "a", "b", "i"}, loaded.Labels())
}

func TestValidate(t *testing.T) {
	assert.Error(t, Map{}.Validate())
	assert.Error(t, Map{"a": 0, "b": 2}.Validate())
	assert.Error(t, Map{"a": 1, "b": 1}.Validate())
}

func TestHasUnlabeled(t *testing.T) {
	tests := []struct {
		name string
		segs []Segment
		dur  float64
		want bool
	}{
		{"empty", nil, 1.0, true},
		{"gap before", []Segment{{0.1, 1.0, "a"}}, 1.0, true},
		{"gap between", []Segment{{0, 0.4, "a"}, {0.5, 1.0, "b"}}, 1.0, true},
		{"gap after", []Segment{{0, 0.9, "a"}}, 1.0, true},
		{"fully covered", []Segment{{0, 0.5, "a"}, {0.5, 1.0, "b"}}, 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasUnlabeled(tt.segs, tt.dur))
		})
	}
}

func TestAnnotCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.wav.csv")
	segs := []Segment{{0.5, 0.7, "b"}, {0.1, 0.3, "a"}}
	require.NoError(t, WriteAnnotCSV(path, segs))

	got, err := ReadAnnotCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Label)
	assert.Equal(t, []string{"a", "b"}, LabelsOf(got))
}
