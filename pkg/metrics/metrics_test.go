package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]int{0, 1, 1, 2}, []int{0, 1, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)

	_, err = Accuracy([]int{0}, []int{0, 1})
	assert.Error(t, err)
	_, err = Accuracy(nil, nil)
	assert.Error(t, err)
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, EditDistance([]int{1, 2, 3}, []int{1, 2, 3}))
	assert.Equal(t, 1, EditDistance([]int{1, 3}, []int{1, 2, 3}))
	assert.Equal(t, 3, EditDistance(nil, []int{1, 2, 3}))
	assert.Equal(t, 1, EditDistance([]int{1, 4, 3}, []int{1, 2, 3}))

	assert.InDelta(t, 1.0/3, SegmentErrorRateOf([]int{1, 3}, []int{1, 2, 3}), 1e-12)
	assert.Equal(t, 0.0, SegmentErrorRateOf(nil, nil))
	assert.Equal(t, 1.0, SegmentErrorRateOf([]int{1}, nil))
}

func TestCrossEntropy(t *testing.T) {
	probs := mat.NewDense(2, 2, []float64{0.5, 0.5, 0.25, 0.75})
	ce, err := CrossEntropy(probs, []int{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, (math.Log(2)-math.Log(0.75))/2, ce, 1e-12)

	_, err = CrossEntropy(probs, []int{0})
	assert.Error(t, err)
	_, err = CrossEntropy(probs, []int{0, 2})
	assert.Error(t, err)

	assert.Equal(t, []int{0, 1}, Argmax(probs))
}

func TestMean(t *testing.T) {
	m := Mean([]map[string]float64{{Acc: 1, Loss: 2}, {Acc: 0.5, Loss: 4}})
	assert.Equal(t, map[string]float64{Acc: 0.75, Loss: 3}, m)
	assert.Empty(t, Mean(nil))
}
