package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ncsn/internal/tensor"
)

func channelStats(x *tensor.Tensor, b, ch int) (mean, variance float64) {
	_, h, w, c := x.Shape().NHWC()
	hw := h * w
	data := x.Data()[b*hw*c : (b+1)*hw*c]
	for p := 0; p < hw; p++ {
		mean += data[p*c+ch]
	}
	mean /= float64(hw)
	for p := 0; p < hw; p++ {
		d := data[p*c+ch] - mean
		variance += d * d
	}
	return mean, variance / float64(hw)
}

func TestConditionalInstanceNormPP_Parameters(t *testing.T) {
	norm := NewConditionalInstanceNormPP("norm", 4, 10, newTestRNG())

	params := norm.Parameters()
	require.Len(t, params, 3)
	for _, p := range params {
		assert.True(t, p.Tensor().Shape().Equal(tensor.Shape{10, 4}), p.Name())
	}
	assert.Equal(t, "norm.gamma", params[0].Name())
	assert.Equal(t, "norm.alpha", params[1].Name())
	assert.Equal(t, "norm.beta", params[2].Name())
	assert.Equal(t, 0.0, params[2].Tensor().Sum())
}

// TestConditionalInstanceNormPP_Normalizes checks per-channel statistics
// with gamma = 1 and alpha = beta = 0.
func TestConditionalInstanceNormPP_Normalizes(t *testing.T) {
	norm := NewConditionalInstanceNormPP("norm", 3, 2, newTestRNG())
	fill(norm.gamma.Tensor(), 1)
	fill(norm.alpha.Tensor(), 0)

	x := tensor.Randn(tensor.Shape{2, 6, 6, 3}, newTestRNG()).Scale(5)
	out := norm.Forward(x, []int32{0, 1})

	for b := 0; b < 2; b++ {
		for ch := 0; ch < 3; ch++ {
			mean, variance := channelStats(out, b, ch)
			assert.InDelta(t, 0, mean, 1e-9)
			assert.InDelta(t, 1, variance, 1e-3)
		}
	}
}

// TestConditionalInstanceNormPP_LevelLookup checks that beta is selected by noise level.
func TestConditionalInstanceNormPP_LevelLookup(t *testing.T) {
	norm := NewConditionalInstanceNormPP("norm", 1, 3, newTestRNG())
	fill(norm.gamma.Tensor(), 1)
	fill(norm.alpha.Tensor(), 0)
	norm.beta.Tensor().Data()[2] = 7

	x := tensor.Randn(tensor.Shape{2, 4, 4, 1}, newTestRNG())
	out := norm.Forward(x, []int32{0, 2})

	mean0, _ := channelStats(out, 0, 0)
	mean1, _ := channelStats(out, 1, 0)
	assert.InDelta(t, 0, mean0, 1e-9)
	assert.InDelta(t, 7, mean1, 1e-9)
}

// TestConditionalInstanceNormPP_MeanShift checks the alpha term that
// reintroduces relative channel means.
func TestConditionalInstanceNormPP_MeanShift(t *testing.T) {
	norm := NewConditionalInstanceNormPP("norm", 2, 1, newTestRNG())
	fill(norm.gamma.Tensor(), 1)
	fill(norm.alpha.Tensor(), 1)

	// Channel means 1 and 3: m = 2, v = sqrt(1 + eps).
	x := tensor.New([]float64{0, 2, 2, 4}, tensor.Shape{1, 2, 1, 2})
	out := norm.Forward(x, []int32{0})

	mean0, _ := channelStats(out, 0, 0)
	mean1, _ := channelStats(out, 0, 1)
	v := math.Sqrt(1 + normEpsilon)
	assert.InDelta(t, -1/v, mean0, 1e-12)
	assert.InDelta(t, 1/v, mean1, 1e-12)
}

func TestConditionalInstanceNormPP_BadInput(t *testing.T) {
	norm := NewConditionalInstanceNormPP("norm", 2, 3, newTestRNG())
	x := tensor.Zeros(tensor.Shape{1, 2, 2, 2})

	assert.Panics(t, func() { norm.Forward(x, []int32{3}) })
	assert.Panics(t, func() { norm.Forward(x, []int32{0, 1}) })
	assert.Panics(t, func() { norm.Forward(tensor.Zeros(tensor.Shape{1, 2, 2, 1}), []int32{0}) })
}

func fill(t *tensor.Tensor, v float64) {
	for i := range t.Data() {
		t.Data()[i] = v
	}
}
