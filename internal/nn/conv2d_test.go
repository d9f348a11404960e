package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ncsn/internal/tensor"
)

func newTestRNG() *rand.Rand {
	//nolint:gosec // Deterministic test weights.
	return rand.New(rand.NewSource(42))
}

// TestConv2D_Creation tests Conv2D layer creation.
func TestConv2D_Creation(t *testing.T) {
	conv := NewConv2D("conv", 3, 8, 3, 1, newTestRNG())

	assert.Equal(t, 3, conv.InChannels())
	assert.Equal(t, 8, conv.OutChannels())
	assert.True(t, conv.weight.Tensor().Shape().Equal(tensor.Shape{3, 3, 3, 8}))
	assert.True(t, conv.bias.Tensor().Shape().Equal(tensor.Shape{8}))

	params := conv.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "conv.weight", params[0].Name())
	assert.Equal(t, "conv.bias", params[1].Name())
}

func TestConv2D_InvalidArguments(t *testing.T) {
	assert.Panics(t, func() { NewConv2D("c", 1, 1, 2, 1, newTestRNG()) })
	assert.Panics(t, func() { NewConv2D("c", 0, 1, 3, 1, newTestRNG()) })
	assert.Panics(t, func() { NewConv2D("c", 1, 1, 3, 0, newTestRNG()) })

	conv := NewConv2D("c", 2, 1, 3, 1, newTestRNG())
	assert.Panics(t, func() { conv.Forward(tensor.Zeros(tensor.Shape{1, 4, 4, 3})) })
}

// TestConv2D_Identity checks that a centered one-hot kernel is the identity.
func TestConv2D_Identity(t *testing.T) {
	conv := NewConv2D("id", 1, 1, 3, 1, newTestRNG())
	w := conv.weight.Tensor()
	for i := range w.Data() {
		w.Data()[i] = 0
	}
	w.Set(1, 1, 1, 0, 0)

	x := tensor.Randn(tensor.Shape{2, 5, 4, 1}, newTestRNG())
	out := conv.Forward(x)
	assert.True(t, out.Equal(x))
}

// TestConv2D_ForwardValues tests same padding with a box filter.
func TestConv2D_ForwardValues(t *testing.T) {
	conv := NewConv2D("box", 1, 1, 3, 1, newTestRNG())
	for i := range conv.weight.Tensor().Data() {
		conv.weight.Tensor().Data()[i] = 1
	}
	conv.bias.Tensor().Data()[0] = 0.5

	out := conv.Forward(tensor.Full(tensor.Shape{1, 3, 3, 1}, 1))

	expected := []float64{
		4.5, 6.5, 4.5,
		6.5, 9.5, 6.5,
		4.5, 6.5, 4.5,
	}
	assert.Equal(t, expected, out.Data())
}

func TestConv2D_Dilation(t *testing.T) {
	conv := NewConv2D("dilated", 1, 1, 3, 2, newTestRNG())
	for i := range conv.weight.Tensor().Data() {
		conv.weight.Tensor().Data()[i] = 1
	}

	out := conv.Forward(tensor.Full(tensor.Shape{1, 3, 3, 1}, 1))

	// Taps fall at offsets -2, 0, 2; only the center row/column is always in range.
	expected := []float64{
		4, 2, 4,
		2, 1, 2,
		4, 2, 4,
	}
	assert.Equal(t, expected, out.Data())
}

// TestConv2D_MultiChannel checks that channels are summed per output filter.
func TestConv2D_MultiChannel(t *testing.T) {
	conv := NewConv2D("mc", 2, 2, 1, 1, newTestRNG())
	// weight[0,0,ci,co]
	w := conv.weight.Tensor()
	w.Set(1, 0, 0, 0, 0)
	w.Set(2, 0, 0, 1, 0)
	w.Set(-1, 0, 0, 0, 1)
	w.Set(0, 0, 0, 1, 1)

	x := tensor.New([]float64{3, 4}, tensor.Shape{1, 1, 1, 2})
	out := conv.Forward(x)
	assert.Equal(t, []float64{11, -3}, out.Data())
}
