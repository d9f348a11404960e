package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/ncsn/internal/tensor"
)

func TestAvgPool2x2(t *testing.T) {
	x := tensor.New([]float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, tensor.Shape{1, 4, 4, 1})

	out := AvgPool2x2(x)

	assert.True(t, out.Shape().Equal(tensor.Shape{1, 2, 2, 1}))
	assert.Equal(t, []float64{3.5, 5.5, 11.5, 13.5}, out.Data())
}

func TestAvgPool2x2_OddSizeFloors(t *testing.T) {
	out := AvgPool2x2(tensor.Full(tensor.Shape{2, 5, 3, 2}, 1))
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 2, 1, 2}))
	assert.Panics(t, func() { AvgPool2x2(tensor.Zeros(tensor.Shape{1, 1, 4, 1})) })
}

func TestMaxPoolSame(t *testing.T) {
	x := tensor.New([]float64{
		1, 0, 0,
		0, 0, 0,
		0, 0, -5,
	}, tensor.Shape{1, 3, 3, 1})

	out := MaxPoolSame(x, 3)

	expected := []float64{
		1, 1, 0,
		1, 1, 0,
		0, 0, 0,
	}
	assert.Equal(t, expected, out.Data())
	assert.Panics(t, func() { MaxPoolSame(x, 4) })
}

// TestMaxPoolSame_Negative checks that padding never wins over negative values.
func TestMaxPoolSame_Negative(t *testing.T) {
	x := tensor.Full(tensor.Shape{1, 2, 2, 1}, -3)
	out := MaxPoolSame(x, 5)
	assert.Equal(t, []float64{-3, -3, -3, -3}, out.Data())
}

func TestResizeBilinear(t *testing.T) {
	x := tensor.New([]float64{0, 1}, tensor.Shape{1, 1, 2, 1})

	out := ResizeBilinear(x, 1, 4)

	assert.True(t, out.Shape().Equal(tensor.Shape{1, 1, 4, 1}))
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.75, 1}, out.Data(), 1e-12)
}

func TestResizeBilinear_Constant(t *testing.T) {
	x := tensor.Full(tensor.Shape{2, 3, 3, 2}, 1.5)
	out := ResizeBilinear(x, 6, 6)
	for _, v := range out.Data() {
		assert.InDelta(t, 1.5, v, 1e-12)
	}
}

func TestResizeBilinear_SameSizeCopies(t *testing.T) {
	x := tensor.Full(tensor.Shape{1, 2, 2, 1}, 1)
	out := ResizeBilinear(x, 2, 2)
	out.Data()[0] = 9
	assert.Equal(t, 1.0, x.Data()[0])
}

func TestActivations(t *testing.T) {
	assert.Equal(t, 2.0, ELU(2))
	assert.InDelta(t, math.Exp(-1)-1, ELU(-1), 1e-15)
	assert.Equal(t, 0.0, ReLU(-1))
	assert.Equal(t, 3.0, ReLU(3))

	for _, name := range []string{"elu", "ELU", ""} {
		act, err := ParseActivation(name)
		assert.NoError(t, err)
		assert.InDelta(t, ELU(-0.5), act(-0.5), 0)
	}
	act, err := ParseActivation("relu")
	assert.NoError(t, err)
	assert.Equal(t, 0.0, act(-0.5))

	_, err = ParseActivation("gelu")
	assert.Error(t, err)
}
