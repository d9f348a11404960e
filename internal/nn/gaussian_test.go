package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/ncsn/internal/tensor"
)

func TestAnalyticGaussian_Score(t *testing.T) {
	g := AnalyticGaussian{Mean: 0.5, Std: 1, Sigmas: []float64{1, 0.5}}
	x := tensor.New([]float64{2.5, 0.5, 1.75, -0.75}, tensor.Shape{2, 1, 2, 1})

	out := g.Score(x, []int32{0, 1})

	// -(x - 0.5) / (1 + sigma^2)
	assert.InDeltaSlice(t, []float64{-1, 0, -1, 1}, out.Data(), 1e-12)
	assert.Empty(t, g.Parameters())
	assert.Panics(t, func() { g.Score(x, []int32{0, 2}) })
}

// TestJVP_Linear checks the finite-difference JVP against the exact
// Jacobian of the Gaussian score, which is -I/(std^2 + sigma^2).
func TestJVP_Linear(t *testing.T) {
	g := AnalyticGaussian{Mean: 0, Std: 0.5, Sigmas: []float64{1}}
	x := tensor.Randn(tensor.Shape{2, 3, 3, 1}, newTestRNG())
	v := tensor.Randn(tensor.Shape{2, 3, 3, 1}, newTestRNG())
	before := x.Clone()

	out := JVP(g, x, []int32{0, 0}, v, 0)

	want := v.Scale(-1 / 1.25)
	assert.InDeltaSlice(t, want.Data(), out.Data(), 1e-6)
	assert.True(t, x.Equal(before))
	assert.Panics(t, func() { JVP(g, x, []int32{0, 0}, tensor.Zeros(tensor.Shape{1, 3, 3, 1}), 0) })
}

func TestJVP_RefineNet(t *testing.T) {
	net := smallRefineNet(t, ArchRefineNet, 1)
	x := tensor.Rand(tensor.Shape{1, 8, 8, 1}, newTestRNG())
	v := tensor.Zeros(x.Shape())

	out := JVP(net, x, []int32{0}, v, 1e-3)
	assert.True(t, out.Shape().Equal(x.Shape()))
	assert.Equal(t, 0.0, out.Norm())
}
