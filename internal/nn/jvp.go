package nn

import (
	"github.com/born-ml/ncsn/internal/tensor"
)

// DefaultJVPStep is the finite-difference step used when h <= 0.
const DefaultJVPStep = 1e-4

// JVP approximates the Jacobian-vector product of the score with respect to
// its input, J(x) v, by central differences:
//
//	(score(x + h v) - score(x - h v)) / 2h
//
// x and v must have the same shape. Neither is modified.
func JVP(model ScoreModel, x *tensor.Tensor, idx []int32, v *tensor.Tensor, h float64) *tensor.Tensor {
	if !x.Shape().Equal(v.Shape()) {
		panic("jvp: x and v shapes differ")
	}
	if h <= 0 {
		h = DefaultJVPStep
	}

	plus := x.Clone()
	plus.AddScaledInPlace(h, v)
	minus := x.Clone()
	minus.AddScaledInPlace(-h, v)

	return model.Score(plus, idx).Sub(model.Score(minus, idx)).Scale(1 / (2 * h))
}
