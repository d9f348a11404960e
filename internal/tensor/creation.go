package tensor

import "math/rand"

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	t := tensor.Zeros(tensor.Shape{3, 4})
func Zeros(shape Shape) *Tensor {
	if err := shape.Validate(); err != nil {
		panic(err)
	}
	return New(make([]float64, shape.NumElements()), shape)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float64) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// ZerosLike creates a zero tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	return Zeros(t.shape)
}

// Rand creates a tensor with values uniformly distributed in [0, 1).
// Values are drawn from rng in row-major order.
func Rand(shape Shape, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	FillUniform(t, rng)
	return t
}

// Randn creates a tensor with values from a standard normal distribution.
// Values are drawn from rng in row-major order.
func Randn(shape Shape, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	FillNormal(t, rng)
	return t
}

// FillUniform overwrites t with U[0, 1) draws.
func FillUniform(t *Tensor, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.Float64()
	}
}

// FillNormal overwrites t with N(0, 1) draws.
func FillNormal(t *Tensor, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.NormFloat64()
	}
}
