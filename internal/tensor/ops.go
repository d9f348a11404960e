package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Add returns t + other element-wise.
func (t *Tensor) Add(other *Tensor) *Tensor {
	mustSameShape("add", t, other)
	out := t.Clone()
	floats.Add(out.data, other.data)
	return out
}

// Sub returns t - other element-wise.
func (t *Tensor) Sub(other *Tensor) *Tensor {
	mustSameShape("sub", t, other)
	out := t.Clone()
	floats.Sub(out.data, other.data)
	return out
}

// Mul returns t * other element-wise.
func (t *Tensor) Mul(other *Tensor) *Tensor {
	mustSameShape("mul", t, other)
	out := t.Clone()
	floats.Mul(out.data, other.data)
	return out
}

// Scale returns s * t.
func (t *Tensor) Scale(s float64) *Tensor {
	out := t.Clone()
	floats.Scale(s, out.data)
	return out
}

// AddScaledInPlace performs t += alpha * other.
func (t *Tensor) AddScaledInPlace(alpha float64, other *Tensor) {
	mustSameShape("add_scaled", t, other)
	floats.AddScaled(t.data, alpha, other.data)
}

// AddInPlace performs t += other.
func (t *Tensor) AddInPlace(other *Tensor) {
	mustSameShape("add", t, other)
	floats.Add(t.data, other.data)
}

// Apply returns f applied to every element.
func (t *Tensor) Apply(f func(float64) float64) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// Clamp returns a copy with values limited to [lo, hi].
func (t *Tensor) Clamp(lo, hi float64) *Tensor {
	return t.Apply(func(v float64) float64 {
		return math.Max(lo, math.Min(hi, v))
	})
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float64 {
	return floats.Sum(t.data)
}

// Mean returns the mean of all elements.
func (t *Tensor) Mean() float64 {
	return floats.Sum(t.data) / float64(len(t.data))
}

// Norm returns the L2 norm over all elements.
func (t *Tensor) Norm() float64 {
	return floats.Norm(t.data, 2)
}

// Min returns the smallest element.
func (t *Tensor) Min() float64 {
	return floats.Min(t.data)
}

// Max returns the largest element.
func (t *Tensor) Max() float64 {
	return floats.Max(t.data)
}

// AllFinite reports whether t contains no NaN or Inf values.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Equal reports whether shapes and every element match exactly.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.shape.Equal(other.shape) && floats.Equal(t.data, other.data)
}

// Concat joins tensors along the leading dimension.
// All trailing dimensions must match.
func Concat(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("concat: no tensors")
	}

	example := ts[0].shape.ExampleShape()
	n := 0
	for _, t := range ts {
		if !t.shape.ExampleShape().Equal(example) {
			panic(fmt.Sprintf("concat: shape mismatch %v vs %v", ts[0].shape, t.shape))
		}
		n += t.BatchSize()
	}

	out := Zeros(example.WithBatch(n))
	offset := 0
	for _, t := range ts {
		offset += copy(out.data[offset:], t.data)
	}
	return out
}

// Split cuts t into consecutive views of at most size examples.
func Split(t *Tensor, size int) []*Tensor {
	if size <= 0 {
		panic(fmt.Sprintf("split: invalid size %d", size))
	}

	n := t.BatchSize()
	parts := make([]*Tensor, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		parts = append(parts, t.Slice(start, min(start+size, n)))
	}
	return parts
}
