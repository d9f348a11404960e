// Package tensor provides the dense float64 tensor used by the sampler,
// the score networks and the loss functions.
//
// Tensors are row-major. Image batches are NHWC: [batch, height, width, channels].
package tensor

import "fmt"

// Tensor is a dense, row-major float64 tensor.
//
// Example:
//
//	x := tensor.Zeros(tensor.Shape{8, 28, 28, 1})
//	x.Set(0.5, 0, 3, 4, 0)
//	first := x.Batch(0) // [28, 28, 1] view sharing memory with x
type Tensor struct {
	shape   Shape
	strides []int
	data    []float64
}

// New wraps data with the given shape without copying.
// Panics if the shape and data length disagree.
func New(data []float64, shape Shape) *Tensor {
	if shape.NumElements() != len(data) {
		panic(fmt.Sprintf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data)))
	}
	return &Tensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		data:    data,
	}
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	buf := make([]float64, len(data))
	copy(buf, data)
	return New(buf, shape), nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Strides returns the row-major strides.
func (t *Tensor) Strides() []int {
	return t.strides
}

// Data returns the underlying storage (zero-copy).
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.offset(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.offset(indices)] = value
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.shape), len(indices)))
	}

	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, t.shape[i]))
		}
		offset += idx * t.strides[i]
	}
	return offset
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	buf := make([]float64, len(t.data))
	copy(buf, t.data)
	return New(buf, t.shape)
}

// Reshape returns a view with a new shape over the same data.
// Panics if the element count changes.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	return New(t.data, Shape(shape))
}

// BatchSize returns the leading dimension.
func (t *Tensor) BatchSize() int {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[0]
}

// Batch returns a view of example i along the leading dimension.
func (t *Tensor) Batch(i int) *Tensor {
	return t.Slice(i, i+1).Reshape(t.shape.ExampleShape()...)
}

// Slice returns a view of examples [start, end) along the leading dimension.
func (t *Tensor) Slice(start, end int) *Tensor {
	n := t.BatchSize()
	if start < 0 || end > n || start >= end {
		panic(fmt.Sprintf("slice [%d:%d] out of range for batch of %d", start, end, n))
	}
	stride := t.strides[0]
	shape := t.shape.Clone()
	shape[0] = end - start
	return New(t.data[start*stride:end*stride], shape)
}

// CopyFrom copies src's data into t. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) {
	mustSameShape("copy", t, src)
	copy(t.data, src.data)
}

// String returns a human-readable representation of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[float64]%v", t.shape)
}

func mustSameShape(op string, a, b *Tensor) {
	if !a.shape.Equal(b.shape) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.shape, b.shape))
	}
}
