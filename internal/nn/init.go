package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Xavier (Glorot) uniform initialization:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
func Xavier(rng *rand.Rand, fanIn, fanOut int, shape tensor.Shape) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.Zeros(shape)
	data := t.Data()
	for i := range data {
		data[i] = (rng.Float64()*2.0 - 1.0) * bound
	}
	return t
}

// Normal initializes from N(mean, std^2).
func Normal(rng *rand.Rand, mean, std float64, shape tensor.Shape) *tensor.Tensor {
	t := tensor.Zeros(shape)
	data := t.Data()
	for i := range data {
		data[i] = mean + std*rng.NormFloat64()
	}
	return t
}
