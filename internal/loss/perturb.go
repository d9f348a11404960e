package loss

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Perturb adds Gaussian noise at the per-example level idx[b]:
//
//	xPerturbed_b = x_b + sigmas[idx[b]] * z_b,  z ~ N(0, I)
//
// It returns the perturbed batch and the sigma used for each example.
func Perturb(rng *rand.Rand, x *tensor.Tensor, sigmas []float64, idx []int32) (*tensor.Tensor, []float64) {
	n := x.BatchSize()
	if len(idx) != n {
		panic(fmt.Sprintf("loss: got %d noise indices for batch of %d", len(idx), n))
	}

	perExample := make([]float64, n)
	for b, i := range idx {
		if int(i) < 0 || int(i) >= len(sigmas) {
			panic(fmt.Sprintf("loss: noise index %d out of range [0, %d)", i, len(sigmas)))
		}
		perExample[b] = sigmas[i]
	}

	z := tensor.Randn(x.Shape(), rng)
	out := x.Clone()
	for b := 0; b < n; b++ {
		out.Batch(b).AddScaledInPlace(perExample[b], z.Batch(b))
	}
	return out, perExample
}

// RandomLevels draws one noise-level index per example uniformly from [0, numL).
func RandomLevels(rng *rand.Rand, n, numL int) []int32 {
	idx := make([]int32, n)
	for i := range idx {
		idx[i] = int32(rng.Intn(numL)) //nolint:gosec // numL is bounded by the schedule length
	}
	return idx
}
