package loss

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Sliced is the experimental sliced score-matching loss:
//
//	mean( v * dataGrads * v + 0.5 * (v * scores)^2 )
//
// with all products element-wise. v is used as given: it is not normalized
// to unit length. Whether v should be normalized, and whether dataGrads
// (the derivative of v·score with respect to the input) has the intended
// shape, are both unresolved; this path is kept separate from the
// denoising objectives for that reason.
func Sliced(scores, dataGrads, v *tensor.Tensor) float64 {
	if !scores.Shape().Equal(dataGrads.Shape()) || !scores.Shape().Equal(v.Shape()) {
		panic(fmt.Sprintf("loss: sliced shape mismatch scores=%v data_grads=%v v=%v",
			scores.Shape(), dataGrads.Shape(), v.Shape()))
	}

	s, g, p := scores.Data(), dataGrads.Data(), v.Data()
	total := 0.0
	for i := range s {
		vs := p[i] * s[i]
		total += p[i]*g[i]*p[i] + 0.5*vs*vs
	}
	return total / float64(len(s))
}

// SlicedRandom draws v ~ N(0, I) with the shape of scores and evaluates Sliced.
func SlicedRandom(rng *rand.Rand, scores, dataGrads *tensor.Tensor) float64 {
	v := tensor.Randn(scores.Shape(), rng)
	return Sliced(scores, dataGrads, v)
}
