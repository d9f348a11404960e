package nn

import (
	"fmt"

	"github.com/born-ml/ncsn/internal/tensor"
)

// AnalyticGaussian is the exact score of N(Mean, Std^2) data perturbed with
// isotropic Gaussian noise of standard deviation Sigmas[i]:
//
//	score(x, i) = -(x - Mean) / (Std^2 + Sigmas[i]^2)
//
// It has no parameters and is useful for checking samplers end to end.
type AnalyticGaussian struct {
	Mean   float64
	Std    float64
	Sigmas []float64
}

// Score implements ScoreModel.
func (g AnalyticGaussian) Score(x *tensor.Tensor, idx []int32) *tensor.Tensor {
	checkIndices(x, idx, len(g.Sigmas))

	out := tensor.ZerosLike(x)
	per := x.NumElements() / x.BatchSize()
	src, dst := x.Data(), out.Data()
	for b, level := range idx {
		s := g.Sigmas[level]
		inv := 1 / (g.Std*g.Std + s*s)
		for i := b * per; i < (b+1)*per; i++ {
			dst[i] = -(src[i] - g.Mean) * inv
		}
	}
	return out
}

// Parameters implements Module. The model has no weights.
func (g AnalyticGaussian) Parameters() []*Parameter {
	return nil
}

func (g AnalyticGaussian) String() string {
	return fmt.Sprintf("AnalyticGaussian(mean=%g, std=%g, num_L=%d)", g.Mean, g.Std, len(g.Sigmas))
}
