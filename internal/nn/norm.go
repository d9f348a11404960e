package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/ncsn/internal/parallel"
	"github.com/born-ml/ncsn/internal/tensor"
)

const normEpsilon = 1e-5

// ConditionalInstanceNormPP is conditional instance normalization++.
//
// For example b at noise level k and channel c, with mu_c and s_c the
// spatial mean and standard deviation, and m, v the mean and standard
// deviation of mu over channels:
//
//	out = gamma[k,c] * ((x - mu_c)/s_c + alpha[k,c] * (mu_c - m)/v) + beta[k,c]
//
// gamma, alpha and beta are [numL, channels] lookup tables.
type ConditionalInstanceNormPP struct {
	channels int
	numL     int

	gamma *Parameter
	alpha *Parameter
	beta  *Parameter
}

// NewConditionalInstanceNormPP creates the layer with gamma, alpha ~ N(1, 0.02) and beta = 0.
func NewConditionalInstanceNormPP(name string, channels, numL int, rng *rand.Rand) *ConditionalInstanceNormPP {
	if channels <= 0 || numL <= 0 {
		panic(fmt.Sprintf("cond_instance_norm: invalid channels=%d num_L=%d", channels, numL))
	}
	shape := tensor.Shape{numL, channels}
	return &ConditionalInstanceNormPP{
		channels: channels,
		numL:     numL,
		gamma:    NewParameter(joinName(name, "gamma"), Normal(rng, 1, 0.02, shape)),
		alpha:    NewParameter(joinName(name, "alpha"), Normal(rng, 1, 0.02, shape)),
		beta:     NewParameter(joinName(name, "beta"), tensor.Zeros(shape)),
	}
}

// Forward normalizes x, conditioning each example on idx[b].
func (l *ConditionalInstanceNormPP) Forward(x *tensor.Tensor, idx []int32) *tensor.Tensor {
	n, h, w, c := x.Shape().NHWC()
	if c != l.channels {
		panic(fmt.Sprintf("cond_instance_norm: input channels %d != expected %d", c, l.channels))
	}
	checkIndices(x, idx, l.numL)

	out := tensor.ZerosLike(x)
	hw := h * w
	stride := hw * c
	gamma, alpha, beta := l.gamma.Tensor().Data(), l.alpha.Tensor().Data(), l.beta.Tensor().Data()

	parallel.For(n, func(b int) {
		src := x.Data()[b*stride : (b+1)*stride]
		dst := out.Data()[b*stride : (b+1)*stride]

		mu := make([]float64, c)
		variance := make([]float64, c)
		for p := 0; p < hw; p++ {
			for ch := 0; ch < c; ch++ {
				mu[ch] += src[p*c+ch]
			}
		}
		for ch := range mu {
			mu[ch] /= float64(hw)
		}
		for p := 0; p < hw; p++ {
			for ch := 0; ch < c; ch++ {
				d := src[p*c+ch] - mu[ch]
				variance[ch] += d * d
			}
		}

		m, v := meanStd(mu)
		row := int(idx[b]) * c
		for ch := 0; ch < c; ch++ {
			std := math.Sqrt(variance[ch]/float64(hw) + normEpsilon)
			shift := alpha[row+ch] * (mu[ch] - m) / v
			g, be := gamma[row+ch], beta[row+ch]
			for p := 0; p < hw; p++ {
				i := p*c + ch
				dst[i] = g*((src[i]-mu[ch])/std+shift) + be
			}
		}
	}, parallel.PerItem(0))

	return out
}

// meanStd returns the mean and epsilon-stabilized standard deviation of xs.
func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	return mean, math.Sqrt(std/float64(len(xs)) + normEpsilon)
}

// Parameters returns gamma, alpha and beta.
func (l *ConditionalInstanceNormPP) Parameters() []*Parameter {
	return []*Parameter{l.gamma, l.alpha, l.beta}
}
