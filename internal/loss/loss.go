// Package loss implements the score-matching objectives.
//
// Every objective reduces a batch to a single scalar. Inputs are NHWC
// tensors; per-example noise levels are given as one sigma per example.
// Shape mismatches are contract violations and panic.
package loss

import (
	"fmt"
	"math"

	"github.com/born-ml/ncsn/internal/tensor"
)

// PerBatch is the denoising score-matching loss with two successive norm
// reductions: per example and channel, the L2 norm over height and width of
//
//	sigma * score + (xPerturbed - x) / sigma
//
// then the L2 norm of those values over channels. The result is squared,
// averaged over the batch, halved and divided by numL.
func PerBatch(score, xPerturbed, x *tensor.Tensor, sigmas []float64, numL int) float64 {
	n, h, w, c := checkInputs(score, xPerturbed, x, sigmas)
	if numL <= 0 {
		panic(fmt.Sprintf("loss: invalid numL %d", numL))
	}

	s, xp, xd := score.Data(), xPerturbed.Data(), x.Data()
	hw := h * w
	perExample := hw * c
	channelSq := make([]float64, c)

	total := 0.0
	for b := 0; b < n; b++ {
		sigma := sigmaOf(sigmas, b)
		for ch := range channelSq {
			channelSq[ch] = 0
		}
		base := b * perExample
		for p := 0; p < hw; p++ {
			for ch := 0; ch < c; ch++ {
				i := base + p*c + ch
				r := sigma*s[i] + (xp[i]-xd[i])/sigma
				channelSq[ch] += r * r
			}
		}

		// Spatial norm per channel, then norm across channels.
		acc := 0.0
		for _, sq := range channelSq {
			norm := math.Sqrt(sq)
			acc += norm * norm
		}
		m := math.Sqrt(acc)
		total += m * m
	}

	return 0.5 * (total / float64(n)) / float64(numL)
}

// PerBatchCombined is PerBatch with a single L2 norm taken jointly over
// height, width and channels.
func PerBatchCombined(score, xPerturbed, x *tensor.Tensor, sigmas []float64, numL int) float64 {
	n, h, w, c := checkInputs(score, xPerturbed, x, sigmas)
	if numL <= 0 {
		panic(fmt.Sprintf("loss: invalid numL %d", numL))
	}

	s, xp, xd := score.Data(), xPerturbed.Data(), x.Data()
	perExample := h * w * c

	total := 0.0
	for b := 0; b < n; b++ {
		sigma := sigmaOf(sigmas, b)
		sq := 0.0
		for i := b * perExample; i < (b+1)*perExample; i++ {
			r := sigma*s[i] + (xp[i]-xd[i])/sigma
			sq += r * r
		}
		total += sq
	}

	return 0.5 * (total / float64(n)) / float64(numL)
}

// PerBatchAlternative regresses the score onto target = (xPerturbed - x) / sigma^2
// with a sigma^2 weighting:
//
//	mean_b( 0.5 * sigma_b^2 * sum_{h,w,c} (score + target)^2 )
func PerBatchAlternative(score, xPerturbed, x *tensor.Tensor, sigmas []float64) float64 {
	n, h, w, c := checkInputs(score, xPerturbed, x, sigmas)

	s, xp, xd := score.Data(), xPerturbed.Data(), x.Data()
	perExample := h * w * c

	total := 0.0
	for b := 0; b < n; b++ {
		sigma := sigmaOf(sigmas, b)
		sigma2 := sigma * sigma
		sq := 0.0
		for i := b * perExample; i < (b+1)*perExample; i++ {
			target := (xp[i] - xd[i]) / sigma2
			r := s[i] + target
			sq += r * r
		}
		total += 0.5 * sq * sigma2
	}

	return total / float64(n)
}

// TargetScore returns the score of the Gaussian perturbation kernel,
// (x - xPerturbed) / sigma^2, for every example.
func TargetScore(xPerturbed, x *tensor.Tensor, sigmas []float64) *tensor.Tensor {
	n, h, w, c := checkInputs(xPerturbed, xPerturbed, x, sigmas)

	out := tensor.ZerosLike(x)
	o, xp, xd := out.Data(), xPerturbed.Data(), x.Data()
	perExample := h * w * c
	for b := 0; b < n; b++ {
		sigma := sigmaOf(sigmas, b)
		sigma2 := sigma * sigma
		for i := b * perExample; i < (b+1)*perExample; i++ {
			o[i] = (xd[i] - xp[i]) / sigma2
		}
	}
	return out
}

func checkInputs(score, xPerturbed, x *tensor.Tensor, sigmas []float64) (n, h, w, c int) {
	if !score.Shape().Equal(x.Shape()) || !xPerturbed.Shape().Equal(x.Shape()) {
		panic(fmt.Sprintf("loss: shape mismatch score=%v x_perturbed=%v x=%v",
			score.Shape(), xPerturbed.Shape(), x.Shape()))
	}
	n, h, w, c = x.Shape().NHWC()
	if len(sigmas) != n && len(sigmas) != 1 {
		panic(fmt.Sprintf("loss: got %d sigmas for batch of %d", len(sigmas), n))
	}
	return n, h, w, c
}

// sigmaOf broadcasts a single sigma across the batch.
func sigmaOf(sigmas []float64, b int) float64 {
	if len(sigmas) == 1 {
		return sigmas[0]
	}
	return sigmas[b]
}
