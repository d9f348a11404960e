// Package schedule builds the noise schedules used for training and sampling.
//
// A schedule is an ordered list of noise levels sigma_1 > ... > sigma_L,
// spaced geometrically between a high and a low bound.
package schedule

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Schedule construction errors.
var (
	ErrInvalidBounds = errors.New("sigma bounds must satisfy sigma_high > sigma_low > 0")
	ErrInvalidLevels = errors.New("number of noise levels must be at least 1")
)

// Sigmas is an immutable, strictly decreasing noise schedule.
type Sigmas []float64

// Geometric returns numL noise levels equally spaced in log-space from
// sigmaHigh down to sigmaLow, both inclusive:
//
//	sigma_i = exp(log(high) + i/(L-1) * (log(low) - log(high)))
//
// A single level yields [sigmaHigh].
func Geometric(sigmaHigh, sigmaLow float64, numL int) (Sigmas, error) {
	if numL < 1 {
		return nil, errors.Wrapf(ErrInvalidLevels, "num_L=%d", numL)
	}
	if !(sigmaLow > 0) || !(sigmaHigh > sigmaLow) || math.IsInf(sigmaHigh, 0) {
		return nil, errors.Wrapf(ErrInvalidBounds, "sigma_high=%g sigma_low=%g", sigmaHigh, sigmaLow)
	}

	sigmas := make(Sigmas, numL)
	sigmas[0] = sigmaHigh
	if numL == 1 {
		return sigmas, nil
	}

	logHigh := math.Log(sigmaHigh)
	logLow := math.Log(sigmaLow)
	for i := 1; i < numL-1; i++ {
		frac := float64(i) / float64(numL-1)
		sigmas[i] = math.Exp(logHigh + frac*(logLow-logHigh))
	}
	// Endpoints are exact rather than exp(log(x)).
	sigmas[numL-1] = sigmaLow

	return sigmas, nil
}

// Len returns the number of noise levels.
func (s Sigmas) Len() int {
	return len(s)
}

// First returns the largest noise level.
func (s Sigmas) First() float64 {
	return s[0]
}

// Last returns the smallest noise level.
func (s Sigmas) Last() float64 {
	return s[len(s)-1]
}

// StepSize returns the Langevin step size for level i:
//
//	alpha_i = eps * (sigma_i / sigma_L)^2
func (s Sigmas) StepSize(i int, eps float64) float64 {
	ratio := s[i] / s.Last()
	return eps * ratio * ratio
}

// Validate checks that the schedule is non-empty, positive and strictly decreasing.
func (s Sigmas) Validate() error {
	if len(s) == 0 {
		return ErrInvalidLevels
	}
	for i, sigma := range s {
		if !(sigma > 0) || math.IsInf(sigma, 0) {
			return errors.Wrapf(ErrInvalidBounds, "sigma[%d]=%g", i, sigma)
		}
		if i > 0 && !(sigma < s[i-1]) {
			return errors.Wrapf(ErrInvalidBounds, "sigma[%d]=%g is not below sigma[%d]=%g", i, sigma, i-1, s[i-1])
		}
	}
	return nil
}

// String formats the schedule for logs.
func (s Sigmas) String() string {
	if len(s) == 0 {
		return "Sigmas[]"
	}
	return fmt.Sprintf("Sigmas[L=%d, %.4g..%.4g]", len(s), s.First(), s.Last())
}
