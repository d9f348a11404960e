package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Activation is an element-wise nonlinearity.
type Activation func(float64) float64

// ELU is the exponential linear unit with alpha = 1.
func ELU(x float64) float64 {
	if x > 0 {
		return x
	}
	return math.Expm1(x)
}

// ReLU is max(0, x).
func ReLU(x float64) float64 {
	return math.Max(0, x)
}

// ParseActivation maps "elu" or "relu" to an Activation.
func ParseActivation(name string) (Activation, error) {
	switch strings.ToLower(name) {
	case "elu", "":
		return ELU, nil
	case "relu":
		return ReLU, nil
	default:
		return nil, errors.Errorf("unknown activation %q", name)
	}
}

func (a Activation) apply(x *tensor.Tensor) *tensor.Tensor {
	return x.Apply(a)
}
