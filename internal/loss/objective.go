package loss

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Objective selects a training objective.
//
// The denoising objectives use different sigma normalizations and are not
// interchangeable partway through training.
type Objective int

// Supported objectives.
const (
	// DenoisingNorm is PerBatch: spatial norm, then channel norm.
	DenoisingNorm Objective = iota
	// DenoisingNormCombined is PerBatchCombined: one norm over H, W and C.
	DenoisingNormCombined
	// DenoisingWeighted is PerBatchAlternative.
	DenoisingWeighted
	// SlicedScoreMatching is the experimental Sliced loss.
	SlicedScoreMatching
)

// ErrUnknownObjective is returned for an unrecognized objective.
var ErrUnknownObjective = errors.New("unknown objective")

var objectiveNames = map[Objective]string{
	DenoisingNorm:         "denoising_norm",
	DenoisingNormCombined: "denoising_norm_combined",
	DenoisingWeighted:     "denoising_weighted",
	SlicedScoreMatching:   "sliced",
}

// Objectives lists every objective in declaration order.
func Objectives() []Objective {
	return []Objective{DenoisingNorm, DenoisingNormCombined, DenoisingWeighted, SlicedScoreMatching}
}

// String returns the objective's flag name.
func (o Objective) String() string {
	if name, ok := objectiveNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseObjective maps a flag name to an Objective.
func ParseObjective(name string) (Objective, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for o, n := range objectiveNames {
		if n == name {
			return o, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownObjective, "%q", name)
}

// Inputs carries everything any objective may need.
// Score, XPerturbed, X and Sigmas are used by the denoising objectives;
// Score, DataGrads and Projection (or RNG) by SlicedScoreMatching.
type Inputs struct {
	Score      *tensor.Tensor
	XPerturbed *tensor.Tensor
	X          *tensor.Tensor
	Sigmas     []float64 // One per example, or a single shared value.
	NumL       int

	DataGrads  *tensor.Tensor
	Projection *tensor.Tensor // Drawn from RNG when nil.
	RNG        *rand.Rand
}

// Evaluate computes the objective on one batch.
func (o Objective) Evaluate(in Inputs) (float64, error) {
	if in.Score == nil {
		return 0, errors.New("objective: score is required")
	}

	switch o {
	case DenoisingNorm, DenoisingNormCombined, DenoisingWeighted:
		if in.X == nil || in.XPerturbed == nil || len(in.Sigmas) == 0 {
			return 0, errors.Errorf("objective %s: x, x_perturbed and sigmas are required", o)
		}
		switch o {
		case DenoisingNorm:
			return PerBatch(in.Score, in.XPerturbed, in.X, in.Sigmas, in.NumL), nil
		case DenoisingNormCombined:
			return PerBatchCombined(in.Score, in.XPerturbed, in.X, in.Sigmas, in.NumL), nil
		default:
			return PerBatchAlternative(in.Score, in.XPerturbed, in.X, in.Sigmas), nil
		}
	case SlicedScoreMatching:
		if in.DataGrads == nil {
			return 0, errors.Errorf("objective %s: data_grads is required", o)
		}
		if in.Projection != nil {
			return Sliced(in.Score, in.DataGrads, in.Projection), nil
		}
		if in.RNG == nil {
			return 0, errors.Errorf("objective %s: projection or rng is required", o)
		}
		return SlicedRandom(in.RNG, in.Score, in.DataGrads), nil
	default:
		return 0, errors.Wrapf(ErrUnknownObjective, "objective %d", int(o))
	}
}
