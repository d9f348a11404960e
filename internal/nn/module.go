// Package nn implements the noise-conditional score networks.
//
// This package provides:
//   - ScoreModel: the contract consumed by the Langevin sampler
//   - Module and Parameter: named weights for checkpoint I/O
//   - Layers: Conv2D, ConditionalInstanceNormPP, pooling, bilinear resize
//   - RefineNet and RefineNetTwoResidual: the conditional RefineNet score networks
//   - AnalyticGaussian: an exact score model for Gaussian data
//
// All layers are forward-only and operate on NHWC float64 tensors.
// Noise-level conditioning is a lookup table indexed by the level of each example.
package nn

import (
	"fmt"
	"sort"

	"github.com/born-ml/ncsn/internal/tensor"
)

// ScoreModel estimates the score (gradient of the log-density) of data
// perturbed at a given noise level.
//
// x has shape [batch, H, W, C]; idx holds one noise-level index per example.
// The returned tensor has the same shape as x. Implementations must not
// modify x.
type ScoreModel interface {
	Score(x *tensor.Tensor, idx []int32) *tensor.Tensor
}

// Module is any component that owns trainable parameters.
type Module interface {
	// Parameters returns all parameters, including those of nested modules.
	Parameters() []*Parameter
}

// StateDict returns the module's parameters keyed by name.
func StateDict(m Module) map[string]*tensor.Tensor {
	params := m.Parameters()
	state := make(map[string]*tensor.Tensor, len(params))
	for _, p := range params {
		state[p.Name()] = p.Tensor()
	}
	return state
}

// LoadStateDict copies tensors from state into the module's parameters.
//
// Every parameter must be present with a matching shape; extra entries in
// state are reported as errors so that architecture mismatches surface early.
func LoadStateDict(m Module, state map[string]*tensor.Tensor) error {
	params := m.Parameters()
	known := make(map[string]bool, len(params))

	for _, p := range params {
		known[p.Name()] = true
		src, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name())
		}
		if !src.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("parameter %q: shape %v, expected %v", p.Name(), src.Shape(), p.Tensor().Shape())
		}
		p.Tensor().CopyFrom(src)
	}

	var extra []string
	for name := range state {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("unexpected parameters: %v", extra)
	}
	return nil
}

// CountParameters returns the total number of scalar weights.
func CountParameters(m Module) int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

func checkIndices(x *tensor.Tensor, idx []int32, numL int) {
	if len(idx) != x.BatchSize() {
		panic(fmt.Sprintf("score model: got %d noise indices for batch of %d", len(idx), x.BatchSize()))
	}
	for _, i := range idx {
		if int(i) < 0 || int(i) >= numL {
			panic(fmt.Sprintf("score model: noise index %d out of range [0, %d)", i, numL))
		}
	}
}
