package nn

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Architecture names a score network topology.
type Architecture string

// Supported architectures.
const (
	ArchRefineNet            Architecture = "refinenet"
	ArchRefineNetTwoResidual Architecture = "refinenet_two_residual"
)

// RefineNetConfig describes a RefineNet instance.
type RefineNetConfig struct {
	Architecture Architecture
	Channels     int        // Image channels (1 for MNIST, 3 for CIFAR-10).
	Filters      int        // Base width; deeper stages use 2x.
	NumL         int        // Number of noise levels (rows of every conditioning table).
	Activation   Activation // Defaults to ELU.
	Seed         int64      // Weight initialization seed.
}

// Validate checks the configuration.
func (c RefineNetConfig) Validate() error {
	switch c.Architecture {
	case ArchRefineNet, ArchRefineNetTwoResidual:
	default:
		return errors.Errorf("unknown architecture %q", c.Architecture)
	}
	if c.Channels <= 0 || c.Filters <= 0 || c.NumL <= 0 {
		return errors.Errorf("invalid refinenet config: channels=%d filters=%d num_L=%d", c.Channels, c.Filters, c.NumL)
	}
	return nil
}

// RefineNet is the noise-conditional RefineNet score network.
//
//	increase_channels → 4 pre-activation stages (stage 2 pools, stages 3-4 dilate 2 and 4)
//	→ refine blocks 4..1 (top-down fusion) → norm → act → decrease_channels
//
// With TwoResidual every stage holds two pre-activation blocks.
type RefineNet struct {
	config RefineNetConfig

	increase *Conv2D
	stages   [4][]*PreActivationBlock
	refine   [4]*RefineBlock
	norm     *ConditionalInstanceNormPP
	decrease *Conv2D
}

// NewRefineNet builds a network with freshly initialized weights.
func NewRefineNet(cfg RefineNetConfig) (*RefineNet, error) {
	if cfg.Activation == nil {
		cfg.Activation = ELU
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	//nolint:gosec // Deterministic weight initialization.
	rng := rand.New(rand.NewSource(cfg.Seed))
	act, f, numL := cfg.Activation, cfg.Filters, cfg.NumL

	net := &RefineNet{
		config:   cfg,
		increase: NewConv2D("increase_channels", cfg.Channels, f, 3, 1, rng),
	}

	stageOpts := [4]BlockOptions{
		{Kernel: 3, Dilation: 1},
		{Kernel: 3, Dilation: 1, Pooling: true},
		{Kernel: 3, Dilation: 2},
		{Kernel: 3, Dilation: 4},
	}
	stageOut := [4]int{f, 2 * f, 2 * f, 2 * f}
	in := f
	for s := 0; s < 4; s++ {
		if cfg.Architecture == ArchRefineNetTwoResidual {
			// The first block of each pair widens; the second carries pooling.
			first := stageOpts[s]
			first.Pooling = false
			net.stages[s] = []*PreActivationBlock{
				NewPreActivationBlock(fmt.Sprintf("preact_%d_1", s+1), act, in, stageOut[s], numL, first, rng),
				NewPreActivationBlock(fmt.Sprintf("preact_%d_2", s+1), act, stageOut[s], stageOut[s], numL, stageOpts[s], rng),
			}
		} else {
			net.stages[s] = []*PreActivationBlock{
				NewPreActivationBlock(fmt.Sprintf("preact_%d", s+1), act, in, stageOut[s], numL, stageOpts[s], rng),
			}
		}
		in = stageOut[s]
	}

	net.refine[3] = NewRefineBlock("refine_block_4", act, []int{2 * f}, 2*f, numL,
		RefineOptions{CRPBlocks: 2, BeginRCUBlocks: 2}, rng)
	net.refine[2] = NewRefineBlock("refine_block_3", act, []int{2 * f, 2 * f}, 2*f, numL,
		RefineOptions{CRPBlocks: 2, BeginRCUBlocks: 2}, rng)
	net.refine[1] = NewRefineBlock("refine_block_2", act, []int{2 * f, 2 * f}, 2*f, numL,
		RefineOptions{CRPBlocks: 2, BeginRCUBlocks: 2}, rng)
	net.refine[0] = NewRefineBlock("refine_block_1", act, []int{f, 2 * f}, f, numL,
		RefineOptions{CRPBlocks: 2, BeginRCUBlocks: 2, EndRCUBlocks: 3}, rng)

	net.norm = NewConditionalInstanceNormPP("norm", f, numL, rng)
	net.decrease = NewConv2D("decrease_channels", f, cfg.Channels, 3, 1, rng)

	return net, nil
}

// Score implements ScoreModel.
func (n *RefineNet) Score(x *tensor.Tensor, idx []int32) *tensor.Tensor {
	if _, _, _, c := x.Shape().NHWC(); c != n.config.Channels {
		panic(fmt.Sprintf("refinenet: input channels %d != expected %d", c, n.config.Channels))
	}
	checkIndices(x, idx, n.config.NumL)

	h := n.increase.Forward(x)

	var outs [4]*tensor.Tensor
	for s := range n.stages {
		for _, block := range n.stages[s] {
			h = block.Forward(h, idx)
		}
		outs[s] = h
	}

	r4 := n.refine[3].Forward([]*tensor.Tensor{outs[3]}, idx)
	r3 := n.refine[2].Forward([]*tensor.Tensor{outs[2], r4}, idx)
	r2 := n.refine[1].Forward([]*tensor.Tensor{outs[1], r3}, idx)
	r1 := n.refine[0].Forward([]*tensor.Tensor{outs[0], r2}, idx)

	h = n.config.Activation.apply(n.norm.Forward(r1, idx))
	return n.decrease.Forward(h)
}

// Parameters returns every weight in a stable order.
func (n *RefineNet) Parameters() []*Parameter {
	params := n.increase.Parameters()
	for s := range n.stages {
		for _, block := range n.stages[s] {
			params = append(params, block.Parameters()...)
		}
	}
	for i := len(n.refine) - 1; i >= 0; i-- {
		params = append(params, n.refine[i].Parameters()...)
	}
	params = append(params, n.norm.Parameters()...)
	return append(params, n.decrease.Parameters()...)
}

// Config returns the network configuration.
func (n *RefineNet) Config() RefineNetConfig {
	return n.config
}

// String returns a summary of the network.
func (n *RefineNet) String() string {
	return fmt.Sprintf("RefineNet(arch=%s, channels=%d, filters=%d, num_L=%d, params=%d)",
		n.config.Architecture, n.config.Channels, n.config.Filters, n.config.NumL, CountParameters(n))
}
