package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/ncsn/internal/tensor"
)

// PreActivationBlock is the conditional full pre-activation residual block:
//
//	h = conv2(act(norm2(conv1(act(norm1(x))))))
//	out = pool(h) + shortcut(x)
//
// The shortcut is the identity unless the channel count changes or the
// block pools, in which case it is a 1x1 convolution (then pooled).
type PreActivationBlock struct {
	act     Activation
	pooling bool

	norm1    *ConditionalInstanceNormPP
	conv1    *Conv2D
	norm2    *ConditionalInstanceNormPP
	conv2    *Conv2D
	shortcut *Conv2D
}

// BlockOptions configures a PreActivationBlock.
type BlockOptions struct {
	Kernel   int
	Dilation int
	Pooling  bool
}

// NewPreActivationBlock creates a block mapping inCh to outCh channels.
func NewPreActivationBlock(name string, act Activation, inCh, outCh, numL int, opts BlockOptions, rng *rand.Rand) *PreActivationBlock {
	if opts.Kernel == 0 {
		opts.Kernel = 3
	}
	if opts.Dilation == 0 {
		opts.Dilation = 1
	}

	b := &PreActivationBlock{
		act:     act,
		pooling: opts.Pooling,
		norm1:   NewConditionalInstanceNormPP(joinName(name, "norm_1"), inCh, numL, rng),
		conv1:   NewConv2D(joinName(name, "conv_1"), inCh, outCh, opts.Kernel, opts.Dilation, rng),
		norm2:   NewConditionalInstanceNormPP(joinName(name, "norm_2"), outCh, numL, rng),
		conv2:   NewConv2D(joinName(name, "conv_2"), outCh, outCh, opts.Kernel, opts.Dilation, rng),
	}
	if inCh != outCh || opts.Pooling {
		b.shortcut = NewConv2D(joinName(name, "shortcut"), inCh, outCh, 1, 1, rng)
	}
	return b
}

// Forward applies the block.
func (b *PreActivationBlock) Forward(x *tensor.Tensor, idx []int32) *tensor.Tensor {
	h := b.act.apply(b.norm1.Forward(x, idx))
	h = b.conv1.Forward(h)
	h = b.act.apply(b.norm2.Forward(h, idx))
	h = b.conv2.Forward(h)

	skip := x
	if b.shortcut != nil {
		skip = b.shortcut.Forward(x)
	}
	if b.pooling {
		h = AvgPool2x2(h)
		skip = AvgPool2x2(skip)
	}

	h.AddInPlace(skip)
	return h
}

// Parameters returns all block parameters.
func (b *PreActivationBlock) Parameters() []*Parameter {
	params := collect(b.norm1, b.conv1, b.norm2, b.conv2)
	if b.shortcut != nil {
		params = append(params, b.shortcut.Parameters()...)
	}
	return params
}

// residualConvUnit is a conditional RCU: a chain of (norm, act, conv) stages
// wrapped in a residual connection, repeated nBlocks times.
type residualConvUnit struct {
	act    Activation
	norms  [][]*ConditionalInstanceNormPP
	convs  [][]*Conv2D
	stages int
}

func newResidualConvUnit(name string, act Activation, channels, numL, nBlocks, stages int, rng *rand.Rand) *residualConvUnit {
	u := &residualConvUnit{act: act, stages: stages}
	for i := 0; i < nBlocks; i++ {
		var norms []*ConditionalInstanceNormPP
		var convs []*Conv2D
		for j := 0; j < stages; j++ {
			prefix := joinName(name, fmt.Sprintf("%d_%d", i, j))
			norms = append(norms, NewConditionalInstanceNormPP(joinName(prefix, "norm"), channels, numL, rng))
			convs = append(convs, NewConv2D(joinName(prefix, "conv"), channels, channels, 3, 1, rng))
		}
		u.norms = append(u.norms, norms)
		u.convs = append(u.convs, convs)
	}
	return u
}

func (u *residualConvUnit) Forward(x *tensor.Tensor, idx []int32) *tensor.Tensor {
	for i := range u.norms {
		h := x
		for j := 0; j < u.stages; j++ {
			h = u.act.apply(u.norms[i][j].Forward(h, idx))
			h = u.convs[i][j].Forward(h)
		}
		h.AddInPlace(x)
		x = h
	}
	return x
}

func (u *residualConvUnit) Parameters() []*Parameter {
	var params []*Parameter
	for i := range u.norms {
		for j := range u.norms[i] {
			params = append(params, u.norms[i][j].Parameters()...)
			params = append(params, u.convs[i][j].Parameters()...)
		}
	}
	return params
}

// chainedResidualPool is conditional chained residual pooling:
//
//	x = act(x); path = x
//	repeat: path = conv(maxpool5(norm(path))); x += path
type chainedResidualPool struct {
	act   Activation
	norms []*ConditionalInstanceNormPP
	convs []*Conv2D
}

func newChainedResidualPool(name string, act Activation, channels, numL, nBlocks int, rng *rand.Rand) *chainedResidualPool {
	p := &chainedResidualPool{act: act}
	for i := 0; i < nBlocks; i++ {
		prefix := joinName(name, fmt.Sprintf("%d", i))
		p.norms = append(p.norms, NewConditionalInstanceNormPP(joinName(prefix, "norm"), channels, numL, rng))
		p.convs = append(p.convs, NewConv2D(joinName(prefix, "conv"), channels, channels, 3, 1, rng))
	}
	return p
}

func (p *chainedResidualPool) Forward(x *tensor.Tensor, idx []int32) *tensor.Tensor {
	x = p.act.apply(x)
	path := x
	for i := range p.norms {
		path = p.norms[i].Forward(path, idx)
		path = MaxPoolSame(path, 5)
		path = p.convs[i].Forward(path)
		x.AddInPlace(path)
	}
	return x
}

func (p *chainedResidualPool) Parameters() []*Parameter {
	var params []*Parameter
	for i := range p.norms {
		params = append(params, p.norms[i].Parameters()...)
		params = append(params, p.convs[i].Parameters()...)
	}
	return params
}

// RefineBlock fuses one or more feature paths:
//
//  1. RCU on every input path
//  2. multi-resolution fusion: per-path norm + 3x3 conv to the block width,
//     bilinear upsampling to the first (largest) path, summed
//  3. chained residual pooling
//  4. output RCU
type RefineBlock struct {
	filters int

	beginRCU []*residualConvUnit
	fuseNorm []*ConditionalInstanceNormPP
	fuseConv []*Conv2D
	crp      *chainedResidualPool
	endRCU   *residualConvUnit
}

// RefineOptions configures a RefineBlock.
type RefineOptions struct {
	CRPBlocks      int
	BeginRCUBlocks int
	EndRCUBlocks   int
}

// NewRefineBlock creates a block whose inputs have the given channel counts.
func NewRefineBlock(name string, act Activation, inChannels []int, filters, numL int, opts RefineOptions, rng *rand.Rand) *RefineBlock {
	if len(inChannels) == 0 {
		panic("refine_block: at least one input path is required")
	}
	if opts.EndRCUBlocks == 0 {
		opts.EndRCUBlocks = 1
	}

	r := &RefineBlock{filters: filters}
	multi := len(inChannels) > 1
	for i, ch := range inChannels {
		path := joinName(name, fmt.Sprintf("path_%d", i))
		r.beginRCU = append(r.beginRCU, newResidualConvUnit(joinName(path, "rcu"), act, ch, numL, opts.BeginRCUBlocks, 2, rng))
		if multi || ch != filters {
			r.fuseNorm = append(r.fuseNorm, NewConditionalInstanceNormPP(joinName(path, "msf_norm"), ch, numL, rng))
			r.fuseConv = append(r.fuseConv, NewConv2D(joinName(path, "msf_conv"), ch, filters, 3, 1, rng))
		}
	}
	r.crp = newChainedResidualPool(joinName(name, "crp"), act, filters, numL, opts.CRPBlocks, rng)
	r.endRCU = newResidualConvUnit(joinName(name, "end_rcu"), act, filters, numL, opts.EndRCUBlocks, 2, rng)
	return r
}

// Forward fuses the input paths. The output has the spatial size of inputs[0].
func (r *RefineBlock) Forward(inputs []*tensor.Tensor, idx []int32) *tensor.Tensor {
	if len(inputs) != len(r.beginRCU) {
		panic(fmt.Sprintf("refine_block: got %d inputs, expected %d", len(inputs), len(r.beginRCU)))
	}

	hs := make([]*tensor.Tensor, len(inputs))
	for i, x := range inputs {
		hs[i] = r.beginRCU[i].Forward(x, idx)
	}

	var fused *tensor.Tensor
	if len(r.fuseConv) == 0 {
		fused = hs[0]
	} else {
		_, oh, ow, _ := hs[0].Shape().NHWC()
		for i, h := range hs {
			h = r.fuseConv[i].Forward(r.fuseNorm[i].Forward(h, idx))
			h = ResizeBilinear(h, oh, ow)
			if fused == nil {
				fused = h
			} else {
				fused.AddInPlace(h)
			}
		}
	}

	fused = r.crp.Forward(fused, idx)
	return r.endRCU.Forward(fused, idx)
}

// Parameters returns all block parameters.
func (r *RefineBlock) Parameters() []*Parameter {
	var params []*Parameter
	for i := range r.beginRCU {
		params = append(params, r.beginRCU[i].Parameters()...)
	}
	for i := range r.fuseConv {
		params = append(params, r.fuseNorm[i].Parameters()...)
		params = append(params, r.fuseConv[i].Parameters()...)
	}
	params = append(params, r.crp.Parameters()...)
	return append(params, r.endRCU.Parameters()...)
}
