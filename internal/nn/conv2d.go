package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/ncsn/internal/parallel"
	"github.com/born-ml/ncsn/internal/tensor"
)

// Conv2D is a stride-1, "same"-padded 2D convolution with optional dilation.
//
// Input shape:  [batch, height, width, in_channels]
// Weight shape: [kernel, kernel, in_channels, out_channels]
// Bias shape:   [out_channels]
// Output shape: [batch, height, width, out_channels]
//
// Padding is dilation*(kernel-1)/2 on every side, so odd kernels preserve
// the spatial size.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernel      int
	dilation    int

	weight *Parameter
	bias   *Parameter
}

// NewConv2D creates a convolution with Xavier-initialized weights and zero bias.
func NewConv2D(name string, inChannels, outChannels, kernel, dilation int, rng *rand.Rand) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernel <= 0 || kernel%2 == 0 {
		panic(fmt.Sprintf("conv2d: kernel must be odd and positive, got %d", kernel))
	}
	if dilation <= 0 {
		panic(fmt.Sprintf("conv2d: invalid dilation %d", dilation))
	}

	fanIn := inChannels * kernel * kernel
	fanOut := outChannels * kernel * kernel
	weight := Xavier(rng, fanIn, fanOut, tensor.Shape{kernel, kernel, inChannels, outChannels})

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernel:      kernel,
		dilation:    dilation,
		weight:      NewParameter(joinName(name, "weight"), weight),
		bias:        NewParameter(joinName(name, "bias"), tensor.Zeros(tensor.Shape{outChannels})),
	}
}

// Forward convolves every image in the batch.
//
// Each image is lowered with im2col to a [H*W, K*K*C_in] matrix and
// multiplied by the weight viewed as [K*K*C_in, C_out]; the product is
// already in HWC order.
func (c *Conv2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	n, h, w, cin := x.Shape().NHWC()
	if cin != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", cin, c.inChannels))
	}

	out := tensor.Zeros(tensor.Shape{n, h, w, c.outChannels})
	colWidth := c.kernel * c.kernel * cin
	weights := mat.NewDense(colWidth, c.outChannels, c.weight.Tensor().Data())
	bias := c.bias.Tensor().Data()

	inStride := h * w * cin
	outStride := h * w * c.outChannels

	parallel.ForRange(n, func(start, end int) {
		cols := make([]float64, h*w*colWidth)
		for b := start; b < end; b++ {
			c.im2col(cols, x.Data()[b*inStride:(b+1)*inStride], h, w)

			dst := out.Data()[b*outStride : (b+1)*outStride]
			prod := mat.NewDense(h*w, c.outChannels, dst)
			prod.Mul(mat.NewDense(h*w, colWidth, cols), weights)

			for p := 0; p < h*w; p++ {
				row := dst[p*c.outChannels : (p+1)*c.outChannels]
				for o := range row {
					row[o] += bias[o]
				}
			}
		}
	}, parallel.PerItem(0))

	return out
}

// im2col fills cols[p, (ky, kx, ci)] for every output pixel p of one HWC image.
func (c *Conv2D) im2col(cols, img []float64, h, w int) {
	cin := c.inChannels
	pad := c.dilation * (c.kernel - 1) / 2
	colWidth := c.kernel * c.kernel * cin

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			row := cols[(y*w+x)*colWidth : (y*w+x+1)*colWidth]
			k := 0
			for ky := 0; ky < c.kernel; ky++ {
				iy := y - pad + ky*c.dilation
				for kx := 0; kx < c.kernel; kx++ {
					ix := x - pad + kx*c.dilation
					if iy < 0 || iy >= h || ix < 0 || ix >= w {
						for ci := 0; ci < cin; ci++ {
							row[k+ci] = 0
						}
					} else {
						copy(row[k:k+cin], img[(iy*w+ix)*cin:(iy*w+ix+1)*cin])
					}
					k += cin
				}
			}
		}
	}
}

// Parameters returns the weight and bias.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int {
	return c.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int {
	return c.outChannels
}

// String returns a string representation of the layer.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=%d, dilation=%d)",
		c.inChannels, c.outChannels, c.kernel, c.dilation)
}
