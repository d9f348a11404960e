package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/ncsn/internal/parallel"
	"github.com/born-ml/ncsn/internal/tensor"
)

// AvgPool2x2 halves height and width by averaging 2x2 windows (floor mode).
func AvgPool2x2(x *tensor.Tensor) *tensor.Tensor {
	n, h, w, c := x.Shape().NHWC()
	oh, ow := h/2, w/2
	if oh == 0 || ow == 0 {
		panic(fmt.Sprintf("avgpool: input %v too small", x.Shape()))
	}

	out := tensor.Zeros(tensor.Shape{n, oh, ow, c})
	src, dst := x.Data(), out.Data()
	parallel.ForBatch(n, c, func(b, ch int) {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				sum := 0.0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						sum += src[((b*h+2*y+dy)*w+2*xx+dx)*c+ch]
					}
				}
				dst[((b*oh+y)*ow+xx)*c+ch] = sum / 4
			}
		}
	}, parallel.DefaultConfig())
	return out
}

// MaxPoolSame applies a stride-1 max pool with a square window of odd size k,
// padding so the spatial size is preserved. Padded cells never win.
func MaxPoolSame(x *tensor.Tensor, k int) *tensor.Tensor {
	if k <= 0 || k%2 == 0 {
		panic(fmt.Sprintf("maxpool: window must be odd and positive, got %d", k))
	}
	n, h, w, c := x.Shape().NHWC()
	pad := k / 2

	out := tensor.ZerosLike(x)
	src, dst := x.Data(), out.Data()
	parallel.For(n, func(b int) {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				for ch := 0; ch < c; ch++ {
					best := math.Inf(-1)
					for iy := max(y-pad, 0); iy <= min(y+pad, h-1); iy++ {
						for ix := max(xx-pad, 0); ix <= min(xx+pad, w-1); ix++ {
							best = math.Max(best, src[((b*h+iy)*w+ix)*c+ch])
						}
					}
					dst[((b*h+y)*w+xx)*c+ch] = best
				}
			}
		}
	}, parallel.PerItem(0))
	return out
}

// ResizeBilinear resizes every image to [oh, ow] with half-pixel centers.
func ResizeBilinear(x *tensor.Tensor, oh, ow int) *tensor.Tensor {
	n, h, w, c := x.Shape().NHWC()
	if oh == h && ow == w {
		return x.Clone()
	}

	out := tensor.Zeros(tensor.Shape{n, oh, ow, c})
	src, dst := x.Data(), out.Data()
	scaleY := float64(h) / float64(oh)
	scaleX := float64(w) / float64(ow)

	parallel.For(n, func(b int) {
		for y := 0; y < oh; y++ {
			y0, y1, fy := sourceCoord(y, scaleY, h)
			for xx := 0; xx < ow; xx++ {
				x0, x1, fx := sourceCoord(xx, scaleX, w)
				for ch := 0; ch < c; ch++ {
					at := func(iy, ix int) float64 { return src[((b*h+iy)*w+ix)*c+ch] }
					top := at(y0, x0)*(1-fx) + at(y0, x1)*fx
					bottom := at(y1, x0)*(1-fx) + at(y1, x1)*fx
					dst[((b*oh+y)*ow+xx)*c+ch] = top*(1-fy) + bottom*fy
				}
			}
		}
	}, parallel.PerItem(0))
	return out
}

func sourceCoord(dst int, scale float64, size int) (lo, hi int, frac float64) {
	s := (float64(dst)+0.5)*scale - 0.5
	if s < 0 {
		s = 0
	}
	lo = int(s)
	if lo > size-1 {
		lo = size - 1
	}
	hi = min(lo+1, size-1)
	return lo, hi, s - float64(lo)
}
