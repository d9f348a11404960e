// Package imageio turns sample tensors into PNG files.
//
// Sample values are intensities in [0, 1]; they are rescaled to 8-bit
// pixels with round-half-up and clipped, so out-of-range samples saturate.
package imageio

import (
	"bufio"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/born-ml/ncsn/internal/tensor"
)

// ErrChannels is returned for images that are neither grayscale nor RGB.
var ErrChannels = errors.New("unsupported channel count")

// Quantize maps an intensity to a pixel value: clamp(v*255 + 0.5, 0, 255), truncated.
// NaN maps to 0.
func Quantize(v float64) uint8 {
	p := v*255 + 0.5
	switch {
	case math.IsNaN(p) || p <= 0:
		return 0
	case p >= 255:
		return 255
	default:
		return uint8(p)
	}
}

// ToImage converts one [H, W, C] image to *image.Gray (C=1) or *image.RGBA (C=3).
func ToImage(img *tensor.Tensor) (image.Image, error) {
	if img.Rank() != 3 {
		return nil, errors.Errorf("image must be [H, W, C], got %v", img.Shape())
	}
	h, w, c := img.Shape()[0], img.Shape()[1], img.Shape()[2]
	data := img.Data()

	switch c {
	case 1:
		out := image.NewGray(image.Rect(0, 0, w, h))
		for i, v := range data {
			out.Pix[i] = Quantize(v)
		}
		return out, nil
	case 3:
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		for p := 0; p < h*w; p++ {
			out.Pix[4*p] = Quantize(data[3*p])
			out.Pix[4*p+1] = Quantize(data[3*p+1])
			out.Pix[4*p+2] = Quantize(data[3*p+2])
			out.Pix[4*p+3] = 0xff
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrChannels, "%d", c)
	}
}

// SavePNG writes one [H, W, C] image to path.
func SavePNG(path string, img *tensor.Tensor) error {
	m, err := ToImage(img)
	if err != nil {
		return err
	}
	return errors.Wrap(writePNG(path, m), path)
}

// Grid lays a [N, H, W, C] batch out as rows = floor(sqrt(N)) by
// cols = N / rows tiles, filled column by column, with spacing pixels of
// black border around every tile. Images that do not fill a whole column
// are left out. A scale above 1 enlarges the result with nearest-neighbour
// sampling.
func Grid(batch *tensor.Tensor, spacing, scale int) (image.Image, error) {
	n, h, w, c := batch.Shape().NHWC()
	if c != 1 && c != 3 {
		return nil, errors.Wrapf(ErrChannels, "%d", c)
	}
	if n == 0 {
		return nil, errors.New("empty batch")
	}
	rows := int(math.Floor(math.Sqrt(float64(n))))
	cols := n / rows

	bounds := image.Rect(0, 0, cols*w+(cols+1)*spacing, rows*h+(rows+1)*spacing)
	var canvas draw.Image
	if c == 1 {
		canvas = image.NewGray(bounds)
	} else {
		canvas = image.NewRGBA(bounds)
		draw.Draw(canvas, bounds, &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	}

	for i := 0; i < rows*cols; i++ {
		tile, err := ToImage(batch.Batch(i))
		if err != nil {
			return nil, err
		}
		col, row := i/rows, i%rows
		origin := image.Pt(col*w+(col+1)*spacing, row*h+(row+1)*spacing)
		draw.Draw(canvas, tile.Bounds().Add(origin), tile, image.Point{}, draw.Src)
	}

	if scale <= 1 {
		return canvas, nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*scale, bounds.Dy()*scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), canvas, bounds, draw.Src, nil)
	return scaled, nil
}

// SaveGrid writes Grid(batch, spacing, scale) to path.
func SaveGrid(path string, batch *tensor.Tensor, spacing, scale int) error {
	m, err := Grid(batch, spacing, scale)
	if err != nil {
		return err
	}
	return errors.Wrap(writePNG(path, m), path)
}

func writePNG(path string, m image.Image) error {
	//nolint:gosec // G304: output path is built from the samples directory.
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := png.Encode(w, m); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
