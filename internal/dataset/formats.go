package dataset

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

const (
	idxImageMagic = 2051

	cifarSide  = 32
	cifarPlane = cifarSide * cifarSide
	// One label byte followed by the red, green and blue planes.
	cifarRecord = 1 + 3*cifarPlane
)

// ReadIDXImages reads an IDX image file (MNIST layout):
//
//	magic number: 0x00000803 (2051)
//	number of images, rows, cols: 4 bytes each, big-endian
//	pixel data: unsigned bytes (0-255), row-major
//
// The result has shape [N, rows, cols, 1].
func ReadIDXImages(r io.Reader) (*tensor.Tensor, error) {
	br := bufio.NewReader(r)

	var header [4]uint32
	if err := binary.Read(br, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(ErrFormat, "short IDX header")
	}
	magic, n, rows, cols := header[0], header[1], header[2], header[3]
	if magic != idxImageMagic {
		return nil, errors.Wrapf(ErrFormat, "invalid magic number: got %d, want %d", magic, idxImageMagic)
	}
	if n == 0 || rows == 0 || cols == 0 {
		return nil, errors.Wrapf(ErrFormat, "empty IDX file: %d images of %dx%d", n, rows, cols)
	}

	pixels := make([]byte, int(n)*int(rows)*int(cols))
	if _, err := io.ReadFull(br, pixels); err != nil {
		return nil, errors.Wrapf(ErrFormat, "pixel data truncated: %v", err)
	}

	data := make([]float64, len(pixels))
	for i, p := range pixels {
		data[i] = float64(p) / 255
	}
	return tensor.New(data, tensor.Shape{int(n), int(rows), int(cols), 1}), nil
}

// ReadCIFAR10 reads a CIFAR-10 binary batch: fixed-size records of one
// label byte and a 32x32 image stored as three channel planes.
//
// The result has shape [N, 32, 32, 3].
func ReadCIFAR10(r io.Reader) (*tensor.Tensor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read CIFAR-10 batch")
	}
	if len(raw) == 0 || len(raw)%cifarRecord != 0 {
		return nil, errors.Wrapf(ErrFormat, "CIFAR-10 batch of %d bytes is not a multiple of %d", len(raw), cifarRecord)
	}

	n := len(raw) / cifarRecord
	data := make([]float64, n*cifarPlane*3)
	for i := 0; i < n; i++ {
		planes := raw[i*cifarRecord+1 : (i+1)*cifarRecord]
		img := data[i*cifarPlane*3 : (i+1)*cifarPlane*3]
		for p := 0; p < cifarPlane; p++ {
			for c := 0; c < 3; c++ {
				img[3*p+c] = float64(planes[c*cifarPlane+p]) / 255
			}
		}
	}
	return tensor.New(data, tensor.Shape{n, cifarSide, cifarSide, 3}), nil
}
