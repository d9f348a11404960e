package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

// DirSink writes each image to {dir}/{index}.png.
//
// It is safe for concurrent use as long as indices are distinct.
type DirSink struct {
	dir     string
	written atomic.Int64
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create sample directory")
	}
	return &DirSink{dir: dir}, nil
}

// WriteImage saves one [H, W, C] image.
func (s *DirSink) WriteImage(index int, img *tensor.Tensor) error {
	if err := SavePNG(filepath.Join(s.dir, fmt.Sprintf("%d.png", index)), img); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}

// Count returns the number of images written so far.
func (s *DirSink) Count() int {
	return int(s.written.Load())
}

// GridSnapshotter saves the whole sample batch as a grid,
// {dir}/sigma{level+1}_t{step+1}.png, whenever the sampler reports a step.
type GridSnapshotter struct {
	Dir     string
	Spacing int
	Scale   int
}

// OnStep implements langevin.Observer.
func (g GridSnapshotter) OnStep(level, step int, x *tensor.Tensor) error {
	return SaveGrid(g.Path(level, step), x, g.Spacing, g.Scale)
}

// Path returns the snapshot file for a 0-based level and step.
func (g GridSnapshotter) Path(level, step int) string {
	return filepath.Join(g.Dir, fmt.Sprintf("sigma%d_t%d.png", level+1, step+1))
}
