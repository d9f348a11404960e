// Package dataset knows the image datasets the score models are trained on:
// their image sizes and how to read their raw training files.
//
// Pixels are scaled to [0, 1] and returned as one [N, H, W, C] tensor.
package dataset

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Dataset errors.
var (
	ErrUnknown = errors.New("unknown dataset")
	ErrFormat  = errors.New("malformed dataset file")
)

// Info describes a dataset's images.
type Info struct {
	Name     string
	Height   int
	Width    int
	Channels int

	files  []string
	reader func(io.Reader) (*tensor.Tensor, error)
}

// ImageShape returns [H, W, C].
func (i Info) ImageShape() tensor.Shape {
	return tensor.Shape{i.Height, i.Width, i.Channels}
}

var registry = map[string]Info{
	"mnist": {
		Name: "mnist", Height: 28, Width: 28, Channels: 1,
		files:  []string{"train-images-idx3-ubyte"},
		reader: ReadIDXImages,
	},
	"fashion_mnist": {
		Name: "fashion_mnist", Height: 28, Width: 28, Channels: 1,
		files:  []string{"train-images-idx3-ubyte"},
		reader: ReadIDXImages,
	},
	"cifar10": {
		Name: "cifar10", Height: 32, Width: 32, Channels: 3,
		files: []string{
			"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
			"data_batch_4.bin", "data_batch_5.bin",
		},
		reader: ReadCIFAR10,
	},
	"celeb_a": {
		Name: "celeb_a", Height: 32, Width: 32, Channels: 3,
	},
}

// Lookup returns the description of a dataset by name.
func Lookup(name string) (Info, error) {
	info, ok := registry[name]
	if !ok {
		return Info{}, errors.Wrapf(ErrUnknown, "%q (known: %v)", name, Names())
	}
	return info, nil
}

// Names lists the known datasets.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads up to limit training images (all if limit <= 0) from
// {dataDir}/{name}/. Files may be gzip-compressed with a ".gz" suffix.
func Load(dataDir, name string, limit int) (*tensor.Tensor, error) {
	info, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if info.reader == nil {
		return nil, errors.Errorf("dataset %s has no local reader", name)
	}

	var parts []*tensor.Tensor
	total := 0
	for _, file := range info.files {
		if limit > 0 && total >= limit {
			break
		}
		images, err := readFile(filepath.Join(dataDir, name, file), info.reader)
		if err != nil {
			return nil, err
		}
		if !images.Shape().ExampleShape().Equal(info.ImageShape()) {
			return nil, errors.Wrapf(ErrFormat, "%s: images are %v, expected %v", file, images.Shape().ExampleShape(), info.ImageShape())
		}
		parts = append(parts, images)
		total += images.BatchSize()
	}

	all := tensor.Concat(parts...)
	if limit > 0 && all.BatchSize() > limit {
		all = all.Slice(0, limit)
	}
	return all, nil
}

func readFile(path string, read func(io.Reader) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	//nolint:gosec // G304: dataset path comes from configuration.
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		path += ".gz"
		//nolint:gosec // G304: dataset path comes from configuration.
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open dataset")
	}
	defer func() {
		_ = f.Close()
	}()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		defer func() {
			_ = gz.Close()
		}()
		r = gz
	}

	images, err := read(r)
	return images, errors.Wrap(err, path)
}
