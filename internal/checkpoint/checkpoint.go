package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/nn"
	"github.com/born-ml/ncsn/internal/tensor"
)

// Extension is the checkpoint file extension.
const Extension = ".safetensors"

var ckptName = regexp.MustCompile(`^ckpt-(\d+)` + regexp.QuoteMeta(Extension) + `$`)

// Metadata describes the model stored in a checkpoint.
type Metadata struct {
	Step         int
	Filters      int
	NumL         int
	Channels     int
	Architecture nn.Architecture
	Dataset      string
}

func (m Metadata) toMap() map[string]string {
	return map[string]string{
		"step":         strconv.Itoa(m.Step),
		"filters":      strconv.Itoa(m.Filters),
		"num_L":        strconv.Itoa(m.NumL),
		"channels":     strconv.Itoa(m.Channels),
		"architecture": string(m.Architecture),
		"dataset":      m.Dataset,
	}
}

func metadataFromMap(raw map[string]string) (Metadata, error) {
	var m Metadata
	ints := []struct {
		key string
		dst *int
	}{
		{"step", &m.Step},
		{"filters", &m.Filters},
		{"num_L", &m.NumL},
		{"channels", &m.Channels},
	}
	for _, f := range ints {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Metadata{}, errors.Wrapf(err, "metadata %s", f.key)
		}
		*f.dst = n
	}
	m.Architecture = nn.Architecture(raw["architecture"])
	m.Dataset = raw["dataset"]
	return m, nil
}

// ModelDir returns the directory holding checkpoints for one model configuration.
func ModelDir(root string, filters int, dataset string, numL int) string {
	return filepath.Join(root, fmt.Sprintf("refinenet%d_%s_L%d", filters, dataset, numL))
}

// Path returns the checkpoint file for a training step.
func Path(dir string, step int) string {
	return filepath.Join(dir, fmt.Sprintf("ckpt-%d%s", step, Extension))
}

// Save writes the model's parameters and metadata to path.
//
// The file is written to a temporary name and renamed, so a crash never
// leaves a truncated checkpoint under the final name.
func Save(path string, model nn.Module, meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}

	tmp := path + ".tmp"
	//nolint:gosec // G304: checkpoint path is user-provided.
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	if err := WriteSafeTensors(f, nn.StateDict(model), meta.toMap()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, path), "rename checkpoint")
}

// ReadMetadata returns the metadata of a checkpoint without loading it into a model.
func ReadMetadata(path string) (Metadata, error) {
	_, meta, err := readFile(path)
	return meta, err
}

// Load restores the model's parameters from path.
//
// Any missing, extra or misshapen parameter is reported as ErrArchitecture.
func Load(path string, model nn.Module) (Metadata, error) {
	state, meta, err := readFile(path)
	if err != nil {
		return Metadata{}, err
	}
	if err := nn.LoadStateDict(model, state); err != nil {
		return Metadata{}, errors.Wrapf(ErrArchitecture, "%s: %v", path, err)
	}
	return meta, nil
}

func readFile(path string) (map[string]*tensor.Tensor, Metadata, error) {
	//nolint:gosec // G304: checkpoint path is user-provided.
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, errors.Wrap(ErrNotFound, path)
		}
		return nil, Metadata{}, errors.Wrap(err, "open checkpoint")
	}
	defer func() {
		_ = f.Close()
	}()

	state, raw, err := ReadSafeTensors(bufio.NewReader(f))
	if err != nil {
		return nil, Metadata{}, errors.Wrap(err, path)
	}
	meta, err := metadataFromMap(raw)
	if err != nil {
		return nil, Metadata{}, errors.Wrap(err, path)
	}
	return state, meta, nil
}

// Latest returns the checkpoint with the highest step in dir.
func Latest(dir string) (path string, step int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, errors.Wrapf(ErrNotFound, "no checkpoint directory %s", dir)
		}
		return "", 0, errors.Wrap(err, "list checkpoints")
	}

	step = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := ckptName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > step {
			step, path = n, filepath.Join(dir, e.Name())
		}
	}
	if step < 0 {
		return "", 0, errors.Wrapf(ErrNotFound, "no checkpoints in %s", dir)
	}
	return path, step, nil
}

// Restore builds a RefineNet for cfg and loads the latest checkpoint for it
// under root.
//
// Architecture fields recorded in the checkpoint metadata must agree with
// cfg; fields absent from older files are not checked.
func Restore(root, dataset string, cfg nn.RefineNetConfig) (*nn.RefineNet, Metadata, error) {
	dir := ModelDir(root, cfg.Filters, dataset, cfg.NumL)
	path, _, err := Latest(dir)
	if err != nil {
		return nil, Metadata{}, err
	}

	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	if err := checkCompatible(meta, cfg); err != nil {
		return nil, Metadata{}, errors.Wrap(err, path)
	}

	net, err := nn.NewRefineNet(cfg)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta, err = Load(path, net)
	if err != nil {
		return nil, Metadata{}, err
	}
	return net, meta, nil
}

func checkCompatible(meta Metadata, cfg nn.RefineNetConfig) error {
	mismatch := func(field string, got, want any) error {
		return errors.Wrapf(ErrArchitecture, "%s is %v, expected %v", field, got, want)
	}
	switch {
	case meta.Filters != 0 && meta.Filters != cfg.Filters:
		return mismatch("filters", meta.Filters, cfg.Filters)
	case meta.NumL != 0 && meta.NumL != cfg.NumL:
		return mismatch("num_L", meta.NumL, cfg.NumL)
	case meta.Channels != 0 && meta.Channels != cfg.Channels:
		return mismatch("channels", meta.Channels, cfg.Channels)
	case meta.Architecture != "" && meta.Architecture != cfg.Architecture:
		return mismatch("architecture", meta.Architecture, cfg.Architecture)
	}
	return nil
}
