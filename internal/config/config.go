// Package config holds the run configuration of the sampler CLI.
//
// Values come from, in increasing priority: defaults, an optional config
// file, NCSN_* environment variables and command-line flags. The resolved
// Config is passed explicitly to whatever needs it.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid is returned for configurations that cannot be run.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. NCSN_NUM_L.
const EnvPrefix = "NCSN"

// Mode selects what the CLI produces.
type Mode string

// Run modes.
const (
	ModeGrid     Mode = "grid"     // 100 images annealed together, grid snapshot every few steps
	ModeBulk     Mode = "bulk"     // many images streamed to {idx}.png
	ModeNearest  Mode = "nearest"  // 10 images, each next to its k closest training images
	ModeEvaluate Mode = "evaluate" // training objectives on one perturbed dataset batch
)

// Model names accepted by --model.
const (
	ModelRefineNet            = "refinenet"
	ModelRefineNetTwoResidual = "refinenet_two_residual"
	ModelGaussian             = "gaussian"
)

// Config is the full run configuration.
type Config struct {
	Dataset     string  `mapstructure:"dataset"`
	NumL        int     `mapstructure:"num_L"`
	SigmaHigh   float64 `mapstructure:"sigma_high"`
	SigmaLow    float64 `mapstructure:"sigma_low"`
	Filters     int     `mapstructure:"filters"`
	K           int     `mapstructure:"k"`
	FindNearest bool    `mapstructure:"find_nearest"`
	Mode        Mode    `mapstructure:"mode"`
	Model       string  `mapstructure:"model"`

	CheckpointDir string `mapstructure:"checkpoint_dir"`
	SamplesDir    string `mapstructure:"samples_dir"`
	DataDir       string `mapstructure:"data_dir"`

	Eps           float64 `mapstructure:"eps"`
	Steps         int     `mapstructure:"steps"`
	NImages       int     `mapstructure:"n_images"`
	BatchSize     int     `mapstructure:"batch_size"`
	Workers       int     `mapstructure:"workers"`
	Seed          int64   `mapstructure:"seed"`
	CheckFinite   bool    `mapstructure:"check_finite"`
	SnapshotEvery int     `mapstructure:"snapshot_every"`
	GridScale     int     `mapstructure:"grid_scale"`
	Objective     string  `mapstructure:"objective"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the configuration of the reference runs.
func Default() Config {
	return Config{
		Dataset:       "mnist",
		NumL:          10,
		SigmaHigh:     1.0,
		SigmaLow:      0.01,
		Filters:       128,
		K:             10,
		Mode:          ModeGrid,
		Model:         ModelRefineNet,
		CheckpointDir: "./saved_models/",
		SamplesDir:    "./samples/",
		DataDir:       "./data",
		Eps:           2e-5,
		Steps:         100,
		BatchSize:     128,
		Workers:       runtime.NumCPU(),
		Seed:          2019,
		SnapshotEvery: 10,
		GridScale:     1,
		Objective:     "denoising_norm",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// RegisterFlags adds one flag per field, defaulting to Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("dataset", d.Dataset, "dataset name (mnist, fashion_mnist, cifar10, celeb_a)")
	fs.Int("num_L", d.NumL, "number of noise levels")
	fs.Float64("sigma_high", d.SigmaHigh, "largest noise level")
	fs.Float64("sigma_low", d.SigmaLow, "smallest noise level")
	fs.Int("filters", d.Filters, "RefineNet base width")
	fs.Int("k", d.K, "closest training images per sample in nearest mode")
	fs.Bool("find_nearest", d.FindNearest, "shorthand for --mode=nearest")
	fs.String("mode", string(d.Mode), "grid, bulk, nearest or evaluate")
	fs.String("model", d.Model, "refinenet, refinenet_two_residual or gaussian")
	fs.String("checkpoint_dir", d.CheckpointDir, "root directory of saved models")
	fs.String("samples_dir", d.SamplesDir, "root directory for generated samples")
	fs.String("data_dir", d.DataDir, "root directory of raw datasets")
	fs.Float64("eps", d.Eps, "base Langevin step size")
	fs.Int("steps", d.Steps, "Langevin steps per noise level")
	fs.Int("n_images", d.NImages, "number of images (0 = mode default)")
	fs.Int("batch_size", d.BatchSize, "images annealed together")
	fs.Int("workers", d.Workers, "sub-batches sampled concurrently")
	fs.Int64("seed", d.Seed, "random seed (-1 = random)")
	fs.Bool("check_finite", d.CheckFinite, "fail when a noise level ends with NaN or Inf")
	fs.Int("snapshot_every", d.SnapshotEvery, "grid snapshot interval in steps (0 = off)")
	fs.Int("grid_scale", d.GridScale, "nearest-neighbour upscaling of grid images")
	fs.String("objective", d.Objective, "objective reported first in evaluate mode")
	fs.String("log_level", d.LogLevel, "debug, info, warn or error")
	fs.String("log_format", d.LogFormat, "text or json")
}

// Load resolves the configuration from v, the parsed flags fs and, if
// file is non-empty, a YAML, JSON or TOML config file.
func Load(v *viper.Viper, fs *pflag.FlagSet, file string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, errors.Wrap(err, "bind flags")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if cfg.FindNearest {
		cfg.Mode = ModeNearest
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings that would fail later in the run.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalid, format, args...)
	}
	switch {
	case c.Dataset == "":
		return invalid("dataset is required")
	case c.NumL < 1:
		return invalid("num_L must be at least 1, got %d", c.NumL)
	case c.Filters <= 0:
		return invalid("filters must be positive, got %d", c.Filters)
	case c.K <= 0:
		return invalid("k must be positive, got %d", c.K)
	case c.NImages < 0:
		return invalid("n_images must not be negative, got %d", c.NImages)
	case c.GridScale < 1:
		return invalid("grid_scale must be at least 1, got %d", c.GridScale)
	}
	switch c.Mode {
	case ModeGrid, ModeBulk, ModeNearest, ModeEvaluate:
	default:
		return invalid("unknown mode %q", c.Mode)
	}
	switch c.Model {
	case ModelRefineNet, ModelRefineNetTwoResidual, ModelGaussian:
	default:
		return invalid("unknown model %q", c.Model)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ImageCount returns NImages, or the default for the mode when it is 0.
func (c Config) ImageCount() int {
	if c.NImages > 0 {
		return c.NImages
	}
	switch c.Mode {
	case ModeNearest:
		return 10
	case ModeBulk:
		return 1000
	case ModeEvaluate:
		return c.BatchSize
	default:
		return 100
	}
}

// SampleDirName names a run's output directory:
// {yymmdd-HHMMSS}_{dataset}_{step}steps_{filters}filters.
func SampleDirName(start time.Time, dataset string, step, filters int) string {
	return fmt.Sprintf("%s_%s_%dsteps_%dfilters", start.Format("060102-150405"), dataset, step, filters)
}

// SampleDir returns the output directory for a run started at start with a
// model trained for step steps.
func (c Config) SampleDir(start time.Time, step int) string {
	return filepath.Join(c.SamplesDir, SampleDirName(start, c.Dataset, step, c.Filters))
}
