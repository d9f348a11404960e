package langevin

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
)

// Config configures annealed Langevin sampling.
type Config struct {
	// Eps is the base step size; level i uses eps * (sigma_i / sigma_L)^2.
	Eps float64

	// T is the number of Langevin steps per noise level.
	T int

	// BatchSize caps the number of images annealed together.
	BatchSize int

	// Workers bounds the number of sub-batches sampled concurrently. 0 = NumCPU.
	Workers int

	// Seed for reproducibility. -1 = random.
	Seed int64

	// CheckFinite fails the run with ErrNonFinite when a level ends with NaN or Inf values.
	CheckFinite bool

	// SnapshotEvery calls the observer after every SnapshotEvery steps. 0 = never.
	SnapshotEvery int
}

// DefaultConfig returns the settings the reference sampler was run with.
func DefaultConfig() Config {
	return Config{
		Eps:           2e-5,
		T:             100,
		BatchSize:     128,
		Workers:       runtime.NumCPU(),
		Seed:          2019,
		SnapshotEvery: 10,
	}
}

// Validate rejects settings under which sampling is meaningless.
func (c Config) Validate() error {
	switch {
	case !(c.Eps > 0) || math.IsInf(c.Eps, 0):
		return errors.Wrapf(ErrInvalidConfig, "eps must be positive, got %g", c.Eps)
	case c.T <= 0:
		return errors.Wrapf(ErrInvalidConfig, "steps per level must be positive, got %d", c.T)
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "batch size must be positive, got %d", c.BatchSize)
	case c.Workers < 0:
		return errors.Wrapf(ErrInvalidConfig, "workers must not be negative, got %d", c.Workers)
	case c.SnapshotEvery < 0:
		return errors.Wrapf(ErrInvalidConfig, "snapshot interval must not be negative, got %d", c.SnapshotEvery)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers == 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}
