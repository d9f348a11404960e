// Package langevin implements annealed Langevin dynamics sampling.
//
// Starting from uniform noise, every noise level i of a schedule runs T
// updates
//
//	x <- x + alpha_i * score(x, i) + sqrt(2 * alpha_i) * z,  z ~ N(0, I)
//
// and hands its final state to the next, smaller level. Large batches are
// split into sub-batches that are annealed independently and concurrently.
package langevin

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/nn"
	"github.com/born-ml/ncsn/internal/schedule"
	"github.com/born-ml/ncsn/internal/tensor"
)

// Sampling errors.
var (
	ErrInvalidConfig = errors.New("invalid sampler config")
	ErrNonFinite     = errors.New("sample contains NaN or Inf")
)

// Observer is notified of intermediate states during Sample and Anneal.
//
// x is the live sample batch and must not be retained or modified.
type Observer interface {
	OnStep(level, step int, x *tensor.Tensor) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(level, step int, x *tensor.Tensor) error

// OnStep calls f.
func (f ObserverFunc) OnStep(level, step int, x *tensor.Tensor) error {
	return f(level, step, x)
}

// Step performs one Langevin update and returns the new state:
//
//	x + alpha*score + sqrt(2*alpha)*z
//
// The inputs are not modified.
func Step(x, score, z *tensor.Tensor, alpha float64) *tensor.Tensor {
	out := x.Clone()
	out.AddScaledInPlace(alpha, score)
	out.AddScaledInPlace(math.Sqrt(2*alpha), z)
	return out
}

// Sampler runs annealed Langevin dynamics against a score model.
//
// A Sampler is safe for concurrent use if its model is.
type Sampler struct {
	model    nn.ScoreModel
	sigmas   schedule.Sigmas
	config   Config
	logger   *slog.Logger
	observer Observer
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger used for progress reports.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithObserver sets the observer called every Config.SnapshotEvery steps by
// Sample and Anneal. Batched sampling never calls it.
func WithObserver(o Observer) Option {
	return func(s *Sampler) {
		s.observer = o
	}
}

// New creates a sampler. A negative seed is replaced by a random one.
func New(model nn.ScoreModel, sigmas schedule.Sigmas, config Config, opts ...Option) (*Sampler, error) {
	if model == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil score model")
	}
	if err := sigmas.Validate(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Seed < 0 {
		config.Seed = rand.Int63() //nolint:gosec // User requested random seed
	}

	s := &Sampler{
		model:  model,
		sigmas: sigmas,
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration, including the resolved seed.
func (s *Sampler) Config() Config {
	return s.config
}

// Sigmas returns the noise schedule.
func (s *Sampler) Sigmas() schedule.Sigmas {
	return s.sigmas
}

// InitialNoise draws n images of the given [H, W, C] shape from U[0, 1).
func (s *Sampler) InitialNoise(rng *rand.Rand, n int, imageShape tensor.Shape) *tensor.Tensor {
	return tensor.Rand(batchShape(n, imageShape), rng)
}

// Anneal runs every noise level over the batch x, warm-starting each level
// from the previous one, and returns the final state. x is not modified.
//
// Fresh noise for every step is drawn from rng.
func (s *Sampler) Anneal(ctx context.Context, x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	return s.anneal(ctx, x, rng, s.observer)
}

func (s *Sampler) anneal(ctx context.Context, x *tensor.Tensor, rng *rand.Rand, obs Observer) (*tensor.Tensor, error) {
	n := x.BatchSize()
	idx := make([]int32, n)
	z := tensor.ZerosLike(x)
	every := s.config.SnapshotEvery

	for i := range s.sigmas {
		alpha := s.sigmas.StepSize(i, s.config.Eps)
		for b := range idx {
			idx[b] = int32(i) //nolint:gosec // G115: level count is small.
		}

		for t := 0; t < s.config.T; t++ {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(err, "sigma level %d step %d", i, t)
			}

			tensor.FillNormal(z, rng)
			score := s.model.Score(x, idx)
			x = Step(x, score, z, alpha)

			if obs != nil && every > 0 && (t+1)%every == 0 {
				if err := obs.OnStep(i, t, x); err != nil {
					return nil, errors.Wrapf(err, "observer at sigma level %d step %d", i, t)
				}
			}
		}

		if s.config.CheckFinite && !x.AllFinite() {
			return nil, errors.Wrapf(ErrNonFinite, "after sigma level %d (sigma=%g)", i, s.sigmas[i])
		}
	}
	return x, nil
}

// Sample is the single-batch diagnostic run: n images drawn from the
// sampler's seed, annealed together, with the observer (if any) notified
// along the way.
func (s *Sampler) Sample(ctx context.Context, n int, imageShape tensor.Shape) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "number of images must be positive, got %d", n)
	}
	rng := s.masterRNG()
	x := s.InitialNoise(rng, n, imageShape)

	s.logger.Info("sampling", "images", n, "levels", s.sigmas.Len(), "steps", s.config.T)
	return s.Anneal(ctx, x, rng)
}

func (s *Sampler) masterRNG() *rand.Rand {
	return rand.New(rand.NewSource(s.config.Seed)) //nolint:gosec // Intentional deterministic seed for reproducibility
}

func batchShape(n int, imageShape tensor.Shape) tensor.Shape {
	if len(imageShape) != 3 {
		panic("langevin: image shape must be [H, W, C]")
	}
	return tensor.Shape{n, imageShape[0], imageShape[1], imageShape[2]}
}
