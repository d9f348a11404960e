package langevin

import (
	"context"
	"math/rand"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/ncsn/internal/tensor"
)

// Sink receives finished images from SampleManyAndSave.
//
// WriteImage is called concurrently from different sub-batches, always with
// distinct indices. img has shape [H, W, C] and is only valid during the call.
type Sink interface {
	WriteImage(index int, img *tensor.Tensor) error
}

// SubBatchSeed derives the RNG seed of sub-batch i from the run seed.
//
// Each sub-batch owns its stream, so the output does not depend on how many
// run concurrently.
func SubBatchSeed(seed int64, i int) int64 {
	// splitmix64 finalizer
	z := uint64(seed) + uint64(i+1)*0x9e3779b97f4a7c15 //nolint:gosec // G115: bit mixing.
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z >> 1) //nolint:gosec // G115: top bit cleared.
}

// SubBatchRNG returns the random source used for sub-batch i.
func (s *Sampler) SubBatchRNG(i int) *rand.Rand {
	return rand.New(rand.NewSource(SubBatchSeed(s.config.Seed, i))) //nolint:gosec // Intentional deterministic seed for reproducibility
}

// SubBatches draws the initial noise for n images from the run seed and
// splits it into sub-batches of at most min(BatchSize, n) images.
// The returned tensors are views of one buffer.
func (s *Sampler) SubBatches(n int, imageShape tensor.Shape) ([]*tensor.Tensor, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "number of images must be positive, got %d", n)
	}
	x := s.InitialNoise(s.masterRNG(), n, imageShape)
	return tensor.Split(x, min(s.config.BatchSize, n)), nil
}

// SampleMany generates n images and returns them as one [n, H, W, C] tensor.
//
// Sub-batches run on at most Config.Workers goroutines; the result is the
// same for any worker count. The first error cancels the remaining work.
func (s *Sampler) SampleMany(ctx context.Context, n int, imageShape tensor.Shape) (*tensor.Tensor, error) {
	batches, err := s.SubBatches(n, imageShape)
	if err != nil {
		return nil, err
	}

	results := make([]*tensor.Tensor, len(batches))
	err = s.run(ctx, batches, func(i int, out *tensor.Tensor) error {
		results[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tensor.Concat(results...), nil
}

// SampleManyAndSave generates n images and streams each finished sub-batch
// to sink, image by image, under its global index. Nothing is kept in memory
// beyond the sub-batches in flight.
func (s *Sampler) SampleManyAndSave(ctx context.Context, n int, imageShape tensor.Shape, sink Sink) error {
	batches, err := s.SubBatches(n, imageShape)
	if err != nil {
		return err
	}

	size := batches[0].BatchSize()
	return s.run(ctx, batches, func(i int, out *tensor.Tensor) error {
		for b := 0; b < out.BatchSize(); b++ {
			if err := sink.WriteImage(i*size+b, out.Batch(b)); err != nil {
				return errors.Wrapf(err, "write image %d", i*size+b)
			}
		}
		return nil
	})
}

func (s *Sampler) run(ctx context.Context, batches []*tensor.Tensor, done func(i int, out *tensor.Tensor) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.workers())

	total := 0
	for _, b := range batches {
		total += b.BatchSize()
	}
	var finished atomic.Int64

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			out, err := s.anneal(ctx, batch, s.SubBatchRNG(i), nil)
			if err != nil {
				return errors.Wrapf(err, "sub-batch %d", i)
			}
			if err := done(i, out); err != nil {
				return err
			}

			n := finished.Add(int64(out.BatchSize()))
			s.logger.Info("sub-batch done", "batch", i, "images", n, "total", total)
			return nil
		})
	}
	return g.Wait()
}
