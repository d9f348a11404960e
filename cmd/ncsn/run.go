package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/born-ml/ncsn/internal/checkpoint"
	"github.com/born-ml/ncsn/internal/config"
	"github.com/born-ml/ncsn/internal/dataset"
	"github.com/born-ml/ncsn/internal/imageio"
	"github.com/born-ml/ncsn/internal/langevin"
	"github.com/born-ml/ncsn/internal/loss"
	"github.com/born-ml/ncsn/internal/neighbors"
	"github.com/born-ml/ncsn/internal/nn"
	"github.com/born-ml/ncsn/internal/schedule"
	"github.com/born-ml/ncsn/internal/tensor"
)

const (
	gridSpacing  = 2
	manifestFile = "run.json"
)

// Parameters of the analytic Gaussian model used by --model=gaussian.
const (
	gaussianMean = 0.5
	gaussianStd  = 0.25
)

// manifest is written to run.json in the sample directory.
type manifest struct {
	ID             string             `json:"id"`
	Started        time.Time          `json:"started"`
	Finished       *time.Time         `json:"finished,omitempty"`
	Mode           config.Mode        `json:"mode"`
	Model          string             `json:"model"`
	CheckpointStep int                `json:"checkpoint_step"`
	Seed           int64              `json:"seed"`
	Sigmas         []float64          `json:"sigmas"`
	Images         int                `json:"images"`
	Objectives     map[string]float64 `json:"objectives,omitempty"`
	Config         config.Config      `json:"config"`
}

type runner struct {
	cfg    config.Config
	logger *slog.Logger

	info   dataset.Info
	sigmas schedule.Sigmas
	model  nn.ScoreModel
	step   int
	dir    string
	record manifest
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	start := time.Now()

	info, err := dataset.Lookup(cfg.Dataset)
	if err != nil {
		return err
	}
	sigmas, err := schedule.Geometric(cfg.SigmaHigh, cfg.SigmaLow, cfg.NumL)
	if err != nil {
		return err
	}

	r := &runner{cfg: cfg, logger: logger, info: info, sigmas: sigmas}
	if err := r.loadModel(); err != nil {
		return err
	}

	r.dir = cfg.SampleDir(start, r.step)
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return errors.Wrap(err, "create sample directory")
	}
	r.record = manifest{
		ID:             uuid.NewString(),
		Started:        start,
		Mode:           cfg.Mode,
		Model:          cfg.Model,
		CheckpointStep: r.step,
		Seed:           cfg.Seed,
		Sigmas:         sigmas,
		Config:         cfg,
	}
	r.logger = logger.With("run", r.record.ID)
	if err := r.writeManifest(); err != nil {
		return err
	}

	r.logger.Info("starting",
		"mode", cfg.Mode, "model", cfg.Model, "dataset", cfg.Dataset,
		"sigmas", sigmas.String(), "step", r.step, "dir", r.dir)

	switch cfg.Mode {
	case config.ModeGrid:
		err = r.grid(ctx)
	case config.ModeBulk:
		err = r.bulk(ctx)
	case config.ModeNearest:
		err = r.nearest(ctx)
	case config.ModeEvaluate:
		err = r.evaluate()
	default:
		err = errors.Wrapf(config.ErrInvalid, "unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return err
	}

	finished := time.Now()
	r.record.Finished = &finished
	r.logger.Info("done", "images", r.record.Images, "elapsed", finished.Sub(start).Round(time.Millisecond))
	return r.writeManifest()
}

func (r *runner) loadModel() error {
	if r.cfg.Model == config.ModelGaussian {
		r.model = nn.AnalyticGaussian{Mean: gaussianMean, Std: gaussianStd, Sigmas: r.sigmas}
		return nil
	}

	net, meta, err := checkpoint.Restore(r.cfg.CheckpointDir, r.cfg.Dataset, nn.RefineNetConfig{
		Architecture: nn.Architecture(r.cfg.Model),
		Channels:     r.info.Channels,
		Filters:      r.cfg.Filters,
		NumL:         r.cfg.NumL,
	})
	if err != nil {
		return errors.Wrap(err, "load model")
	}
	r.model, r.step = net, meta.Step
	r.logger.Info("restored checkpoint", "model", net.String(), "step", meta.Step)
	return nil
}

func (r *runner) sampler(opts ...langevin.Option) (*langevin.Sampler, error) {
	s, err := langevin.New(r.model, r.sigmas, langevin.Config{
		Eps:           r.cfg.Eps,
		T:             r.cfg.Steps,
		BatchSize:     r.cfg.BatchSize,
		Workers:       r.cfg.Workers,
		Seed:          r.cfg.Seed,
		CheckFinite:   r.cfg.CheckFinite,
		SnapshotEvery: r.cfg.SnapshotEvery,
	}, append(opts, langevin.WithLogger(r.logger))...)
	if err != nil {
		return nil, err
	}
	r.record.Seed = s.Config().Seed
	return s, nil
}

// grid anneals all images as one batch and saves grid snapshots along the way.
func (r *runner) grid(ctx context.Context) error {
	snap := imageio.GridSnapshotter{Dir: r.dir, Spacing: gridSpacing, Scale: r.cfg.GridScale}
	s, err := r.sampler(langevin.WithObserver(snap))
	if err != nil {
		return err
	}

	n := r.cfg.ImageCount()
	if _, err := s.Sample(ctx, n, r.info.ImageShape()); err != nil {
		return err
	}
	r.record.Images = n
	return nil
}

// bulk streams every image to {idx}.png as its sub-batch finishes.
func (r *runner) bulk(ctx context.Context) error {
	sink, err := imageio.NewDirSink(r.dir)
	if err != nil {
		return err
	}
	s, err := r.sampler()
	if err != nil {
		return err
	}

	err = s.SampleManyAndSave(ctx, r.cfg.ImageCount(), r.info.ImageShape(), sink)
	r.record.Images = sink.Count()
	return err
}

// nearest saves each sample next to its k closest training images.
func (r *runner) nearest(ctx context.Context) error {
	data, err := dataset.Load(r.cfg.DataDir, r.cfg.Dataset, 0)
	if err != nil {
		return err
	}
	s, err := r.sampler()
	if err != nil {
		return err
	}
	samples, err := s.SampleMany(ctx, r.cfg.ImageCount(), r.info.ImageShape())
	if err != nil {
		return err
	}

	for i := 0; i < samples.BatchSize(); i++ {
		sample := samples.Batch(i)
		if err := imageio.SavePNG(filepath.Join(r.dir, fmt.Sprintf("sample_%d.png", i)), sample); err != nil {
			return err
		}
		matches, err := neighbors.KClosest(sample, data, r.cfg.K)
		if err != nil {
			return err
		}
		for j, m := range matches {
			path := filepath.Join(r.dir, fmt.Sprintf("sample_%d_closest_%d.png", i, j))
			if err := imageio.SavePNG(path, data.Batch(m.Index)); err != nil {
				return err
			}
		}
		r.logger.Debug("nearest neighbours", "sample", i, "closest", matches[0].Index, "distance", matches[0].Distance)
	}
	r.record.Images = samples.BatchSize()
	return nil
}

// evaluate reports every objective on one batch of training images,
// perturbed at random noise levels. The configured objective comes first.
func (r *runner) evaluate() error {
	primary, err := loss.ParseObjective(r.cfg.Objective)
	if err != nil {
		return err
	}
	x, err := dataset.Load(r.cfg.DataDir, r.cfg.Dataset, r.cfg.ImageCount())
	if err != nil {
		return err
	}

	//nolint:gosec // Intentional deterministic seed for reproducibility
	rng := rand.New(rand.NewSource(r.cfg.Seed))
	idx := loss.RandomLevels(rng, x.BatchSize(), r.sigmas.Len())
	xp, perExample := loss.Perturb(rng, x, r.sigmas, idx)
	score := r.model.Score(xp, idx)
	v := tensor.Randn(xp.Shape(), rng)

	in := loss.Inputs{
		Score:      score,
		XPerturbed: xp,
		X:          x,
		Sigmas:     perExample,
		NumL:       r.sigmas.Len(),
		DataGrads:  nn.JVP(r.model, xp, idx, v, 0),
		Projection: v,
	}

	order := []loss.Objective{primary}
	for _, o := range loss.Objectives() {
		if o != primary {
			order = append(order, o)
		}
	}

	r.record.Objectives = make(map[string]float64, len(order))
	for _, o := range order {
		value, err := o.Evaluate(in)
		if err != nil {
			return err
		}
		r.record.Objectives[o.String()] = value
		r.logger.Info("objective", "name", o.String(), "value", value, "images", x.BatchSize())
	}
	r.record.Images = x.BatchSize()
	return nil
}

func (r *runner) writeManifest() error {
	data, err := json.MarshalIndent(r.record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode run manifest")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(r.dir, manifestFile), data, 0o600), "write run manifest")
}
