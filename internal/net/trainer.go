package net

import (
	"fmt"
	"runtime"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/opt"
)

// TrainConfig holds the settings of a training run.
type TrainConfig struct {
	Epochs    int
	BatchSize int

	// Workers > 1 trains every batch on that many network clones.
	Workers int

	LearningRate float32
	Momentum     float32
	WeightDecay  float32

	// The learning rate is multiplied by LRGamma every LRStepSize epochs.
	// Zero LRStepSize keeps it constant.
	LRStepSize int
	LRGamma    float32

	Shuffle bool
	Seed    uint64

	// StartBatch skips that many batches of the first epoch, so an
	// interrupted run restarted with the same seed picks up where it left off.
	StartBatch int
}

// DefaultTrainConfig returns the settings used when none are given.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       10,
		BatchSize:    32,
		Workers:      runtime.NumCPU(),
		LearningRate: 0.01,
		Momentum:     0.9,
		WeightDecay:  5e-4,
		LRStepSize:   0,
		LRGamma:      1,
		Shuffle:      true,
		Seed:         1,
	}
}

// Validate reports the first setting that cannot be used.
func (c TrainConfig) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", errs.ErrInvalidInput, c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", errs.ErrInvalidInput, c.BatchSize)
	case c.Workers < 0:
		return fmt.Errorf("%w: negative worker count %d", errs.ErrInvalidInput, c.Workers)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", errs.ErrInvalidInput, c.LearningRate)
	case c.Momentum < 0 || c.Momentum >= 1:
		return fmt.Errorf("%w: momentum must be in [0, 1), got %g", errs.ErrInvalidInput, c.Momentum)
	case c.WeightDecay < 0:
		return fmt.Errorf("%w: negative weight decay %g", errs.ErrInvalidInput, c.WeightDecay)
	case c.LRStepSize < 0:
		return fmt.Errorf("%w: negative step size %d", errs.ErrInvalidInput, c.LRStepSize)
	case c.LRStepSize > 0 && c.LRGamma <= 0:
		return fmt.Errorf("%w: gamma must be positive, got %g", errs.ErrInvalidInput, c.LRGamma)
	case c.StartBatch < 0:
		return fmt.Errorf("%w: negative start batch %d", errs.ErrInvalidInput, c.StartBatch)
	}
	return nil
}

// Trainer runs the epoch loop over a dataset.
type Trainer struct {
	Config    TrainConfig
	Callbacks []Callback
}

// NewTrainer creates a trainer with the given config and callbacks.
func NewTrainer(cfg TrainConfig, callbacks ...Callback) *Trainer {
	return &Trainer{Config: cfg, Callbacks: callbacks}
}

func (t *Trainer) stopped() bool {
	for _, cb := range t.Callbacks {
		if s, ok := cb.(Stopper); ok && s.ShouldStop() {
			return true
		}
	}
	return false
}

// Fit trains n on samples for the configured number of epochs. The last
// batch of an epoch may be smaller than BatchSize.
func (t *Trainer) Fit(n *Network, samples []Sample) error {
	cfg := t.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples", errs.ErrInvalidInput)
	}
	first := cfg.StartBatch * cfg.BatchSize
	if first >= len(samples) {
		return fmt.Errorf("%w: start batch %d is past the %d samples", errs.ErrInvalidInput, cfg.StartBatch, len(samples))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	schedule := opt.StepLR{StepSize: cfg.LRStepSize, Gamma: cfg.LRGamma}

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	batch := make([]Sample, 0, cfg.BatchSize)

	for _, cb := range t.Callbacks {
		cb.OnTrainBegin(n)
	}

	step := cfg.StartBatch
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for _, cb := range t.Callbacks {
			cb.OnEpochBegin(epoch, n)
		}

		if cfg.Shuffle {
			rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}

		hp := Hyperparameters{
			LearningRate: schedule.LR(cfg.LearningRate, epoch),
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
		}

		var epochStats BatchStats
		for start := first; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))

			batch = batch[:0]
			for _, idx := range order[start:end] {
				batch = append(batch, samples[idx])
			}

			var stats BatchStats
			var err error
			if cfg.Workers > 1 {
				stats, err = TrainBatchParallel(n, batch, cfg.Workers, hp)
			} else {
				stats, err = TrainBatch(n, batch, hp)
			}
			if err != nil {
				return fmt.Errorf("epoch %d, batch %d: %w", epoch, step, err)
			}

			epochStats.Add(stats)
			for _, cb := range t.Callbacks {
				cb.OnBatchEnd(step, stats, n)
			}
			step++
		}

		first = 0

		for _, cb := range t.Callbacks {
			cb.OnEpochEnd(epoch, epochStats, n)
		}
		if t.stopped() {
			break
		}
	}

	for _, cb := range t.Callbacks {
		cb.OnTrainEnd(n)
	}
	return nil
}

// Evaluate runs every sample forward and returns the aggregated error and
// accuracy. Gradients and parameters are left untouched.
func Evaluate(n *Network, samples []Sample) (BatchStats, error) {
	var stats BatchStats

	for i, s := range samples {
		out, err := n.Predict(s.Input)
		if err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}
		e, err := n.Error(s.Expected)
		if err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}

		stats.Error += e
		if IsCorrect(out, s.Expected) {
			stats.Correct++
		} else {
			stats.Incorrect++
		}
	}
	return stats, nil
}
