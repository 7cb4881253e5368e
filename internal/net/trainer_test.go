package net

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
)

// recorder keeps every epoch and batch result it sees.
type recorder struct {
	BaseCallback
	began, ended int
	epochs       []BatchStats
	batches      int
	batchIDs     []int
}

func (r *recorder) OnTrainBegin(n *Network) { r.began++ }
func (r *recorder) OnTrainEnd(n *Network)   { r.ended++ }

func (r *recorder) OnEpochEnd(epoch int, stats BatchStats, n *Network) {
	r.epochs = append(r.epochs, stats)
}

func (r *recorder) OnBatchEnd(batch int, stats BatchStats, n *Network) {
	r.batches++
	r.batchIDs = append(r.batchIDs, batch)
}

// thresholdSamples is a separable task: the label is 1 when the first pixel
// of a 2x2 input is bright.
func thresholdSamples() []Sample {
	var samples []Sample
	for i := 0; i < 16; i++ {
		v := float32(i) / 15
		label := float32(0)
		if v > 0.5 {
			label = 1
		}
		samples = append(samples, Sample{
			Input:    []float32{v, 0.3, 0.6, 1 - v},
			Expected: []float32{label},
		})
	}
	return samples
}

func logisticNetwork() *Network {
	n := New(loss.BinaryCrossEntropy)
	n.Register(activations.NewIdentity(), layer.NewInput(0, geometry.Dim{Width: 2, Height: 2, Depth: 1}))
	n.Register(activations.NewSigmoid(), layer.NewFullyConnected(4, 1))
	n.InitializeAll(initializer.UniformXavier, initializer.NewSource(3))
	return n
}

func TestTrainConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultTrainConfig().Validate())

	tests := []struct {
		name   string
		modify func(c *TrainConfig)
	}{
		{"epochs", func(c *TrainConfig) { c.Epochs = 0 }},
		{"batch size", func(c *TrainConfig) { c.BatchSize = -1 }},
		{"workers", func(c *TrainConfig) { c.Workers = -2 }},
		{"learning rate", func(c *TrainConfig) { c.LearningRate = 0 }},
		{"momentum", func(c *TrainConfig) { c.Momentum = 1 }},
		{"weight decay", func(c *TrainConfig) { c.WeightDecay = -0.1 }},
		{"step size", func(c *TrainConfig) { c.LRStepSize = -1 }},
		{"gamma", func(c *TrainConfig) { c.LRStepSize = 2; c.LRGamma = 0 }},
		{"start batch", func(c *TrainConfig) { c.StartBatch = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrainConfig()
			tt.modify(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), errs.ErrInvalidInput))
		})
	}
}

func TestDefaultTrainConfig(t *testing.T) {
	cfg := DefaultTrainConfig()
	assert.Equal(t, float32(0.9), cfg.Momentum)
	assert.Equal(t, float32(5e-4), cfg.WeightDecay)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
}

func TestTrainerFit(t *testing.T) {
	for _, workers := range []int{1, 4} {
		n := logisticNetwork()
		rec := &recorder{}

		cfg := DefaultTrainConfig()
		cfg.Epochs = 40
		cfg.BatchSize = 5
		cfg.Workers = workers
		cfg.LearningRate = 0.5
		cfg.WeightDecay = 0

		require.NoError(t, NewTrainer(cfg, rec).Fit(n, thresholdSamples()))

		assert.Equal(t, 1, rec.began)
		assert.Equal(t, 1, rec.ended)
		require.Len(t, rec.epochs, 40)
		// four batches of 5, 5, 5 and 1
		assert.Equal(t, 40*4, rec.batches)
		assert.Equal(t, 16, rec.epochs[0].Samples())

		first, last := rec.epochs[0], rec.epochs[len(rec.epochs)-1]
		assert.Less(t, last.MeanError(), first.MeanError(), "workers=%d", workers)
		assert.GreaterOrEqual(t, last.Accuracy(), float32(0.75), "workers=%d", workers)
	}
}

func TestTrainerFitDeterministic(t *testing.T) {
	cfg := DefaultTrainConfig()
	cfg.Epochs = 3
	cfg.BatchSize = 4
	cfg.Workers = 1
	cfg.Seed = 99

	a, b := logisticNetwork(), logisticNetwork()
	require.NoError(t, NewTrainer(cfg).Fit(a, thresholdSamples()))
	require.NoError(t, NewTrainer(cfg).Fit(b, thresholdSamples()))

	fa := a.Layer(1).(*layer.FullyConnected)
	fb := b.Layer(1).(*layer.FullyConnected)
	assert.Equal(t, fa.Weights(), fb.Weights())
	assert.Equal(t, fa.Biases(), fb.Biases())
}

func TestTrainerFitStartBatch(t *testing.T) {
	rec := &recorder{}

	cfg := DefaultTrainConfig()
	cfg.Epochs = 2
	cfg.BatchSize = 5
	cfg.Workers = 1
	cfg.StartBatch = 2

	require.NoError(t, NewTrainer(cfg, rec).Fit(logisticNetwork(), thresholdSamples()))

	// the first epoch resumes at its third batch, the second one is complete
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7}, rec.batchIDs)
	require.Len(t, rec.epochs, 2)
	assert.Equal(t, 6, rec.epochs[0].Samples())
	assert.Equal(t, 16, rec.epochs[1].Samples())

	cfg.StartBatch = 4
	assert.ErrorIs(t, NewTrainer(cfg).Fit(logisticNetwork(), thresholdSamples()), errs.ErrInvalidInput)
}

func TestTrainerFitErrors(t *testing.T) {
	n := logisticNetwork()

	cfg := DefaultTrainConfig()
	assert.True(t, errors.Is(NewTrainer(cfg).Fit(n, nil), errs.ErrInvalidInput))

	cfg.Epochs = 0
	assert.True(t, errors.Is(NewTrainer(cfg).Fit(n, thresholdSamples()), errs.ErrInvalidInput))

	cfg = DefaultTrainConfig()
	bad := []Sample{{Input: []float32{1}, Expected: []float32{1}}}
	assert.True(t, errors.Is(NewTrainer(cfg).Fit(n, bad), errs.ErrIncompatibleLayers))
}

func TestEarlyStopping(t *testing.T) {
	n := logisticNetwork()
	rec := &recorder{}

	// no epoch can improve by more than the threshold
	stop := NewEarlyStopping(2, 1e6)

	cfg := DefaultTrainConfig()
	cfg.Epochs = 20
	cfg.Workers = 1

	require.NoError(t, NewTrainer(cfg, rec, stop).Fit(n, thresholdSamples()))

	// the first epoch always improves on the initial best, then two bad epochs
	assert.True(t, stop.ShouldStop())
	assert.Len(t, rec.epochs, 3)
	assert.Equal(t, 1, rec.ended)
}

func TestEarlyStoppingDisabled(t *testing.T) {
	n := logisticNetwork()
	rec := &recorder{}
	stop := NewEarlyStopping(0, 1e6)

	cfg := DefaultTrainConfig()
	cfg.Epochs = 4
	cfg.Workers = 1

	require.NoError(t, NewTrainer(cfg, rec, stop).Fit(n, thresholdSamples()))

	assert.False(t, stop.ShouldStop())
	assert.Len(t, rec.epochs, 4)
}

func TestLoggerCallback(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := DefaultTrainConfig()
	cfg.Epochs = 2
	cfg.BatchSize = 8
	cfg.Workers = 1

	require.NoError(t, NewTrainer(cfg, NewLogger(log, 1)).Fit(logisticNetwork(), thresholdSamples()))

	out := buf.String()
	assert.Contains(t, out, "training started")
	assert.Contains(t, out, "msg=epoch epoch=1")
	assert.Contains(t, out, "msg=batch batch=3")
	assert.Contains(t, out, "training finished")
	assert.Equal(t, 2, strings.Count(out, "msg=epoch"))
}
