package net

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
)

// Sample is one training example: a flat input volume and the expected
// outputs of the last layer.
type Sample struct {
	Input    []float32
	Expected []float32
}

// BatchStats aggregates the error and accuracy counters of a set of samples.
type BatchStats struct {
	// Error is the sum of the per-sample errors.
	Error     float32
	Correct   int
	Incorrect int
}

// Samples returns the number of samples counted.
func (s BatchStats) Samples() int { return s.Correct + s.Incorrect }

// MeanError returns the average per-sample error.
func (s BatchStats) MeanError() float32 {
	if s.Samples() == 0 {
		return 0
	}
	return s.Error / float32(s.Samples())
}

// Accuracy returns the fraction of correctly classified samples.
func (s BatchStats) Accuracy() float32 {
	if s.Samples() == 0 {
		return 0
	}
	return float32(s.Correct) / float32(s.Samples())
}

// Add merges o into s.
func (s *BatchStats) Add(o BatchStats) {
	s.Error += o.Error
	s.Correct += o.Correct
	s.Incorrect += o.Incorrect
}

// Hyperparameters are the update settings applied at the end of a batch.
type Hyperparameters struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// IsCorrect reports whether output classifies the sample like expected. A
// single output is thresholded at 0.5; several outputs compare the index of
// their largest value.
func IsCorrect(output, expected []float32) bool {
	if len(output) == 0 || len(output) != len(expected) {
		return false
	}
	if len(output) == 1 {
		return (output[0] > 0.5) == (expected[0] > 0.5)
	}
	return argmax(output) == argmax(expected)
}

func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// accumulate runs forward and backward passes for every sample, adding to
// the gradients already held by n. No parameter is updated.
func accumulate(n *Network, samples []Sample) (BatchStats, error) {
	var stats BatchStats

	for i, s := range samples {
		if err := n.SetInput(s.Input); err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}
		if err := n.ForwardPropagate(); err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}

		e, err := n.Error(s.Expected)
		if err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}
		out, err := n.Output()
		if err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}

		stats.Error += e
		if IsCorrect(out, s.Expected) {
			stats.Correct++
		} else {
			stats.Incorrect++
		}

		if err := n.BackPropagate(s.Expected); err != nil {
			return stats, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	return stats, nil
}

// TrainBatch trains n on batch serially and applies one update.
func TrainBatch(n *Network, batch []Sample, hp Hyperparameters) (BatchStats, error) {
	if len(batch) == 0 {
		return BatchStats{}, fmt.Errorf("%w: empty batch", errs.ErrInvalidInput)
	}

	n.StartBatch()
	stats, err := accumulate(n, batch)
	if err != nil {
		return stats, err
	}
	return stats, n.EndBatch(len(batch), hp.LearningRate, hp.Momentum, hp.WeightDecay)
}

type workerResult struct {
	gradients []float32
	stats     BatchStats
	err       error
}

// TrainBatchParallel splits batch into contiguous chunks, one per worker.
// Each worker runs its chunk on its own clone of n. The summed gradients are
// written back into n, which then applies one update for the whole batch.
//
// If any worker fails the batch fails and n is not updated.
func TrainBatchParallel(n *Network, batch []Sample, workers int, hp Hyperparameters) (BatchStats, error) {
	if len(batch) == 0 {
		return BatchStats{}, fmt.Errorf("%w: empty batch", errs.ErrInvalidInput)
	}
	if workers < 1 {
		workers = 1
	}

	sum, stats, err := parallelGradients(n, batch, workers)
	if err != nil {
		return stats, err
	}

	if err := n.SetGradients(sum); err != nil {
		return stats, err
	}
	return stats, n.EndBatch(len(batch), hp.LearningRate, hp.Momentum, hp.WeightDecay)
}

// parallelGradients returns the gradient sum of batch computed by up to
// workers clones of n.
func parallelGradients(n *Network, batch []Sample, workers int) ([]float32, BatchStats, error) {
	chunkSize := (len(batch) + workers - 1) / workers
	results := make(chan workerResult, workers)

	var wg sync.WaitGroup
	for start := 0; start < len(batch); start += chunkSize {
		end := min(start+chunkSize, len(batch))
		worker := n.Clone()

		wg.Add(1)
		go func(chunk []Sample) {
			defer wg.Done()

			worker.StartBatch()
			stats, err := accumulate(worker, chunk)
			if err != nil {
				results <- workerResult{stats: stats, err: err}
				return
			}
			results <- workerResult{gradients: worker.CollectGradients(), stats: stats}
		}(batch[start:end])
	}

	wg.Wait()
	close(results)

	sum := make([]float32, n.NumGradients())
	acc := blas32.Vector{N: len(sum), Inc: 1, Data: sum}

	var stats BatchStats
	var firstErr error
	for r := range results {
		stats.Add(r.stats)
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		blas32.Axpy(1, blas32.Vector{N: len(r.gradients), Inc: 1, Data: r.gradients}, acc)
	}

	return sum, stats, firstErr
}
