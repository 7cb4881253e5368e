package net

import (
	"log/slog"
	"math"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(epoch int, stats BatchStats, n *Network)
	OnBatchEnd(batch int, stats BatchStats, n *Network)
}

// Stopper is implemented by callbacks that can end training early.
type Stopper interface {
	ShouldStop() bool
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                            {}
func (c BaseCallback) OnTrainEnd(n *Network)                              {}
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)                 {}
func (c BaseCallback) OnEpochEnd(epoch int, stats BatchStats, n *Network) {}
func (c BaseCallback) OnBatchEnd(batch int, stats BatchStats, n *Network) {}

// EarlyStopping stops training once the mean epoch error has failed to drop
// by more than Threshold for Patience consecutive epochs. A Patience of zero
// or less never stops training.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float32

	bestError    float32
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float32) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestError: math.MaxFloat32,
	}
}

func (c *EarlyStopping) OnEpochEnd(epoch int, stats BatchStats, n *Network) {
	e := stats.MeanError()
	if e < c.bestError-c.Threshold {
		c.bestError = e
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.Patience > 0 && c.numBadEpochs >= c.Patience {
		c.Stopped = true
	}
}

// ShouldStop reports whether the patience has run out.
func (c *EarlyStopping) ShouldStop() bool { return c.Stopped }

// ModelCheckpoint saves the network every Interval batches and when
// training ends. Save errors are kept in Err; training is not interrupted.
type ModelCheckpoint struct {
	BaseCallback
	Filename string
	Interval int
	Log      *slog.Logger

	Err error
}

func NewModelCheckpoint(filename string, interval int) *ModelCheckpoint {
	return &ModelCheckpoint{
		Filename: filename,
		Interval: interval,
		Log:      slog.Default(),
	}
}

func (c *ModelCheckpoint) save(n *Network) {
	if err := n.Save(c.Filename); err != nil {
		c.Err = err
		c.Log.Error("checkpoint failed", "file", c.Filename, "err", err)
		return
	}
	c.Log.Debug("checkpoint saved", "file", c.Filename)
}

func (c *ModelCheckpoint) OnBatchEnd(batch int, stats BatchStats, n *Network) {
	if c.Interval > 0 && (batch+1)%c.Interval == 0 {
		c.save(n)
	}
}

func (c *ModelCheckpoint) OnTrainEnd(n *Network) {
	c.save(n)
}

// Logger logs training progress as structured records.
type Logger struct {
	BaseCallback
	Log *slog.Logger

	// Batch records are emitted every Interval batches; zero disables them.
	Interval int
}

func NewLogger(log *slog.Logger, interval int) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{Log: log, Interval: interval}
}

func (c *Logger) OnTrainBegin(n *Network) {
	c.Log.Info("training started", "layers", n.Len(), "parameters", n.NumGradients())
}

func (c *Logger) OnBatchEnd(batch int, stats BatchStats, n *Network) {
	if c.Interval > 0 && (batch+1)%c.Interval == 0 {
		c.Log.Info("batch",
			"batch", batch,
			"error", stats.MeanError(),
			"correct", stats.Correct,
			"incorrect", stats.Incorrect)
	}
}

func (c *Logger) OnEpochEnd(epoch int, stats BatchStats, n *Network) {
	c.Log.Info("epoch",
		"epoch", epoch,
		"error", stats.MeanError(),
		"accuracy", stats.Accuracy(),
		"samples", stats.Samples())
}

func (c *Logger) OnTrainEnd(n *Network) {
	c.Log.Info("training finished")
}
