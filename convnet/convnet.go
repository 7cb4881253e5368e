// Package convnet re-exports the engine's types and constructors for use
// outside the module.
package convnet

import (
	"log/slog"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
	"github.com/FlavioCFOliveira/GoConvNet/internal/net"
)

// Re-export common types and functions for easier access
type (
	Network         = net.Network
	Sequential      = net.Sequential
	Layer           = layer.Layer
	Convolutional   = layer.Convolutional
	Pooling         = layer.Pooling
	FullyConnected  = layer.FullyConnected
	PoolKind        = layer.PoolKind
	Dim             = geometry.Dim
	Activation      = activations.Function
	Loss            = loss.Function
	Scheme          = initializer.Scheme
	Sample          = net.Sample
	BatchStats      = net.BatchStats
	Hyperparameters = net.Hyperparameters
	TrainConfig     = net.TrainConfig
	Trainer         = net.Trainer
	Callback        = net.Callback
	Checkpoint      = net.ModelCheckpoint
	Dataset         = net.Dataset
	CSVFormat       = net.CSVFormat
	Layout          = net.Layout
)

// Errors
var (
	ErrDimensionMismatch         = errs.ErrDimensionMismatch
	ErrIncompatibleLayers        = errs.ErrIncompatibleLayers
	ErrImpossibleOutputDimension = errs.ErrImpossibleOutputDimension
	ErrInvalidInput              = errs.ErrInvalidInput
)

// Network creation
func New(fn Loss) *Network {
	return net.New(fn)
}

func NewSequential(fn Loss, input Dim, padding int) *Sequential {
	return net.NewSequential(fn, input, padding)
}

// Activations
var (
	Identity = activations.NewIdentity()
	Sigmoid  = activations.NewSigmoid()
	ReLU     = activations.NewReLU()
)

func LeakyReLU(slope float32) Activation {
	return activations.NewLeakyReLU(slope)
}

// ParseActivation resolves an activation by name. The slope is only used by
// LeakyReLU.
func ParseActivation(name string, slope float32) (Activation, error) {
	return activations.ParseFunction(name, slope)
}

// Losses
const (
	HalfMeanSquaredError = loss.HalfMeanSquaredError
	BinaryCrossEntropy   = loss.BinaryCrossEntropy
)

// ParseLoss resolves an error function by name.
func ParseLoss(name string) (Loss, error) {
	return loss.ParseFunction(name)
}

// Layers
func Input(padding int, dim Dim) *Convolutional {
	return layer.NewInput(padding, dim)
}

func Conv(padding, stride, kernelSize int, dim Dim, inputDepth int) *Convolutional {
	return layer.NewConvolutional(padding, stride, kernelSize, dim, inputDepth)
}

func MaxPool(padding, stride, kernelSize int, dim Dim) *Pooling {
	return layer.NewPooling(layer.PoolMax, padding, stride, kernelSize, dim)
}

func AvgPool(padding, stride, kernelSize int, dim Dim) *Pooling {
	return layer.NewPooling(layer.PoolAverage, padding, stride, kernelSize, dim)
}

func Dense(inputs, neurons int) *FullyConnected {
	return layer.NewFullyConnected(inputs, neurons)
}

const (
	PoolMax     = layer.PoolMax
	PoolAverage = layer.PoolAverage
)

// ParsePoolKind resolves a pooling reduction by name.
func ParsePoolKind(name string) (PoolKind, error) {
	return layer.ParsePoolKind(name)
}

// Index returns the buffer offset of a volume coordinate.
func Index(x, y, z int, dim Dim) int {
	return geometry.Index(x, y, z, dim)
}

// OutputDim infers the shape of a convolution or pooling output.
func OutputDim(input Dim, padding, numKernels, kernelSize, stride int) (Dim, error) {
	return geometry.InferOutputDim(input, padding, numKernels, kernelSize, stride)
}

// Initialization
const (
	UniformXavier = initializer.UniformXavier
	UniformHe     = initializer.UniformHe
	NormalXavier  = initializer.NormalXavier
	NormalHe      = initializer.NormalHe
)

func NewSource(seed uint64) rand.Source {
	return initializer.NewSource(seed)
}

// Training
func DefaultTrainConfig() TrainConfig {
	return net.DefaultTrainConfig()
}

func NewTrainer(cfg TrainConfig, callbacks ...Callback) *Trainer {
	return net.NewTrainer(cfg, callbacks...)
}

func TrainBatch(n *Network, batch []Sample, hp Hyperparameters) (BatchStats, error) {
	return net.TrainBatch(n, batch, hp)
}

func TrainBatchParallel(n *Network, batch []Sample, workers int, hp Hyperparameters) (BatchStats, error) {
	return net.TrainBatchParallel(n, batch, workers, hp)
}

func Evaluate(n *Network, samples []Sample) (BatchStats, error) {
	return net.Evaluate(n, samples)
}

// Callbacks
func Logger(log *slog.Logger, interval int) *net.Logger {
	return net.NewLogger(log, interval)
}

func CSVLogger(filename string, append bool) *net.CSVLogger {
	return net.NewCSVLogger(filename, append)
}

func ModelCheckpoint(filename string, interval int) *Checkpoint {
	return net.NewModelCheckpoint(filename, interval)
}

func EarlyStopping(patience int, threshold float32) *net.EarlyStopping {
	return net.NewEarlyStopping(patience, threshold)
}

// Data
const (
	LayoutVolume = net.LayoutVolume
	LayoutImage  = net.LayoutImage
)

func LoadCSV(filename string, format CSVFormat) (*Dataset, error) {
	return net.LoadCSV(filename, format)
}

// Model Persistence
func Load(filename string) (*Network, error) {
	return net.Load(filename)
}

// GGUF tensor types
const (
	F32 = net.GGMLTypeF32
	F16 = net.GGMLTypeF16
)
