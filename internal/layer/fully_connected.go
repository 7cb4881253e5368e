package layer

import (
	"fmt"
	"slices"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
	"github.com/FlavioCFOliveira/GoConvNet/internal/opt"
)

// FullyConnected is a dense layer: z = W*x + b.
type FullyConnected struct {
	numInputs  int
	numNeurons int

	// Weights: [numNeurons][numInputs], row-major
	weights []float32
	biases  []float32

	rawValues      []float32 // z
	values         []float32 // activation(z)
	valueGradients []float32 // dL/d(values)
	backActivated  []float32 // dL/dz

	weightGradients []float32
	biasGradients   []float32
	weightVelocity  []float32
	biasVelocity    []float32
}

// NewFullyConnected creates a dense layer with numInputs inputs and
// numNeurons outputs.
func NewFullyConnected(numInputs, numNeurons int) *FullyConnected {
	return &FullyConnected{
		numInputs:  numInputs,
		numNeurons: numNeurons,

		weights: make([]float32, numInputs*numNeurons),
		biases:  make([]float32, numNeurons),

		rawValues:      make([]float32, numNeurons),
		values:         make([]float32, numNeurons),
		valueGradients: make([]float32, numNeurons),
		backActivated:  make([]float32, numNeurons),

		weightGradients: make([]float32, numInputs*numNeurons),
		biasGradients:   make([]float32, numNeurons),
		weightVelocity:  make([]float32, numInputs*numNeurons),
		biasVelocity:    make([]float32, numNeurons),
	}
}

func (f *FullyConnected) Kind() Kind { return KindFullyConnected }
func (f *FullyConnected) sealed()    {}

// NumInputs returns the input width.
func (f *FullyConnected) NumInputs() int { return f.numInputs }

// NumNeurons returns the output width.
func (f *FullyConnected) NumNeurons() int { return f.numNeurons }

// OutputSize returns the number of neurons.
func (f *FullyConnected) OutputSize() int { return f.numNeurons }

// Outputs returns a copy of the activated outputs.
func (f *FullyConnected) Outputs() []float32 { return slices.Clone(f.values) }

// Values returns the activated outputs slice directly.
func (f *FullyConnected) Values() []float32 { return f.values }

// ValueGradients returns the gradient w.r.t. the activated outputs.
func (f *FullyConnected) ValueGradients() []float32 { return f.valueGradients }

// Weights returns the weights slice directly.
func (f *FullyConnected) Weights() []float32 { return f.weights }

// Biases returns the biases slice directly.
func (f *FullyConnected) Biases() []float32 { return f.biases }

// WeightGradients returns the accumulated weight gradients.
func (f *FullyConnected) WeightGradients() []float32 { return f.weightGradients }

// BiasGradients returns the accumulated bias gradients.
func (f *FullyConnected) BiasGradients() []float32 { return f.biasGradients }

// SetWeights overwrites the weights.
func (f *FullyConnected) SetWeights(weights []float32) error {
	if len(weights) != len(f.weights) {
		return fmt.Errorf("%w: layer has %d weights, got %d", errs.ErrInvalidInput, len(f.weights), len(weights))
	}
	copy(f.weights, weights)
	return nil
}

// SetBiases overwrites the biases.
func (f *FullyConnected) SetBiases(biases []float32) error {
	if len(biases) != len(f.biases) {
		return fmt.Errorf("%w: layer has %d biases, got %d", errs.ErrInvalidInput, len(f.biases), len(biases))
	}
	copy(f.biases, biases)
	return nil
}

func (f *FullyConnected) matrix(data []float32) blas32.General {
	return blas32.General{Rows: f.numNeurons, Cols: f.numInputs, Stride: f.numInputs, Data: data}
}

func vector(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

func (f *FullyConnected) empty() bool {
	return f.numInputs == 0 || f.numNeurons == 0
}

func (f *FullyConnected) feedForward(input []float32) {
	copy(f.values, f.biases)
	if !f.empty() {
		// values = W*x + b
		blas32.Gemv(blas.NoTrans, 1, f.matrix(f.weights), vector(input), 1, vector(f.values))
	}
	copy(f.rawValues, f.values)
}

// feedBack accumulates dW += d*x^T and db += d, and writes W^T*d into
// inputGradients.
func (f *FullyConnected) feedBack(input, inputGradients []float32) {
	clear(inputGradients)
	if f.empty() {
		return
	}

	d := vector(f.backActivated)
	blas32.Axpy(1, d, vector(f.biasGradients))
	blas32.Ger(1, d, vector(input), f.matrix(f.weightGradients))
	blas32.Gemv(blas.Trans, 1, f.matrix(f.weights), d, 1, vector(inputGradients))
}

// ForwardPropagate feeds the activated outputs into the next dense layer.
func (f *FullyConnected) ForwardPropagate(next Layer) error {
	n, ok := next.(*FullyConnected)
	if !ok {
		return fmt.Errorf("%w: dense layer cannot feed %T", errs.ErrIncompatibleLayers, next)
	}
	if n.numInputs != f.numNeurons {
		return fmt.Errorf("%w: %d outputs into %d inputs", errs.ErrDimensionMismatch, f.numNeurons, n.numInputs)
	}

	n.feedForward(f.values)
	return nil
}

// BackPropagate accumulates parameter gradients and writes the input
// gradient into prev, which may be dense or spatial.
func (f *FullyConnected) BackPropagate(prev Layer) error {
	if p, ok := prev.(*FullyConnected); ok {
		if p.numNeurons != f.numInputs {
			return fmt.Errorf("%w: %d outputs into %d inputs", errs.ErrDimensionMismatch, p.numNeurons, f.numInputs)
		}
		f.feedBack(p.values, p.valueGradients)
		return nil
	}

	dim, volume, gradients, _, ok := spatial(prev)
	if !ok {
		return fmt.Errorf("%w: dense layer cannot follow %T", errs.ErrIncompatibleLayers, prev)
	}
	if dim.Size() != f.numInputs {
		return fmt.Errorf("%w: volume %s has %d values, dense layer takes %d",
			errs.ErrDimensionMismatch, dim, dim.Size(), f.numInputs)
	}

	f.feedBack(volume, gradients)
	return nil
}

// CalculateOutputGradients sets the output gradients from the loss
// derivative against expected. Used on the last layer only.
func (f *FullyConnected) CalculateOutputGradients(fn loss.Function, expected []float32) error {
	return fn.BackwardInPlace(f.values, expected, f.valueGradients)
}

// Error returns the loss of the current outputs against expected.
func (f *FullyConnected) Error(fn loss.Function, expected []float32) (float32, error) {
	return fn.Forward(f.values, expected)
}

func (f *FullyConnected) Activate(fn activations.Function) {
	for i, z := range f.rawValues {
		f.values[i] = fn.Activate(z)
	}
}

func (f *FullyConnected) BackActivate(fn activations.Function) {
	for i, z := range f.rawValues {
		f.backActivated[i] = fn.Derivative(z) * f.valueGradients[i]
	}
}

// Initialize fills the weights and biases.
func (f *FullyConnected) Initialize(scheme initializer.Scheme, src rand.Source) {
	initializer.Fill(scheme, f.numInputs, f.numNeurons, f.weights, src)
	initializer.Fill(scheme, f.numInputs, f.numNeurons, f.biases, src)
}

func (f *FullyConnected) ResetGradients() {
	clear(f.weightGradients)
	clear(f.biasGradients)
}

// ApplyGradients performs one momentum step. Biases are not decayed.
func (f *FullyConnected) ApplyGradients(learningRate, momentum, weightDecay float32) {
	sgd := opt.SGD{LearningRate: learningRate, Momentum: momentum, WeightDecay: weightDecay}
	sgd.Update(f.biases, f.biasGradients, f.biasVelocity, false)
	sgd.Update(f.weights, f.weightGradients, f.weightVelocity, true)
}

// Gradients returns the weight and bias gradient buffers.
func (f *FullyConnected) Gradients() [][]float32 {
	return [][]float32{f.weightGradients, f.biasGradients}
}

// Clone creates a deep copy of the dense layer.
func (f *FullyConnected) Clone() Layer {
	clone := *f

	clone.weights = slices.Clone(f.weights)
	clone.biases = slices.Clone(f.biases)

	clone.rawValues = slices.Clone(f.rawValues)
	clone.values = slices.Clone(f.values)
	clone.valueGradients = slices.Clone(f.valueGradients)
	clone.backActivated = slices.Clone(f.backActivated)

	clone.weightGradients = slices.Clone(f.weightGradients)
	clone.biasGradients = slices.Clone(f.biasGradients)
	clone.weightVelocity = slices.Clone(f.weightVelocity)
	clone.biasVelocity = slices.Clone(f.biasVelocity)

	return &clone
}
