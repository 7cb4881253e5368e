// Package net provides the network orchestrator and its training loops.
package net

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
)

// Network is an ordered sequence of layers, each paired with the activation
// applied to its output, and the error function evaluated on the last layer.
//
// The first layer receives the input and must be a *layer.Convolutional. The
// last layer must be a *layer.FullyConnected. Shapes between neighbours are
// validated on the first pass that connects them.
type Network struct {
	layers      []layer.Layer
	activations []activations.Function
	loss        loss.Function
}

// New creates an empty network evaluated with the given error function.
func New(fn loss.Function) *Network {
	return &Network{loss: fn}
}

// Register appends a layer and the activation applied to its output.
func (n *Network) Register(act activations.Function, l layer.Layer) {
	n.layers = append(n.layers, l)
	n.activations = append(n.activations, act)
}

// Len returns the number of layers.
func (n *Network) Len() int { return len(n.layers) }

// Layer returns the layer at index i, or nil when i is out of range.
func (n *Network) Layer(i int) layer.Layer {
	if i < 0 || i >= len(n.layers) {
		return nil
	}
	return n.layers[i]
}

// Activation returns the activation paired with layer i.
func (n *Network) Activation(i int) activations.Function {
	return n.activations[i]
}

// LossFunction returns the error function of the network.
func (n *Network) LossFunction() loss.Function { return n.loss }

// Initialize fills the parameters of layer i according to scheme.
func (n *Network) Initialize(i int, scheme initializer.Scheme, src rand.Source) error {
	if i < 0 || i >= len(n.layers) {
		return fmt.Errorf("%w: layer %d of %d", errs.ErrInvalidInput, i, len(n.layers))
	}
	n.layers[i].Initialize(scheme, src)
	return nil
}

// InitializeAll fills the parameters of every layer from the same source,
// in layer order.
func (n *Network) InitializeAll(scheme initializer.Scheme, src rand.Source) {
	for _, l := range n.layers {
		l.Initialize(scheme, src)
	}
}

// input returns the first layer when it can receive the network input.
func (n *Network) input() (*layer.Convolutional, error) {
	if len(n.layers) == 0 {
		return nil, fmt.Errorf("%w: network has no layers", errs.ErrIncompatibleLayers)
	}
	in, ok := n.layers[0].(*layer.Convolutional)
	if !ok {
		return nil, fmt.Errorf("%w: first layer is %s, want Convolutional", errs.ErrIncompatibleLayers, n.layers[0].Kind())
	}
	return in, nil
}

// output returns the last layer when it is a dense layer.
func (n *Network) output() (*layer.FullyConnected, bool) {
	if len(n.layers) == 0 {
		return nil, false
	}
	out, ok := n.layers[len(n.layers)-1].(*layer.FullyConnected)
	return out, ok
}

// InputDim returns the shape of the volume the network reads.
func (n *Network) InputDim() (geometry.Dim, error) {
	in, err := n.input()
	if err != nil {
		return geometry.Dim{}, err
	}
	return in.Dim(), nil
}

// NumOutputs returns the number of values the last layer produces.
func (n *Network) NumOutputs() (int, error) {
	out, ok := n.output()
	if !ok {
		return 0, fmt.Errorf("%w: last layer is not FullyConnected", errs.ErrIncompatibleLayers)
	}
	return out.NumNeurons(), nil
}

// SetInput writes a flat volume into the input layer.
func (n *Network) SetInput(values []float32) error {
	in, err := n.input()
	if err != nil {
		return err
	}
	if len(values) != in.OutputSize() {
		return fmt.Errorf("%w: input has %d values, input layer %s holds %d",
			errs.ErrIncompatibleLayers, len(values), in.Dim(), in.OutputSize())
	}
	return in.SetVolume(values)
}

func (n *Network) checkLength() error {
	if len(n.layers) < 2 {
		return fmt.Errorf("%w: network needs at least 2 layers, has %d", errs.ErrIncompatibleLayers, len(n.layers))
	}
	return nil
}

// ForwardPropagate runs the forward sweep from the input layer to the output.
func (n *Network) ForwardPropagate() error {
	if err := n.checkLength(); err != nil {
		return err
	}

	for i := 0; i < len(n.layers)-1; i++ {
		if err := n.layers[i].ForwardPropagate(n.layers[i+1]); err != nil {
			return fmt.Errorf("layer %d -> %d: %w", i, i+1, err)
		}
		n.layers[i+1].Activate(n.activations[i+1])
	}
	return nil
}

// Output returns a copy of the activated outputs of the last layer.
func (n *Network) Output() ([]float32, error) {
	out, ok := n.output()
	if !ok {
		return nil, fmt.Errorf("%w: last layer is not FullyConnected", errs.ErrInvalidInput)
	}
	return out.Outputs(), nil
}

// Error returns the error of the current outputs against expected.
func (n *Network) Error(expected []float32) (float32, error) {
	out, ok := n.output()
	if !ok {
		return 0, fmt.Errorf("%w: last layer is not FullyConnected", errs.ErrInvalidInput)
	}
	return out.Error(n.loss, expected)
}

// BackPropagate runs the backward sweep for the current sample. Parameter
// gradients accumulate until the next StartBatch.
func (n *Network) BackPropagate(expected []float32) error {
	if err := n.checkLength(); err != nil {
		return err
	}
	out, ok := n.output()
	if !ok {
		return fmt.Errorf("%w: last layer is not FullyConnected", errs.ErrIncompatibleLayers)
	}
	if err := out.CalculateOutputGradients(n.loss, expected); err != nil {
		return err
	}

	for i := len(n.layers) - 1; i > 0; i-- {
		n.layers[i].BackActivate(n.activations[i])
		if err := n.layers[i].BackPropagate(n.layers[i-1]); err != nil {
			return fmt.Errorf("layer %d -> %d: %w", i, i-1, err)
		}
	}
	return nil
}

// StartBatch zeroes the accumulated gradients of every layer.
func (n *Network) StartBatch() {
	for _, l := range n.layers {
		l.ResetGradients()
	}
}

// EndBatch applies the gradients accumulated over sampleCount samples with a
// learning rate of lr/sampleCount. The input layer is left untouched.
func (n *Network) EndBatch(sampleCount int, lr, momentum, weightDecay float32) error {
	if sampleCount <= 0 {
		return fmt.Errorf("%w: sample count %d", errs.ErrInvalidInput, sampleCount)
	}

	scaled := lr / float32(sampleCount)
	for i := 1; i < len(n.layers); i++ {
		n.layers[i].ApplyGradients(scaled, momentum, weightDecay)
	}
	return nil
}

// GradientBuffers returns the live gradient buffers of every trainable layer:
// kernel then bias for convolutions, weights then biases for dense layers,
// in layer order. Writing into them changes the gradients that EndBatch
// applies.
func (n *Network) GradientBuffers() [][]float32 {
	var buffers [][]float32
	for _, l := range n.layers {
		buffers = append(buffers, l.Gradients()...)
	}
	return buffers
}

// NumGradients returns the length of the flat gradient vector.
func (n *Network) NumGradients() int {
	total := 0
	for _, buf := range n.GradientBuffers() {
		total += len(buf)
	}
	return total
}

// CollectGradients returns a flat copy of all gradients in GradientBuffers order.
func (n *Network) CollectGradients() []float32 {
	buffers := n.GradientBuffers()

	flat := make([]float32, 0, n.NumGradients())
	for _, buf := range buffers {
		flat = append(flat, buf...)
	}
	return flat
}

// SetGradients overwrites all gradients from a flat vector laid out as
// CollectGradients returns it.
func (n *Network) SetGradients(flat []float32) error {
	if want := n.NumGradients(); len(flat) != want {
		return fmt.Errorf("%w: got %d gradients, network has %d", errs.ErrInvalidInput, len(flat), want)
	}

	offset := 0
	for _, buf := range n.GradientBuffers() {
		offset += copy(buf, flat[offset:])
	}
	return nil
}

// Clone returns a deep copy of the network. The copy shares no buffers with
// the original.
func (n *Network) Clone() *Network {
	clone := &Network{
		layers:      make([]layer.Layer, len(n.layers)),
		activations: make([]activations.Function, len(n.activations)),
		loss:        n.loss,
	}
	for i, l := range n.layers {
		clone.layers[i] = l.Clone()
	}
	copy(clone.activations, n.activations)
	return clone
}

// Predict runs one forward pass on input and returns the outputs.
func (n *Network) Predict(input []float32) ([]float32, error) {
	if err := n.SetInput(input); err != nil {
		return nil, err
	}
	if err := n.ForwardPropagate(); err != nil {
		return nil, err
	}
	return n.Output()
}
