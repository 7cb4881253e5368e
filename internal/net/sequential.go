package net

import (
	"fmt"
	"io"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
)

// Sequential builds a Network layer by layer, inferring each output shape
// from the previous layer. The first error stops the chain and is returned
// by Build.
type Sequential struct {
	net *Network

	dim     geometry.Dim // output shape of the last spatial layer
	padding int          // its output padding
	dense   int          // outputs of the last dense layer, 0 while spatial

	err error
}

// NewSequential starts a network whose input layer holds a volume of shape
// dim, seen by the first convolution with the given zero padding.
func NewSequential(fn loss.Function, dim geometry.Dim, padding int) *Sequential {
	s := &Sequential{net: New(fn), dim: dim, padding: padding}
	if dim.Size() <= 0 || padding < 0 {
		s.err = fmt.Errorf("%w: input %s, padding %d", errs.ErrImpossibleOutputDimension, dim, padding)
		return s
	}
	s.net.Register(activations.NewIdentity(), layer.NewInput(padding, dim))
	return s
}

func (s *Sequential) spatial(op string) bool {
	if s.err != nil {
		return false
	}
	if s.dense > 0 {
		s.err = fmt.Errorf("%w: %s after a dense layer", errs.ErrIncompatibleLayers, op)
		return false
	}
	return true
}

// Conv appends a convolution with numKernels kernels. padding is the zero
// border the next convolution sees around this layer's output.
func (s *Sequential) Conv(act activations.Function, numKernels, kernelSize, stride, padding int) *Sequential {
	if !s.spatial("convolution") {
		return s
	}

	dim, err := geometry.InferOutputDim(s.dim, s.padding, numKernels, kernelSize, stride)
	if err != nil {
		s.err = fmt.Errorf("layer %d: %w", s.net.Len(), err)
		return s
	}

	s.net.Register(act, layer.NewConvolutional(padding, stride, kernelSize, dim, s.dim.Depth))
	s.dim, s.padding = dim, padding
	return s
}

// Pool appends a pooling layer. Pooling ignores the padding of its input.
func (s *Sequential) Pool(kind layer.PoolKind, kernelSize, stride, padding int) *Sequential {
	if !s.spatial("pooling") {
		return s
	}

	dim, err := geometry.InferOutputDim(s.dim, 0, s.dim.Depth, kernelSize, stride)
	if err != nil {
		s.err = fmt.Errorf("layer %d: %w", s.net.Len(), err)
		return s
	}

	s.net.Register(activations.NewIdentity(), layer.NewPooling(kind, padding, stride, kernelSize, dim))
	s.dim, s.padding = dim, padding
	return s
}

// Dense appends a fully connected layer fed by the flattened previous output.
func (s *Sequential) Dense(act activations.Function, neurons int) *Sequential {
	if s.err != nil {
		return s
	}
	if neurons <= 0 {
		s.err = fmt.Errorf("%w: dense layer with %d neurons", errs.ErrInvalidInput, neurons)
		return s
	}

	inputs := s.dense
	if inputs == 0 {
		inputs = s.dim.Size()
	}

	s.net.Register(act, layer.NewFullyConnected(inputs, neurons))
	s.dense = neurons
	return s
}

// Build returns the network, or the first error met while adding layers.
func (s *Sequential) Build() (*Network, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.dense == 0 {
		return nil, fmt.Errorf("%w: last layer must be dense", errs.ErrIncompatibleLayers)
	}
	return s.net, nil
}

// Summary prints a summary of the network architecture.
func (n *Network) Summary(w io.Writer) {
	fmt.Fprintln(w, "_________________________________________________________________")
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, "=================================================================")

	totalParams := 0
	for i, l := range n.layers {
		var shape string
		switch l := l.(type) {
		case *layer.Convolutional:
			shape = l.Dim().String()
		case *layer.Pooling:
			shape = l.Dim().String()
		default:
			shape = fmt.Sprintf("(%d)", l.OutputSize())
		}

		params := 0
		for _, g := range l.Gradients() {
			params += len(g)
		}
		totalParams += params

		name := fmt.Sprintf("%s_%d (%s)", l.Kind(), i, n.activations[i])
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", name, shape, params)
	}
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total params: %d\n", totalParams)
	fmt.Fprintln(w, "_________________________________________________________________")
}
