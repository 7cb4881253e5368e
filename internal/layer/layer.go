// Package layer provides the convolutional, pooling and fully connected layers
// of the network and the dispatch between neighbouring layers.
package layer

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
)

// Kind identifies one of the three layer variants.
type Kind uint8

const (
	KindConvolutional Kind = iota
	KindPooling
	KindFullyConnected
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindConvolutional:
		return "Convolutional"
	case KindPooling:
		return "Pooling"
	case KindFullyConnected:
		return "FullyConnected"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Layer is a neural network layer. The set of implementations is closed:
// *Convolutional, *Pooling and *FullyConnected.
//
// Operations that make no sense for a variant (initializing a pooling layer,
// for example) are silent no-ops. Only cross-layer shape or kind mismatches
// are reported as errors, and they are detected before any buffer is written.
type Layer interface {
	Kind() Kind

	// ForwardPropagate computes next's raw output from this layer's output.
	ForwardPropagate(next Layer) error

	// BackPropagate accumulates this layer's parameter gradients and writes
	// the gradient w.r.t. prev's output into prev.
	BackPropagate(prev Layer) error

	Activate(fn activations.Function)
	BackActivate(fn activations.Function)

	Initialize(scheme initializer.Scheme, src rand.Source)
	ResetGradients()
	ApplyGradients(learningRate, momentum, weightDecay float32)

	// Gradients returns the live gradient buffers, parameters first then biases.
	Gradients() [][]float32

	// OutputSize returns the number of values this layer produces.
	OutputSize() int

	// Clone returns a deep copy sharing no buffers with the receiver.
	Clone() Layer

	sealed()
}

// spatial returns the view a convolution or pooling pass has of an upstream
// layer: its shape, activated volume, gradient buffer and output padding.
func spatial(l Layer) (dim geometry.Dim, volume, gradients []float32, padding int, ok bool) {
	switch l := l.(type) {
	case *Convolutional:
		return l.dim, l.volume, l.volumeGradients, l.padding, true
	case *Pooling:
		return l.dim, l.volume, l.volumeGradients, l.padding, true
	}
	return geometry.Dim{}, nil, nil, 0, false
}

// propagateSpatial feeds a spatial output volume into next. It is shared by
// the convolutional and pooling variants, which differ only in how they
// produce their own volume.
func propagateSpatial(dim geometry.Dim, volume []float32, padding int, next Layer) error {
	switch next := next.(type) {
	case *Convolutional:
		if err := next.checkInput(dim, padding); err != nil {
			return err
		}
		next.convolve(dim, volume, padding)

	case *Pooling:
		if err := next.checkInput(dim); err != nil {
			return err
		}
		next.pool(dim, volume)

	case *FullyConnected:
		if dim.Size() != next.numInputs {
			return fmt.Errorf("%w: volume %s has %d values, dense layer takes %d",
				errs.ErrDimensionMismatch, dim, dim.Size(), next.numInputs)
		}
		next.feedForward(volume)

	default:
		return fmt.Errorf("%w: cannot feed %T", errs.ErrIncompatibleLayers, next)
	}

	return nil
}
