// Package activations provides the scalar activation functions and their derivatives.
package activations

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
)

// Kind identifies an activation function.
type Kind uint8

const (
	// Identity passes values through unchanged.
	Identity Kind = iota
	Sigmoid
	ReLU
	LeakyReLU
)

// String returns the name used in snapshots.
func (k Kind) String() string {
	switch k {
	case Identity:
		return "Identity"
	case Sigmoid:
		return "Sigmoid"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Function is an activation function with derivative.
// Slope is only meaningful for LeakyReLU.
type Function struct {
	Kind  Kind
	Slope float32
}

// NewSigmoid returns the logistic activation.
func NewSigmoid() Function { return Function{Kind: Sigmoid} }

// NewReLU returns the rectified linear activation.
func NewReLU() Function { return Function{Kind: ReLU} }

// NewLeakyReLU returns a leaky ReLU with the given negative slope.
func NewLeakyReLU(slope float32) Function { return Function{Kind: LeakyReLU, Slope: slope} }

// NewIdentity returns the passthrough activation.
func NewIdentity() Function { return Function{Kind: Identity} }

// ParseFunction resolves a Function from its kind name, ignoring case.
// The slope is only used for LeakyReLU.
func ParseFunction(name string, slope float32) (Function, error) {
	switch strings.ToLower(name) {
	case "identity":
		return NewIdentity(), nil
	case "sigmoid":
		return NewSigmoid(), nil
	case "relu":
		return NewReLU(), nil
	case "leakyrelu":
		return NewLeakyReLU(slope), nil
	}
	return Function{}, fmt.Errorf("%w: unknown activation function %q", errs.ErrInvalidInput, name)
}

// String returns a readable description of the function.
func (f Function) String() string {
	if f.Kind == LeakyReLU {
		return fmt.Sprintf("LeakyReLU(%g)", f.Slope)
	}
	return f.Kind.String()
}

// sigmoid computes 1 / (1 + e^-x)
func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Activate computes f(x)
func (f Function) Activate(x float32) float32 {
	switch f.Kind {
	case Sigmoid:
		return sigmoid(x)
	case ReLU:
		return math32.Max(x, 0)
	case LeakyReLU:
		return math32.Max(x, x*f.Slope)
	default:
		return x
	}
}

// Derivative computes f'(x).
// ReLU uses 0 at x == 0, LeakyReLU uses 1.
func (f Function) Derivative(x float32) float32 {
	switch f.Kind {
	case Sigmoid:
		s := sigmoid(x)
		return s * (1 - s)
	case ReLU:
		if x > 0 {
			return 1
		}
		return 0
	case LeakyReLU:
		if x < 0 {
			return f.Slope
		}
		return 1
	default:
		return 1
	}
}
