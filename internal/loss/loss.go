// Package loss provides the error functions evaluated on the output layer.
package loss

import (
	"fmt"
	"math"
	"strings"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
)

// Function identifies an error function.
type Function uint8

const (
	// HalfMeanSquaredError is 0.5 * mean((v - e)^2).
	HalfMeanSquaredError Function = iota
	// BinaryCrossEntropy is -mean(e*ln(v) + (1-e)*ln(1-v)) with clamped v.
	BinaryCrossEntropy
)

// Values are clamped to [bceEpsilon, 1-bceEpsilon] before taking logarithms.
// The bound is evaluated in float64 since 1-1e-12 rounds to 1 in float32.
const bceEpsilon = 1e-12

// String returns the name used in snapshots.
func (f Function) String() string {
	switch f {
	case HalfMeanSquaredError:
		return "HalfMeanSquaredError"
	case BinaryCrossEntropy:
		return "BinaryCrossEntropy"
	default:
		return fmt.Sprintf("Function(%d)", uint8(f))
	}
}

// ParseFunction resolves a Function from its name, ignoring case. The short
// forms "mse" and "bce" are accepted too.
func ParseFunction(name string) (Function, error) {
	switch strings.ToLower(name) {
	case "halfmeansquarederror", "mse":
		return HalfMeanSquaredError, nil
	case "binarycrossentropy", "bce":
		return BinaryCrossEntropy, nil
	}
	return 0, fmt.Errorf("%w: unknown error function %q", errs.ErrInvalidInput, name)
}

func checkLengths(values, expected []float32) error {
	if len(values) != len(expected) {
		return fmt.Errorf("%w: %d values, %d expected", errs.ErrInvalidInput, len(values), len(expected))
	}
	return nil
}

func clamp(v float32) float64 {
	return math.Min(math.Max(float64(v), bceEpsilon), 1-bceEpsilon)
}

// Forward computes the error between values and expected.
func (f Function) Forward(values, expected []float32) (float32, error) {
	if err := checkLengths(values, expected); err != nil {
		return 0, err
	}
	n := float64(len(values))

	var sum float64
	switch f {
	case BinaryCrossEntropy:
		for i := range values {
			v := clamp(values[i])
			e := float64(expected[i])
			sum += e*math.Log(v) + (1-e)*math.Log(1-v)
		}
		return float32(-sum / n), nil
	default:
		for i := range values {
			diff := float64(values[i] - expected[i])
			sum += diff * diff
		}
		return float32(sum / n * 0.5), nil
	}
}

// Derivative computes the partial derivative of the error w.r.t. values[i].
// The caller guarantees equal lengths.
func (f Function) Derivative(i int, values, expected []float32) float32 {
	n := float64(len(values))

	switch f {
	case BinaryCrossEntropy:
		v := clamp(values[i])
		e := float64(expected[i])
		return float32(-(e/v - (1-e)/(1-v)) / n)
	default:
		return float32(float64(values[i]-expected[i]) / n)
	}
}

// BackwardInPlace stores the gradient of the error w.r.t. every value in grad.
func (f Function) BackwardInPlace(values, expected, grad []float32) error {
	if err := checkLengths(values, expected); err != nil {
		return err
	}
	if len(grad) != len(values) {
		return fmt.Errorf("%w: gradient buffer has %d entries, want %d", errs.ErrInvalidInput, len(grad), len(values))
	}

	for i := range values {
		grad[i] = f.Derivative(i, values, expected)
	}
	return nil
}
