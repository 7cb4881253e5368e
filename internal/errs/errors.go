// Package errs defines the error taxonomy shared by every layer of the engine.
//
// All failures are reported through one of these sentinels, possibly wrapped
// with additional context. Callers should match them with errors.Is.
package errs

import "errors"

var (
	// ErrDimensionMismatch reports a declared shape that disagrees with the
	// inferred or expected shape.
	ErrDimensionMismatch = errors.New("layer dimensions do not match")

	// ErrIncompatibleLayers reports an operation invoked on a layer kind or
	// position that cannot support it.
	ErrIncompatibleLayers = errors.New("layers are incompatible or don't exist")

	// ErrImpossibleOutputDimension reports a stride/kernel/padding combination
	// that yields an undefined output size.
	ErrImpossibleOutputDimension = errors.New("output dimension is impossible")

	// ErrInvalidInput reports a length mismatch or an out of range index.
	ErrInvalidInput = errors.New("input arguments are invalid")
)
