package loss

import (
	"errors"
	"math"
	"testing"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
)

func isFinite(x float32) bool {
	return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
}

// TestHalfMeanSquaredError tests the loss value and derivative.
func TestHalfMeanSquaredError(t *testing.T) {
	values := []float32{1, 2, 3, 4}
	expected := []float32{1, 1, 1, 1}

	// (0 + 1 + 4 + 9) / 4 * 0.5 = 1.75
	got, err := HalfMeanSquaredError.Forward(values, expected)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.Abs(float64(got-1.75)) > 1e-6 {
		t.Errorf("Forward = %v, want 1.75", got)
	}

	grad := make([]float32, 4)
	if err := HalfMeanSquaredError.BackwardInPlace(values, expected, grad); err != nil {
		t.Fatalf("BackwardInPlace: %v", err)
	}
	want := []float32{0, 0.25, 0.5, 0.75}
	for i := range want {
		if math.Abs(float64(grad[i]-want[i])) > 1e-6 {
			t.Errorf("grad[%d] = %v, want %v", i, grad[i], want[i])
		}
	}
}

// TestBinaryCrossEntropy tests BCE against hand-computed values.
func TestBinaryCrossEntropy(t *testing.T) {
	values := []float32{0.8, 0.3}
	expected := []float32{1, 0}

	want := -(math.Log(0.8) + math.Log(0.7)) / 2
	got, err := BinaryCrossEntropy.Forward(values, expected)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.Abs(float64(got)-want) > 1e-5 {
		t.Errorf("Forward = %v, want %v", got, want)
	}

	// d/dv = -(e/v - (1-e)/(1-v)) / n
	d0 := BinaryCrossEntropy.Derivative(0, values, expected)
	if math.Abs(float64(d0)-(-1/0.8/2)) > 1e-5 {
		t.Errorf("Derivative(0) = %v, want %v", d0, -1/0.8/2)
	}
	d1 := BinaryCrossEntropy.Derivative(1, values, expected)
	if math.Abs(float64(d1)-(1/0.7/2)) > 1e-5 {
		t.Errorf("Derivative(1) = %v, want %v", d1, 1/0.7/2)
	}
}

// TestBinaryCrossEntropyClamping verifies finite results at and beyond [0, 1].
func TestBinaryCrossEntropyClamping(t *testing.T) {
	edges := []float32{-5, -1e-30, 0, 1e-30, 1, 1 + 1e-7, 5}
	targets := []float32{0, 1, 0.5}

	for _, v := range edges {
		for _, e := range targets {
			values := []float32{v}
			expected := []float32{e}

			l, err := BinaryCrossEntropy.Forward(values, expected)
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if !isFinite(l) {
				t.Errorf("Forward(%v, %v) = %v, want finite", v, e, l)
			}
			if d := BinaryCrossEntropy.Derivative(0, values, expected); !isFinite(d) {
				t.Errorf("Derivative(%v, %v) = %v, want finite", v, e, d)
			}
		}
	}
}

func TestLengthMismatch(t *testing.T) {
	for _, f := range []Function{HalfMeanSquaredError, BinaryCrossEntropy} {
		if _, err := f.Forward([]float32{1, 2}, []float32{1}); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("%s.Forward: expected ErrInvalidInput, got %v", f, err)
		}
		grad := make([]float32, 2)
		if err := f.BackwardInPlace([]float32{1, 2}, []float32{1}, grad); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("%s.BackwardInPlace: expected ErrInvalidInput, got %v", f, err)
		}
	}
}

func TestParseFunction(t *testing.T) {
	for _, f := range []Function{HalfMeanSquaredError, BinaryCrossEntropy} {
		parsed, err := ParseFunction(f.String())
		if err != nil || parsed != f {
			t.Errorf("ParseFunction(%s) = %v, %v", f, parsed, err)
		}
	}

	for name, want := range map[string]Function{"mse": HalfMeanSquaredError, "BCE": BinaryCrossEntropy} {
		if parsed, err := ParseFunction(name); err != nil || parsed != want {
			t.Errorf("ParseFunction(%s) = %v, %v", name, parsed, err)
		}
	}
	if _, err := ParseFunction("hinge"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("ParseFunction(hinge) error = %v, want ErrInvalidInput", err)
	}
}
