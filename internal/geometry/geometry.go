// Package geometry provides the index arithmetic shared by the spatial layers.
//
// Volumes are flat slices in row-major order with depth as the fastest
// varying index: offset = z + depth*(y + height*x).
package geometry

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
)

// Dim is the (width, height, depth) shape of a volume.
type Dim struct {
	Width  int
	Height int
	Depth  int
}

// Size returns the number of elements in a volume of this shape.
func (d Dim) Size() int {
	return d.Width * d.Height * d.Depth
}

// String formats the shape as WxHxD.
func (d Dim) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Depth)
}

// Index converts a volume coordinate to its buffer offset.
func Index(x, y, z int, dim Dim) int {
	return z + dim.Depth*(y+dim.Height*x)
}

// Unindex converts a buffer offset back to its volume coordinate.
func Unindex(offset int, dim Dim) (x, y, z int) {
	z = offset % dim.Depth
	rest := offset / dim.Depth
	y = rest % dim.Height
	x = rest / dim.Height
	return x, y, z
}

// KernelIndex returns the offset of weight (kx, ky) connecting input channel
// ic to output channel oc.
func KernelIndex(kx, ky, ic, oc, kernelSize, inputDepth int) int {
	return oc*(kernelSize*kernelSize*inputDepth) +
		ic*(kernelSize*kernelSize) +
		ky*kernelSize +
		kx
}

// PaddedLookup maps a coordinate in padded space to an offset into the
// unpadded buffer. It reports false when the coordinate falls in the zero
// border, which is never materialized.
//
// The window is anchored at the pad offset and clipped to the unpadded
// extent, so with padding p the readable coordinates are p <= x < Width and
// p <= y < Height.
func PaddedLookup(x, y, z int, dim Dim, padding int) (int, bool) {
	if x < padding || x >= dim.Width || y < padding || y >= dim.Height {
		return 0, false
	}
	return Index(x-padding, y-padding, z, dim), true
}

// InferOutputDim returns the shape produced by sliding a kernel of the given
// size and stride over dim surrounded by padding zeros.
func InferOutputDim(dim Dim, padding, numKernels, kernelSize, stride int) (Dim, error) {
	if numKernels <= 0 || kernelSize <= 0 || stride <= 0 ||
		dim.Width <= 0 || dim.Height <= 0 || dim.Depth <= 0 || padding < 0 {
		return Dim{}, errs.ErrImpossibleOutputDimension
	}

	paddedX := dim.Width + 2*padding
	paddedY := dim.Height + 2*padding
	if kernelSize-1 >= paddedX || kernelSize-1 >= paddedY {
		return Dim{}, errs.ErrImpossibleOutputDimension
	}

	lengthX := paddedX - kernelSize + 1
	lengthY := paddedY - kernelSize + 1
	out := Dim{
		Width:  (lengthX + stride - 1) / stride,
		Height: (lengthY + stride - 1) / stride,
		Depth:  numKernels,
	}
	if out.Width == 0 || out.Height == 0 {
		return Dim{}, errs.ErrImpossibleOutputDimension
	}

	return out, nil
}

// CheckOutputDim verifies that the inferred output of a kernel pass over dim
// equals expected.
func CheckOutputDim(dim, expected Dim, padding, numKernels, kernelSize, stride int) error {
	out, err := InferOutputDim(dim, padding, numKernels, kernelSize, stride)
	if err != nil {
		return err
	}
	if out != expected {
		return fmt.Errorf("%w: inferred %s, declared %s", errs.ErrDimensionMismatch, out, expected)
	}
	return nil
}
