package layer

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
)

// PoolKind selects the window reduction of a pooling layer.
type PoolKind uint8

const (
	PoolMax PoolKind = iota
	PoolAverage
)

// String returns the reduction name.
func (k PoolKind) String() string {
	switch k {
	case PoolMax:
		return "max"
	case PoolAverage:
		return "average"
	default:
		return fmt.Sprintf("PoolKind(%d)", uint8(k))
	}
}

// ParsePoolKind resolves a pooling kind from its name, ignoring case.
func ParsePoolKind(name string) (PoolKind, error) {
	switch strings.ToLower(name) {
	case "max":
		return PoolMax, nil
	case "average", "avg":
		return PoolAverage, nil
	}
	return 0, fmt.Errorf("%w: unknown pooling %q", errs.ErrInvalidInput, name)
}

// Pooling reduces each kernelSize x kernelSize window of every channel to a
// single value. It has no parameters and never pads its own input.
type Pooling struct {
	kind       PoolKind
	stride     int
	kernelSize int

	// Zero border the downstream convolution sees around this layer's output
	padding int

	dim geometry.Dim

	volume          []float32
	volumeGradients []float32
}

// NewPooling creates a pooling layer producing a volume of shape dim.
func NewPooling(kind PoolKind, padding, stride, kernelSize int, dim geometry.Dim) *Pooling {
	return &Pooling{
		kind:            kind,
		stride:          stride,
		kernelSize:      kernelSize,
		padding:         padding,
		dim:             dim,
		volume:          make([]float32, dim.Size()),
		volumeGradients: make([]float32, dim.Size()),
	}
}

func (p *Pooling) Kind() Kind { return KindPooling }
func (p *Pooling) sealed()    {}

// PoolKind returns the window reduction.
func (p *Pooling) PoolKind() PoolKind { return p.kind }

// Dim returns the output shape.
func (p *Pooling) Dim() geometry.Dim { return p.dim }

// Padding returns the zero border applied around the output when it feeds a
// convolution.
func (p *Pooling) Padding() int { return p.padding }

// Stride returns the window stride.
func (p *Pooling) Stride() int { return p.stride }

// KernelSize returns the window width and height.
func (p *Pooling) KernelSize() int { return p.kernelSize }

// OutputSize returns the number of values in the output volume.
func (p *Pooling) OutputSize() int { return p.dim.Size() }

// Volume returns the pooled output volume.
func (p *Pooling) Volume() []float32 { return p.volume }

// VolumeGradients returns the gradient w.r.t. the pooled output.
func (p *Pooling) VolumeGradients() []float32 { return p.volumeGradients }

func (p *Pooling) checkInput(dim geometry.Dim) error {
	if err := geometry.CheckOutputDim(dim, p.dim, 0, p.dim.Depth, p.kernelSize, p.stride); err != nil {
		return err
	}
	if dim.Depth != p.dim.Depth {
		return fmt.Errorf("%w: pooling keeps depth %d, input has %d",
			errs.ErrDimensionMismatch, p.dim.Depth, dim.Depth)
	}
	return nil
}

// argmax returns the offset of the largest value in the window at (x, y, z).
// Ties keep the first value in scan order.
func (p *Pooling) argmax(inDim geometry.Dim, input []float32, x, y, z int) int {
	best := geometry.Index(x, y, z, inDim)
	for ky := 0; ky < p.kernelSize; ky++ {
		for kx := 0; kx < p.kernelSize; kx++ {
			idx := geometry.Index(x+kx, y+ky, z, inDim)
			if input[idx] > input[best] {
				best = idx
			}
		}
	}
	return best
}

func (p *Pooling) pool(inDim geometry.Dim, input []float32) {
	k := p.kernelSize
	scale := 1 / float32(k*k)

	ox := 0
	for x := 0; x < inDim.Width-k+1; x += p.stride {
		oy := 0
		for y := 0; y < inDim.Height-k+1; y += p.stride {
			for z := 0; z < inDim.Depth; z++ {
				var out float32

				switch p.kind {
				case PoolMax:
					out = input[p.argmax(inDim, input, x, y, z)]
				case PoolAverage:
					var sum float32
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							sum += input[geometry.Index(x+kx, y+ky, z, inDim)]
						}
					}
					out = sum * scale
				}

				p.volume[geometry.Index(ox, oy, z, p.dim)] = out
			}
			oy++
		}
		ox++
	}
}

// poolBack routes the output gradients into inputGradients: to the window
// maximum for max pooling, spread evenly for average pooling.
func (p *Pooling) poolBack(inDim geometry.Dim, input, inputGradients []float32) {
	k := p.kernelSize
	scale := 1 / float32(k*k)

	clear(inputGradients)

	ox := 0
	for x := 0; x < inDim.Width-k+1; x += p.stride {
		oy := 0
		for y := 0; y < inDim.Height-k+1; y += p.stride {
			for z := 0; z < inDim.Depth; z++ {
				grad := p.volumeGradients[geometry.Index(ox, oy, z, p.dim)]

				switch p.kind {
				case PoolMax:
					inputGradients[p.argmax(inDim, input, x, y, z)] += grad
				case PoolAverage:
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							inputGradients[geometry.Index(x+kx, y+ky, z, inDim)] += grad * scale
						}
					}
				}
			}
			oy++
		}
		ox++
	}
}

// ForwardPropagate feeds the pooled volume into next.
func (p *Pooling) ForwardPropagate(next Layer) error {
	return propagateSpatial(p.dim, p.volume, p.padding, next)
}

// BackPropagate routes the output gradients into prev.
func (p *Pooling) BackPropagate(prev Layer) error {
	dim, volume, gradients, _, ok := spatial(prev)
	if !ok {
		return fmt.Errorf("%w: pooling cannot follow %T", errs.ErrIncompatibleLayers, prev)
	}
	if err := p.checkInput(dim); err != nil {
		return err
	}

	p.poolBack(dim, volume, gradients)
	return nil
}

// Pooling has no nonlinearity and no parameters; the following are no-ops.

func (p *Pooling) Activate(activations.Function)              {}
func (p *Pooling) BackActivate(activations.Function)          {}
func (p *Pooling) Initialize(initializer.Scheme, rand.Source) {}
func (p *Pooling) ResetGradients()                            {}
func (p *Pooling) ApplyGradients(float32, float32, float32)   {}
func (p *Pooling) Gradients() [][]float32                     { return nil }

// Clone creates a deep copy of the pooling layer.
func (p *Pooling) Clone() Layer {
	clone := *p
	clone.volume = slices.Clone(p.volume)
	clone.volumeGradients = slices.Clone(p.volumeGradients)
	return &clone
}
