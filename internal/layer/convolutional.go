package layer

import (
	"fmt"
	"slices"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/initializer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/opt"
)

// Convolutional implements a strided 2D convolution over a 3D volume.
// With kernel size 0 it holds the network input and has no parameters.
type Convolutional struct {
	stride     int
	kernelSize int
	numKernels int
	inputDepth int

	// Zero border the downstream convolution sees around this layer's output
	padding int

	dim geometry.Dim

	// Output volumes, all of shape dim
	rawVolume       []float32 // z = w*x + b
	volume          []float32 // activation(z)
	volumeGradients []float32 // dL/d(volume), written by the next layer
	backActivated   []float32 // dL/dz

	// Kernel: [numKernels][inputDepth][kernelSize][kernelSize]
	kernel []float32
	biases []float32

	kernelGradients []float32
	biasGradients   []float32
	kernelVelocity  []float32
	biasVelocity    []float32
}

// NewConvolutional creates a convolutional layer producing a volume of shape
// dim (dim.Depth kernels) from an input of inputDepth channels.
func NewConvolutional(padding, stride, kernelSize int, dim geometry.Dim, inputDepth int) *Convolutional {
	kernelLen := kernelSize * kernelSize * inputDepth * dim.Depth
	biasLen := dim.Depth
	if kernelSize == 0 {
		biasLen = 0
	}

	return &Convolutional{
		stride:     stride,
		kernelSize: kernelSize,
		numKernels: dim.Depth,
		inputDepth: inputDepth,
		padding:    padding,
		dim:        dim,

		rawVolume:       make([]float32, dim.Size()),
		volume:          make([]float32, dim.Size()),
		volumeGradients: make([]float32, dim.Size()),
		backActivated:   make([]float32, dim.Size()),

		kernel: make([]float32, kernelLen),
		biases: make([]float32, biasLen),

		kernelGradients: make([]float32, kernelLen),
		biasGradients:   make([]float32, biasLen),
		kernelVelocity:  make([]float32, kernelLen),
		biasVelocity:    make([]float32, biasLen),
	}
}

// NewInput creates the placeholder layer that receives the network input.
func NewInput(padding int, dim geometry.Dim) *Convolutional {
	return NewConvolutional(padding, 0, 0, dim, 0)
}

func (c *Convolutional) Kind() Kind { return KindConvolutional }
func (c *Convolutional) sealed()    {}

// Dim returns the output shape.
func (c *Convolutional) Dim() geometry.Dim { return c.dim }

// Padding returns the zero border applied around the output when it feeds
// another convolution.
func (c *Convolutional) Padding() int { return c.padding }

// Stride returns the kernel stride.
func (c *Convolutional) Stride() int { return c.stride }

// KernelSize returns the kernel width and height.
func (c *Convolutional) KernelSize() int { return c.kernelSize }

// InputDepth returns the number of input channels.
func (c *Convolutional) InputDepth() int { return c.inputDepth }

// OutputSize returns the number of values in the output volume.
func (c *Convolutional) OutputSize() int { return c.dim.Size() }

// Volume returns the activated output volume.
// The caller should not modify this buffer directly.
func (c *Convolutional) Volume() []float32 { return c.volume }

// VolumeGradients returns the gradient w.r.t. the activated output.
func (c *Convolutional) VolumeGradients() []float32 { return c.volumeGradients }

// Kernel returns the kernel weights slice directly.
func (c *Convolutional) Kernel() []float32 { return c.kernel }

// Biases returns the biases slice directly.
func (c *Convolutional) Biases() []float32 { return c.biases }

// KernelGradients returns the accumulated kernel gradients.
func (c *Convolutional) KernelGradients() []float32 { return c.kernelGradients }

// BiasGradients returns the accumulated bias gradients.
func (c *Convolutional) BiasGradients() []float32 { return c.biasGradients }

// SetVolume overwrites the output volume. Data is packed as described in
// package geometry.
func (c *Convolutional) SetVolume(volume []float32) error {
	if len(volume) != len(c.volume) {
		return fmt.Errorf("%w: got %d values for volume %s", errs.ErrDimensionMismatch, len(volume), c.dim)
	}
	copy(c.volume, volume)
	return nil
}

// SetKernel overwrites the kernel weights.
func (c *Convolutional) SetKernel(kernel []float32) error {
	if len(kernel) != len(c.kernel) {
		return fmt.Errorf("%w: kernel has %d weights, got %d", errs.ErrInvalidInput, len(c.kernel), len(kernel))
	}
	copy(c.kernel, kernel)
	return nil
}

// SetBiases overwrites the biases.
func (c *Convolutional) SetBiases(biases []float32) error {
	if len(biases) != len(c.biases) {
		return fmt.Errorf("%w: layer has %d biases, got %d", errs.ErrInvalidInput, len(c.biases), len(biases))
	}
	copy(c.biases, biases)
	return nil
}

// checkInput validates an upstream volume of shape dim, surrounded by
// padding zeros, against this layer's declared shape.
func (c *Convolutional) checkInput(dim geometry.Dim, padding int) error {
	if err := geometry.CheckOutputDim(dim, c.dim, padding, c.numKernels, c.kernelSize, c.stride); err != nil {
		return err
	}
	if dim.Depth != c.inputDepth {
		return fmt.Errorf("%w: input has %d channels, kernel expects %d",
			errs.ErrDimensionMismatch, dim.Depth, c.inputDepth)
	}
	return nil
}

// convolve computes the raw output from an input volume. The raw values are
// also copied to the activated volume; Activate applies the nonlinearity.
func (c *Convolutional) convolve(inDim geometry.Dim, input []float32, padding int) {
	paddedX := inDim.Width + 2*padding
	paddedY := inDim.Height + 2*padding
	k := c.kernelSize

	for oc := 0; oc < c.numKernels; oc++ {
		ox := 0
		for x := 0; x < paddedX-k+1; x += c.stride {
			oy := 0
			for y := 0; y < paddedY-k+1; y += c.stride {
				var sum float32

				for z := 0; z < inDim.Depth; z++ {
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							idx, ok := geometry.PaddedLookup(x+kx, y+ky, z, inDim, padding)
							if !ok {
								continue
							}
							sum += input[idx] * c.kernel[geometry.KernelIndex(kx, ky, z, oc, k, c.inputDepth)]
						}
					}
				}

				pos := geometry.Index(ox, oy, oc, c.dim)
				out := sum + c.biases[oc]
				c.rawVolume[pos] = out
				c.volume[pos] = out

				oy++
			}
			ox++
		}
	}
}

// convolveBack accumulates kernel and bias gradients from the back-activated
// volume and writes the gradient w.r.t. the input into inputGradients.
func (c *Convolutional) convolveBack(inDim geometry.Dim, input, inputGradients []float32, padding int) {
	paddedX := inDim.Width + 2*padding
	paddedY := inDim.Height + 2*padding
	k := c.kernelSize

	clear(inputGradients)

	for oc := 0; oc < c.numKernels; oc++ {
		ox := 0
		for x := 0; x < paddedX-k+1; x += c.stride {
			oy := 0
			for y := 0; y < paddedY-k+1; y += c.stride {
				derivative := c.backActivated[geometry.Index(ox, oy, oc, c.dim)]

				// Exactly zero behind max pooling or a flat ReLU; nothing to scatter
				if derivative == 0 {
					oy++
					continue
				}

				for z := 0; z < inDim.Depth; z++ {
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							idx, ok := geometry.PaddedLookup(x+kx, y+ky, z, inDim, padding)
							if !ok {
								continue
							}
							w := geometry.KernelIndex(kx, ky, z, oc, k, c.inputDepth)
							c.kernelGradients[w] += input[idx] * derivative
							inputGradients[idx] += c.kernel[w] * derivative
						}
					}
				}

				// Scaled by the input depth once per output position. This
				// multiplier is kept for compatibility with trained models.
				c.biasGradients[oc] += derivative * float32(inDim.Depth)

				oy++
			}
			ox++
		}
	}
}

// ForwardPropagate feeds this layer's volume into next.
func (c *Convolutional) ForwardPropagate(next Layer) error {
	return propagateSpatial(c.dim, c.volume, c.padding, next)
}

// BackPropagate propagates the back-activated volume into prev.
func (c *Convolutional) BackPropagate(prev Layer) error {
	dim, volume, gradients, padding, ok := spatial(prev)
	if !ok {
		return fmt.Errorf("%w: convolution cannot follow %T", errs.ErrIncompatibleLayers, prev)
	}
	if err := c.checkInput(dim, padding); err != nil {
		return err
	}

	c.convolveBack(dim, volume, gradients, padding)
	return nil
}

// Activate applies fn to the raw volume.
func (c *Convolutional) Activate(fn activations.Function) {
	for i, z := range c.rawVolume {
		c.volume[i] = fn.Activate(z)
	}
}

// BackActivate computes dL/dz = f'(z) * dL/d(volume).
func (c *Convolutional) BackActivate(fn activations.Function) {
	for i, z := range c.rawVolume {
		c.backActivated[i] = fn.Derivative(z) * c.volumeGradients[i]
	}
}

// Initialize fills the kernel and biases.
func (c *Convolutional) Initialize(scheme initializer.Scheme, src rand.Source) {
	fanIn := c.inputDepth * c.kernelSize * c.kernelSize
	fanOut := c.numKernels * c.kernelSize * c.kernelSize

	initializer.Fill(scheme, fanIn, fanOut, c.kernel, src)
	initializer.Fill(scheme, fanIn, fanOut, c.biases, src)
}

// ResetGradients zeroes out the accumulated gradients.
func (c *Convolutional) ResetGradients() {
	clear(c.kernelGradients)
	clear(c.biasGradients)
}

// ApplyGradients performs one momentum step. Biases are not decayed.
func (c *Convolutional) ApplyGradients(learningRate, momentum, weightDecay float32) {
	sgd := opt.SGD{LearningRate: learningRate, Momentum: momentum, WeightDecay: weightDecay}
	sgd.Update(c.biases, c.biasGradients, c.biasVelocity, false)
	sgd.Update(c.kernel, c.kernelGradients, c.kernelVelocity, true)
}

// Gradients returns the kernel and bias gradient buffers.
func (c *Convolutional) Gradients() [][]float32 {
	return [][]float32{c.kernelGradients, c.biasGradients}
}

// Clone creates a deep copy of the convolutional layer.
func (c *Convolutional) Clone() Layer {
	clone := *c

	clone.rawVolume = slices.Clone(c.rawVolume)
	clone.volume = slices.Clone(c.volume)
	clone.volumeGradients = slices.Clone(c.volumeGradients)
	clone.backActivated = slices.Clone(c.backActivated)

	clone.kernel = slices.Clone(c.kernel)
	clone.biases = slices.Clone(c.biases)
	clone.kernelGradients = slices.Clone(c.kernelGradients)
	clone.biasGradients = slices.Clone(c.biasGradients)
	clone.kernelVelocity = slices.Clone(c.kernelVelocity)
	clone.biasVelocity = slices.Clone(c.biasVelocity)

	return &clone
}
