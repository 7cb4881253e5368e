package net

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
)

const snapshotVersion = 1

// LayerConfig holds the configuration needed to reconstruct a layer.
type LayerConfig struct {
	Kind       layer.Kind
	Activation activations.Function

	// Convolutional and pooling layers
	Padding    int
	Stride     int
	KernelSize int
	Dim        geometry.Dim
	InputDepth int
	Pool       layer.PoolKind

	// Dense layers
	Inputs  int
	Neurons int

	// Kernel or weights, then biases
	Params []float32
	Biases []float32
}

type snapshot struct {
	Version int
	Loss    loss.Function
	Layers  []LayerConfig
}

// ExtractLayerConfig extracts the configuration and parameters of a layer.
// Params and Biases are copies; changing them does not affect l.
func ExtractLayerConfig(l layer.Layer, act activations.Function) LayerConfig {
	cfg := LayerConfig{Kind: l.Kind(), Activation: act}

	switch l := l.(type) {
	case *layer.Convolutional:
		cfg.Padding = l.Padding()
		cfg.Stride = l.Stride()
		cfg.KernelSize = l.KernelSize()
		cfg.Dim = l.Dim()
		cfg.InputDepth = l.InputDepth()
		cfg.Params = slices.Clone(l.Kernel())
		cfg.Biases = slices.Clone(l.Biases())
	case *layer.Pooling:
		cfg.Padding = l.Padding()
		cfg.Stride = l.Stride()
		cfg.KernelSize = l.KernelSize()
		cfg.Dim = l.Dim()
		cfg.Pool = l.PoolKind()
	case *layer.FullyConnected:
		cfg.Inputs = l.NumInputs()
		cfg.Neurons = l.NumNeurons()
		cfg.Params = slices.Clone(l.Weights())
		cfg.Biases = slices.Clone(l.Biases())
	}

	return cfg
}

func positiveDim(d geometry.Dim) bool {
	return d.Width > 0 && d.Height > 0 && d.Depth > 0
}

// Validate reports the first shape setting no layer of c.Kind can be built
// with. An input layer is a convolution with zero kernel size.
func (c *LayerConfig) Validate() error {
	if c.Activation.Kind > activations.LeakyReLU {
		return fmt.Errorf("%w: unsupported activation %s", errs.ErrInvalidInput, c.Activation)
	}

	switch c.Kind {
	case layer.KindConvolutional, layer.KindPooling:
		if !positiveDim(c.Dim) {
			return fmt.Errorf("%w: %s volume %s", errs.ErrInvalidInput, c.Kind, c.Dim)
		}
		if c.Padding < 0 {
			return fmt.Errorf("%w: negative padding %d", errs.ErrInvalidInput, c.Padding)
		}
	}

	switch c.Kind {
	case layer.KindConvolutional:
		if c.KernelSize == 0 {
			if c.Stride != 0 || c.InputDepth != 0 {
				return fmt.Errorf("%w: input layer with stride %d and input depth %d",
					errs.ErrInvalidInput, c.Stride, c.InputDepth)
			}
			return nil
		}
		if c.KernelSize < 0 || c.Stride < 1 || c.InputDepth < 1 {
			return fmt.Errorf("%w: convolution with kernel %d, stride %d, input depth %d",
				errs.ErrInvalidInput, c.KernelSize, c.Stride, c.InputDepth)
		}
	case layer.KindPooling:
		if c.KernelSize < 1 || c.Stride < 1 {
			return fmt.Errorf("%w: pooling with kernel %d, stride %d", errs.ErrInvalidInput, c.KernelSize, c.Stride)
		}
		if c.Pool != layer.PoolMax && c.Pool != layer.PoolAverage {
			return fmt.Errorf("%w: unsupported pooling %s", errs.ErrInvalidInput, c.Pool)
		}
	case layer.KindFullyConnected:
		if c.Inputs < 1 || c.Neurons < 1 {
			return fmt.Errorf("%w: dense layer with %d inputs and %d neurons", errs.ErrInvalidInput, c.Inputs, c.Neurons)
		}
	default:
		return fmt.Errorf("%w: unsupported layer kind %s", errs.ErrInvalidInput, c.Kind)
	}
	return nil
}

// CreateLayer creates a new layer from the configuration. Gradients and
// momentum start at zero.
func (c *LayerConfig) CreateLayer() (layer.Layer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Kind {
	case layer.KindConvolutional:
		conv := layer.NewConvolutional(c.Padding, c.Stride, c.KernelSize, c.Dim, c.InputDepth)
		if err := conv.SetKernel(c.Params); err != nil {
			return nil, err
		}
		if err := conv.SetBiases(c.Biases); err != nil {
			return nil, err
		}
		return conv, nil

	case layer.KindPooling:
		return layer.NewPooling(c.Pool, c.Padding, c.Stride, c.KernelSize, c.Dim), nil

	case layer.KindFullyConnected:
		fc := layer.NewFullyConnected(c.Inputs, c.Neurons)
		if err := fc.SetWeights(c.Params); err != nil {
			return nil, err
		}
		if err := fc.SetBiases(c.Biases); err != nil {
			return nil, err
		}
		return fc, nil
	}

	return nil, fmt.Errorf("%w: unsupported layer kind %s", errs.ErrInvalidInput, c.Kind)
}

// Encode writes the network structure and parameters to w using gob encoding.
func (n *Network) Encode(w io.Writer) error {
	snap := snapshot{
		Version: snapshotVersion,
		Loss:    n.loss,
		Layers:  make([]LayerConfig, len(n.layers)),
	}
	for i, l := range n.layers {
		snap.Layers[i] = ExtractLayerConfig(l, n.activations[i])
	}

	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode network: %w", err)
	}
	return nil
}

// Decode reads a network written by Encode.
func Decode(r io.Reader) (*Network, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode network: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", errs.ErrInvalidInput, snap.Version, snapshotVersion)
	}
	if snap.Loss != loss.HalfMeanSquaredError && snap.Loss != loss.BinaryCrossEntropy {
		return nil, fmt.Errorf("%w: unsupported error function %s", errs.ErrInvalidInput, snap.Loss)
	}

	n := New(snap.Loss)
	for i := range snap.Layers {
		l, err := snap.Layers[i].CreateLayer()
		if err != nil {
			return nil, fmt.Errorf("failed to create layer %d: %w", i, err)
		}
		n.Register(snap.Layers[i].Activation, l)
	}
	return n, nil
}

// Save saves the network to a file using gob encoding.
func (n *Network) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := n.Encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load loads a network saved with Save.
func Load(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Decode(file)
}
