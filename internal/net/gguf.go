package net

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
)

// GGUF Constants
const (
	GGUFMagic   = 0x46554747 // "GGUF" in little-endian
	GGUFVersion = 3

	ggufAlignment = 32
)

// GGUF Value Types
type GGUFType uint32

const (
	GGUFTypeUint8   GGUFType = 0
	GGUFTypeInt8    GGUFType = 1
	GGUFTypeUint16  GGUFType = 2
	GGUFTypeInt16   GGUFType = 3
	GGUFTypeUint32  GGUFType = 4
	GGUFTypeInt32   GGUFType = 5
	GGUFTypeFloat32 GGUFType = 6
	GGUFTypeBool    GGUFType = 7
	GGUFTypeString  GGUFType = 8
	GGUFTypeArray   GGUFType = 9
	GGUFTypeUint64  GGUFType = 10
	GGUFTypeInt64   GGUFType = 11
	GGUFTypeFloat64 GGUFType = 12
)

// GGML Tensor Types supported for export
type GGMLType uint32

const (
	GGMLTypeF32 GGMLType = 0
	GGMLTypeF16 GGMLType = 1
)

func (t GGMLType) elementSize() uint64 {
	if t == GGMLTypeF16 {
		return 2
	}
	return 4
}

// GGUFWriter helps writing GGUF files. It tracks the number of bytes written
// so tensor data can be aligned.
type GGUFWriter struct {
	w         io.Writer
	alignment uint64
	written   uint64
}

func NewGGUFWriter(w io.Writer) *GGUFWriter {
	return &GGUFWriter{
		w:         w,
		alignment: ggufAlignment,
	}
}

func (gw *GGUFWriter) Write(p []byte) (int, error) {
	n, err := gw.w.Write(p)
	gw.written += uint64(n)
	return n, err
}

func (gw *GGUFWriter) WriteHeader(kvCount, tensorCount uint64) error {
	if err := binary.Write(gw, binary.LittleEndian, uint32(GGUFMagic)); err != nil {
		return err
	}
	if err := binary.Write(gw, binary.LittleEndian, uint32(GGUFVersion)); err != nil {
		return err
	}
	if err := binary.Write(gw, binary.LittleEndian, tensorCount); err != nil {
		return err
	}
	return binary.Write(gw, binary.LittleEndian, kvCount)
}

func (gw *GGUFWriter) WriteString(s string) error {
	if err := binary.Write(gw, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := gw.Write([]byte(s))
	return err
}

func (gw *GGUFWriter) WriteKV(key string, valType GGUFType, value interface{}) error {
	if err := gw.WriteString(key); err != nil {
		return err
	}
	if err := binary.Write(gw, binary.LittleEndian, uint32(valType)); err != nil {
		return err
	}

	switch valType {
	case GGUFTypeUint32:
		return binary.Write(gw, binary.LittleEndian, value.(uint32))
	case GGUFTypeInt32:
		return binary.Write(gw, binary.LittleEndian, value.(int32))
	case GGUFTypeFloat32:
		return binary.Write(gw, binary.LittleEndian, value.(float32))
	case GGUFTypeUint64:
		return binary.Write(gw, binary.LittleEndian, value.(uint64))
	case GGUFTypeBool:
		var b uint8
		if value.(bool) {
			b = 1
		}
		return binary.Write(gw, binary.LittleEndian, b)
	case GGUFTypeString:
		return gw.WriteString(value.(string))
	default:
		return fmt.Errorf("%w: unsupported GGUF type %d", errs.ErrInvalidInput, valType)
	}
}

func (gw *GGUFWriter) WriteTensorInfo(name string, shape []uint64, ggmlType GGMLType, offset uint64) error {
	if err := gw.WriteString(name); err != nil {
		return err
	}
	rank := uint32(len(shape))
	if err := binary.Write(gw, binary.LittleEndian, rank); err != nil {
		return err
	}
	// GGUF dimensions are in reverse order (last dimension first)
	for i := int(rank) - 1; i >= 0; i-- {
		if err := binary.Write(gw, binary.LittleEndian, shape[i]); err != nil {
			return err
		}
	}
	if err := binary.Write(gw, binary.LittleEndian, uint32(ggmlType)); err != nil {
		return err
	}
	return binary.Write(gw, binary.LittleEndian, offset)
}

// Align pads the output with zeros up to the next alignment boundary.
func (gw *GGUFWriter) Align() error {
	pad := (gw.alignment - gw.written%gw.alignment) % gw.alignment
	_, err := gw.Write(make([]byte, pad))
	return err
}

// WriteTensorData writes values encoded as ggmlType.
func (gw *GGUFWriter) WriteTensorData(values []float32, ggmlType GGMLType) error {
	if ggmlType == GGMLTypeF16 {
		half := make([]uint16, len(values))
		for i, v := range values {
			half[i] = Float32ToFloat16(v)
		}
		return binary.Write(gw, binary.LittleEndian, half)
	}
	return binary.Write(gw, binary.LittleEndian, values)
}

type ggufTensor struct {
	name  string
	shape []uint64
	data  []float32
}

func (n *Network) ggufTensors() []ggufTensor {
	var tensors []ggufTensor

	for i, l := range n.layers {
		switch l := l.(type) {
		case *layer.Convolutional:
			if len(l.Kernel()) == 0 {
				continue
			}
			k := uint64(l.KernelSize())
			depth := uint64(l.Dim().Depth)
			tensors = append(tensors,
				ggufTensor{fmt.Sprintf("layer.%d.kernel", i), []uint64{depth, uint64(l.InputDepth()), k, k}, l.Kernel()},
				ggufTensor{fmt.Sprintf("layer.%d.bias", i), []uint64{depth}, l.Biases()},
			)
		case *layer.FullyConnected:
			neurons := uint64(l.NumNeurons())
			tensors = append(tensors,
				ggufTensor{fmt.Sprintf("layer.%d.weight", i), []uint64{neurons, uint64(l.NumInputs())}, l.Weights()},
				ggufTensor{fmt.Sprintf("layer.%d.bias", i), []uint64{neurons}, l.Biases()},
			)
		}
	}

	return tensors
}

type ggufKV struct {
	key   string
	typ   GGUFType
	value interface{}
}

func (n *Network) ggufMetadata() []ggufKV {
	kvs := []ggufKV{
		{"general.architecture", GGUFTypeString, "convnet"},
		{"convnet.layer_count", GGUFTypeUint32, uint32(len(n.layers))},
		{"convnet.loss", GGUFTypeString, n.loss.String()},
	}

	for i, l := range n.layers {
		prefix := fmt.Sprintf("convnet.layer.%d.", i)
		kvs = append(kvs,
			ggufKV{prefix + "kind", GGUFTypeString, l.Kind().String()},
			ggufKV{prefix + "activation", GGUFTypeString, n.activations[i].String()},
		)

		switch l := l.(type) {
		case *layer.Convolutional:
			kvs = append(kvs,
				ggufKV{prefix + "padding", GGUFTypeUint32, uint32(l.Padding())},
				ggufKV{prefix + "stride", GGUFTypeUint32, uint32(l.Stride())},
				ggufKV{prefix + "kernel_size", GGUFTypeUint32, uint32(l.KernelSize())},
				ggufKV{prefix + "dim", GGUFTypeString, l.Dim().String()},
			)
		case *layer.Pooling:
			kvs = append(kvs,
				ggufKV{prefix + "pool", GGUFTypeString, l.PoolKind().String()},
				ggufKV{prefix + "padding", GGUFTypeUint32, uint32(l.Padding())},
				ggufKV{prefix + "stride", GGUFTypeUint32, uint32(l.Stride())},
				ggufKV{prefix + "kernel_size", GGUFTypeUint32, uint32(l.KernelSize())},
				ggufKV{prefix + "dim", GGUFTypeString, l.Dim().String()},
			)
		}
	}

	return kvs
}

// ExportGGUF writes the network parameters as GGUF tensors, with the layer
// structure stored as metadata. Layers without parameters produce metadata
// only.
func (n *Network) ExportGGUF(w io.Writer, ggmlType GGMLType) error {
	if ggmlType != GGMLTypeF32 && ggmlType != GGMLTypeF16 {
		return fmt.Errorf("%w: unsupported tensor type %d", errs.ErrInvalidInput, ggmlType)
	}

	gw := NewGGUFWriter(w)
	tensors := n.ggufTensors()
	kvs := n.ggufMetadata()

	if err := gw.WriteHeader(uint64(len(kvs)), uint64(len(tensors))); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, kv := range kvs {
		if err := gw.WriteKV(kv.key, kv.typ, kv.value); err != nil {
			return fmt.Errorf("failed to write %s: %w", kv.key, err)
		}
	}

	// Offsets are relative to the start of the aligned data section
	var offset uint64
	for _, t := range tensors {
		if err := gw.WriteTensorInfo(t.name, t.shape, ggmlType, offset); err != nil {
			return fmt.Errorf("failed to write tensor info %s: %w", t.name, err)
		}
		size := uint64(len(t.data)) * ggmlType.elementSize()
		offset += (size + ggufAlignment - 1) / ggufAlignment * ggufAlignment
	}

	for _, t := range tensors {
		if err := gw.Align(); err != nil {
			return err
		}
		if err := gw.WriteTensorData(t.data, ggmlType); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", t.name, err)
		}
	}

	return nil
}

// SaveGGUF exports the network to a GGUF file.
func (n *Network) SaveGGUF(filename string, ggmlType GGMLType) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := n.ExportGGUF(file, ggmlType); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Float32ToFloat16 converts f to IEEE 754 half precision bits, rounding to
// nearest with ties to even. Values beyond the half range become infinities
// and NaNs stay quiet NaNs.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23) & 0xFF
	mant := bits & 0x7FFFFF

	switch exp {
	case 0xFF:
		if mant == 0 {
			return sign | 0x7C00
		}
		return sign | 0x7E00
	case 0:
		// float32 subnormals are far below the smallest half subnormal
		return sign
	}

	exp -= 127 - 15
	if exp >= 0x1F {
		return sign | 0x7C00
	}

	var half, shift uint32
	if exp <= 0 {
		if exp < -10 {
			return sign
		}
		// subnormal result, the implicit bit moves into the mantissa
		mant |= 0x800000
		shift = uint32(14 - exp)
		half = mant >> shift
	} else {
		shift = 13
		half = uint32(exp)<<10 | mant>>shift
	}

	// a carry out of the mantissa bumps the exponent, up to infinity
	rem := mant & (1<<shift - 1)
	halfway := uint32(1) << (shift - 1)
	if rem > halfway || (rem == halfway && half&1 == 1) {
		half++
	}
	return sign | uint16(half)
}
