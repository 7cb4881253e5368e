package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
)

// poolInput returns a 3x3x1 input. Laid out by (x, y) the values are
//
//	1 2 3
//	4 5 6
//	7 8 9
//
// with x running across columns.
func poolInput(t *testing.T) *Convolutional {
	t.Helper()

	input := NewInput(0, geometry.Dim{Width: 3, Height: 3, Depth: 1})
	require.NoError(t, input.SetVolume([]float32{1, 4, 7, 2, 5, 8, 3, 6, 9}))
	return input
}

func TestPoolingMaxForward(t *testing.T) {
	input := poolInput(t)
	pool := NewPooling(PoolMax, 0, 1, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1})

	require.NoError(t, input.ForwardPropagate(pool))

	// Window maxima 5, 8 (x=0) and 6, 9 (x=1)
	assert.Equal(t, []float32{5, 8, 6, 9}, pool.Volume())
}

func TestPoolingAverageForward(t *testing.T) {
	input := poolInput(t)
	pool := NewPooling(PoolAverage, 0, 1, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1})

	require.NoError(t, input.ForwardPropagate(pool))
	assert.Equal(t, []float32{3, 6, 4, 7}, pool.Volume())
}

func TestPoolingMaxBackward(t *testing.T) {
	input := poolInput(t)
	pool := NewPooling(PoolMax, 0, 1, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1})

	require.NoError(t, input.ForwardPropagate(pool))
	copy(pool.VolumeGradients(), []float32{1, 2, 3, 4})
	require.NoError(t, pool.BackPropagate(input))

	// Each gradient lands on the maximum of its window only
	assert.Equal(t, []float32{0, 0, 0, 0, 1, 2, 0, 3, 4}, input.VolumeGradients())
}

func TestPoolingMaxTieGoesToFirst(t *testing.T) {
	input := NewInput(0, geometry.Dim{Width: 2, Height: 2, Depth: 1})
	require.NoError(t, input.SetVolume([]float32{3, 3, 3, 3}))

	pool := NewPooling(PoolMax, 0, 2, 2, geometry.Dim{Width: 1, Height: 1, Depth: 1})
	require.NoError(t, input.ForwardPropagate(pool))
	pool.VolumeGradients()[0] = 1

	require.NoError(t, pool.BackPropagate(input))
	assert.Equal(t, []float32{1, 0, 0, 0}, input.VolumeGradients())
}

func TestPoolingMaxNegativeInput(t *testing.T) {
	input := NewInput(0, geometry.Dim{Width: 2, Height: 2, Depth: 1})
	require.NoError(t, input.SetVolume([]float32{-4, -3, -2, -1}))

	pool := NewPooling(PoolMax, 0, 2, 2, geometry.Dim{Width: 1, Height: 1, Depth: 1})
	require.NoError(t, input.ForwardPropagate(pool))

	// The window maximum, not a zero floor
	assert.Equal(t, []float32{-1}, pool.Volume())
}

func TestPoolingAverageBackward(t *testing.T) {
	input := poolInput(t)
	pool := NewPooling(PoolAverage, 0, 1, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1})

	require.NoError(t, input.ForwardPropagate(pool))
	copy(pool.VolumeGradients(), []float32{1, 1, 1, 1})
	require.NoError(t, pool.BackPropagate(input))

	// Corners are covered by one window, edges by two, the centre by four
	assert.Equal(t, []float32{0.25, 0.5, 0.25, 0.5, 1, 0.5, 0.25, 0.5, 0.25}, input.VolumeGradients())
}

func TestPoolingChannelsIndependent(t *testing.T) {
	dim := geometry.Dim{Width: 2, Height: 2, Depth: 2}
	input := NewInput(0, dim)
	// channel 0: 1..4, channel 1: -1..-4
	require.NoError(t, input.SetVolume([]float32{1, -1, 2, -2, 3, -3, 4, -4}))

	pool := NewPooling(PoolMax, 0, 2, 2, geometry.Dim{Width: 1, Height: 1, Depth: 2})
	require.NoError(t, input.ForwardPropagate(pool))

	assert.Equal(t, []float32{4, -1}, pool.Volume())
}

func TestPoolingIgnoresUpstreamPadding(t *testing.T) {
	// The input pads for convolutions only
	input := NewInput(2, geometry.Dim{Width: 3, Height: 3, Depth: 1})
	require.NoError(t, input.SetVolume([]float32{1, 4, 7, 2, 5, 8, 3, 6, 9}))

	pool := NewPooling(PoolMax, 0, 1, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1})
	require.NoError(t, input.ForwardPropagate(pool))
	assert.Equal(t, []float32{5, 8, 6, 9}, pool.Volume())
}

func TestPoolingMismatch(t *testing.T) {
	input := poolInput(t)

	tests := []struct {
		name     string
		pool     *Pooling
		expected error
	}{
		{"wrong shape", NewPooling(PoolMax, 0, 1, 2, geometry.Dim{Width: 3, Height: 3, Depth: 1}), errs.ErrDimensionMismatch},
		{"wrong depth", NewPooling(PoolMax, 0, 1, 2, geometry.Dim{Width: 2, Height: 2, Depth: 2}), errs.ErrDimensionMismatch},
		{"zero stride", NewPooling(PoolMax, 0, 0, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1}), errs.ErrImpossibleOutputDimension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, input.ForwardPropagate(tt.pool), tt.expected)
			for i, v := range tt.pool.Volume() {
				assert.Zero(t, v, "volume[%d] written despite error", i)
			}
			assert.ErrorIs(t, tt.pool.BackPropagate(input), tt.expected)
		})
	}
}

func TestPoolingNoParameters(t *testing.T) {
	pool := NewPooling(PoolAverage, 1, 2, 2, geometry.Dim{Width: 2, Height: 2, Depth: 1})

	assert.Nil(t, pool.Gradients())
	assert.Equal(t, KindPooling, pool.Kind())

	clone := pool.Clone().(*Pooling)
	clone.Volume()[0] = 1
	assert.Zero(t, pool.Volume()[0], "clone shares its volume with the original")
	assert.Equal(t, 1, clone.Padding())
	assert.Equal(t, PoolAverage, clone.PoolKind())
}

func TestParsePoolKind(t *testing.T) {
	tests := []struct {
		name string
		want PoolKind
	}{
		{"max", PoolMax},
		{"MAX", PoolMax},
		{"average", PoolAverage},
		{"avg", PoolAverage},
	}
	for _, tt := range tests {
		kind, err := ParsePoolKind(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, kind, tt.name)
	}

	_, err := ParsePoolKind("min")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
