package net

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
)

func writeCSV(t *testing.T, rows [][]string) string {
	t.Helper()

	filename := filepath.Join(t.TempDir(), "data.csv")
	file, err := os.Create(filename)
	require.NoError(t, err)
	defer file.Close()

	require.NoError(t, csv.NewWriter(file).WriteAll(rows))
	return filename
}

func TestLoadCSV(t *testing.T) {
	filename := writeCSV(t, [][]string{
		{"f1", "f2", "l1", "f3", "l2"},
		{"1.0", "2.0", "0.0", "3.0", "1.0"},
		{"4.0", "5.0", "1.0", "6.0", "0.0"},
	})

	dataset, err := LoadCSV(filename, CSVFormat{
		Input:   geometry.Dim{Width: 3, Height: 1, Depth: 1},
		Labels:  []int{4, 2},
		Outputs: 2,
		Header:  true,
	})
	require.NoError(t, err)

	require.Equal(t, 2, dataset.Len())
	assert.Equal(t, geometry.Dim{Width: 3, Height: 1, Depth: 1}, dataset.Dim)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, dataset.Features)
	// labels follow the order of Labels
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, dataset.Labels)

	samples := dataset.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, []float32{4, 5, 6}, samples[1].Input)
	assert.Equal(t, []float32{0, 1}, samples[1].Expected)
}

func TestReadCSVImageLayout(t *testing.T) {
	// a 2x2 image stored row by row: (0,0) (1,0) (0,1) (1,1)
	in := "9, 1, 2, 3, 4\n"

	dim := geometry.Dim{Width: 2, Height: 2, Depth: 1}
	volume, err := ReadCSV(strings.NewReader(in), CSVFormat{Input: dim, Labels: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, volume.Features[0])

	image, err := ReadCSV(strings.NewReader(in), CSVFormat{Input: dim, Layout: LayoutImage, Labels: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 2, 4}, image.Features[0])
	assert.Equal(t, float32(1), image.Features[0][geometry.Index(0, 0, 0, dim)])
	assert.Equal(t, float32(2), image.Features[0][geometry.Index(1, 0, 0, dim)])
	assert.Equal(t, float32(3), image.Features[0][geometry.Index(0, 1, 0, dim)])
	assert.Equal(t, []float32{9}, image.Labels[0])

	// channels are innermost in both layouts
	rgb := geometry.Dim{Width: 2, Height: 1, Depth: 2}
	image, err = ReadCSV(strings.NewReader("1,2,3,4\n"), CSVFormat{Input: rgb, Layout: LayoutImage})
	require.NoError(t, err)
	assert.Equal(t, float32(2), image.Features[0][geometry.Index(0, 0, 1, rgb)])
	assert.Equal(t, float32(3), image.Features[0][geometry.Index(1, 0, 0, rgb)])
	assert.Empty(t, image.Labels[0])
}

func TestReadCSVErrors(t *testing.T) {
	dim := geometry.Dim{Width: 1, Height: 1, Depth: 1}

	tests := []struct {
		name   string
		in     string
		format CSVFormat
		want   error
	}{
		{"header only", "a,b\n", CSVFormat{Input: dim, Labels: []int{1}, Header: true}, errs.ErrInvalidInput},
		{"empty", "", CSVFormat{Input: dim}, errs.ErrInvalidInput},
		{"label out of range", "1,2\n", CSVFormat{Input: dim, Labels: []int{2}}, errs.ErrInvalidInput},
		{"negative label", "1,2\n", CSVFormat{Input: dim, Labels: []int{-1}}, errs.ErrInvalidInput},
		{"label twice", "1,2,3\n", CSVFormat{Input: dim, Labels: []int{0, 0}}, errs.ErrInvalidInput},
		{"no input volume", "1,2\n", CSVFormat{Labels: []int{0}}, errs.ErrInvalidInput},
		{"too many features", "1,2,3\n", CSVFormat{Input: dim, Labels: []int{0}}, errs.ErrDimensionMismatch},
		{"labels for outputs", "1,2\n", CSVFormat{Input: dim, Labels: []int{0}, Outputs: 2}, errs.ErrDimensionMismatch},
		{"ragged rows", "1,2\n3,4,5\n", CSVFormat{Input: dim, Labels: []int{0}}, csv.ErrFieldCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ReadCSV(strings.NewReader(tt.in), tt.format)
			assert.Nil(t, d)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("not a number", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("1,x\n"), CSVFormat{Input: dim, Labels: []int{0}})
		assert.ErrorContains(t, err, "line 1: column 1")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), CSVFormat{Input: dim})
		assert.Error(t, err)
	})
}

func TestCSVLogger(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "log.csv")

	logger := NewCSVLogger(filename, false)
	n := &Network{}

	logger.OnTrainBegin(n)
	logger.OnEpochEnd(0, BatchStats{Error: 2, Correct: 3, Incorrect: 1}, n)
	logger.OnEpochEnd(1, BatchStats{Error: 1, Correct: 4}, n)
	logger.OnTrainEnd(n)
	require.NoError(t, logger.Err)

	file, err := os.Open(filename)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	// header and two epochs
	require.Len(t, records, 3)
	assert.Equal(t, []string{"epoch", "error", "accuracy", "seconds"}, records[0])
	assert.Equal(t, []string{"0", "0.500000", "0.7500"}, records[1][:3])
	assert.Equal(t, []string{"0.250000", "1.0000"}, records[2][1:3])
}

func TestCSVLoggerAppend(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "log.csv")
	n := &Network{}

	for i := 0; i < 2; i++ {
		logger := NewCSVLogger(filename, true)
		logger.OnTrainBegin(n)
		logger.OnEpochEnd(i, BatchStats{Correct: 1}, n)
		logger.OnTrainEnd(n)
	}

	file, err := os.Open(filename)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	// one header, two epochs
	assert.Len(t, records, 3)
}

func TestDatasetNormalize(t *testing.T) {
	// two channels, interleaved
	dataset := &Dataset{
		Dim: geometry.Dim{Width: 2, Height: 1, Depth: 2},
		Features: [][]float32{
			{0, 10, 4, 20},
			{2, 30, 8, 40},
		},
	}

	dataset.Normalize()

	assert.InDeltaSlice(t, []float32{0, 0, 0.5, 1.0 / 3}, dataset.Features[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0.25, 2.0 / 3, 1, 1}, dataset.Features[1], 1e-6)

	constant := &Dataset{
		Dim:      geometry.Dim{Width: 1, Height: 1, Depth: 1},
		Features: [][]float32{{5}, {5}},
	}
	constant.Normalize()
	assert.Equal(t, [][]float32{{0}, {0}}, constant.Features)
}

func TestDatasetSplit(t *testing.T) {
	dataset := &Dataset{Dim: geometry.Dim{Width: 1, Height: 1, Depth: 1}}
	for i := 0; i < 10; i++ {
		dataset.Features = append(dataset.Features, []float32{float32(i)})
		dataset.Labels = append(dataset.Labels, []float32{0})
	}

	train, test, err := dataset.Split(0.8)
	require.NoError(t, err)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, float32(8), test.Features[0][0])
	assert.Equal(t, dataset.Dim, test.Dim)

	train, test, err = dataset.Split(1)
	require.NoError(t, err)
	assert.Equal(t, 10, train.Len())
	assert.Zero(t, test.Len())

	for _, ratio := range []float32{0, -0.5, 1.5} {
		_, _, err := dataset.Split(ratio)
		assert.ErrorIs(t, err, errs.ErrInvalidInput, "ratio %g", ratio)
	}

	// a single row cannot be split 80/20
	single := &Dataset{Features: dataset.Features[:1], Labels: dataset.Labels[:1]}
	_, _, err = single.Split(0.8)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestModelCheckpoint(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "model.gob")
	n := smallNetwork(t, layer.PoolMax, 5)

	cp := NewModelCheckpoint(filename, 2)

	cp.OnBatchEnd(0, BatchStats{}, n)
	_, err := os.Stat(filename)
	require.True(t, os.IsNotExist(err), "checkpoint written before interval: %v", err)

	cp.OnBatchEnd(1, BatchStats{}, n)
	require.NoError(t, cp.Err)

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, n.Len(), loaded.Len())

	bad := NewModelCheckpoint(filepath.Join(t.TempDir(), "missing", "model.gob"), 0)
	bad.OnTrainEnd(n)
	assert.Error(t, bad.Err)
}
