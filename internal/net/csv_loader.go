package net

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chewxy/math32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/errs"
	"github.com/FlavioCFOliveira/GoConvNet/internal/geometry"
)

// Layout is the order of the feature columns of a CSV row.
type Layout uint8

const (
	// LayoutVolume columns are already packed as described in package geometry.
	LayoutVolume Layout = iota
	// LayoutImage columns run row by row, then pixel by pixel, channels
	// innermost, the way image files store them.
	LayoutImage
)

// CSVFormat describes how the rows of a CSV file become samples.
type CSVFormat struct {
	// Input is the volume every feature row is reshaped into.
	Input  geometry.Dim
	Layout Layout

	// Labels lists the label columns in output order. Every other column
	// is a feature.
	Labels []int

	// Outputs, when positive, is the label count the network expects.
	Outputs int

	Header bool
}

// Dataset holds input volumes and their expected outputs, row by row.
type Dataset struct {
	Dim      geometry.Dim
	Features [][]float32
	Labels   [][]float32
}

// LoadCSV reads a dataset from a CSV file.
func LoadCSV(filename string, format CSVFormat) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ReadCSV(file, format)
}

// ReadCSV reads a dataset from r. All rows must have the same number of
// columns, and the feature columns must fill format.Input exactly.
func ReadCSV(r io.Reader, format CSVFormat) (*Dataset, error) {
	if format.Input.Width <= 0 || format.Input.Height <= 0 || format.Input.Depth <= 0 {
		return nil, fmt.Errorf("%w: input volume %s", errs.ErrInvalidInput, format.Input)
	}
	if format.Outputs > 0 && len(format.Labels) != format.Outputs {
		return nil, fmt.Errorf("%w: %d label columns for %d outputs",
			errs.ErrDimensionMismatch, len(format.Labels), format.Outputs)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	d := &Dataset{Dim: format.Input}
	var isLabel []bool

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		if isLabel == nil {
			if isLabel, err = labelColumns(len(record), format); err != nil {
				return nil, err
			}
		}
		if format.Header && line == 1 {
			continue
		}

		features, labels, err := parseRow(record, isLabel, format)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		d.Features = append(d.Features, features)
		d.Labels = append(d.Labels, labels)
	}

	if d.Len() == 0 {
		return nil, fmt.Errorf("%w: csv has no data rows", errs.ErrInvalidInput)
	}
	return d, nil
}

// labelColumns marks the label columns of a row with numCols columns.
func labelColumns(numCols int, format CSVFormat) ([]bool, error) {
	isLabel := make([]bool, numCols)
	for _, col := range format.Labels {
		if col < 0 || col >= numCols {
			return nil, fmt.Errorf("%w: label column %d out of range, %d columns", errs.ErrInvalidInput, col, numCols)
		}
		if isLabel[col] {
			return nil, fmt.Errorf("%w: label column %d listed twice", errs.ErrInvalidInput, col)
		}
		isLabel[col] = true
	}

	if got := numCols - len(format.Labels); got != format.Input.Size() {
		return nil, fmt.Errorf("%w: %d feature columns, input %s needs %d",
			errs.ErrDimensionMismatch, got, format.Input, format.Input.Size())
	}
	return isLabel, nil
}

func parseRow(record []string, isLabel []bool, format CSVFormat) (features, labels []float32, err error) {
	dim := format.Input
	features = make([]float32, dim.Size())
	labels = make([]float32, len(format.Labels))

	k := 0
	for col, field := range record {
		if isLabel[col] {
			continue
		}
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("column %d: %w", col, err)
		}

		offset := k
		if format.Layout == LayoutImage {
			z := k % dim.Depth
			x := k / dim.Depth % dim.Width
			y := k / (dim.Depth * dim.Width)
			offset = geometry.Index(x, y, z, dim)
		}
		features[offset] = float32(v)
		k++
	}

	for i, col := range format.Labels {
		v, err := strconv.ParseFloat(record[col], 32)
		if err != nil {
			return nil, nil, fmt.Errorf("column %d: %w", col, err)
		}
		labels[i] = float32(v)
	}
	return features, labels, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Features) }

// Samples pairs every feature row with its labels.
func (d *Dataset) Samples() []Sample {
	samples := make([]Sample, len(d.Features))
	for i := range d.Features {
		samples[i] = Sample{Input: d.Features[i], Expected: d.Labels[i]}
	}
	return samples
}

// Normalize rescales every channel to [0, 1] using the smallest and largest
// value it takes over all rows and positions. Constant channels become zero.
func (d *Dataset) Normalize() {
	depth := d.Dim.Depth
	if d.Len() == 0 || depth <= 0 {
		return
	}

	lo := make([]float32, depth)
	hi := make([]float32, depth)
	for z := range lo {
		lo[z], hi[z] = math32.Inf(1), math32.Inf(-1)
	}

	for _, row := range d.Features {
		for i, v := range row {
			_, _, z := geometry.Unindex(i, d.Dim)
			lo[z] = math32.Min(lo[z], v)
			hi[z] = math32.Max(hi[z], v)
		}
	}

	for _, row := range d.Features {
		for i, v := range row {
			_, _, z := geometry.Unindex(i, d.Dim)
			if span := hi[z] - lo[z]; span != 0 {
				row[i] = (v - lo[z]) / span
			} else {
				row[i] = 0
			}
		}
	}
}

// Split returns the first ratio of the rows as a training set and the rest
// as a test set. Both share rows with d. The training set must not be empty.
func (d *Dataset) Split(ratio float32) (train, test *Dataset, err error) {
	if ratio <= 0 || ratio > 1 {
		return nil, nil, fmt.Errorf("%w: split ratio %g outside (0, 1]", errs.ErrInvalidInput, ratio)
	}

	at := int(float32(d.Len()) * ratio)
	if at == 0 {
		return nil, nil, fmt.Errorf("%w: split %g of %d rows leaves no training rows", errs.ErrInvalidInput, ratio, d.Len())
	}

	train = &Dataset{Dim: d.Dim, Features: d.Features[:at], Labels: d.Labels[:at]}
	test = &Dataset{Dim: d.Dim, Features: d.Features[at:], Labels: d.Labels[at:]}
	return train, test, nil
}
