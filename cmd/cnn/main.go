package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/GoConvNet/convnet"
)

// Creates, trains, tests and runs a small convolutional network on a CSV
// dataset, or on a synthetic "bright left half vs bright right half" task
// when no dataset is given.
//
//	create  build and initialize a network, then save it
//	train   train a new or loaded network, then save it
//	test    report the error and accuracy of a loaded network
//	run     print the outputs of a loaded network for every row
func main() {
	mode := flag.String("mode", "train", "One of create, train, test or run")
	load := flag.String("load", "", "Start from the network saved in this file (required by test and run)")
	save := flag.String("save", "", "Save the network to this file")
	checkpoint := flag.Int("checkpoint", 0, "Also save the network every N batches while training")
	start := flag.Int("start", 0, "Batches of the first epoch to skip when resuming a run")
	gguf := flag.String("gguf", "", "Export the trained network as GGUF to this file")
	logCSV := flag.String("log-csv", "", "Append per-epoch results to this CSV file")

	dataFile := flag.String("data", "", "CSV file with one sample per row (empty = synthetic data)")
	labels := flag.String("labels", "0", "Comma separated label column indices, may be empty in run mode")
	header := flag.Bool("header", false, "CSV file has a header row")
	image := flag.Bool("image", false, "Feature columns are stored row by row with channels innermost")
	normalize := flag.Bool("normalize", false, "Rescale every input channel to [0, 1]")
	width := flag.Int("width", 8, "Input width of a new network")
	height := flag.Int("height", 8, "Input height of a new network")
	depth := flag.Int("depth", 1, "Input depth of a new network")

	activation := flag.String("activation", "relu", "Hidden activation: identity, sigmoid, relu or leakyrelu")
	slope := flag.Float64("slope", 0.01, "Negative slope of leakyrelu")
	lossName := flag.String("loss", "bce", "Error function: bce or mse")
	pool := flag.String("pool", "max", "Pooling reduction: max or average")
	filters := flag.Int("filters", 4, "Convolution kernels of a new network")
	hidden := flag.Int("hidden", 16, "Hidden dense neurons of a new network")

	epochs := flag.Int("epochs", 20, "Number of training epochs")
	batchSize := flag.Int("batch", 16, "Batch size for training")
	workers := flag.Int("workers", runtime.NumCPU(), "Worker goroutines per batch")
	lr := flag.Float64("lr", 0.05, "Learning rate")
	seed := flag.Uint64("seed", 42, "Seed for initialization, shuffling and synthetic data")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	err := run(log, os.Stdout, config{
		mode:       *mode,
		load:       *load,
		save:       *save,
		checkpoint: *checkpoint,
		start:      *start,
		gguf:       *gguf,
		logCSV:     *logCSV,
		dataFile:   *dataFile,
		labels:     *labels,
		header:     *header,
		image:      *image,
		normalize:  *normalize,
		input:      convnet.Dim{Width: *width, Height: *height, Depth: *depth},
		activation: *activation,
		slope:      float32(*slope),
		loss:       *lossName,
		pool:       *pool,
		filters:    *filters,
		hidden:     *hidden,
		epochs:     *epochs,
		batchSize:  *batchSize,
		workers:    *workers,
		lr:         float32(*lr),
		seed:       *seed,
	})
	if err != nil {
		log.Error("cnn failed", "mode", *mode, "err", err)
		os.Exit(1)
	}
}

type config struct {
	mode       string
	load       string
	save       string
	checkpoint int
	start      int
	gguf       string
	logCSV     string

	dataFile  string
	labels    string
	header    bool
	image     bool
	normalize bool
	input     convnet.Dim

	activation string
	slope      float32
	loss       string
	pool       string
	filters    int
	hidden     int

	epochs    int
	batchSize int
	workers   int
	lr        float32
	seed      uint64
}

// Rows of synthetic data, 80% of which are used for training.
const syntheticRows = 200

func run(log *slog.Logger, out io.Writer, cfg config) error {
	switch cfg.mode {
	case "create":
		return create(log, out, cfg)
	case "train":
		return train(log, out, cfg)
	case "test":
		return test(log, out, cfg)
	case "run":
		return predict(log, out, cfg)
	}
	return fmt.Errorf("%w: unknown mode %q", convnet.ErrInvalidInput, cfg.mode)
}

func create(log *slog.Logger, out io.Writer, cfg config) error {
	if cfg.save == "" {
		return fmt.Errorf("%w: create needs -save", convnet.ErrInvalidInput)
	}
	n, err := network(log, cfg)
	if err != nil {
		return err
	}
	n.Summary(out)

	if err := n.Save(cfg.save); err != nil {
		return err
	}
	log.Info("network created", "file", cfg.save)
	return nil
}

func train(log *slog.Logger, out io.Writer, cfg config) error {
	n, err := network(log, cfg)
	if err != nil {
		return err
	}
	data, err := loadData(n, cfg, true)
	if err != nil {
		return err
	}
	trainSet, testSet, err := data.Split(0.8)
	if err != nil {
		return err
	}
	log.Info("data loaded", "train", trainSet.Len(), "test", testSet.Len(), "input", data.Dim.String())
	n.Summary(out)

	tc := convnet.DefaultTrainConfig()
	tc.Epochs = cfg.epochs
	tc.BatchSize = cfg.batchSize
	tc.Workers = cfg.workers
	tc.LearningRate = cfg.lr
	tc.Seed = cfg.seed
	tc.StartBatch = cfg.start

	callbacks := []convnet.Callback{
		convnet.Logger(log, 0),
		convnet.EarlyStopping(5, 1e-4),
	}
	var cp *convnet.Checkpoint
	if cfg.checkpoint > 0 {
		if cfg.save == "" {
			return fmt.Errorf("%w: -checkpoint needs -save", convnet.ErrInvalidInput)
		}
		cp = convnet.ModelCheckpoint(cfg.save, cfg.checkpoint)
		cp.Log = log
		callbacks = append(callbacks, cp)
	}
	if cfg.logCSV != "" {
		callbacks = append(callbacks, convnet.CSVLogger(cfg.logCSV, true))
	}

	if err := convnet.NewTrainer(tc, callbacks...).Fit(n, trainSet.Samples()); err != nil {
		return err
	}
	if cp != nil && cp.Err != nil {
		return fmt.Errorf("checkpoint failed: %w", cp.Err)
	}

	if testSet.Len() > 0 {
		stats, err := convnet.Evaluate(n, testSet.Samples())
		if err != nil {
			return fmt.Errorf("failed to evaluate: %w", err)
		}
		log.Info("test set", "error", stats.MeanError(), "accuracy", stats.Accuracy())
	}

	if cfg.save != "" {
		if err := n.Save(cfg.save); err != nil {
			return err
		}
		log.Info("network saved", "file", cfg.save)
	}
	if cfg.gguf != "" {
		if err := n.SaveGGUF(cfg.gguf, convnet.F32); err != nil {
			return err
		}
		log.Info("network exported", "file", cfg.gguf)
	}
	return nil
}

func test(log *slog.Logger, out io.Writer, cfg config) error {
	if cfg.load == "" {
		return fmt.Errorf("%w: test needs -load", convnet.ErrInvalidInput)
	}
	n, err := network(log, cfg)
	if err != nil {
		return err
	}
	data, err := loadData(n, cfg, true)
	if err != nil {
		return err
	}

	stats, err := convnet.Evaluate(n, data.Samples())
	if err != nil {
		return fmt.Errorf("failed to evaluate: %w", err)
	}
	log.Info("test", "samples", stats.Samples(), "error", stats.MeanError(), "accuracy", stats.Accuracy())
	fmt.Fprintf(out, "correct %d, incorrect %d, accuracy %.4f, mean error %.6f\n",
		stats.Correct, stats.Incorrect, stats.Accuracy(), stats.MeanError())
	return nil
}

// predict writes one CSV record of network outputs per data row.
func predict(log *slog.Logger, out io.Writer, cfg config) error {
	if cfg.load == "" {
		return fmt.Errorf("%w: run needs -load", convnet.ErrInvalidInput)
	}
	n, err := network(log, cfg)
	if err != nil {
		return err
	}
	data, err := loadData(n, cfg, false)
	if err != nil {
		return err
	}

	w := csv.NewWriter(out)
	var record []string
	for i, input := range data.Features {
		values, err := n.Predict(input)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		record = record[:0]
		for _, v := range values {
			record = append(record, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	log.Info("run", "rows", data.Len())
	return nil
}

// network loads the network named by -load, or builds and initializes a new
// one from the architecture flags.
func network(log *slog.Logger, cfg config) (*convnet.Network, error) {
	if cfg.load != "" {
		n, err := convnet.Load(cfg.load)
		if err != nil {
			return nil, err
		}
		log.Info("network loaded", "file", cfg.load, "layers", n.Len())
		return n, nil
	}

	act, err := convnet.ParseActivation(cfg.activation, cfg.slope)
	if err != nil {
		return nil, err
	}
	fn, err := convnet.ParseLoss(cfg.loss)
	if err != nil {
		return nil, err
	}
	pool, err := convnet.ParsePoolKind(cfg.pool)
	if err != nil {
		return nil, err
	}

	outputs := 1
	if cfg.dataFile != "" {
		cols, err := labelColumns(cfg.labels)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: a new network needs at least one label column", convnet.ErrInvalidInput)
		}
		outputs = len(cols)
	}

	n, err := convnet.NewSequential(fn, cfg.input, 1).
		Conv(act, cfg.filters, 3, 1, 0).
		Pool(pool, 2, 2, 0).
		Dense(act, cfg.hidden).
		Dense(convnet.Sigmoid, outputs).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build network: %w", err)
	}
	n.InitializeAll(convnet.UniformHe, convnet.NewSource(cfg.seed))
	return n, nil
}

func labelColumns(labels string) ([]int, error) {
	if strings.TrimSpace(labels) == "" {
		return nil, nil
	}

	var cols []int
	for _, s := range strings.Split(labels, ",") {
		col, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid label column %q: %w", s, err)
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// loadData reads the rows shaped for the input of n. With labelled set, the
// label columns must match the outputs of n.
func loadData(n *convnet.Network, cfg config, labelled bool) (*convnet.Dataset, error) {
	dim, err := n.InputDim()
	if err != nil {
		return nil, err
	}
	outputs, err := n.NumOutputs()
	if err != nil {
		return nil, err
	}

	if cfg.dataFile == "" {
		if labelled && outputs != 1 {
			return nil, fmt.Errorf("%w: synthetic data has one label, network has %d outputs",
				convnet.ErrDimensionMismatch, outputs)
		}
		return syntheticHalves(dim, syntheticRows, cfg.seed), nil
	}

	cols, err := labelColumns(cfg.labels)
	if err != nil {
		return nil, err
	}
	format := convnet.CSVFormat{Input: dim, Labels: cols, Header: cfg.header}
	if labelled {
		format.Outputs = outputs
	}
	if cfg.image {
		format.Layout = convnet.LayoutImage
	}

	data, err := convnet.LoadCSV(cfg.dataFile, format)
	if err != nil {
		return nil, err
	}
	if cfg.normalize {
		data.Normalize()
	}
	return data, nil
}

// syntheticHalves returns volumes filled with dim noise where either the left
// or the right half is bright. The label is 1 for a bright left half.
func syntheticHalves(dim convnet.Dim, count int, seed uint64) *convnet.Dataset {
	r := rand.New(rand.NewSource(seed))
	data := &convnet.Dataset{
		Dim:      dim,
		Features: make([][]float32, count),
		Labels:   make([][]float32, count),
	}

	for i := 0; i < count; i++ {
		left := i%2 == 0
		input := make([]float32, dim.Size())
		for x := 0; x < dim.Width; x++ {
			bright := (x < dim.Width/2) == left
			for y := 0; y < dim.Height; y++ {
				for z := 0; z < dim.Depth; z++ {
					v := r.Float32() * 0.4
					if bright {
						v += 0.6
					}
					input[convnet.Index(x, y, z, dim)] = v
				}
			}
		}

		label := float32(0)
		if left {
			label = 1
		}
		data.Features[i] = input
		data.Labels[i] = []float32{label}
	}
	return data
}
