package net

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CSVLogger logs epoch results to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	// Err holds the first I/O error; logging stops once it is set.
	Err error

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
	}
}

func (c *CSVLogger) OnTrainBegin(n *Network) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		c.Err = fmt.Errorf("open %s: %w", c.Filename, err)
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.write([]string{"epoch", "error", "accuracy", "seconds"})
	}
}

func (c *CSVLogger) write(record []string) {
	if err := c.writer.Write(record); err != nil {
		c.Err = fmt.Errorf("write %s: %w", c.Filename, err)
		return
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.Err = fmt.Errorf("flush %s: %w", c.Filename, err)
	}
}

func (c *CSVLogger) OnEpochEnd(epoch int, stats BatchStats, n *Network) {
	if c.writer == nil || c.Err != nil {
		return
	}

	c.write([]string{
		strconv.Itoa(epoch),
		strconv.FormatFloat(float64(stats.MeanError()), 'f', 6, 32),
		strconv.FormatFloat(float64(stats.Accuracy()), 'f', 4, 32),
		fmt.Sprintf("%.2f", time.Since(c.start).Seconds()),
	})
}

func (c *CSVLogger) OnTrainEnd(n *Network) {
	if c.file != nil {
		c.writer.Flush()
		if err := c.file.Close(); err != nil && c.Err == nil {
			c.Err = err
		}
		c.file = nil
		c.writer = nil
	}
}
