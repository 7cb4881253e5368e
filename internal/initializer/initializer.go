// Package initializer fills parameter buffers with Xavier or He distributed values.
package initializer

import (
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Scheme selects the distribution used to fill a parameter buffer.
type Scheme uint8

const (
	// UniformXavier samples U(-b, b) with b = sqrt(6 / (fanIn + fanOut)).
	UniformXavier Scheme = iota
	// UniformHe samples U(-b, b) with b = sqrt(6 / fanIn).
	UniformHe
	// NormalXavier samples N(0, s) with s = sqrt(2 / (fanIn + fanOut)).
	NormalXavier
	// NormalHe samples N(0, s) with s = sqrt(2 / fanIn).
	NormalHe
)

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case UniformXavier:
		return "UniformXavier"
	case UniformHe:
		return "UniformHe"
	case NormalXavier:
		return "NormalXavier"
	case NormalHe:
		return "NormalHe"
	default:
		return fmt.Sprintf("Scheme(%d)", uint8(s))
	}
}

// NewSource returns a deterministic random source for the given seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewSource(seed)
}

// Fill overwrites every element of buf with an independent sample drawn
// according to scheme. Nothing is written when a fan count makes the
// distribution undefined.
func Fill(scheme Scheme, fanIn, fanOut int, buf []float32, src rand.Source) {
	if len(buf) == 0 || fanIn <= 0 {
		return
	}

	var dist distuv.Rander
	switch scheme {
	case UniformXavier:
		bound := float64(math32.Sqrt(6 / float32(fanIn+fanOut)))
		dist = distuv.Uniform{Min: -bound, Max: bound, Src: src}
	case UniformHe:
		bound := float64(math32.Sqrt(6 / float32(fanIn)))
		dist = distuv.Uniform{Min: -bound, Max: bound, Src: src}
	case NormalXavier:
		stddev := float64(math32.Sqrt(2 / float32(fanIn+fanOut)))
		dist = distuv.Normal{Mu: 0, Sigma: stddev, Src: src}
	case NormalHe:
		stddev := float64(math32.Sqrt(2 / float32(fanIn)))
		dist = distuv.Normal{Mu: 0, Sigma: stddev, Src: src}
	default:
		return
	}

	for i := range buf {
		buf[i] = float32(dist.Rand())
	}
}
