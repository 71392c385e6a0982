// Package histo provides the fixed-binning accumulators used for depth-dose
// curves and transverse dose maps.
package histo

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"
)

var ErrAxisMismatch = errors.New("histograms have different binning")

// Hist1D is a fixed-size 1-D accumulator over [Low, High) split into equal
// bins. Bin i covers [LowEdge(i), LowEdge(i+1)). Fills outside the axis are
// tallied in the underflow/overflow counters and never reach a bin.
type Hist1D struct {
	low   float64
	high  float64
	bins  []float64
	under float64
	over  float64
}

// NewHist1D panics when n < 1 or high <= low.
func NewHist1D(n int, low, high float64) *Hist1D {
	if n < 1 {
		panic(fmt.Sprintf("histo: invalid number of bins (%d)", n))
	}
	if !(high > low) {
		panic(fmt.Sprintf("histo: invalid axis [%v, %v)", low, high))
	}
	return &Hist1D{low: low, high: high, bins: make([]float64, n)}
}

// FromValues builds a histogram over [low, high) holding a copy of values.
func FromValues(values []float64, low, high float64) *Hist1D {
	h := NewHist1D(len(values), low, high)
	copy(h.bins, values)
	return h
}

func (h *Hist1D) Len() int { return len(h.bins) }
func (h *Hist1D) Low() float64 { return h.low }
func (h *Hist1D) High() float64 { return h.high }
func (h *Hist1D) Underflow() float64 { return h.under }
func (h *Hist1D) Overflow() float64 { return h.over }

// Width returns the width of a single bin.
func (h *Hist1D) Width() float64 {
	return (h.high - h.low) / float64(len(h.bins))
}

// Bin returns the index of the bin containing x, or -1 when x is outside
// the axis.
func (h *Hist1D) Bin(x float64) int {
	if math.IsNaN(x) || x < h.low || x >= h.high {
		return -1
	}
	i := int(float64(len(h.bins)) * (x - h.low) / (h.high - h.low))
	if i >= len(h.bins) {
		return -1
	}
	return i
}

func (h *Hist1D) Fill(x, w float64) {
	switch i := h.Bin(x); {
	case i >= 0:
		h.bins[i] += w
	case x < h.low:
		h.under += w
	default:
		h.over += w
	}
}

func (h *Hist1D) Value(i int) float64 { return h.bins[i] }

func (h *Hist1D) SetValue(i int, v float64) { h.bins[i] = v }

// Values returns a copy of the bin contents.
func (h *Hist1D) Values() []float64 {
	out := make([]float64, len(h.bins))
	copy(out, h.bins)
	return out
}

func (h *Hist1D) LowEdge(i int) float64 {
	return h.low + float64(i)*(h.high-h.low)/float64(len(h.bins))
}

func (h *Hist1D) Center(i int) float64 {
	return h.low + (float64(i)+0.5)*(h.high-h.low)/float64(len(h.bins))
}

func (h *Hist1D) Scale(f float64) {
	floats.Scale(f, h.bins)
	h.under *= f
	h.over *= f
}

// AddScaled adds w*o bin by bin. Both histograms must share the same axis.
func (h *Hist1D) AddScaled(o *Hist1D, w float64) error {
	if !h.SameAxis(o) {
		return ErrAxisMismatch
	}
	floats.AddScaled(h.bins, w, o.bins)
	h.under += w * o.under
	h.over += w * o.over
	return nil
}

func (h *Hist1D) Reset() {
	for i := range h.bins {
		h.bins[i] = 0
	}
	h.under, h.over = 0, 0
}

func (h *Hist1D) Clone() *Hist1D {
	c := &Hist1D{low: h.low, high: h.high, under: h.under, over: h.over}
	c.bins = make([]float64, len(h.bins))
	copy(c.bins, h.bins)
	return c
}

// SameAxis reports whether o has the same number of bins and edges.
func (h *Hist1D) SameAxis(o *Hist1D) bool {
	return o != nil && len(h.bins) == len(o.bins) && h.low == o.low && h.high == o.high
}

// Range returns the inclusive bin interval covering the user range [lo, hi].
// A bound lying exactly on a bin edge does not pull in the neighbouring bin.
func (h *Hist1D) Range(lo, hi float64) (first, last int) {
	first = h.clampBin(lo)
	last = h.clampBin(hi)
	if first < len(h.bins)-1 && h.LowEdge(first+1) <= lo {
		first++
	}
	if last > 0 && h.LowEdge(last) >= hi {
		last--
	}
	return first, last
}

func (h *Hist1D) clampBin(x float64) int {
	switch {
	case x < h.low:
		return 0
	case x >= h.high:
		return len(h.bins) - 1
	}
	i := int(float64(len(h.bins)) * (x - h.low) / (h.high - h.low))
	if i >= len(h.bins) {
		i = len(h.bins) - 1
	}
	return i
}

// MaxBin returns the index of the largest bin within the user range
// [lo, hi]. Ties resolve to the lowest index.
func (h *Hist1D) MaxBin(lo, hi float64) int {
	first, last := h.Range(lo, hi)
	if last < first {
		return first
	}
	return first + floats.MaxIdx(h.bins[first:last+1])
}

// Max returns the index and content of the largest bin over the full axis.
func (h *Hist1D) Max() (int, float64) {
	i := floats.MaxIdx(h.bins)
	return i, h.bins[i]
}

// Sum returns the total in-range content.
func (h *Hist1D) Sum() float64 { return floats.Sum(h.bins) }

// H1D converts the histogram into an hbook histogram for rendering.
func (h *Hist1D) H1D() *hbook.H1D {
	out := hbook.NewH1D(len(h.bins), h.low, h.high)
	for i, v := range h.bins {
		if v != 0 {
			out.Fill(h.Center(i), v)
		}
	}
	return out
}
