package histo

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Hist2D is a fixed nx-by-ny grid over [XLow, XHigh) x [YLow, YHigh). It
// satisfies gonum's plotter.GridXYZ so it can be drawn as a heat map.
type Hist2D struct {
	xlo, xhi float64
	ylo, yhi float64
	nx, ny   int
	data     []float64
}

func NewHist2D(nx int, xlo, xhi float64, ny int, ylo, yhi float64) *Hist2D {
	if nx < 1 || ny < 1 || !(xhi > xlo) || !(yhi > ylo) {
		panic(fmt.Sprintf("histo: invalid 2D binning %dx%d", nx, ny))
	}
	return &Hist2D{
		xlo: xlo, xhi: xhi, ylo: ylo, yhi: yhi,
		nx: nx, ny: ny,
		data: make([]float64, nx*ny),
	}
}

func (h *Hist2D) index(x, y float64) int {
	if x < h.xlo || x >= h.xhi || y < h.ylo || y >= h.yhi {
		return -1
	}
	c := int(float64(h.nx) * (x - h.xlo) / (h.xhi - h.xlo))
	r := int(float64(h.ny) * (y - h.ylo) / (h.yhi - h.ylo))
	if c >= h.nx || r >= h.ny {
		return -1
	}
	return r*h.nx + c
}

func (h *Hist2D) Fill(x, y, w float64) {
	if i := h.index(x, y); i >= 0 {
		h.data[i] += w
	}
}

func (h *Hist2D) Dims() (c, r int) { return h.nx, h.ny }

func (h *Hist2D) Z(c, r int) float64 { return h.data[r*h.nx+c] }

func (h *Hist2D) X(c int) float64 {
	return h.xlo + (float64(c)+0.5)*(h.xhi-h.xlo)/float64(h.nx)
}

func (h *Hist2D) Y(r int) float64 {
	return h.ylo + (float64(r)+0.5)*(h.yhi-h.ylo)/float64(h.ny)
}

func (h *Hist2D) Max() float64 { return floats.Max(h.data) }

func (h *Hist2D) Sum() float64 { return floats.Sum(h.data) }
