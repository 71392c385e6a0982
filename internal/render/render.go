// Package render draws depth-dose curves, SOBP compositions and transverse
// maps to PNG files.
package render

import (
	"fmt"
	"image/color"
	"path/filepath"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

// Depth range shown on depth-dose plots.
const (
	DepthMin = -15.0
	DepthMax = 15.0
)

const (
	width  = 8 * vg.Inch
	height = 5 * vg.Inch
)

var black = color.RGBA{A: 255}

// layerColors spreads n colors over a diverging palette, shallow layers blue
// and deep layers red.
func layerColors(n int) []color.Color {
	if n < 2 {
		return []color.Color{color.RGBA{R: 200, A: 255}}
	}
	cm := moreland.SmoothBlueRed()
	cm.SetMin(0)
	cm.SetMax(1)
	return cm.Palette(n).Colors()
}

func newPlot(title, xlabel, ylabel string) *hplot.Plot {
	p := hplot.New()
	p.Title.Text = title
	p.Title.Padding = 2 * vg.Millimeter
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Legend.Padding = 2 * vg.Millimeter
	p.Add(hplot.NewGrid())
	return p
}

// curve converts the bins of h inside [lo, hi] into a line scaled by f.
func curve(h *histo.Hist1D, lo, hi, f float64, c color.Color, w vg.Length) (*plotter.Line, error) {
	first, last := h.Range(lo, hi)
	pts := make(plotter.XYs, 0, last-first+1)
	for i := first; i <= last; i++ {
		pts = append(pts, plotter.XY{X: h.Center(i), Y: f * h.Value(i)})
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("line: %w", err)
	}
	l.LineStyle.Color = c
	l.LineStyle.Width = w
	return l, nil
}

// marker draws a vertical dashed line at x from 0 to top.
func marker(x, top float64, c color.Color) (*plotter.Line, error) {
	l, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: top}})
	if err != nil {
		return nil, err
	}
	l.LineStyle.Color = c
	l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	return l, nil
}

func save(p *hplot.Plot, path string) error {
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}
