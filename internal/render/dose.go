package render

import (
	"fmt"
	"image/color"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

var (
	red   = color.RGBA{R: 220, A: 255}
	blue  = color.RGBA{B: 220, A: 255}
	green = color.RGBA{G: 160, A: 255}
)

// Bragg draws a single depth-dose curve with its peak and distal range
// marked.
func Bragg(path string, r *dose.BraggResult) error {
	p := newPlot(fmt.Sprintf("Bragg Peak - %.4g MeV", r.EnergyMeV), "Depth (cm)", "Energy deposited (MeV)")
	p.X.Min, p.X.Max = DepthMin, DepthMax

	h := hplot.NewH1D(r.Curve.H1D())
	h.LineStyle.Color = blue
	h.LineStyle.Width = vg.Points(2)
	p.Add(h)

	pk, err := marker(r.PeakDepth, r.PeakDose, red)
	if err != nil {
		return err
	}
	p.Add(pk)
	p.Legend.Add(fmt.Sprintf("peak %.2f cm", r.PeakDepth), pk)

	rng, err := marker(r.RangeDepth, r.PeakDose*r.Fraction, green)
	if err != nil {
		return err
	}
	p.Add(rng)
	p.Legend.Add(fmt.Sprintf("R%.0f %.2f cm", 100*r.Fraction, r.RangeDepth), rng)
	return save(p, path)
}

// Absorbed draws the total, primary and secondary dose in Gy.
func Absorbed(path string, a *dose.Absorbed) error {
	p := newPlot(fmt.Sprintf("Absorbed dose - %.4g MeV", a.EnergyMeV), "Depth (cm)", "Dose (Gy)")
	p.X.Min, p.X.Max = DepthMin, DepthMax
	p.Y.Min = 0

	series := []struct {
		label string
		hist  *histo.Hist1D
		color color.Color
	}{
		{"total", a.TotalGy, black},
		{"primary protons", a.PrimaryGy, blue},
		{"secondaries", a.SecondaryGy, red},
	}
	for _, s := range series {
		l, err := curve(s.hist, DepthMin, DepthMax, 1, s.color, vg.Points(2))
		if err != nil {
			return err
		}
		p.Add(l)
		p.Legend.Add(s.label, l)
	}
	return save(p, path)
}

// Profiles compares the peak-normalized Y profiles of every depth slice.
func Profiles(path string, t *dose.Transverse) error {
	p := newPlot("Lateral profiles", "Y (cm)", "Relative dose")
	p.Y.Min, p.Y.Max = 0, 1.1

	colors := layerColors(len(t.Slices))
	for i, s := range t.Slices {
		n := dose.PeakNormalized(s.Y)
		l, err := curve(n, n.Low(), n.High(), 1, colors[i], vg.Points(2))
		if err != nil {
			return err
		}
		p.Add(l)
		p.Legend.Add(fmt.Sprintf("%s (%g,%g) cm", s.Slice.Name, s.Slice.Min, s.Slice.Max), l)
	}
	return save(p, path)
}

// HeatMap draws the Y-Z dose map of one slice.
func HeatMap(path string, s *dose.SliceProfile) error {
	p := newPlot(fmt.Sprintf("Y-Z dose, x in (%g,%g) cm", s.Slice.Min, s.Slice.Max), "Y (cm)", "Z (cm)")

	top := s.YZ.Max()
	if !(top > 0) {
		top = 1
	}
	cm := moreland.ExtendedBlackBody()
	cm.SetMin(0)
	cm.SetMax(top)
	hm := plotter.NewHeatMap(s.YZ, cm.Palette(255))
	hm.Min, hm.Max = 0, top
	p.Add(hm)
	return save(p, path)
}
