package render

import (
	"fmt"
	"path/filepath"
	"strconv"

	"go-hep.org/x/hep/csvutil"
	"gonum.org/v1/plot/vg"

	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
)

const (
	PeaksFile     = "bragg_peaks.png"
	SOBPFile      = "sobp.png"
	CompositeFile = "sobp_composite.csv"
)

// Peaks draws every layer curve on a common normalized axis.
func Peaks(path string, layers []sobp.Layer) error {
	p := newPlot("Normalized Bragg Peaks", "Depth (cm)", "Normalized Dose")
	p.Y.Min, p.Y.Max = 0, 1.5
	p.X.Min, p.X.Max = DepthMin, DepthMax

	colors := layerColors(len(layers))
	for i, l := range layers {
		line, err := curve(l.Curve, DepthMin, DepthMax, 1, colors[i], vg.Points(1))
		if err != nil {
			return err
		}
		p.Add(line)
	}
	return save(p, path)
}

// SOBP draws the composite dose with every layer scaled by its weight.
func SOBP(path string, layers []sobp.Layer, res *sobp.Result) error {
	p := newPlot("Optimized SOBP", "Depth (cm)", "Dose (a.u.)")
	p.Y.Min = 0
	p.X.Min, p.X.Max = DepthMin, DepthMax

	colors := layerColors(len(layers))
	for i, l := range layers {
		line, err := curve(l.Curve, DepthMin, DepthMax, res.Weights[i], colors[i], vg.Points(1))
		if err != nil {
			return err
		}
		p.Add(line)
	}
	total, err := curve(res.Composite, DepthMin, DepthMax, 1, black, vg.Points(3))
	if err != nil {
		return err
	}
	p.Add(total)
	p.Legend.Add("SOBP", total)
	return save(p, path)
}

// SolveOutputs writes the peak and SOBP plots into dir and returns their
// paths.
func SolveOutputs(dir string, layers []sobp.Layer, res *sobp.Result) ([]string, error) {
	peaks := filepath.Join(dir, PeaksFile)
	if err := Peaks(peaks, layers); err != nil {
		return nil, err
	}
	total := filepath.Join(dir, SOBPFile)
	if err := SOBP(total, layers, res); err != nil {
		return nil, err
	}
	return []string{peaks, total}, nil
}

// CompositeCSV writes one row per depth bin: depth, composite dose and every
// weighted layer contribution.
func CompositeCSV(path string, layers []sobp.Layer, res *sobp.Result) error {
	tbl, err := csvutil.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	tbl.Writer.Comma = ','

	hdr := "# depth_cm,composite"
	for _, l := range layers {
		hdr += ",layer_" + strconv.FormatFloat(l.EnergyMeV, 'f', -1, 64) + "MeV"
	}
	if err := tbl.WriteHeader(hdr + "\n"); err != nil {
		tbl.Close()
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]interface{}, 2+len(layers))
	for b := 0; b < res.Composite.Len(); b++ {
		row[0] = res.Composite.Center(b)
		row[1] = res.Composite.Value(b)
		for i, l := range layers {
			row[2+i] = res.Weights[i] * l.Curve.Value(b)
		}
		if err := tbl.WriteRow(row...); err != nil {
			tbl.Close()
			return fmt.Errorf("write row %d: %w", b, err)
		}
	}
	return tbl.Close()
}
