// Package dose turns step logs into depth-dose curves and the derived
// quantities used for treatment planning: normalized Bragg curves, distal
// ranges, absorbed dose in Gy, transverse profiles and process tallies.
package dose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

var ErrInvalidAxis = errors.New("invalid histogram axis")

// Axis describes a fixed binning.
type Axis struct {
	Bins int     `json:"bins"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func (a Axis) Validate() error {
	if a.Bins < 1 || !(a.Max > a.Min) {
		return fmt.Errorf("%w: %d bins over [%v, %v)", ErrInvalidAxis, a.Bins, a.Min, a.Max)
	}
	return nil
}

func (a Axis) New() *histo.Hist1D { return histo.NewHist1D(a.Bins, a.Min, a.Max) }

// Window is a closed depth interval in cm.
type Window struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Curve is the depth-dose curve of one beam energy layer.
type Curve struct {
	EnergyMeV float64
	Hist      *histo.Hist1D

	// PeakBin is the maximum inside the peak window; PeakValue is its
	// content before normalization.
	PeakBin   int
	PeakValue float64

	Normalized bool
	// Degenerate marks a curve whose peak is not positive. It is left
	// un-normalized.
	Degenerate bool

	Steps int64
}

// PeakDepth returns the depth of the peak bin center.
func (c *Curve) PeakDepth() float64 { return c.Hist.Center(c.PeakBin) }

// Normalize scales h so that its maximum inside w equals 1. It returns the
// peak bin and the peak value found before scaling; ok is false, and h is left
// untouched, when that value is not positive. A curve already normalized to 1
// is unchanged.
func Normalize(h *histo.Hist1D, w Window) (peakBin int, peak float64, ok bool) {
	peakBin = h.MaxBin(w.Min, w.Max)
	peak = h.Value(peakBin)
	if !(peak > 0) {
		return peakBin, peak, false
	}
	if peak != 1 {
		h.Scale(1 / peak)
	}
	return peakBin, peak, true
}

// IngestOptions controls how raw steps become a normalized curve.
type IngestOptions struct {
	Axis      Axis
	Window    Window
	Volume    string
	Smoothing histo.SmoothMethod
	Passes    int
}

// Ingester builds normalized depth-dose curves.
type Ingester struct {
	opts   IngestOptions
	logger *slog.Logger
}

func NewIngester(opts IngestOptions, logger *slog.Logger) (*Ingester, error) {
	if err := opts.Axis.Validate(); err != nil {
		return nil, err
	}
	if opts.Window.Max < opts.Window.Min {
		return nil, fmt.Errorf("peak window [%v, %v] is empty", opts.Window.Min, opts.Window.Max)
	}
	return &Ingester{opts: opts, logger: logger}, nil
}

func (in *Ingester) Options() IngestOptions { return in.opts }

// Ingest accumulates the energy deposited in the detector volume against the
// pre-step depth, then smooths and normalizes the curve.
func (in *Ingester) Ingest(ctx context.Context, src eventlog.Source, energy float64) (*Curve, error) {
	h := in.opts.Axis.New()
	var n int64
	err := src.Scan(ctx, func(st *eventlog.Step) error {
		if st.VolumeName != in.opts.Volume {
			return nil
		}
		h.Fill(st.XPre, st.Edep)
		n++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accumulate %.4g MeV: %w", energy, err)
	}

	c := in.finish(energy, h)
	c.Steps = n
	return c, nil
}

// FromValues ingests an already accumulated histogram given as raw bin
// contents over the configured axis.
func (in *Ingester) FromValues(energy float64, values []float64) (*Curve, error) {
	if len(values) != in.opts.Axis.Bins {
		return nil, fmt.Errorf("%w: got %d bins, want %d", ErrInvalidAxis, len(values), in.opts.Axis.Bins)
	}
	return in.finish(energy, histo.FromValues(values, in.opts.Axis.Min, in.opts.Axis.Max)), nil
}

func (in *Ingester) finish(energy float64, h *histo.Hist1D) *Curve {
	h.Smooth(in.opts.Smoothing, in.opts.Passes)

	c := &Curve{EnergyMeV: energy, Hist: h}
	bin, peak, ok := Normalize(h, in.opts.Window)
	c.PeakBin, c.PeakValue = bin, peak
	if !ok {
		c.Degenerate = true
		in.logger.Warn("degenerate depth-dose curve, left un-normalized",
			"energy_mev", energy,
			"peak_bin", bin,
			"peak_value", peak,
		)
		return c
	}
	c.Normalized = true
	in.logger.Debug("curve normalized",
		"energy_mev", energy,
		"peak_bin", bin,
		"peak_depth_cm", h.Center(bin),
	)
	return c
}

// IngestFiles ingests every layer file in order.
func (in *Ingester) IngestFiles(ctx context.Context, files []eventlog.LayerFile, tree string) ([]*Curve, error) {
	curves := make([]*Curve, 0, len(files))
	for _, lf := range files {
		c, err := in.Ingest(ctx, eventlog.Open(lf, tree), lf.EnergyMeV)
		if err != nil {
			return nil, err
		}
		in.logger.Info("layer ingested",
			"energy_mev", lf.EnergyMeV,
			"file", lf.Path,
			"steps", c.Steps,
			"peak_bin", c.PeakBin,
			"normalized", c.Normalized,
		)
		curves = append(curves, c)
	}
	return curves, nil
}
