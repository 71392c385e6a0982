package dose

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

// DefaultRangeFraction is the distal dose fraction defining the beam range
// (R80).
const DefaultRangeFraction = 0.8

type BraggOptions struct {
	Axis      Axis
	Volume    string
	Smoothing histo.SmoothMethod
	Passes    int
	// Fraction of the peak dose defining the distal range.
	Fraction float64
}

type BraggResult struct {
	EnergyMeV  float64       `json:"energy_mev"`
	PeakBin    int           `json:"peak_bin"`
	PeakDepth  float64       `json:"peak_depth_cm"`
	PeakDose   float64       `json:"peak_dose_mev"`
	RangeDepth float64       `json:"range_depth_cm"`
	Fraction   float64       `json:"range_fraction"`
	Steps      int64         `json:"steps"`
	Curve      *histo.Hist1D `json:"-"`
}

// AnalyzeBragg locates the Bragg peak of a single energy over the whole
// axis and the distal depth where the dose falls below Fraction of the peak.
func AnalyzeBragg(ctx context.Context, src eventlog.Source, energy float64, opts BraggOptions) (*BraggResult, error) {
	if err := opts.Axis.Validate(); err != nil {
		return nil, err
	}
	if opts.Fraction <= 0 || opts.Fraction >= 1 {
		opts.Fraction = DefaultRangeFraction
	}

	h := opts.Axis.New()
	var n int64
	err := src.Scan(ctx, func(st *eventlog.Step) error {
		if st.VolumeName == opts.Volume {
			h.Fill(st.XPre, st.Edep)
			n++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bragg %.4g MeV: %w", energy, err)
	}
	h.Smooth(opts.Smoothing, opts.Passes)

	peakBin, peak := h.Max()
	return &BraggResult{
		EnergyMeV:  energy,
		PeakBin:    peakBin,
		PeakDepth:  h.Center(peakBin),
		PeakDose:   peak,
		RangeDepth: h.Center(DistalBin(h, peakBin, opts.Fraction)),
		Fraction:   opts.Fraction,
		Steps:      n,
		Curve:      h,
	}, nil
}

// DistalBin returns the first bin past peakBin whose content drops below
// fraction of the peak content, or peakBin if the curve never does.
func DistalBin(h *histo.Hist1D, peakBin int, fraction float64) int {
	threshold := h.Value(peakBin) * fraction
	for i := peakBin; i < h.Len(); i++ {
		if h.Value(i) < threshold {
			return i
		}
	}
	return peakBin
}
