package dose

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

// MeVToJoule converts deposited energy to joules.
const MeVToJoule = 1.602e-13

// Phantom is the water box the beam stops in. The beam runs along its length.
type Phantom struct {
	LengthCM float64 `json:"length_cm"`
	WidthCM  float64 `json:"width_cm"`
	HeightCM float64 `json:"height_cm"`
	Density  float64 `json:"density_g_cm3"`
}

// SlabMass returns the volume (cm³) and mass (kg) of a transverse slab of the
// phantom with the given thickness.
func (p Phantom) SlabMass(thicknessCM float64) (volumeCM3, massKg float64) {
	volumeCM3 = thicknessCM * p.WidthCM * p.HeightCM
	massKg = volumeCM3 * p.Density / 1000
	return volumeCM3, massKg
}

// GrayPerMeV is the factor converting MeV deposited in one depth bin to Gy.
func (p Phantom) GrayPerMeV(binWidthCM float64) float64 {
	_, m := p.SlabMass(binWidthCM)
	if m <= 0 {
		return 0
	}
	return MeVToJoule / m
}

type AbsorbedOptions struct {
	Axis      Axis
	Window    Window
	Volume    string
	Smoothing histo.SmoothMethod
	Passes    int
	Phantom   Phantom
}

// Absorbed splits the depth-dose of one file into primary-proton and
// secondary contributions, in MeV and in Gy.
type Absorbed struct {
	EnergyMeV float64 `json:"energy_mev"`
	Primaries int64   `json:"primaries,omitempty"`

	Total     *histo.Hist1D `json:"-"`
	Primary   *histo.Hist1D `json:"-"`
	Secondary *histo.Hist1D `json:"-"`

	TotalGy     *histo.Hist1D `json:"-"`
	PrimaryGy   *histo.Hist1D `json:"-"`
	SecondaryGy *histo.Hist1D `json:"-"`

	PeakDepth       float64 `json:"peak_depth_cm"`
	PeakDoseGy      float64 `json:"peak_dose_gy"`
	BinVolumeCM3    float64 `json:"bin_volume_cm3"`
	BinMassKg       float64 `json:"bin_mass_kg"`
	PeakGyPerProton float64 `json:"peak_gy_per_proton,omitempty"`
}

// AnalyzeAbsorbed fills total and primary depth-dose curves in a single pass.
// primaries is the number of simulated protons (0 if unknown).
func AnalyzeAbsorbed(ctx context.Context, src eventlog.Source, energy float64, primaries int64, opts AbsorbedOptions) (*Absorbed, error) {
	if err := opts.Axis.Validate(); err != nil {
		return nil, err
	}

	total := opts.Axis.New()
	primary := opts.Axis.New()
	err := src.Scan(ctx, func(st *eventlog.Step) error {
		if st.VolumeName != opts.Volume {
			return nil
		}
		total.Fill(st.XPre, st.Edep)
		if st.Primary() {
			primary.Fill(st.XPre, st.Edep)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("absorbed dose %.4g MeV: %w", energy, err)
	}

	secondary := total.Clone()
	if err := secondary.AddScaled(primary, -1); err != nil {
		return nil, err
	}

	a := &Absorbed{EnergyMeV: energy, Primaries: primaries}
	a.BinVolumeCM3, a.BinMassKg = opts.Phantom.SlabMass(total.Width())
	scale := opts.Phantom.GrayPerMeV(total.Width())

	for _, h := range []*histo.Hist1D{total, primary, secondary} {
		h.Smooth(opts.Smoothing, opts.Passes)
	}
	a.Total, a.Primary, a.Secondary = total, primary, secondary
	a.TotalGy, a.PrimaryGy, a.SecondaryGy = scaled(total, scale), scaled(primary, scale), scaled(secondary, scale)

	peakBin := a.PrimaryGy.MaxBin(opts.Window.Min, opts.Window.Max)
	a.PeakDepth = a.PrimaryGy.Center(peakBin)
	a.PeakDoseGy = a.PrimaryGy.Value(peakBin)
	if primaries > 0 {
		a.PeakGyPerProton = a.PeakDoseGy / float64(primaries)
	}
	return a, nil
}

func scaled(h *histo.Hist1D, f float64) *histo.Hist1D {
	c := h.Clone()
	c.Scale(f)
	return c
}
