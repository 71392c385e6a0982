package dose

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

// Slice is an open depth interval (Min, Max) in cm.
type Slice struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

func (s Slice) Contains(x float64) bool { return x > s.Min && x < s.Max }

// DefaultSlices are the entrance, mid-phantom and Bragg-peak regions of a
// 150 MeV beam.
func DefaultSlices() []Slice {
	return []Slice{
		{Name: "entrance", Min: -9, Max: -7},
		{Name: "middle", Min: -1, Max: 1},
		{Name: "peak", Min: 4, Max: 6},
	}
}

type TransverseOptions struct {
	Volume  string
	Slices  []Slice
	Profile Axis // Y and Z profiles
	Map     Axis // both axes of the Y-Z map
}

type SliceProfile struct {
	Slice Slice
	Y     *histo.Hist1D
	Z     *histo.Hist1D
	YZ    *histo.Hist2D
}

// FWHM returns the full width at half maximum of the Y profile.
func (p *SliceProfile) FWHM() float64 { return FWHM(p.Y) }

type Transverse struct {
	Slices []*SliceProfile
	Steps  int64
}

// AnalyzeTransverse fills the lateral dose profiles of every depth slice in a
// single pass over src.
func AnalyzeTransverse(ctx context.Context, src eventlog.Source, opts TransverseOptions) (*Transverse, error) {
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Map.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Slices) == 0 {
		opts.Slices = DefaultSlices()
	}

	out := &Transverse{}
	for _, s := range opts.Slices {
		out.Slices = append(out.Slices, &SliceProfile{
			Slice: s,
			Y:     opts.Profile.New(),
			Z:     opts.Profile.New(),
			YZ:    histo.NewHist2D(opts.Map.Bins, opts.Map.Min, opts.Map.Max, opts.Map.Bins, opts.Map.Min, opts.Map.Max),
		})
	}

	err := src.Scan(ctx, func(st *eventlog.Step) error {
		out.Steps++
		if st.VolumeName != opts.Volume {
			return nil
		}
		for _, p := range out.Slices {
			if !p.Slice.Contains(st.XPre) {
				continue
			}
			p.Y.Fill(st.YPre, st.Edep)
			p.Z.Fill(st.ZPre, st.Edep)
			p.YZ.Fill(st.YPre, st.ZPre, st.Edep)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transverse profiles: %w", err)
	}
	return out, nil
}

var ErrNoPeakDose = errors.New("no dose inside the peak search window")

// PeakSliceOptions locate the Bragg peak of a single layer on an unsmoothed
// depth-dose and cut HalfWidth cm either side of it.
type PeakSliceOptions struct {
	Volume    string
	Axis      Axis
	Window    Window
	HalfWidth float64
}

// PeakSlice returns the open slice centred on the largest bin of the
// depth-dose of src inside opts.Window.
func PeakSlice(ctx context.Context, src eventlog.Source, name string, opts PeakSliceOptions) (Slice, error) {
	if err := opts.Axis.Validate(); err != nil {
		return Slice{}, err
	}
	if !(opts.HalfWidth > 0) {
		return Slice{}, fmt.Errorf("peak slice half width %v must be positive", opts.HalfWidth)
	}

	h := opts.Axis.New()
	err := src.Scan(ctx, func(st *eventlog.Step) error {
		if st.VolumeName == opts.Volume {
			h.Fill(st.XPre, st.Edep)
		}
		return nil
	})
	if err != nil {
		return Slice{}, fmt.Errorf("peak slice: %w", err)
	}

	bin := h.MaxBin(opts.Window.Min, opts.Window.Max)
	if !(h.Value(bin) > 0) {
		return Slice{}, fmt.Errorf("%w [%v, %v]", ErrNoPeakDose, opts.Window.Min, opts.Window.Max)
	}
	x := h.Center(bin)
	return Slice{Name: name, Min: x - opts.HalfWidth, Max: x + opts.HalfWidth}, nil
}

// AnalyzeTransverseAtPeak fills the lateral profiles of the one slice around
// the Bragg peak of src, ignoring opts.Slices. src is scanned twice.
func AnalyzeTransverseAtPeak(ctx context.Context, src eventlog.Source, name string, peak PeakSliceOptions, opts TransverseOptions) (*Transverse, error) {
	s, err := PeakSlice(ctx, src, name, peak)
	if err != nil {
		return nil, err
	}
	opts.Slices = []Slice{s}
	return AnalyzeTransverse(ctx, src, opts)
}

// PeakNormalized returns a copy of h scaled so that its maximum is 1. An
// empty histogram is returned unscaled.
func PeakNormalized(h *histo.Hist1D) *histo.Hist1D {
	c := h.Clone()
	if _, m := c.Max(); m > 0 {
		c.Scale(1 / m)
	}
	return c
}

// FWHM returns the width between the two half-maximum crossings of h,
// interpolated linearly inside the crossing bins. It is 0 for an empty
// histogram.
func FWHM(h *histo.Hist1D) float64 {
	peak, m := h.Max()
	if !(m > 0) {
		return 0
	}
	half := m / 2

	left := h.Center(0)
	for i := peak; i > 0; i-- {
		if h.Value(i-1) < half {
			left = crossing(h, i-1, i, half)
			break
		}
	}
	right := h.Center(h.Len() - 1)
	for i := peak; i < h.Len()-1; i++ {
		if h.Value(i+1) < half {
			right = crossing(h, i, i+1, half)
			break
		}
	}
	return right - left
}

func crossing(h *histo.Hist1D, i, j int, level float64) float64 {
	xi, xj := h.Center(i), h.Center(j)
	yi, yj := h.Value(i), h.Value(j)
	if yi == yj {
		return (xi + xj) / 2
	}
	return xi + (level-yi)*(xj-xi)/(yj-yi)
}
