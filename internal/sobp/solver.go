// Package sobp computes the per-layer weights that flatten the sum of
// several Bragg curves into a spread-out Bragg peak.
package sobp

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

var (
	ErrNoLayers       = errors.New("no energy layers to optimize")
	ErrAxisMismatch   = errors.New("layer curves do not share the same depth axis")
	ErrPeakOutOfRange = errors.New("layer peak bin outside the depth axis")
)

// Layer is one beam energy as seen by the solver. Layers are ordered by
// increasing energy; the last one is the anchor.
type Layer struct {
	EnergyMeV float64
	Curve     *histo.Hist1D
	PeakBin   int
}

// FromCurves turns ingested curves into solver layers, keeping their order.
func FromCurves(curves []*dose.Curve) []Layer {
	layers := make([]Layer, len(curves))
	for i, c := range curves {
		layers[i] = Layer{EnergyMeV: c.EnergyMeV, Curve: c.Hist, PeakBin: c.PeakBin}
	}
	return layers
}

type Result struct {
	Weights   []float64     `json:"weights"`
	Composite *histo.Hist1D `json:"-"`
	Plateau   Plateau       `json:"plateau"`
	// Clamped counts the updates that hit a weight bound, over all passes.
	Clamped    int         `json:"clamped"`
	Iterations int         `json:"iterations"`
	History    [][]float64 `json:"history,omitempty"`
}

func checkLayers(layers []Layer) error {
	if len(layers) == 0 {
		return ErrNoLayers
	}
	ref := layers[0].Curve
	for i, l := range layers {
		if l.Curve == nil || !ref.SameAxis(l.Curve) {
			return fmt.Errorf("%w: layer %d (%.4g MeV)", ErrAxisMismatch, i, l.EnergyMeV)
		}
		if l.PeakBin < 0 || l.PeakBin >= l.Curve.Len() {
			return fmt.Errorf("%w: layer %d has peak bin %d of %d", ErrPeakOutOfRange, i, l.PeakBin, l.Curve.Len())
		}
	}
	return nil
}

// Solve runs exactly p.Iterations passes of the damped correction. Each pass
// rebuilds the composite from scratch, then nudges every non-anchor weight
// towards the value that brings the composite at that layer's own peak to
// p.Target. A layer whose peak receives no dose keeps its weight for that
// pass. The anchor weight stays at 1.
func Solve(layers []Layer, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkLayers(layers); err != nil {
		return nil, err
	}

	n := len(layers)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}

	res := &Result{Iterations: p.Iterations}
	composite := layers[0].Curve.Clone()
	for iter := 0; iter < p.Iterations; iter++ {
		accumulate(composite, layers, w)
		for i := 0; i < n-1; i++ {
			c := composite.Value(layers[i].PeakBin)
			if !(c > 0) {
				continue
			}
			next, clamped := p.clamp(w[i] * (p.Retain + p.Gain*(p.Target/c)))
			if clamped {
				res.Clamped++
			}
			w[i] = next
		}
		if p.Trace {
			res.History = append(res.History, append([]float64(nil), w...))
		}
	}

	accumulate(composite, layers, w)
	res.Weights = w
	res.Composite = composite
	res.Plateau = PlateauAt(composite, layers)
	return res, nil
}

func accumulate(dst *histo.Hist1D, layers []Layer, w []float64) {
	dst.Reset()
	for i, l := range layers {
		// axes were checked up front
		_ = dst.AddScaled(l.Curve, w[i])
	}
}

// Compose builds the weighted sum of the layer curves as they were ingested,
// already smoothed and peak-normalized; the sum itself is not smoothed
// again. When the number of weights does not match the number of layers the
// linear ramp from FallbackWeights is used instead and fallback is true.
func Compose(layers []Layer, weights []float64) (composite *histo.Hist1D, used []float64, fallback bool, err error) {
	if err := checkLayers(layers); err != nil {
		return nil, nil, false, err
	}
	used = weights
	if len(weights) != len(layers) {
		used = FallbackWeights(len(layers))
		fallback = true
	}
	composite = layers[0].Curve.Clone()
	accumulate(composite, layers, used)
	return composite, used, fallback, nil
}

// FallbackWeights ramps linearly from 0.3 on the shallowest layer to 1.0 on
// the deepest.
func FallbackWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		if n == 1 {
			w[i] = 1
			continue
		}
		w[i] = 0.3 + 0.7*float64(i)/float64(n-1)
	}
	return w
}
