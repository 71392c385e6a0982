package sobp

import (
	"errors"
	"math"
	"testing"

	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

// peakCurve returns a 500-bin curve over [-15, 35) with a single non-zero bin.
func peakCurve(bin int, value float64) *histo.Hist1D {
	h := histo.NewHist1D(500, -15, 35)
	h.SetValue(bin, value)
	return h
}

// braggLike builds a curve with a plateau up to peak and a sharp fall-off.
func braggLike(peak int) *histo.Hist1D {
	h := histo.NewHist1D(500, -15, 35)
	for i := 0; i < 500; i++ {
		switch {
		case i < peak-20:
			h.SetValue(i, 0.3)
		case i <= peak:
			h.SetValue(i, 0.3+0.7*float64(i-(peak-20))/20)
		case i < peak+5:
			h.SetValue(i, 1-float64(i-peak)/5)
		}
	}
	return h
}

func spreadLayers() []Layer {
	var layers []Layer
	for i, peak := range []int{140, 160, 180, 200, 220} {
		layers = append(layers, Layer{EnergyMeV: 100 + 10*float64(i), Curve: braggLike(peak), PeakBin: peak})
	}
	return layers
}

func TestTwoLayerConvergence(t *testing.T) {
	layers := []Layer{
		{EnergyMeV: 100, Curve: peakCurve(100, 2.0), PeakBin: 100},
		{EnergyMeV: 150, Curve: peakCurve(200, 1.0), PeakBin: 200},
	}
	res, err := Solve(layers, DefaultParams())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if math.Abs(res.Weights[0]-0.5) > 0.005 {
		t.Errorf("weight[A] = %f, want 0.5 within 1%%", res.Weights[0])
	}
	if res.Weights[1] != 1.0 {
		t.Errorf("anchor weight = %v, want 1.0", res.Weights[1])
	}
	if v := res.Composite.Value(100); math.Abs(v-1) > 0.01 {
		t.Errorf("composite at A peak = %f, want ~1", v)
	}
	if res.Clamped != 0 {
		t.Errorf("expected no clamping, got %d", res.Clamped)
	}
}

func TestAnchorInvariance(t *testing.T) {
	p := DefaultParams()
	p.Trace = true
	res, err := Solve(spreadLayers(), p)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.History) != p.Iterations {
		t.Fatalf("history has %d passes, want %d", len(res.History), p.Iterations)
	}
	for iter, w := range res.History {
		if w[len(w)-1] != 1.0 {
			t.Fatalf("pass %d: anchor weight %v", iter, w[len(w)-1])
		}
	}
}

func TestClampInvariant(t *testing.T) {
	p := DefaultParams()
	p.Trace = true
	layers := []Layer{
		{Curve: peakCurve(100, 0.001), PeakBin: 100}, // wants a huge weight
		{Curve: peakCurve(150, 1e6), PeakBin: 150},   // wants a tiny weight
		{Curve: peakCurve(200, 1), PeakBin: 200},
	}
	res, err := Solve(layers, p)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for iter, w := range res.History {
		for i, v := range w {
			if v < p.MinWeight || v > p.MaxWeight {
				t.Fatalf("pass %d: weight[%d] = %v outside [%v, %v]", iter, i, v, p.MinWeight, p.MaxWeight)
			}
		}
	}
	if res.Weights[0] != p.MaxWeight {
		t.Errorf("weight[0] = %v, want upper bound", res.Weights[0])
	}
	if res.Weights[1] != p.MinWeight {
		t.Errorf("weight[1] = %v, want lower bound", res.Weights[1])
	}
	if res.Clamped == 0 {
		t.Error("expected clamped updates to be counted")
	}
}

func TestDeterminism(t *testing.T) {
	a, err := Solve(spreadLayers(), DefaultParams())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	b, err := Solve(spreadLayers(), DefaultParams())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i := range a.Weights {
		if a.Weights[i] != b.Weights[i] {
			t.Errorf("weight[%d] differs: %v vs %v", i, a.Weights[i], b.Weights[i])
		}
	}
}

func TestSpreadPlateauIsFlat(t *testing.T) {
	res, err := Solve(spreadLayers(), DefaultParams())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Plateau.Spread > 0.05 {
		t.Errorf("plateau spread %.4f, values %v", res.Plateau.Spread, res.Plateau.Values)
	}
	for i := 1; i < len(res.Weights)-1; i++ {
		if res.Weights[i] >= 1 {
			t.Errorf("proximal weight[%d] = %v, expected below the anchor", i, res.Weights[i])
		}
	}
}

func TestSingleLayer(t *testing.T) {
	res, err := Solve([]Layer{{Curve: peakCurve(200, 1), PeakBin: 200}}, DefaultParams())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.Weights) != 1 || res.Weights[0] != 1.0 {
		t.Errorf("weights = %v, want [1]", res.Weights)
	}
}

func TestZeroDoseAtPeakKeepsWeight(t *testing.T) {
	layers := []Layer{
		{Curve: histo.NewHist1D(500, -15, 35), PeakBin: 100},
		{Curve: peakCurve(200, 1), PeakBin: 200},
	}
	res, err := Solve(layers, DefaultParams())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Weights[0] != 1.0 {
		t.Errorf("isolated layer weight = %v, want unchanged 1.0", res.Weights[0])
	}
}

func TestSolveErrors(t *testing.T) {
	if _, err := Solve(nil, DefaultParams()); !errors.Is(err, ErrNoLayers) {
		t.Errorf("expected ErrNoLayers, got %v", err)
	}

	mismatched := []Layer{
		{Curve: peakCurve(100, 1), PeakBin: 100},
		{Curve: histo.NewHist1D(300, -15, 35), PeakBin: 100},
	}
	if _, err := Solve(mismatched, DefaultParams()); !errors.Is(err, ErrAxisMismatch) {
		t.Errorf("expected ErrAxisMismatch, got %v", err)
	}

	outside := []Layer{{Curve: peakCurve(100, 1), PeakBin: 500}}
	if _, err := Solve(outside, DefaultParams()); !errors.Is(err, ErrPeakOutOfRange) {
		t.Errorf("expected ErrPeakOutOfRange, got %v", err)
	}

	bad := DefaultParams()
	bad.MinWeight = 0
	if _, err := Solve(spreadLayers(), bad); err == nil {
		t.Error("expected invalid params to be rejected")
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Params)
		ok   bool
	}{
		{"defaults", func(*Params) {}, true},
		{"zero passes", func(p *Params) { p.Iterations = 0 }, true},
		{"negative passes", func(p *Params) { p.Iterations = -1 }, false},
		{"zero target", func(p *Params) { p.Target = 0 }, false},
		{"negative gain", func(p *Params) { p.Gain = -0.1 }, false},
		{"inverted bounds", func(p *Params) { p.MinWeight, p.MaxWeight = 2, 1 }, false},
		{"bounds above anchor", func(p *Params) { p.MinWeight, p.MaxWeight = 1.5, 3 }, false},
		{"bounds below anchor", func(p *Params) { p.MinWeight, p.MaxWeight = 0.01, 0.5 }, false},
		{"anchor on the bounds", func(p *Params) { p.MinWeight, p.MaxWeight = 1, 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.edit(&p)
			if err := p.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, ok want %v", err, tt.ok)
			}
		})
	}
}

func TestComposeFallback(t *testing.T) {
	layers := spreadLayers()
	composite, used, fallback, err := Compose(layers, []float64{1, 1})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !fallback {
		t.Fatal("expected fallback weights")
	}
	want := []float64{0.3, 0.475, 0.65, 0.825, 1.0}
	for i := range want {
		if math.Abs(used[i]-want[i]) > 1e-12 {
			t.Errorf("fallback[%d] = %v, want %v", i, used[i], want[i])
		}
	}
	if composite.Sum() <= 0 {
		t.Error("expected non-empty composite")
	}

	_, used, fallback, err = Compose(layers, []float64{0.5, 0.5, 0.5, 0.5, 1})
	if err != nil || fallback || used[0] != 0.5 {
		t.Errorf("explicit weights not used: %v %v %v", used, fallback, err)
	}
}

func TestComposeIsPlainWeightedSum(t *testing.T) {
	layers := []Layer{
		{Curve: peakCurve(100, 1), PeakBin: 100},
		{Curve: peakCurve(101, 1), PeakBin: 101},
	}
	composite, _, _, err := Compose(layers, []float64{0.4, 1})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for i := 0; i < composite.Len(); i++ {
		want := 0.0
		switch i {
		case 100:
			want = 0.4
		case 101:
			want = 1
		}
		if composite.Value(i) != want {
			t.Fatalf("bin %d = %v, want %v", i, composite.Value(i), want)
		}
	}
	if layers[0].Curve.Value(101) != 0 {
		t.Error("layer curve modified by Compose")
	}
}

func TestFallbackWeightsSingle(t *testing.T) {
	if w := FallbackWeights(1); len(w) != 1 || w[0] != 1 {
		t.Errorf("FallbackWeights(1) = %v", w)
	}
}

func TestFromCurves(t *testing.T) {
	curves := []*dose.Curve{
		{EnergyMeV: 70, Hist: peakCurve(120, 1), PeakBin: 120},
		{EnergyMeV: 80, Hist: peakCurve(140, 1), PeakBin: 140},
	}
	layers := FromCurves(curves)
	if len(layers) != 2 || layers[1].PeakBin != 140 || layers[0].EnergyMeV != 70 {
		t.Errorf("unexpected layers: %+v", layers)
	}
}
