package sobp

import "fmt"

// Params tunes the damped fixed-point correction. The defaults are the
// hand-tuned values the solver has always shipped with.
type Params struct {
	Iterations int     `json:"iterations"`
	Target     float64 `json:"target"`
	// Each update multiplies a weight by Retain + Gain*(Target/current).
	Retain    float64 `json:"retain"`
	Gain      float64 `json:"gain"`
	MinWeight float64 `json:"min_weight"`
	MaxWeight float64 `json:"max_weight"`

	// Trace records the weight vector after every pass.
	Trace bool `json:"-"`
}

// DefaultParams returns 200 passes with 0.8/0.2 damping and weights clamped
// to [0.01, 2.0].
func DefaultParams() Params {
	return Params{
		Iterations: 200,
		Target:     1.0,
		Retain:     0.8,
		Gain:       0.2,
		MinWeight:  0.01,
		MaxWeight:  2.0,
	}
}

// Validate checks that the parameters describe a usable update rule.
func (p Params) Validate() error {
	if p.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", p.Iterations)
	}
	if !(p.Target > 0) {
		return fmt.Errorf("target dose must be > 0, got %v", p.Target)
	}
	if p.Retain < 0 || p.Gain < 0 {
		return fmt.Errorf("negative damping term: retain=%v gain=%v", p.Retain, p.Gain)
	}
	if !(p.MinWeight > 0) || p.MaxWeight < p.MinWeight {
		return fmt.Errorf("invalid weight bounds [%v, %v]", p.MinWeight, p.MaxWeight)
	}
	// The anchor layer is pinned at 1 and must satisfy the clamp too.
	if p.MinWeight > 1 || p.MaxWeight < 1 {
		return fmt.Errorf("weight bounds [%v, %v] exclude the anchor weight 1", p.MinWeight, p.MaxWeight)
	}
	return nil
}

func (p Params) clamp(w float64) (float64, bool) {
	switch {
	case w < p.MinWeight:
		return p.MinWeight, true
	case w > p.MaxWeight:
		return p.MaxWeight, true
	}
	return w, false
}
