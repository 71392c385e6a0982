package hermes

import "time"

type LayersDiscoveredEvent struct {
	InputDir    string    `json:"input_dir"`
	Energies    []float64 `json:"energies_mev"`
	Fingerprint string    `json:"fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
}

type RunSolvedEvent struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Energies   []float64 `json:"energies_mev"`
	Weights    []float64 `json:"weights"`
	Spread     float64   `json:"plateau_spread"`
	Clamped    int       `json:"clamped"`
	DurationMs int64     `json:"duration_ms"`
}

type DegenerateCurveEvent struct {
	RunID     string  `json:"run_id"`
	EnergyMeV float64 `json:"energy_mev"`
	PeakBin   int     `json:"peak_bin"`
	PeakValue float64 `json:"peak_value"`
}

type RunFailedEvent struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}
