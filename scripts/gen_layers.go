// gen_layers.go writes synthetic proton step logs, one per beam energy, named
// so that `phantom solve` discovers them.
//
// Usage:
//
//	go run scripts/gen_layers.go -dir data -energies 70:150:10 -events 2000
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/Phantom/internal/synth"
)

func main() {
	dir := flag.String("dir", ".", "output directory")
	prefix := flag.String("prefix", "raw_", "file name prefix")
	energies := flag.String("energies", "70:150:10", "energies in MeV: a list 70,90,110 or a range lo:hi:step")
	events := flag.Int("events", 2000, "protons per layer")
	step := flag.Float64("step", 0.05, "step length inside the phantom in cm")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	list, err := parseEnergies(*energies)
	if err != nil {
		logger.Error("invalid energies", "value", *energies, "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		logger.Error("failed to create output dir", "error", err)
		os.Exit(1)
	}

	for _, e := range list {
		b := synth.DefaultBeam(e, *events)
		b.StepCM = *step
		path, err := synth.WriteLayer(*dir, *prefix, b)
		if err != nil {
			logger.Error("failed to write layer", "energy_mev", e, "error", err)
			os.Exit(1)
		}
		logger.Info("layer written", "energy_mev", e, "range_cm", synth.Range(e), "path", path)
	}
}

func parseEnergies(s string) ([]float64, error) {
	if parts := strings.Split(s, ":"); len(parts) == 3 {
		var v [3]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, err
			}
			v[i] = f
		}
		lo, hi, step := v[0], v[1], v[2]
		if step <= 0 || hi < lo {
			return nil, fmt.Errorf("bad range %s", s)
		}
		var out []float64
		for e := lo; e <= hi+step/2; e += step {
			out = append(out, e)
		}
		return out, nil
	}

	var out []float64
	for _, p := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
