// Package synth produces analytic proton step logs in water so the analysis
// pipeline can run without the transport engine.
//
// Each proton gets a range drawn around the continuous-slowing-down range
// R = Alpha*E^P, loses energy along the beam axis as
// E(z) = ((r-z)/Alpha)^(1/P), and drifts laterally with a spread growing
// with depth. A fixed share of every deposit is handed to a delta electron.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
)

// Range-energy fit for protons in water, R in cm and E in MeV.
const (
	Alpha = 0.0022
	P     = 1.77
)

const (
	protonPDG   = 2212
	electronPDG = 11
	deltaShare  = 0.05
)

type Beam struct {
	EnergyMeV float64
	Events    int
	Seed      uint64

	// Beam origin on the x axis and phantom entrance face, in cm.
	SourceX float64
	EntryX  float64
	// StepCM is the length of one transport step inside the phantom.
	StepCM      float64
	SpotSigmaCM float64
	Volume      string
	World       string
}

// DefaultBeam returns a pencil beam entering a phantom whose front face is at
// x = -10 cm.
func DefaultBeam(energy float64, events int) Beam {
	return Beam{
		EnergyMeV:   energy,
		Events:      events,
		Seed:        uint64(energy * 1000),
		SourceX:     -15,
		EntryX:      -10,
		StepCM:      0.05,
		SpotSigmaCM: 0.3,
		Volume:      "Phantom_phys",
		World:       "World_phys",
	}
}

// Range returns the mean range in water in cm.
func Range(energy float64) float64 { return Alpha * math.Pow(energy, P) }

func energyAt(residual float64) float64 {
	if residual <= 0 {
		return 0
	}
	return math.Pow(residual/Alpha, 1/P)
}

// straggling is the 1-sigma range straggling in cm.
func straggling(r float64) float64 { return 0.012 * math.Pow(r, 0.935) }

// Generate calls fn for every step of every event in order.
func Generate(b Beam, fn func(*eventlog.Step) error) error {
	if b.EnergyMeV <= 0 || b.Events < 0 || b.StepCM <= 0 {
		return fmt.Errorf("invalid beam: %.4g MeV, %d events, %.3g cm steps", b.EnergyMeV, b.Events, b.StepCM)
	}
	src := rand.NewPCG(b.Seed, b.Seed^0x9e3779b97f4a7c15)
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	uniform := rand.New(src)

	mean := Range(b.EnergyMeV)
	sigma := straggling(mean)

	for ev := 0; ev < b.Events; ev++ {
		eid := int32(ev)
		y := b.SpotSigmaCM * unit.Rand()
		z := b.SpotSigmaCM * unit.Rand()

		st := primary(eid, b.World, "Transportation")
		st.XPre, st.YPre, st.ZPre = b.SourceX, y, z
		st.XPost, st.YPost, st.ZPost = b.EntryX, y, z
		st.KinEPre, st.KinEPost = b.EnergyMeV, b.EnergyMeV
		st.StepLength = 10 * (b.EntryX - b.SourceX)
		if err := fn(&st); err != nil {
			return err
		}

		r := mean + sigma*unit.Rand()
		if r <= 0 {
			continue
		}
		track := int32(2)
		// a random first step keeps step boundaries off a fixed grid
		depth, next := 0.0, math.Min(b.StepCM*(1-uniform.Float64()), r)
		for depth < r {
			ePre, ePost := energyAt(r-depth), energyAt(r-next)
			lost := ePre - ePost

			// lateral spread grows with the fraction of the range travelled
			spread := 0.02 * next * next / r
			ny := y + spread*unit.Rand()
			nz := z + spread*unit.Rand()

			proc := "hIoni"
			if ePost == 0 {
				proc = "hIoni_stop"
			} else if uniform.Float64() < 0.002 {
				proc = "hadElastic"
			}
			st = primary(eid, b.Volume, proc)
			st.XPre, st.YPre, st.ZPre = b.EntryX+depth, y, z
			st.XPost, st.YPost, st.ZPost = b.EntryX+next, ny, nz
			st.KinEPre, st.KinEPost = ePre, ePost
			st.Edep = lost * (1 - deltaShare)
			st.StepLength = 10 * (next - depth)
			if err := fn(&st); err != nil {
				return err
			}

			delta := eventlog.Step{EventID: eid, TrackID: track, ParentID: 1, ParticleName: "e-", PDGCode: electronPDG}
			delta.XPre, delta.YPre, delta.ZPre = b.EntryX+next, ny, nz
			delta.XPost, delta.YPost, delta.ZPost = b.EntryX+next, ny, nz
			delta.Edep = lost * deltaShare
			delta.KinEPre = delta.Edep
			delta.ProcessName, delta.VolumeName = "eIoni", b.Volume
			if err := fn(&delta); err != nil {
				return err
			}
			track++
			y, z = ny, nz
			depth, next = next, math.Min(next+b.StepCM, r)
		}
	}
	return nil
}

func primary(event int32, volume, process string) eventlog.Step {
	return eventlog.Step{
		EventID:      event,
		TrackID:      1,
		ParticleName: "proton",
		PDGCode:      protonPDG,
		ProcessName:  process,
		VolumeName:   volume,
	}
}

// FileName follows the layer discovery convention, e.g. raw_150MeV_2000evts.csv.
func FileName(prefix string, energy float64, events int) string {
	return prefix + strconv.FormatFloat(energy, 'f', -1, 64) + "MeV_" + strconv.Itoa(events) + "evts.csv"
}

// WriteLayer generates b into a CSV step log inside dir and returns its path.
func WriteLayer(dir, prefix string, b Beam) (string, error) {
	path := filepath.Join(dir, FileName(prefix, b.EnergyMeV, b.Events))
	w, err := eventlog.CreateCSV(path)
	if err != nil {
		return "", err
	}
	if err := Generate(b, w.Write); err != nil {
		w.Close()
		return "", fmt.Errorf("generate %.4g MeV: %w", b.EnergyMeV, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}
