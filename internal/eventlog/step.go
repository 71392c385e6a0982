// Package eventlog reads the per-step records written by the transport
// simulation. Positions are in cm, energies in MeV, step lengths in mm.
package eventlog

import "context"

// Columns is the record layout shared by the ROOT tree and the CSV format.
var Columns = []string{
	"eventID", "trackID", "parentID",
	"particleName", "pdgCode",
	"x_pre", "y_pre", "z_pre",
	"x_post", "y_post", "z_post",
	"edep", "kinE_pre", "kinE_post",
	"stepLength", "processName", "volumeName",
}

type Step struct {
	EventID  int32
	TrackID  int32
	ParentID int32 // 0 for primaries

	ParticleName string
	PDGCode      int32

	XPre, YPre, ZPre    float64
	XPost, YPost, ZPost float64

	Edep     float64
	KinEPre  float64
	KinEPost float64

	StepLength  float64
	ProcessName string
	VolumeName  string
}

// Primary reports whether the step belongs to a primary proton track.
func (s *Step) Primary() bool {
	return s.ParentID == 0 && s.ParticleName == "proton"
}

// Source streams steps to fn. The *Step passed to fn is reused between
// calls; fn must copy it to retain it. Scanning stops at the first error
// returned by fn.
type Source interface {
	Scan(ctx context.Context, fn func(*Step) error) error
}

// MultiSource scans its sources in order, like a chain of trees.
type MultiSource []Source

func (m MultiSource) Scan(ctx context.Context, fn func(*Step) error) error {
	for _, src := range m {
		if err := src.Scan(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}

// Steps is an in-memory source.
type Steps []Step

func (s Steps) Scan(ctx context.Context, fn func(*Step) error) error {
	for i := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := s[i]
		if err := fn(&st); err != nil {
			return err
		}
	}
	return nil
}
