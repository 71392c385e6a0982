package eventlog

import (
	"context"
	"fmt"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"
)

const DefaultTree = "raw_data"

// ROOTSource reads steps from the raw_data tree of a ROOT file.
type ROOTSource struct {
	Path string
	Tree string
}

func (s *ROOTSource) Scan(ctx context.Context, fn func(*Step) error) error {
	name := s.Tree
	if name == "" {
		name = DefaultTree
	}

	f, err := groot.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	obj, err := f.Get(name)
	if err != nil {
		return fmt.Errorf("get tree %q from %s: %w", name, s.Path, err)
	}
	tree, ok := obj.(rtree.Tree)
	if !ok {
		return fmt.Errorf("%s: object %q is a %T, not a tree", s.Path, name, obj)
	}

	var st Step
	rvars := []rtree.ReadVar{
		{Name: "eventID", Value: &st.EventID},
		{Name: "trackID", Value: &st.TrackID},
		{Name: "parentID", Value: &st.ParentID},
		{Name: "particleName", Value: &st.ParticleName},
		{Name: "pdgCode", Value: &st.PDGCode},
		{Name: "x_pre", Value: &st.XPre},
		{Name: "y_pre", Value: &st.YPre},
		{Name: "z_pre", Value: &st.ZPre},
		{Name: "x_post", Value: &st.XPost},
		{Name: "y_post", Value: &st.YPost},
		{Name: "z_post", Value: &st.ZPost},
		{Name: "edep", Value: &st.Edep},
		{Name: "kinE_pre", Value: &st.KinEPre},
		{Name: "kinE_post", Value: &st.KinEPost},
		{Name: "stepLength", Value: &st.StepLength},
		{Name: "processName", Value: &st.ProcessName},
		{Name: "volumeName", Value: &st.VolumeName},
	}

	r, err := rtree.NewReader(tree, rvars)
	if err != nil {
		return fmt.Errorf("tree reader for %s: %w", s.Path, err)
	}
	defer r.Close()

	err = r.Read(func(rctx rtree.RCtx) error {
		if rctx.Entry%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return fn(&st)
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", s.Path, err)
	}
	return nil
}
