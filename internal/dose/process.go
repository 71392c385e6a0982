package dose

import (
	"context"
	"fmt"
	"sort"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
)

type ProcessStat struct {
	Name    string  `json:"name"`
	Steps   int64   `json:"steps"`
	EdepMeV float64 `json:"edep_mev"`
}

type ParticleStat struct {
	Name  string `json:"name"`
	Steps int64  `json:"steps"`
}

// Census tallies the steps of a log by limiting physics process and by
// particle species.
type Census struct {
	Entries   int64          `json:"entries"`
	Processes []ProcessStat  `json:"processes"`
	Particles []ParticleStat `json:"particles"`
}

// CountProcesses scans every step of src regardless of volume. Both tables
// are sorted by name.
func CountProcesses(ctx context.Context, src eventlog.Source) (*Census, error) {
	procs := make(map[string]*ProcessStat)
	parts := make(map[string]int64)
	c := &Census{}

	err := src.Scan(ctx, func(st *eventlog.Step) error {
		c.Entries++
		p, ok := procs[st.ProcessName]
		if !ok {
			p = &ProcessStat{Name: st.ProcessName}
			procs[st.ProcessName] = p
		}
		p.Steps++
		p.EdepMeV += st.Edep
		parts[st.ParticleName]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("process census: %w", err)
	}

	for _, p := range procs {
		c.Processes = append(c.Processes, *p)
	}
	sort.Slice(c.Processes, func(i, j int) bool { return c.Processes[i].Name < c.Processes[j].Name })

	for name, n := range parts {
		c.Particles = append(c.Particles, ParticleStat{Name: name, Steps: n})
	}
	sort.Slice(c.Particles, func(i, j int) bool { return c.Particles[i].Name < c.Particles[j].Name })
	return c, nil
}
