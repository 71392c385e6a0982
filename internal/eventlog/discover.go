package eventlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var ErrNoLayerFiles = errors.New("no layer files found")

type Format string

const (
	FormatROOT Format = "root"
	FormatCSV  Format = "csv"
)

// LayerFile is one beam-energy event log found on disk.
type LayerFile struct {
	Path      string  `json:"path"`
	EnergyMeV float64 `json:"energy_mev"`
	Events    int64   `json:"events,omitempty"` // 0 when not encoded in the name
	Format    Format  `json:"format"`
}

var namePattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)MeV(?:_([0-9]+)evts)?.*\.(root|csv)$`)

// ParseName extracts the beam energy and event count from names such as
// raw_150MeV_100000evts_run0.root. ok is false when the name does not follow
// the convention.
func ParseName(name, prefix string) (lf LayerFile, ok bool) {
	if !strings.HasPrefix(name, prefix) {
		return lf, false
	}
	m := namePattern.FindStringSubmatch(strings.TrimPrefix(name, prefix))
	if m == nil {
		return lf, false
	}
	e, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return lf, false
	}
	lf.EnergyMeV = e
	if m[2] != "" {
		lf.Events, _ = strconv.ParseInt(m[2], 10, 64)
	}
	lf.Format = Format(m[3])
	return lf, true
}

// Discover lists the layer files in dir ordered by increasing beam energy.
func Discover(dir, prefix string) ([]LayerFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var files []LayerFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lf, ok := ParseName(e.Name(), prefix)
		if !ok {
			continue
		}
		lf.Path = filepath.Join(dir, e.Name())
		files = append(files, lf)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s (prefix %q)", ErrNoLayerFiles, dir, prefix)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].EnergyMeV != files[j].EnergyMeV {
			return files[i].EnergyMeV < files[j].EnergyMeV
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// Open returns the source reading lf.
func Open(lf LayerFile, tree string) Source {
	if lf.Format == FormatCSV {
		return &CSVSource{Path: lf.Path}
	}
	return &ROOTSource{Path: lf.Path, Tree: tree}
}

// OpenAll chains the sources of every file.
func OpenAll(files []LayerFile, tree string) MultiSource {
	out := make(MultiSource, 0, len(files))
	for _, lf := range files {
		out = append(out, Open(lf, tree))
	}
	return out
}
