// Package pipeline wires discovery, ingestion, solving and the optional
// outputs (plots, run archive, events, metrics) into a single batch run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Phantom/internal/config"
	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/hermes"
	"github.com/MikeSquared-Agency/Phantom/internal/metrics"
	"github.com/MikeSquared-Agency/Phantom/internal/render"
	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
)

// Runner executes solver runs. Store, hermes client and metrics are
// optional; a nil value disables that output.
type Runner struct {
	cfg      *config.Config
	ingester *dose.Ingester
	params   sobp.Params
	store    store.Store
	hermes   hermes.Client
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewRunner(cfg *config.Config, s store.Store, h hermes.Client, m *metrics.Metrics, logger *slog.Logger) (*Runner, error) {
	opts, err := cfg.IngestOptions()
	if err != nil {
		return nil, err
	}
	in, err := dose.NewIngester(opts, logger)
	if err != nil {
		return nil, err
	}
	params := cfg.SolverParams()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("solver config: %w", err)
	}
	return &Runner{
		cfg:      cfg,
		ingester: in,
		params:   params,
		store:    s,
		hermes:   h,
		metrics:  m,
		logger:   logger,
	}, nil
}

// LayerSummary describes one layer of a finished run.
type LayerSummary struct {
	EnergyMeV  float64 `json:"energy_mev"`
	File       string  `json:"file,omitempty"`
	PeakBin    int     `json:"peak_bin"`
	PeakDepth  float64 `json:"peak_depth_cm"`
	Weight     float64 `json:"weight"`
	Degenerate bool    `json:"degenerate,omitempty"`
	Steps      int64   `json:"steps,omitempty"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      uuid.UUID       `json:"run_id"`
	Source     store.RunSource `json:"source"`
	InputDir   string          `json:"input_dir,omitempty"`
	Layers     []LayerSummary  `json:"layers"`
	Weights    []float64       `json:"weights"`
	Fallback   bool            `json:"fallback,omitempty"`
	Plateau    sobp.Plateau    `json:"plateau"`
	Clamped    int             `json:"clamped"`
	Iterations int             `json:"iterations"`
	Outputs    []string        `json:"outputs,omitempty"`
	DurationMs int64           `json:"duration_ms"`

	Curves       []*dose.Curve `json:"-"`
	SolverLayers []sobp.Layer  `json:"-"`
	Result       *sobp.Result  `json:"-"`
}

// Degenerate returns the energies whose curves were left un-normalized.
func (r *Report) Degenerate() []float64 {
	var out []float64
	for _, l := range r.Layers {
		if l.Degenerate {
			out = append(out, l.EnergyMeV)
		}
	}
	return out
}

// RawCurve is an accumulated depth-dose histogram supplied by a client.
type RawCurve struct {
	EnergyMeV float64   `json:"energy_mev"`
	Values    []float64 `json:"values"`
}

func (r *Runner) Params() sobp.Params { return r.params }

// Discover lists the layer files of the configured input directory.
func (r *Runner) Discover() ([]eventlog.LayerFile, error) {
	return eventlog.Discover(r.cfg.Input.Dir, r.cfg.Input.Prefix)
}

// Run solves the layer files currently present in the input directory.
func (r *Runner) Run(ctx context.Context, source store.RunSource) (*Report, error) {
	files, err := r.Discover()
	if err != nil {
		r.observeFailed(uuid.New(), 0, err)
		return nil, err
	}
	return r.SolveFiles(ctx, files, source)
}

// Ingest builds the normalized curves of files in order.
func (r *Runner) Ingest(ctx context.Context, files []eventlog.LayerFile) ([]*dose.Curve, error) {
	curves, err := r.ingester.IngestFiles(ctx, files, r.cfg.Input.Tree)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		for _, c := range curves {
			r.metrics.Steps.Add(float64(c.Steps))
		}
	}
	return curves, nil
}

func (r *Runner) SolveFiles(ctx context.Context, files []eventlog.LayerFile, source store.RunSource) (*Report, error) {
	start := time.Now()
	curves, err := r.Ingest(ctx, files)
	if err != nil {
		r.observeFailed(uuid.New(), time.Since(start), err)
		return nil, err
	}
	return r.solve(ctx, curves, files, source, start)
}

// SolveValues solves curves given as raw bin contents over the configured
// axis. They are ordered by increasing energy before solving.
func (r *Runner) SolveValues(ctx context.Context, raw []RawCurve, source store.RunSource) (*Report, error) {
	start := time.Now()
	curves := make([]*dose.Curve, 0, len(raw))
	for _, rc := range raw {
		c, err := r.ingester.FromValues(rc.EnergyMeV, rc.Values)
		if err != nil {
			return nil, fmt.Errorf("curve %.4g MeV: %w", rc.EnergyMeV, err)
		}
		curves = append(curves, c)
	}
	sort.SliceStable(curves, func(i, j int) bool { return curves[i].EnergyMeV < curves[j].EnergyMeV })
	return r.solve(ctx, curves, nil, source, start)
}

func (r *Runner) solve(ctx context.Context, curves []*dose.Curve, files []eventlog.LayerFile, source store.RunSource, start time.Time) (*Report, error) {
	runID := uuid.New()
	layers := sobp.FromCurves(curves)
	res, err := sobp.Solve(layers, r.params)
	if err != nil {
		r.observeFailed(runID, time.Since(start), err)
		return nil, err
	}

	rep := r.report(runID, source, curves, files, layers, res)
	if r.cfg.Output.Plots {
		rep.Outputs, err = r.writeOutputs(layers, res)
		if err != nil {
			r.logger.Warn("failed to write outputs", "run_id", runID, "error", err)
		}
	}
	rep.DurationMs = time.Since(start).Milliseconds()

	r.archive(ctx, rep)
	r.publish(rep)
	if r.metrics != nil {
		r.metrics.ObserveSolved(time.Since(start), len(layers), res.Clamped, res.Plateau.Spread)
		r.metrics.Degenerate.Add(float64(len(rep.Degenerate())))
	}

	r.logger.Info("sobp solved",
		"run_id", runID,
		"source", source,
		"layers", len(layers),
		"weights", sobp.FormatWeights(res.Weights),
		"plateau_spread", res.Plateau.Spread,
		"clamped", res.Clamped,
		"duration_ms", rep.DurationMs,
	)
	return rep, nil
}

func (r *Runner) report(id uuid.UUID, source store.RunSource, curves []*dose.Curve, files []eventlog.LayerFile, layers []sobp.Layer, res *sobp.Result) *Report {
	rep := &Report{
		RunID:        id,
		Source:       source,
		Weights:      res.Weights,
		Plateau:      res.Plateau,
		Clamped:      res.Clamped,
		Iterations:   res.Iterations,
		Curves:       curves,
		SolverLayers: layers,
		Result:       res,
	}
	if files != nil {
		rep.InputDir = r.cfg.Input.Dir
	}
	for i, c := range curves {
		ls := LayerSummary{
			EnergyMeV:  c.EnergyMeV,
			PeakBin:    c.PeakBin,
			PeakDepth:  c.PeakDepth(),
			Weight:     res.Weights[i],
			Degenerate: c.Degenerate,
			Steps:      c.Steps,
		}
		if i < len(files) {
			ls.File = filepath.Base(files[i].Path)
		}
		rep.Layers = append(rep.Layers, ls)
	}
	return rep
}

// Compose ingests files and sums them with the given weights, falling back
// to a linear ramp when the count does not match.
func (r *Runner) Compose(ctx context.Context, files []eventlog.LayerFile, weights []float64) (*Report, error) {
	start := time.Now()
	curves, err := r.Ingest(ctx, files)
	if err != nil {
		return nil, err
	}
	layers := sobp.FromCurves(curves)
	composite, used, fallback, err := sobp.Compose(layers, weights)
	if err != nil {
		return nil, err
	}
	if fallback {
		r.logger.Warn("weight count does not match layer count, using linear fallback",
			"weights", len(weights),
			"layers", len(layers),
		)
	}
	res := &sobp.Result{
		Weights:   used,
		Composite: composite,
		Plateau:   sobp.PlateauAt(composite, layers),
	}
	rep := r.report(uuid.New(), store.SourceCLI, curves, files, layers, res)
	rep.Fallback = fallback
	if r.cfg.Output.Plots {
		rep.Outputs, err = r.writeOutputs(layers, res)
		if err != nil {
			return nil, err
		}
	}
	rep.DurationMs = time.Since(start).Milliseconds()
	return rep, nil
}

func (r *Runner) writeOutputs(layers []sobp.Layer, res *sobp.Result) ([]string, error) {
	dir := r.cfg.Output.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	outputs, err := render.SolveOutputs(dir, layers, res)
	if err != nil {
		return nil, err
	}
	csvPath := filepath.Join(dir, render.CompositeFile)
	if err := render.CompositeCSV(csvPath, layers, res); err != nil {
		return nil, err
	}
	return append(outputs, csvPath), nil
}

func (r *Runner) archive(ctx context.Context, rep *Report) {
	if r.store == nil {
		return
	}
	energies := make([]float64, len(rep.Layers))
	for i, l := range rep.Layers {
		energies[i] = l.EnergyMeV
	}
	run := &store.Run{
		ID:         rep.RunID,
		Source:     rep.Source,
		InputDir:   rep.InputDir,
		Energies:   energies,
		Weights:    rep.Weights,
		Degenerate: rep.Degenerate(),
		Params:     r.params,
		Plateau:    rep.Plateau,
		Clamped:    rep.Clamped,
		DurationMs: rep.DurationMs,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.logger.Warn("failed to archive run", "run_id", rep.RunID, "error", err)
	}
}

func (r *Runner) publish(rep *Report) {
	if r.hermes == nil {
		return
	}
	id := rep.RunID.String()
	for _, c := range rep.Curves {
		if !c.Degenerate {
			continue
		}
		evt := hermes.DegenerateCurveEvent{RunID: id, EnergyMeV: c.EnergyMeV, PeakBin: c.PeakBin, PeakValue: c.PeakValue}
		if err := r.hermes.Publish(hermes.SubjectRunDegenerate(id), evt); err != nil {
			r.logger.Warn("failed to publish degenerate event", "run_id", id, "error", err)
		}
	}

	energies := make([]float64, len(rep.Layers))
	for i, l := range rep.Layers {
		energies[i] = l.EnergyMeV
	}
	evt := hermes.RunSolvedEvent{
		RunID:      id,
		Source:     string(rep.Source),
		Energies:   energies,
		Weights:    rep.Weights,
		Spread:     rep.Plateau.Spread,
		Clamped:    rep.Clamped,
		DurationMs: rep.DurationMs,
	}
	if err := r.hermes.Publish(hermes.SubjectRunSolved(id), evt); err != nil {
		r.logger.Warn("failed to publish solved event", "run_id", id, "error", err)
	}
}

func (r *Runner) observeFailed(id uuid.UUID, d time.Duration, err error) {
	r.logger.Error("sobp run failed", "run_id", id, "error", err)
	if r.metrics != nil {
		r.metrics.ObserveFailed(d)
	}
	if r.hermes != nil {
		evt := hermes.RunFailedEvent{RunID: id.String(), Error: err.Error()}
		if perr := r.hermes.Publish(hermes.SubjectRunFailed(id.String()), evt); perr != nil {
			r.logger.Warn("failed to publish failure event", "run_id", id, "error", perr)
		}
	}
}
