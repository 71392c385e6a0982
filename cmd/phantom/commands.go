package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/Phantom/internal/api"
	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/pipeline"
	"github.com/MikeSquared-Agency/Phantom/internal/render"
	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
)

var stdout io.Writer = os.Stdout

func runSolve(ctx context.Context, e *env, args []string) error {
	fs := newFlags("solve")
	dir := fs.String("dir", "", "input directory (overrides config)")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	plot := fs.Bool("plot", false, "write plots and the composite CSV to the output directory")
	archive := fs.Bool("archive", false, "store the run and publish events when configured")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir != "" {
		e.cfg.Input.Dir = *dir
	}
	if *plot {
		e.cfg.Output.Plots = true
	}

	var c *collaborators
	if *archive {
		c = connect(ctx, e)
		defer c.Close()
	}
	r, err := newRunner(e, c, nil)
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx, store.SourceCLI)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(rep)
	}
	printReport(rep)
	return nil
}

func runCompose(ctx context.Context, e *env, args []string) error {
	fs := newFlags("compose")
	dir := fs.String("dir", "", "input directory (overrides config)")
	weights := fs.String("weights", "", "layer weights in energy order, as printed by solve")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	plot := fs.Bool("plot", false, "write plots and the composite CSV to the output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir != "" {
		e.cfg.Input.Dir = *dir
	}
	if *plot {
		e.cfg.Output.Plots = true
	}
	w, err := sobp.ParseWeights(*weights)
	if err != nil {
		return err
	}

	r, err := newRunner(e, nil, nil)
	if err != nil {
		return err
	}
	files, err := r.Discover()
	if err != nil {
		return err
	}
	rep, err := r.Compose(ctx, files, w)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(rep)
	}
	if rep.Fallback {
		fmt.Fprintf(stdout, "%d weights given for %d layers, using linear fallback\n", len(w), len(rep.Layers))
	}
	printReport(rep)
	return nil
}

func printReport(rep *pipeline.Report) {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENERGY (MeV)\tPEAK (cm)\tWEIGHT\tDOSE AT PEAK\t")
	for i, l := range rep.Layers {
		mark := ""
		if l.Degenerate {
			mark = " (degenerate)"
		}
		fmt.Fprintf(tw, "%.4g%s\t%.2f\t%.4f\t%.4f\t\n", l.EnergyMeV, mark, l.PeakDepth, l.Weight, rep.Plateau.Values[i])
	}
	tw.Flush()

	fmt.Fprintf(stdout, "\nweights:\n%s\n", sobp.FormatWeights(rep.Weights))
	fmt.Fprintf(stdout, "plateau: min %.4f  max %.4f  mean %.4f  spread %.2f%%\n",
		rep.Plateau.Min, rep.Plateau.Max, rep.Plateau.Mean, 100*rep.Plateau.Spread)
	if rep.Iterations > 0 {
		fmt.Fprintf(stdout, "passes: %d  clamped updates: %d\n", rep.Iterations, rep.Clamped)
	}
	for _, p := range rep.Outputs {
		fmt.Fprintf(stdout, "wrote %s\n", p)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// selectFiles returns the single file given with -file, or the discovered
// layers, restricted to one energy when energy > 0.
func selectFiles(e *env, file string, energy float64) ([]eventlog.LayerFile, error) {
	if file != "" {
		lf, ok := eventlog.ParseName(filepath.Base(file), e.cfg.Input.Prefix)
		if !ok {
			lf.Format = eventlog.FormatROOT
			if strings.HasSuffix(file, ".csv") {
				lf.Format = eventlog.FormatCSV
			}
		}
		lf.Path = file
		return []eventlog.LayerFile{lf}, nil
	}

	files, err := eventlog.Discover(e.cfg.Input.Dir, e.cfg.Input.Prefix)
	if err != nil {
		return nil, err
	}
	if energy <= 0 {
		return files, nil
	}
	for _, f := range files {
		if f.EnergyMeV == energy {
			return []eventlog.LayerFile{f}, nil
		}
	}
	return nil, fmt.Errorf("%w at %.4g MeV", eventlog.ErrNoLayerFiles, energy)
}

type analysisFlags struct {
	file   *string
	energy *float64
	plot   *bool
	asJSON *bool
}

// addAnalysisFlags registers the flags shared by the analysis commands on fs
// and parses args.
func addAnalysisFlags(e *env, fs *flag.FlagSet, args []string) (*analysisFlags, error) {
	f := &analysisFlags{
		file:   fs.String("file", "", "single event log to analyze"),
		energy: fs.Float64("energy", 0, "restrict to the discovered layer of this energy in MeV"),
		plot:   fs.Bool("plot", false, "write plots to the output directory"),
		asJSON: fs.Bool("json", false, "print the result as JSON"),
	}
	dir := fs.String("dir", "", "input directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *dir != "" {
		e.cfg.Input.Dir = *dir
	}
	if *f.plot {
		if err := os.MkdirAll(e.cfg.Output.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return f, nil
}

func runBragg(ctx context.Context, e *env, args []string) error {
	f, err := addAnalysisFlags(e, newFlags("bragg"), args)
	if err != nil {
		return err
	}
	opts, err := e.cfg.BraggOptions()
	if err != nil {
		return err
	}
	files, err := selectFiles(e, *f.file, *f.energy)
	if err != nil {
		return err
	}

	var results []*dose.BraggResult
	for _, lf := range files {
		r, err := dose.AnalyzeBragg(ctx, eventlog.Open(lf, e.cfg.Input.Tree), lf.EnergyMeV, opts)
		if err != nil {
			return err
		}
		results = append(results, r)
		if *f.plot {
			path := filepath.Join(e.cfg.Output.Dir, fmt.Sprintf("bragg_%gMeV.png", lf.EnergyMeV))
			if err := render.Bragg(path, r); err != nil {
				return err
			}
			e.logger.Info("plot written", "path", path)
		}
	}
	if *f.asJSON {
		return printJSON(results)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENERGY (MeV)\tPEAK (cm)\tPEAK DOSE (MeV)\tRANGE (cm)\tSTEPS\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%.4g\t%.2f\t%.4g\tR%.0f %.2f\t%d\t\n", r.EnergyMeV, r.PeakDepth, r.PeakDose, 100*r.Fraction, r.RangeDepth, r.Steps)
	}
	return tw.Flush()
}

func runDose(ctx context.Context, e *env, args []string) error {
	f, err := addAnalysisFlags(e, newFlags("dose"), args)
	if err != nil {
		return err
	}
	opts, err := e.cfg.AbsorbedOptions()
	if err != nil {
		return err
	}
	files, err := selectFiles(e, *f.file, *f.energy)
	if err != nil {
		return err
	}

	var results []*dose.Absorbed
	for _, lf := range files {
		a, err := dose.AnalyzeAbsorbed(ctx, eventlog.Open(lf, e.cfg.Input.Tree), lf.EnergyMeV, lf.Events, opts)
		if err != nil {
			return err
		}
		results = append(results, a)
		if *f.plot {
			path := filepath.Join(e.cfg.Output.Dir, fmt.Sprintf("dose_%gMeV.png", lf.EnergyMeV))
			if err := render.Absorbed(path, a); err != nil {
				return err
			}
			e.logger.Info("plot written", "path", path)
		}
	}
	if *f.asJSON {
		return printJSON(results)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENERGY (MeV)\tPEAK (cm)\tPEAK DOSE (Gy)\tGy/PROTON\tBIN MASS (kg)\t")
	for _, a := range results {
		perProton := "-"
		if a.Primaries > 0 {
			perProton = fmt.Sprintf("%.3e", a.PeakGyPerProton)
		}
		fmt.Fprintf(tw, "%.4g\t%.2f\t%.4e\t%s\t%.4g\t\n", a.EnergyMeV, a.PeakDepth, a.PeakDoseGy, perProton, a.BinMassKg)
	}
	return tw.Flush()
}

func runTransverse(ctx context.Context, e *env, args []string) error {
	fs := newFlags("transverse")
	atPeak := fs.Bool("at-peak", false, "profile each layer around its own Bragg peak instead of the configured slices")
	f, err := addAnalysisFlags(e, fs, args)
	if err != nil {
		return err
	}
	files, err := selectFiles(e, *f.file, *f.energy)
	if err != nil {
		return err
	}

	var t *dose.Transverse
	if *atPeak {
		t, err = transverseAtPeaks(ctx, e, files)
	} else {
		t, err = dose.AnalyzeTransverse(ctx, eventlog.OpenAll(files, e.cfg.Input.Tree), e.cfg.TransverseOptions())
	}
	if err != nil {
		return err
	}

	if *f.plot {
		path := filepath.Join(e.cfg.Output.Dir, "transverse_profiles.png")
		if err := render.Profiles(path, t); err != nil {
			return err
		}
		for _, s := range t.Slices {
			p := filepath.Join(e.cfg.Output.Dir, "yz_"+s.Slice.Name+".png")
			if err := render.HeatMap(p, s); err != nil {
				return err
			}
		}
		e.logger.Info("plots written", "dir", e.cfg.Output.Dir, "slices", len(t.Slices))
	}

	type sliceSummary struct {
		Slice  dose.Slice `json:"slice"`
		FWHMcm float64    `json:"fwhm_y_cm"`
		Dose   float64    `json:"dose_mev"`
	}
	out := make([]sliceSummary, len(t.Slices))
	for i, s := range t.Slices {
		out[i] = sliceSummary{Slice: s.Slice, FWHMcm: s.FWHM(), Dose: s.Y.Sum()}
	}
	if *f.asJSON {
		return printJSON(out)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLICE\tDEPTH (cm)\tFWHM Y (cm)\tDOSE (MeV)\t")
	for _, s := range out {
		fmt.Fprintf(tw, "%s\t(%g, %g)\t%.3f\t%.4g\t\n", s.Slice.Name, s.Slice.Min, s.Slice.Max, s.FWHMcm, s.Dose)
	}
	fmt.Fprintf(tw, "\nsteps in phantom: %d\n", t.Steps)
	return tw.Flush()
}

// transverseAtPeaks analyzes every file on its own, with one slice centred on
// that layer's Bragg peak.
func transverseAtPeaks(ctx context.Context, e *env, files []eventlog.LayerFile) (*dose.Transverse, error) {
	out := &dose.Transverse{}
	for _, lf := range files {
		name := fmt.Sprintf("peak_%gMeV", lf.EnergyMeV)
		t, err := dose.AnalyzeTransverseAtPeak(ctx, eventlog.Open(lf, e.cfg.Input.Tree), name, e.cfg.PeakSliceOptions(), e.cfg.TransverseOptions())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", lf.Path, err)
		}
		p := t.Slices[0]
		e.logger.Debug("bragg peak slice", "energy_mev", lf.EnergyMeV, "min", p.Slice.Min, "max", p.Slice.Max)
		out.Slices = append(out.Slices, p)
		out.Steps += t.Steps
	}
	return out, nil
}

func runProcesses(ctx context.Context, e *env, args []string) error {
	f, err := addAnalysisFlags(e, newFlags("processes"), args)
	if err != nil {
		return err
	}
	files, err := selectFiles(e, *f.file, *f.energy)
	if err != nil {
		return err
	}
	c, err := dose.CountProcesses(ctx, eventlog.OpenAll(files, e.cfg.Input.Tree))
	if err != nil {
		return err
	}
	if *f.asJSON {
		return printJSON(c)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "entries: %d\n\n", c.Entries)
	fmt.Fprintln(tw, "PROCESS\tSTEPS\tEDEP (MeV)\t")
	for _, p := range c.Processes {
		fmt.Fprintf(tw, "%s\t%d\t%.4g\t\n", p.Name, p.Steps, p.EdepMeV)
	}
	fmt.Fprintln(tw, "\nPARTICLE\tSTEPS\t")
	for _, p := range c.Particles {
		fmt.Fprintf(tw, "%s\t%d\t\n", p.Name, p.Steps)
	}
	return tw.Flush()
}

func runServe(ctx context.Context, e *env, args []string) error {
	fs := newFlags("serve")
	watch := fs.Bool("watch", false, "also re-solve when the layer files change")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := connect(ctx, e)
	defer c.Close()
	r, err := newRunner(e, c, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	if *watch {
		w, err := pipeline.NewWatcher(r, c.hermes, e.cfg.WatchInterval(), e.logger)
		if err != nil {
			return err
		}
		w.Start(ctx)
		defer w.Stop()
		e.logger.Info("watcher started", "dir", e.cfg.Input.Dir, "interval", e.cfg.WatchInterval())
	}

	// API server
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", e.cfg.Server.Port),
		Handler: api.NewRouter(c.store, r, e.cfg.Server.AdminToken, e.logger),
	}
	return serveUntilSignal(ctx, e, apiServer)
}

func runWatch(ctx context.Context, e *env, args []string) error {
	fs := newFlags("watch")
	dir := fs.String("dir", "", "input directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir != "" {
		e.cfg.Input.Dir = *dir
	}

	c := connect(ctx, e)
	defer c.Close()
	r, err := newRunner(e, c, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	w, err := pipeline.NewWatcher(r, c.hermes, e.cfg.WatchInterval(), e.logger)
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.Stop()
	e.logger.Info("watcher started", "dir", e.cfg.Input.Dir, "interval", e.cfg.WatchInterval())

	return serveUntilSignal(ctx, e)
}

// serveUntilSignal runs the metrics server and any extra servers until
// SIGINT or SIGTERM, then shuts them down.
func serveUntilSignal(ctx context.Context, e *env, servers ...*http.Server) error {
	// Metrics server
	servers = append(servers, &http.Server{
		Addr:    fmt.Sprintf(":%d", e.cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(),
	})

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			e.logger.Info("server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	e.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	e.logger.Info("shutdown complete")
	return runErr
}
