package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/histo"
	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
)

type Config struct {
	Input      InputConfig      `yaml:"input"`
	Histogram  AxisConfig       `yaml:"histogram"`
	PeakWindow WindowConfig     `yaml:"peak_window"`
	Smoothing  SmoothingConfig  `yaml:"smoothing"`
	Solver     SolverConfig     `yaml:"solver"`
	Bragg      BraggConfig      `yaml:"bragg"`
	Absorbed   AbsorbedConfig   `yaml:"absorbed"`
	Transverse TransverseConfig `yaml:"transverse"`
	Phantom    PhantomConfig    `yaml:"phantom"`
	Output     OutputConfig     `yaml:"output"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Hermes     HermesConfig     `yaml:"hermes"`
	Watch      WatchConfig      `yaml:"watch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type InputConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	Tree   string `yaml:"tree"`
	Volume string `yaml:"volume"`
}

type AxisConfig struct {
	Bins int     `yaml:"bins"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

func (a AxisConfig) Axis() dose.Axis { return dose.Axis{Bins: a.Bins, Min: a.Min, Max: a.Max} }

type WindowConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type SmoothingConfig struct {
	Method string `yaml:"method"`
	Passes int    `yaml:"passes"`
}

type SolverConfig struct {
	Iterations int     `yaml:"iterations"`
	Target     float64 `yaml:"target"`
	Retain     float64 `yaml:"retain"`
	Gain       float64 `yaml:"gain"`
	MinWeight  float64 `yaml:"min_weight"`
	MaxWeight  float64 `yaml:"max_weight"`
}

type BraggConfig struct {
	Histogram     AxisConfig `yaml:"histogram"`
	Passes        int        `yaml:"passes"`
	RangeFraction float64    `yaml:"range_fraction"`
}

type AbsorbedConfig struct {
	Histogram AxisConfig `yaml:"histogram"`
	Passes    int        `yaml:"passes"`
}

type TransverseConfig struct {
	Profile AxisConfig   `yaml:"profile"`
	Map     AxisConfig   `yaml:"map"`
	Slices  []dose.Slice `yaml:"slices"`

	// Peak-following mode: per layer, a slice of PeakHalfWidthCM either
	// side of the maximum of an unsmoothed PeakSearch depth-dose.
	PeakSearch      AxisConfig   `yaml:"peak_search"`
	PeakWindow      WindowConfig `yaml:"peak_window"`
	PeakHalfWidthCM float64      `yaml:"peak_half_width_cm"`
}

type PhantomConfig struct {
	LengthCM float64 `yaml:"length_cm"`
	WidthCM  float64 `yaml:"width_cm"`
	HeightCM float64 `yaml:"height_cm"`
	Density  float64 `yaml:"density"`
}

type OutputConfig struct {
	Dir   string `yaml:"dir"`
	Plots bool   `yaml:"plots"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

type WatchConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalMs) * time.Millisecond
}

// IngestOptions builds the curve ingestion settings used by the solver.
func (c *Config) IngestOptions() (dose.IngestOptions, error) {
	m, err := histo.ParseSmoothMethod(c.Smoothing.Method)
	if err != nil {
		return dose.IngestOptions{}, err
	}
	return dose.IngestOptions{
		Axis:      c.Histogram.Axis(),
		Window:    dose.Window{Min: c.PeakWindow.Min, Max: c.PeakWindow.Max},
		Volume:    c.Input.Volume,
		Smoothing: m,
		Passes:    c.Smoothing.Passes,
	}, nil
}

func (c *Config) SolverParams() sobp.Params {
	return sobp.Params{
		Iterations: c.Solver.Iterations,
		Target:     c.Solver.Target,
		Retain:     c.Solver.Retain,
		Gain:       c.Solver.Gain,
		MinWeight:  c.Solver.MinWeight,
		MaxWeight:  c.Solver.MaxWeight,
	}
}

func (c *Config) BraggOptions() (dose.BraggOptions, error) {
	m, err := histo.ParseSmoothMethod(c.Smoothing.Method)
	if err != nil {
		return dose.BraggOptions{}, err
	}
	return dose.BraggOptions{
		Axis:      c.Bragg.Histogram.Axis(),
		Volume:    c.Input.Volume,
		Smoothing: m,
		Passes:    c.Bragg.Passes,
		Fraction:  c.Bragg.RangeFraction,
	}, nil
}

func (c *Config) AbsorbedOptions() (dose.AbsorbedOptions, error) {
	m, err := histo.ParseSmoothMethod(c.Smoothing.Method)
	if err != nil {
		return dose.AbsorbedOptions{}, err
	}
	return dose.AbsorbedOptions{
		Axis:      c.Absorbed.Histogram.Axis(),
		Window:    dose.Window{Min: c.PeakWindow.Min, Max: c.PeakWindow.Max},
		Volume:    c.Input.Volume,
		Smoothing: m,
		Passes:    c.Absorbed.Passes,
		Phantom: dose.Phantom{
			LengthCM: c.Phantom.LengthCM,
			WidthCM:  c.Phantom.WidthCM,
			HeightCM: c.Phantom.HeightCM,
			Density:  c.Phantom.Density,
		},
	}, nil
}

func (c *Config) TransverseOptions() dose.TransverseOptions {
	return dose.TransverseOptions{
		Volume:  c.Input.Volume,
		Slices:  c.Transverse.Slices,
		Profile: c.Transverse.Profile.Axis(),
		Map:     c.Transverse.Map.Axis(),
	}
}

func (c *Config) PeakSliceOptions() dose.PeakSliceOptions {
	return dose.PeakSliceOptions{
		Volume:    c.Input.Volume,
		Axis:      c.Transverse.PeakSearch.Axis(),
		Window:    dose.Window{Min: c.Transverse.PeakWindow.Min, Max: c.Transverse.PeakWindow.Max},
		HalfWidth: c.Transverse.PeakHalfWidthCM,
	}
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Input: InputConfig{
			Dir:    ".",
			Prefix: "raw_",
			Tree:   "raw_data",
			Volume: "Phantom_phys",
		},
		Histogram:  AxisConfig{Bins: 500, Min: -15, Max: 35},
		PeakWindow: WindowConfig{Min: -5, Max: 15},
		Smoothing: SmoothingConfig{
			Method: string(histo.Smooth353QH),
			Passes: 2,
		},
		Solver: SolverConfig{
			Iterations: 200,
			Target:     1.0,
			Retain:     0.8,
			Gain:       0.2,
			MinWeight:  0.01,
			MaxWeight:  2.0,
		},
		Bragg: BraggConfig{
			Histogram:     AxisConfig{Bins: 300, Min: -15, Max: 35},
			Passes:        1,
			RangeFraction: dose.DefaultRangeFraction,
		},
		Absorbed: AbsorbedConfig{
			Histogram: AxisConfig{Bins: 200, Min: -15, Max: 25},
			Passes:    2,
		},
		Transverse: TransverseConfig{
			Profile: AxisConfig{Bins: 100, Min: -15, Max: 15},
			Map:     AxisConfig{Bins: 50, Min: -10, Max: 10},
			Slices:  dose.DefaultSlices(),

			PeakSearch:      AxisConfig{Bins: 200, Min: -15, Max: 35},
			PeakWindow:      WindowConfig{Min: -5, Max: 20},
			PeakHalfWidthCM: 1,
		},
		Phantom: PhantomConfig{
			LengthCM: 40,
			WidthCM:  20,
			HeightCM: 20,
			Density:  1,
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Watch: WatchConfig{
			IntervalMs: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if cfg.Watch.IntervalMs <= 0 {
		return nil, fmt.Errorf("watch.interval_ms must be positive, got %d", cfg.Watch.IntervalMs)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PHANTOM_INPUT_DIR"); v != "" {
		cfg.Input.Dir = v
	}
	if v := os.Getenv("PHANTOM_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("PHANTOM_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("PHANTOM_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("PHANTOM_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("PHANTOM_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PHANTOM_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("PHANTOM_SOLVER_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Solver.Iterations = n
		}
	}
	if v := os.Getenv("PHANTOM_WATCH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.IntervalMs = n
		}
	}
	if v := os.Getenv("PHANTOM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
