package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/Phantom/internal/config"
	"github.com/MikeSquared-Agency/Phantom/internal/hermes"
	"github.com/MikeSquared-Agency/Phantom/internal/metrics"
	"github.com/MikeSquared-Agency/Phantom/internal/pipeline"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
)

const usage = `usage: phantom <command> [flags]

commands:
  solve       optimize SOBP layer weights over the input directory
  compose     sum the layers with given weights
  bragg       locate the Bragg peak and distal range of each layer
  dose        split the depth dose into primary and secondary Gy
  transverse  lateral profiles and Y-Z maps of depth slices
  processes   step census by physics process and particle
  serve       HTTP API, metrics and optional watch loop
  watch       re-solve whenever the layer files change
`

type command func(ctx context.Context, env *env, args []string) error

var commands = map[string]command{
	"solve":      runSolve,
	"compose":    runCompose,
	"bragg":      runBragg,
	"dose":       runDose,
	"transverse": runTransverse,
	"processes":  runProcesses,
	"serve":      runServe,
	"watch":      runWatch,
}

// env carries what every command needs once the config is loaded.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	// -config is accepted by every command; peel it off before the command
	// parses its own flags.
	configPath, args := splitConfigFlag(os.Args[2:])

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	// Analysis commands print their results on stdout, so their logs go to
	// stderr.
	logOut := os.Stderr
	if os.Args[1] == "serve" || os.Args[1] == "watch" {
		logOut = os.Stdout
	}
	logger := newLogger(cfg.Logging, logOut)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cmd(ctx, &env{cfg: cfg, logger: logger}, args); err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		cancel()
		os.Exit(1)
	}
}

func splitConfigFlag(args []string) (string, []string) {
	var path string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				path = args[i+1]
				i++
			}
		case strings.HasPrefix(a, "-config=") || strings.HasPrefix(a, "--config="):
			path = a[strings.Index(a, "=")+1:]
		default:
			rest = append(rest, a)
		}
	}
	return path, rest
}

func newLogger(c config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: phantom %s [-config file] [flags]\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// collaborators holds the optional archive and event publisher. Either may
// be nil when not configured or unreachable.
type collaborators struct {
	store  store.Store
	hermes hermes.Client
}

func (c *collaborators) Close() {
	if c.hermes != nil {
		c.hermes.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

func connect(ctx context.Context, e *env) *collaborators {
	c := &collaborators{}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// Database (optional)
	if e.cfg.Database.URL != "" {
		db, err := store.NewPostgresStore(connectCtx, e.cfg.Database.URL)
		if err != nil {
			e.logger.Warn("failed to connect to database, running without run archive", "error", err)
		} else if err := db.EnsureSchema(connectCtx); err != nil {
			e.logger.Warn("failed to ensure schema, running without run archive", "error", err)
			db.Close()
		} else {
			c.store = db
			e.logger.Info("connected to database")
		}
	}

	// Hermes (optional)
	if e.cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(connectCtx, e.cfg.Hermes.URL, e.logger)
		if err != nil {
			e.logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			c.hermes = hc
			e.logger.Info("connected to hermes")
		}
	}
	return c
}

func newRunner(e *env, c *collaborators, reg prometheus.Registerer) (*pipeline.Runner, error) {
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}
	var s store.Store
	var h hermes.Client
	if c != nil {
		s, h = c.store, c.hermes
	}
	return pipeline.NewRunner(e.cfg, s, h, m, e.logger)
}
