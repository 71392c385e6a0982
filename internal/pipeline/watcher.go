package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/hermes"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
)

// Watcher polls the input directory and re-solves whenever the set of layer
// files changes.
type Watcher struct {
	runner   *Runner
	hermes   hermes.Client
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	fingerprint string
	last        *Report

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewWatcher(r *Runner, h hermes.Client, interval time.Duration, logger *slog.Logger) (*Watcher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive, got %v", interval)
	}
	return &Watcher{
		runner:   r,
		hermes:   h,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Last returns the report of the most recent successful run, or nil.
func (w *Watcher) Last() *Report {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	if _, err := w.Check(ctx); err != nil {
		w.logger.Error("watch check failed", "dir", w.runner.cfg.Input.Dir, "error", err)
	}
}

// Check runs one poll. It reports whether the layer set changed and a solve
// was attempted. A failed solve leaves the fingerprint unchanged so the next
// poll retries.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	files, err := w.runner.Discover()
	if errors.Is(err, eventlog.ErrNoLayerFiles) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	fp, err := Fingerprint(files)
	if err != nil {
		return false, err
	}

	w.mu.RLock()
	same := fp == w.fingerprint
	w.mu.RUnlock()
	if same {
		return false, nil
	}

	energies := make([]float64, len(files))
	for i, f := range files {
		energies[i] = f.EnergyMeV
	}
	w.logger.Info("layer set changed", "dir", w.runner.cfg.Input.Dir, "layers", len(files), "fingerprint", fp[:12])
	if w.hermes != nil {
		evt := hermes.LayersDiscoveredEvent{
			InputDir:    w.runner.cfg.Input.Dir,
			Energies:    energies,
			Fingerprint: fp,
			Timestamp:   time.Now(),
		}
		if err := w.hermes.Publish(hermes.SubjectLayersDiscovered, evt); err != nil {
			w.logger.Warn("failed to publish layers discovered", "error", err)
		}
	}

	rep, err := w.runner.SolveFiles(ctx, files, store.SourceWatch)
	if err != nil {
		return true, err
	}

	w.mu.Lock()
	w.fingerprint = fp
	w.last = rep
	w.mu.Unlock()
	return true, nil
}

// Fingerprint hashes the path, size and modification time of every file.
func Fingerprint(files []eventlog.LayerFile) (string, error) {
	h := sha256.New()
	for _, f := range files {
		fi, err := os.Stat(f.Path)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", f.Path, err)
		}
		fmt.Fprintf(h, "%s|%d|%d\n", f.Path, fi.Size(), fi.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
