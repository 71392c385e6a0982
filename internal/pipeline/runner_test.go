package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Phantom/internal/config"
	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/hermes"
	"github.com/MikeSquared-Agency/Phantom/internal/metrics"
	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
	"github.com/MikeSquared-Agency/Phantom/internal/synth"
)

type mockStore struct {
	mu   sync.Mutex
	runs []*store.Run
	err  error
}

func (m *mockStore) CreateRun(_ context.Context, r *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id uuid.UUID) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListRuns(_ context.Context, _ store.RunFilter) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Run(nil), m.runs...), nil
}

func (m *mockStore) Close() error { return nil }

type published struct {
	subject string
	data    interface{}
}

type mockHermes struct {
	mu        sync.Mutex
	published []published
}

func (m *mockHermes) Publish(subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{subject, data})
	return nil
}

func (m *mockHermes) Close() {}

func (m *mockHermes) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.published))
	for i, p := range m.published {
		out[i] = p.subject
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Input.Dir = dir
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Plots = false
	cfg.Solver.Iterations = 100
	return cfg
}

func writeLayers(t *testing.T, dir string, energies ...float64) {
	t.Helper()
	for _, e := range energies {
		b := synth.DefaultBeam(e, 30)
		b.StepCM = 0.1
		_, err := synth.WriteLayer(dir, "raw_", b)
		require.NoError(t, err)
	}
}

func TestRunSolvesDiscoveredLayers(t *testing.T) {
	dir := t.TempDir()
	writeLayers(t, dir, 120, 100, 110)

	ms := &mockStore{}
	mh := &mockHermes{}
	m := metrics.New(prometheus.NewRegistry())
	r, err := NewRunner(testConfig(t, dir), ms, mh, m, discardLogger())
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), store.SourceCLI)
	require.NoError(t, err)

	require.Len(t, rep.Layers, 3)
	assert.Equal(t, []float64{100, 110, 120}, []float64{rep.Layers[0].EnergyMeV, rep.Layers[1].EnergyMeV, rep.Layers[2].EnergyMeV})
	assert.Equal(t, "raw_100MeV_30evts.csv", rep.Layers[0].File)
	assert.Equal(t, 1.0, rep.Weights[2])
	assert.Equal(t, 100, rep.Iterations)
	assert.Empty(t, rep.Degenerate())
	assert.Equal(t, dir, rep.InputDir)
	for _, l := range rep.Layers {
		assert.Greater(t, l.Steps, int64(0))
		assert.GreaterOrEqual(t, l.Weight, 0.01)
		assert.LessOrEqual(t, l.Weight, 2.0)
	}

	require.Len(t, ms.runs, 1)
	assert.Equal(t, rep.RunID, ms.runs[0].ID)
	assert.Equal(t, store.SourceCLI, ms.runs[0].Source)
	assert.Equal(t, rep.Weights, ms.runs[0].Weights)

	assert.Equal(t, []string{hermes.SubjectRunSolved(rep.RunID.String())}, mh.subjects())
	evt := mh.published[0].data.(hermes.RunSolvedEvent)
	assert.Equal(t, []float64{100, 110, 120}, evt.Energies)
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	writeLayers(t, dir, 100, 110)

	cfg := testConfig(t, dir)
	cfg.Output.Plots = true
	r, err := NewRunner(cfg, nil, nil, nil, discardLogger())
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), store.SourceCLI)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Outputs)
	for _, p := range rep.Outputs {
		fi, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Greater(t, fi.Size(), int64(0), p)
	}
}

func TestRunWithoutLayersFails(t *testing.T) {
	mh := &mockHermes{}
	r, err := NewRunner(testConfig(t, t.TempDir()), nil, mh, nil, discardLogger())
	require.NoError(t, err)

	_, err = r.Run(context.Background(), store.SourceCLI)
	assert.ErrorIs(t, err, eventlog.ErrNoLayerFiles)

	subjects := mh.subjects()
	require.Len(t, subjects, 1)
	assert.True(t, strings.HasSuffix(subjects[0], ".failed"), subjects[0])
}

func TestArchiveFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeLayers(t, dir, 100)

	ms := &mockStore{err: errors.New("db down")}
	r, err := NewRunner(testConfig(t, dir), ms, nil, nil, discardLogger())
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), store.SourceCLI)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, rep.Weights)
}

func TestSolveValuesReportsDegenerate(t *testing.T) {
	mh := &mockHermes{}
	r, err := NewRunner(testConfig(t, t.TempDir()), nil, mh, nil, discardLogger())
	require.NoError(t, err)

	// default axis: 500 bins over [-15, 35)
	peaked := make([]float64, 500)
	for i := 150; i < 200; i++ {
		peaked[i] = float64(i - 149)
	}
	raw := []RawCurve{
		{EnergyMeV: 130, Values: peaked},
		{EnergyMeV: 90, Values: make([]float64, 500)},
	}
	rep, err := r.SolveValues(context.Background(), raw, store.SourceAPI)
	require.NoError(t, err)

	assert.Equal(t, 90.0, rep.Layers[0].EnergyMeV)
	assert.Equal(t, []float64{90}, rep.Degenerate())
	assert.Empty(t, rep.InputDir)

	id := rep.RunID.String()
	assert.Equal(t, []string{hermes.SubjectRunDegenerate(id), hermes.SubjectRunSolved(id)}, mh.subjects())
}

func TestSolveValuesRejectsWrongLength(t *testing.T) {
	r, err := NewRunner(testConfig(t, t.TempDir()), nil, nil, nil, discardLogger())
	require.NoError(t, err)

	_, err = r.SolveValues(context.Background(), []RawCurve{{EnergyMeV: 100, Values: []float64{1, 2}}}, store.SourceAPI)
	assert.Error(t, err)
}

func TestComposeFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeLayers(t, dir, 100, 110, 120)

	r, err := NewRunner(testConfig(t, dir), nil, nil, nil, discardLogger())
	require.NoError(t, err)
	files, err := r.Discover()
	require.NoError(t, err)

	rep, err := r.Compose(context.Background(), files, []float64{0.5, 1})
	require.NoError(t, err)
	assert.True(t, rep.Fallback)
	assert.Equal(t, sobp.FallbackWeights(3), rep.Weights)

	rep, err = r.Compose(context.Background(), files, []float64{0.4, 0.6, 1})
	require.NoError(t, err)
	assert.False(t, rep.Fallback)
	assert.Equal(t, []float64{0.4, 0.6, 1}, rep.Weights)
	assert.Len(t, rep.Plateau.Values, 3)
}

func TestNewRunnerRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Solver.MinWeight = 3
	_, err := NewRunner(cfg, nil, nil, nil, discardLogger())
	assert.Error(t, err)

	cfg = testConfig(t, t.TempDir())
	cfg.Smoothing.Method = "gaussian"
	_, err = NewRunner(cfg, nil, nil, nil, discardLogger())
	assert.Error(t, err)
}
