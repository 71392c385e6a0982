package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/pipeline"
	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
)

// MockStore implements store.Store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRun(ctx context.Context, run *store.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Run), args.Error(1)
}

func (m *MockStore) Close() error { return nil }

type MockSolver struct {
	mock.Mock
}

func (m *MockSolver) Discover() ([]eventlog.LayerFile, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]eventlog.LayerFile), args.Error(1)
}

func (m *MockSolver) Run(ctx context.Context, source store.RunSource) (*pipeline.Report, error) {
	args := m.Called(ctx, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Report), args.Error(1)
}

func (m *MockSolver) SolveValues(ctx context.Context, raw []pipeline.RawCurve, source store.RunSource) (*pipeline.Report, error) {
	args := m.Called(ctx, raw, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Report), args.Error(1)
}

func (m *MockSolver) Params() sobp.Params { return sobp.DefaultParams() }

func testRouter(s store.Store, solver Solver) http.Handler {
	return NewRouter(s, solver, "tok", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLayers(t *testing.T) {
	solver := new(MockSolver)
	solver.On("Discover").Return([]eventlog.LayerFile{{Path: "in/raw_70MeV.csv", EnergyMeV: 70, Format: eventlog.FormatCSV}}, nil).Once()
	solver.On("Discover").Return(nil, eventlog.ErrNoLayerFiles).Once()
	h := testRouter(new(MockStore), solver)

	w := do(h, "GET", "/api/v1/layers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var files []eventlog.LayerFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, 70.0, files[0].EnergyMeV)

	w = do(h, "GET", "/api/v1/layers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestParams(t *testing.T) {
	h := testRouter(new(MockStore), new(MockSolver))
	w := do(h, "GET", "/api/v1/params", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var p sobp.Params
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, 200, p.Iterations)
}

func TestSolve(t *testing.T) {
	rep := &pipeline.Report{RunID: uuid.New(), Source: store.SourceAPI, Weights: []float64{0.6, 1}}
	solver := new(MockSolver)
	solver.On("Run", mock.Anything, store.SourceAPI).Return(rep, nil)
	h := testRouter(new(MockStore), solver)

	w := do(h, "POST", "/api/v1/solve", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, rep.RunID.String(), got["run_id"])
	assert.Equal(t, []interface{}{0.6, 1.0}, got["weights"])
	solver.AssertExpectations(t)
}

func TestSolveRequiresAdminToken(t *testing.T) {
	solver := new(MockSolver)
	h := testRouter(new(MockStore), solver)

	req := httptest.NewRequest("POST", "/api/v1/solve", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	solver.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestSolveErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{eventlog.ErrNoLayerFiles, http.StatusNotFound},
		{sobp.ErrAxisMismatch, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		solver := new(MockSolver)
		solver.On("Run", mock.Anything, store.SourceAPI).Return(nil, tc.err)
		w := do(testRouter(nil, solver), "POST", "/api/v1/solve", nil)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}

func TestSolveCurves(t *testing.T) {
	raw := []pipeline.RawCurve{{EnergyMeV: 100, Values: []float64{0, 1, 0}}}
	solver := new(MockSolver)
	solver.On("SolveValues", mock.Anything, raw, store.SourceAPI).Return(&pipeline.Report{Weights: []float64{1}}, nil)
	h := testRouter(nil, solver)

	body, _ := json.Marshal(SolveCurvesRequest{Curves: raw})
	w := do(h, "POST", "/api/v1/solve/curves", body)
	assert.Equal(t, http.StatusOK, w.Code)
	solver.AssertExpectations(t)

	w = do(h, "POST", "/api/v1/solve/curves", []byte(`{"curves":[]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, "POST", "/api/v1/solve/curves", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRuns(t *testing.T) {
	ms := new(MockStore)
	run := &store.Run{ID: uuid.New(), Source: store.SourceWatch, Weights: []float64{1}}
	ms.On("ListRuns", mock.Anything, store.RunFilter{Source: store.SourceWatch, Limit: 5}).Return([]*store.Run{run}, nil)
	ms.On("ListRuns", mock.Anything, store.RunFilter{}).Return(nil, nil)
	h := testRouter(ms, new(MockSolver))

	w := do(h, "GET", "/api/v1/runs?source=watch&limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	w = do(h, "GET", "/api/v1/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(h, "GET", "/api/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun(t *testing.T) {
	ms := new(MockStore)
	id := uuid.New()
	missing := uuid.New()
	ms.On("GetRun", mock.Anything, id).Return(&store.Run{ID: id}, nil)
	ms.On("GetRun", mock.Anything, missing).Return(nil, nil)
	h := testRouter(ms, new(MockSolver))

	assert.Equal(t, http.StatusOK, do(h, "GET", "/api/v1/runs/"+id.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, "GET", "/api/v1/runs/"+missing.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "GET", "/api/v1/runs/nope", nil).Code)
}

func TestRunsWithoutArchive(t *testing.T) {
	h := testRouter(nil, new(MockSolver))
	assert.Equal(t, http.StatusServiceUnavailable, do(h, "GET", "/api/v1/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, "GET", "/api/v1/runs/"+uuid.NewString(), nil).Code)
}

func TestHealth(t *testing.T) {
	w := do(NewMetricsRouter(), "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
