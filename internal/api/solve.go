package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MikeSquared-Agency/Phantom/internal/dose"
	"github.com/MikeSquared-Agency/Phantom/internal/eventlog"
	"github.com/MikeSquared-Agency/Phantom/internal/pipeline"
	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
	"github.com/MikeSquared-Agency/Phantom/internal/store"
)

// Solver is the part of pipeline.Runner the API drives.
type Solver interface {
	Discover() ([]eventlog.LayerFile, error)
	Run(ctx context.Context, source store.RunSource) (*pipeline.Report, error)
	SolveValues(ctx context.Context, raw []pipeline.RawCurve, source store.RunSource) (*pipeline.Report, error)
	Params() sobp.Params
}

type SolveHandler struct {
	solver Solver
}

func NewSolveHandler(s Solver) *SolveHandler {
	return &SolveHandler{solver: s}
}

func (h *SolveHandler) Layers(w http.ResponseWriter, r *http.Request) {
	files, err := h.solver.Discover()
	if errors.Is(err, eventlog.ErrNoLayerFiles) {
		writeJSON(w, http.StatusOK, []eventlog.LayerFile{})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *SolveHandler) Params(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.solver.Params())
}

// Solve runs the solver over the configured input directory.
func (h *SolveHandler) Solve(w http.ResponseWriter, r *http.Request) {
	rep, err := h.solver.Run(r.Context(), store.SourceAPI)
	if err != nil {
		writeJSON(w, solveStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type SolveCurvesRequest struct {
	Curves []pipeline.RawCurve `json:"curves"`
}

// SolveCurves solves depth-dose histograms posted by the client.
func (h *SolveHandler) SolveCurves(w http.ResponseWriter, r *http.Request) {
	var req SolveCurvesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Curves) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "curves required"})
		return
	}

	rep, err := h.solver.SolveValues(r.Context(), req.Curves, store.SourceAPI)
	if err != nil {
		writeJSON(w, solveStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func solveStatus(err error) int {
	switch {
	case errors.Is(err, eventlog.ErrNoLayerFiles), errors.Is(err, sobp.ErrNoLayers):
		return http.StatusNotFound
	case errors.Is(err, dose.ErrInvalidAxis), errors.Is(err, sobp.ErrAxisMismatch), errors.Is(err, sobp.ErrPeakOutOfRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
