package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Phantom/internal/sobp"
)

type RunSource string

const (
	SourceCLI   RunSource = "cli"
	SourceAPI   RunSource = "api"
	SourceWatch RunSource = "watch"
)

// Run is an archived solver run. Archived runs are never fed back into a
// later computation.
type Run struct {
	ID        uuid.UUID `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Source    RunSource `json:"source"`
	InputDir  string    `json:"input_dir,omitempty"`

	Energies []float64 `json:"energies_mev"`
	Weights  []float64 `json:"weights"`
	// Degenerate lists the energies whose curves could not be normalized.
	Degenerate []float64 `json:"degenerate_mev,omitempty"`

	Params     sobp.Params  `json:"params"`
	Plateau    sobp.Plateau `json:"plateau"`
	Clamped    int          `json:"clamped"`
	DurationMs int64        `json:"duration_ms"`
}

type RunFilter struct {
	Source   RunSource
	InputDir string
	Limit    int
	Offset   int
}

type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	// GetRun returns nil, nil when no run has the given ID.
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	Close() error
}
