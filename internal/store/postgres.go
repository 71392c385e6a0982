package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS sobp_runs (
	run_id      UUID PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	source      TEXT NOT NULL,
	input_dir   TEXT NOT NULL DEFAULT '',
	energies    DOUBLE PRECISION[] NOT NULL,
	weights     DOUBLE PRECISION[] NOT NULL,
	degenerate  DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
	params      JSONB NOT NULL,
	plateau     JSONB NOT NULL,
	clamped     INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sobp_runs_created_at_idx ON sobp_runs (created_at DESC);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the runs table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const runColumns = `run_id, created_at, source, input_dir,
	energies, weights, degenerate,
	params, plateau, clamped, duration_ms`

func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	plateauJSON, err := json.Marshal(run.Plateau)
	if err != nil {
		return fmt.Errorf("marshal plateau: %w", err)
	}
	degenerate := run.Degenerate
	if degenerate == nil {
		degenerate = []float64{}
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO sobp_runs (run_id, source, input_dir,
			energies, weights, degenerate,
			params, plateau, clamped, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		run.ID, string(run.Source), run.InputDir,
		run.Energies, run.Weights, degenerate,
		paramsJSON, plateauJSON, run.Clamped, run.DurationMs,
	).Scan(&run.CreatedAt)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sobp_runs WHERE run_id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM sobp_runs WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Source != "" {
		n++
		query += fmt.Sprintf(" AND source = $%d", n)
		args = append(args, string(filter.Source))
	}
	if filter.InputDir != "" {
		n++
		query += fmt.Sprintf(" AND input_dir = $%d", n)
		args = append(args, filter.InputDir)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	r := &Run{}
	var source string
	var paramsJSON, plateauJSON []byte
	if err := row.Scan(
		&r.ID, &r.CreatedAt, &source, &r.InputDir,
		&r.Energies, &r.Weights, &r.Degenerate,
		&paramsJSON, &plateauJSON, &r.Clamped, &r.DurationMs,
	); err != nil {
		return nil, err
	}
	r.Source = RunSource(source)
	if paramsJSON != nil {
		_ = json.Unmarshal(paramsJSON, &r.Params)
	}
	if plateauJSON != nil {
		_ = json.Unmarshal(plateauJSON, &r.Plateau)
	}
	return r, nil
}
