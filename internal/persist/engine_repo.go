package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// EngineRow mirrors one row of the engines table. SimTime is the engine's
// simulated clock in ms; UpdatedAt is the wall-clock heartbeat.
type EngineRow struct {
	ID                   string
	WorldID              string
	Generation           int64
	SimTime              int64
	ProcessedInputNumber int64
	State                string
	UpdatedAt            time.Time
}

const (
	EngineRunning = "running"
	EngineStopped = "stopped"
)

type EngineRepo struct {
	db *DB
}

func NewEngineRepo(db *DB) *EngineRepo {
	return &EngineRepo{db: db}
}

func (r *EngineRepo) Create(ctx context.Context, e *EngineRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO engines (id, world_id, generation, sim_time, processed_input_number, state)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.WorldID, e.Generation, e.SimTime, e.ProcessedInputNumber, e.State,
	)
	return err
}

func (r *EngineRepo) Load(ctx context.Context, id string) (*EngineRow, error) {
	e := &EngineRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, world_id, generation, sim_time, processed_input_number, state, updated_at
		 FROM engines WHERE id = $1`, id,
	).Scan(&e.ID, &e.WorldID, &e.Generation, &e.SimTime, &e.ProcessedInputNumber, &e.State, &e.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RunningForWorld returns the running engine for a world, or nil.
func (r *EngineRepo) RunningForWorld(ctx context.Context, worldID string) (*EngineRow, error) {
	e := &EngineRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, world_id, generation, sim_time, processed_input_number, state, updated_at
		 FROM engines WHERE world_id = $1 AND state = 'running'
		 ORDER BY generation DESC LIMIT 1`, worldID,
	).Scan(&e.ID, &e.WorldID, &e.Generation, &e.SimTime, &e.ProcessedInputNumber, &e.State, &e.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListStalled returns running engines whose heartbeat is older than cutoff.
func (r *EngineRepo) ListStalled(ctx context.Context, cutoff time.Time) ([]EngineRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, world_id, generation, sim_time, processed_input_number, state, updated_at
		 FROM engines WHERE state = 'running' AND updated_at < $1`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EngineRow
	for rows.Next() {
		var e EngineRow
		if err := rows.Scan(&e.ID, &e.WorldID, &e.Generation, &e.SimTime,
			&e.ProcessedInputNumber, &e.State, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Stop marks an engine stopped. The generation guard means a takeover that
// already bumped the generation wins over a late stop.
func (r *EngineRepo) Stop(ctx context.Context, id string, generation int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE engines SET state = 'stopped', updated_at = NOW()
		 WHERE id = $1 AND generation = $2`,
		id, generation,
	)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
