package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTooManyInputs is returned when an engine's backlog of unprocessed
// inputs is at the cap. Callers surface it as a rate-limit failure.
var ErrTooManyInputs = errors.New("too many pending inputs for engine")

// InputRow is one journal entry. Numbers are dense and monotone per engine;
// return_value stays NULL until the engine processes the input.
type InputRow struct {
	EngineID    string
	Number      int64
	WorldID     string
	Name        string
	Args        json.RawMessage
	ReturnValue json.RawMessage
	ReceivedAt  time.Time
}

type InputRepo struct {
	db *DB
}

func NewInputRepo(db *DB) *InputRepo {
	return &InputRepo{db: db}
}

// Append journals one input, allocating the next dense number for the
// engine. The per-engine advisory lock serializes concurrent appenders so
// numbers never collide or skip.
func (r *InputRepo) Append(ctx context.Context, worldID, engineID, name string, args json.RawMessage, maxPending int) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, engineID); err != nil {
		return 0, err
	}

	if maxPending > 0 {
		var pending int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM inputs WHERE engine_id = $1 AND return_value IS NULL`,
			engineID,
		).Scan(&pending)
		if err != nil {
			return 0, err
		}
		if pending >= maxPending {
			return 0, ErrTooManyInputs
		}
	}

	var number int64
	err = tx.QueryRow(ctx,
		`INSERT INTO inputs (engine_id, number, world_id, name, args)
		 SELECT $1, COALESCE(MAX(number), -1) + 1, $2, $3, $4 FROM inputs WHERE engine_id = $1
		 RETURNING number`,
		engineID, worldID, name, args,
	).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("append input %s: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return number, nil
}

// LoadUnprocessed returns inputs with numbers greater than after, in order,
// up to limit rows. Rows that already carry a return value (processed, or
// failed by an emergency flush) are skipped.
func (r *InputRepo) LoadUnprocessed(ctx context.Context, engineID string, after int64, limit int) ([]InputRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT engine_id, number, world_id, name, args, return_value, received_at
		 FROM inputs
		 WHERE engine_id = $1 AND number > $2 AND return_value IS NULL
		 ORDER BY number
		 LIMIT $3`,
		engineID, after, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []InputRow
	for rows.Next() {
		var in InputRow
		if err := rows.Scan(
			&in.EngineID, &in.Number, &in.WorldID, &in.Name,
			&in.Args, &in.ReturnValue, &in.ReceivedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// Load returns one input by engine and number, or nil when absent.
func (r *InputRepo) Load(ctx context.Context, engineID string, number int64) (*InputRow, error) {
	in := &InputRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT engine_id, number, world_id, name, args, return_value, received_at
		 FROM inputs WHERE engine_id = $1 AND number = $2`,
		engineID, number,
	).Scan(&in.EngineID, &in.Number, &in.WorldID, &in.Name, &in.Args, &in.ReturnValue, &in.ReceivedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// FlushStale marks unprocessed inputs older than maxAge as failed without
// executing them. It unwedges callers polling inputs whose engine never
// picked them up; the engine skips rows that already carry a return value.
func (r *InputRepo) FlushStale(ctx context.Context, maxAge time.Duration, batch int) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE inputs SET return_value = $1 WHERE ctid IN (
		   SELECT ctid FROM inputs
		   WHERE return_value IS NULL AND received_at < $2
		   LIMIT $3
		 )`,
		json.RawMessage(`{"error":{"kind":"timedOut","message":"emergency flush"}}`),
		cutoff, batch,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Vacuum deletes processed inputs older than maxAge, at most batch rows per
// call. Returns the number deleted so callers can loop until zero.
func (r *InputRepo) Vacuum(ctx context.Context, maxAge time.Duration, batch int) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM inputs WHERE ctid IN (
		   SELECT ctid FROM inputs
		   WHERE return_value IS NOT NULL AND received_at < $1
		   LIMIT $2
		 )`,
		cutoff, batch,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
