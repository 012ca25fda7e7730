package persist

import (
	"context"
	"time"
)

// BotRegistrationRow is one AI Arena bot waiting for (or holding) a body in
// some world. The secret hash authenticates later control requests.
type BotRegistrationRow struct {
	ID          int64
	BotID       string
	Name        string
	Character   string
	Identity    string
	Plan        string
	Personality string
	InitialZone string
	SecretHash  string
	Status      string
	WorldID     *string
	CreatedAt   time.Time
}

const (
	BotPending = "pending"
	BotPlaced  = "placed"
)

type BotRepo struct {
	db *DB
}

func NewBotRepo(db *DB) *BotRepo {
	return &BotRepo{db: db}
}

func (r *BotRepo) Create(ctx context.Context, b *BotRegistrationRow) error {
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO pending_bot_registrations
		   (bot_id, name, character, identity, plan, personality, initial_zone, secret_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		b.BotID, b.Name, b.Character, b.Identity, b.Plan, b.Personality, b.InitialZone, b.SecretHash,
	).Scan(&b.ID)
}

func (r *BotRepo) LoadByBotID(ctx context.Context, botID string) (*BotRegistrationRow, error) {
	b := &BotRegistrationRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, bot_id, name, character, identity, plan, personality, initial_zone,
		        secret_hash, status, world_id, created_at
		 FROM pending_bot_registrations WHERE bot_id = $1`, botID,
	).Scan(&b.ID, &b.BotID, &b.Name, &b.Character, &b.Identity, &b.Plan, &b.Personality,
		&b.InitialZone, &b.SecretHash, &b.Status, &b.WorldID, &b.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListPending returns registrations still waiting for a world, oldest first.
func (r *BotRepo) ListPending(ctx context.Context, limit int) ([]BotRegistrationRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, bot_id, name, character, identity, plan, personality, initial_zone,
		        secret_hash, status, world_id, created_at
		 FROM pending_bot_registrations
		 WHERE status = 'pending' ORDER BY id LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BotRegistrationRow
	for rows.Next() {
		var b BotRegistrationRow
		if err := rows.Scan(&b.ID, &b.BotID, &b.Name, &b.Character, &b.Identity, &b.Plan,
			&b.Personality, &b.InitialZone, &b.SecretHash, &b.Status, &b.WorldID, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// MarkPlaced records that a registration was turned into an agent in worldID.
func (r *BotRepo) MarkPlaced(ctx context.Context, id int64, worldID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE pending_bot_registrations SET status = 'placed', world_id = $1
		 WHERE id = $2 AND status = 'pending'`,
		worldID, id,
	)
	return err
}
