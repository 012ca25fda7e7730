package persist

import (
	"context"

	"github.com/townd/server/internal/world"
)

// DomainRepo covers the external game tables operations read and write:
// relationships, inventories, bot experience, lootboxes and activity logs.
// Nothing here touches the snapshot; the kernel sees these tables only
// through the per-step external view.
type DomainRepo struct {
	db *DB
}

func NewDomainRepo(db *DB) *DomainRepo {
	return &DomainRepo{db: db}
}

// LoadExternalView reads the social and economic state for one world. Called
// once per step, before any tick runs.
func (r *DomainRepo) LoadExternalView(ctx context.Context, worldID string) (*world.ExternalView, error) {
	view := world.NewExternalView()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT owner_id, other_id, trust, revenge, loyalty, fear
		 FROM relationships WHERE world_id = $1`, worldID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var owner, other int64
		var rel world.Relationship
		if err := rows.Scan(&owner, &other, &rel.Trust, &rel.Revenge, &rel.Loyalty, &rel.Fear); err != nil {
			return nil, err
		}
		ownerID := world.PlayerID(owner)
		if view.Relationships[ownerID] == nil {
			view.Relationships[ownerID] = map[world.PlayerID]world.Relationship{}
		}
		view.Relationships[ownerID][world.PlayerID(other)] = rel
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	invRows, err := r.db.Pool.Query(ctx,
		`SELECT player_id, value, home_defense FROM inventories WHERE world_id = $1`, worldID,
	)
	if err != nil {
		return nil, err
	}
	defer invRows.Close()
	for invRows.Next() {
		var pid, value int64
		var homeDefense float64
		if err := invRows.Scan(&pid, &value, &homeDefense); err != nil {
			return nil, err
		}
		view.InventoryValue[world.PlayerID(pid)] = value
		view.HomeDefense[world.PlayerID(pid)] = homeDefense
	}
	return view, invRows.Err()
}

// AdjustRelationship applies deltas to one directed edge, clamping every
// dimension to [0, 100]. Missing edges start from zero.
func (r *DomainRepo) AdjustRelationship(ctx context.Context, worldID string, owner, other world.PlayerID, delta world.Relationship) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO relationships (world_id, owner_id, other_id, trust, revenge, loyalty, fear)
		 VALUES ($1, $2, $3,
		         LEAST(GREATEST($4, 0), 100),
		         LEAST(GREATEST($5, 0), 100),
		         LEAST(GREATEST($6, 0), 100),
		         LEAST(GREATEST($7, 0), 100))
		 ON CONFLICT (world_id, owner_id, other_id) DO UPDATE SET
		         trust   = LEAST(GREATEST(relationships.trust + $4, 0), 100),
		         revenge = LEAST(GREATEST(relationships.revenge + $5, 0), 100),
		         loyalty = LEAST(GREATEST(relationships.loyalty + $6, 0), 100),
		         fear    = LEAST(GREATEST(relationships.fear + $7, 0), 100),
		         updated_at = NOW()`,
		worldID, int64(owner), int64(other),
		delta.Trust, delta.Revenge, delta.Loyalty, delta.Fear,
	)
	return err
}

// AddInventory credits (or debits, with a floor of zero) a player's
// inventory value and returns the new balance.
func (r *DomainRepo) AddInventory(ctx context.Context, worldID string, id world.PlayerID, amount int64) (int64, error) {
	var value int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO inventories (world_id, player_id, value)
		 VALUES ($1, $2, GREATEST($3, 0))
		 ON CONFLICT (world_id, player_id) DO UPDATE SET
		         value = GREATEST(inventories.value + $3, 0),
		         updated_at = NOW()
		 RETURNING value`,
		worldID, int64(id), amount,
	).Scan(&value)
	return value, err
}

// TransferInventory moves up to amount of value from one player to another,
// bounded by what the victim actually holds. Returns the amount moved.
func (r *DomainRepo) TransferInventory(ctx context.Context, worldID string, from, to world.PlayerID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var available int64
	err = tx.QueryRow(ctx,
		`SELECT value FROM inventories WHERE world_id = $1 AND player_id = $2 FOR UPDATE`,
		worldID, int64(from),
	).Scan(&available)
	if isNoRows(err) {
		return 0, tx.Commit(ctx)
	}
	if err != nil {
		return 0, err
	}
	moved := amount
	if moved > available {
		moved = available
	}
	if moved == 0 {
		return 0, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE inventories SET value = value - $1, updated_at = NOW()
		 WHERE world_id = $2 AND player_id = $3`,
		moved, worldID, int64(from),
	); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO inventories (world_id, player_id, value) VALUES ($1, $2, $3)
		 ON CONFLICT (world_id, player_id) DO UPDATE SET
		         value = inventories.value + $3, updated_at = NOW()`,
		worldID, int64(to), moved,
	); err != nil {
		return 0, err
	}
	return moved, tx.Commit(ctx)
}

// GrantBotExperience accumulates XP and step counts for an arena bot.
func (r *DomainRepo) GrantBotExperience(ctx context.Context, botID string, xp, steps int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO bot_experience (bot_id, xp, steps) VALUES ($1, $2, $3)
		 ON CONFLICT (bot_id) DO UPDATE SET
		         xp = bot_experience.xp + $2,
		         steps = bot_experience.steps + $3,
		         updated_at = NOW()`,
		botID, xp, steps,
	)
	return err
}

// EnqueueLootbox queues a drop for later consumption by the reward pipeline.
func (r *DomainRepo) EnqueueLootbox(ctx context.Context, worldID string, id world.PlayerID, botID, zone string, value int64, energy int) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO lootbox_queue (world_id, player_id, bot_id, zone, value, energy)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		worldID, int64(id), botID, zone, value, energy,
	)
	return err
}

// MessageRow is one stored conversation message, ordered by sim time.
type MessageRow struct {
	Author world.PlayerID
	Text   string
	At     int64
}

// ConversationMessages returns a conversation's messages in order.
func (r *DomainRepo) ConversationMessages(ctx context.Context, worldID string, id world.ConversationID) ([]MessageRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT author, text, sim_time FROM messages
		 WHERE world_id = $1 AND conversation_id = $2
		 ORDER BY sim_time, message_uuid`,
		worldID, int64(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MessageRow
	for rows.Next() {
		var m MessageRow
		var author int64
		if err := rows.Scan(&author, &m.Text, &m.At); err != nil {
			return nil, err
		}
		m.Author = world.PlayerID(author)
		result = append(result, m)
	}
	return result, rows.Err()
}

// ActivityLogRow is one behavioral log entry.
type ActivityLogRow struct {
	WorldID     string
	PlayerID    world.PlayerID
	Kind        string // activity | zoneChange
	Description string
	Emoji       string
	Zone        string
	StartedAt   int64
	EndedAt     int64
}

func (r *DomainRepo) InsertActivityLog(ctx context.Context, row ActivityLogRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO activity_logs (world_id, player_id, kind, description, emoji, zone, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.WorldID, int64(row.PlayerID), row.Kind, row.Description, row.Emoji, row.Zone, row.StartedAt, row.EndedAt,
	)
	return err
}
