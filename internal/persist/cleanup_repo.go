package persist

import (
	"context"
	"fmt"

	"github.com/townd/server/internal/world"
	"go.uber.org/zap"
)

// CleanupRepo removes a departed player's external data. Deletes are batched
// and idempotent: the cleanup operation can be retried after a crash without
// harm, and a single run never deletes more than the per-table caps.
type CleanupRepo struct {
	db    *DB
	batch int
}

func NewCleanupRepo(db *DB, batch int) *CleanupRepo {
	if batch <= 0 {
		batch = 100
	}
	return &CleanupRepo{db: db, batch: batch}
}

// Per-run caps keep one cleanup from starving the pool.
const (
	cleanupMaxActivityLogs = 2000
	cleanupMaxMessages     = 1000
	cleanupMaxInputs       = 1000
)

// CleanupPlayer deletes the player's relationships (both directions),
// conversation co-presence rows, inventory, queued loot, activity logs,
// authored messages and journal rows whose args name the player. Returns
// true when everything fit under the caps; false means call again.
func (r *CleanupRepo) CleanupPlayer(ctx context.Context, worldID string, id world.PlayerID) (bool, error) {
	pid := int64(id)

	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM relationships WHERE world_id = $1 AND (owner_id = $2 OR other_id = $2)`,
		worldID, pid,
	); err != nil {
		return false, fmt.Errorf("delete relationships: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM participated_together WHERE world_id = $1 AND (player_a = $2 OR player_b = $2)`,
		worldID, pid,
	); err != nil {
		return false, fmt.Errorf("delete participation: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM inventories WHERE world_id = $1 AND player_id = $2`,
		worldID, pid,
	); err != nil {
		return false, fmt.Errorf("delete inventory: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM lootbox_queue WHERE world_id = $1 AND player_id = $2 AND NOT consumed`,
		worldID, pid,
	); err != nil {
		return false, fmt.Errorf("delete lootboxes: %w", err)
	}

	logsDone, err := r.deleteBatched(ctx,
		`DELETE FROM activity_logs WHERE id IN (
		   SELECT id FROM activity_logs WHERE world_id = $1 AND player_id = $2 LIMIT $3
		 )`,
		worldID, pid, cleanupMaxActivityLogs,
	)
	if err != nil {
		return false, fmt.Errorf("delete activity logs: %w", err)
	}

	msgsDone, err := r.deleteBatched(ctx,
		`DELETE FROM messages WHERE message_uuid IN (
		   SELECT message_uuid FROM messages WHERE world_id = $1 AND author = $2 LIMIT $3
		 )`,
		worldID, pid, cleanupMaxMessages,
	)
	if err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}

	// Journal rows mention players only through their args.
	inputsDone, err := r.deleteBatched(ctx,
		`DELETE FROM inputs WHERE (engine_id, number) IN (
		   SELECT engine_id, number FROM inputs
		    WHERE world_id = $1
		      AND (args @> jsonb_build_object('playerId', $2::bigint)
		        OR args @> jsonb_build_object('targetPlayerId', $2::bigint)
		        OR args @> jsonb_build_object('opponentId', $2::bigint)
		        OR args @> jsonb_build_object('invitee', $2::bigint))
		    LIMIT $3
		 )`,
		worldID, pid, cleanupMaxInputs,
	)
	if err != nil {
		return false, fmt.Errorf("delete inputs: %w", err)
	}

	r.db.log.Debug("player cleanup pass",
		zap.String("world", worldID),
		zap.Int64("player", pid),
		zap.Bool("logsDone", logsDone),
		zap.Bool("messagesDone", msgsDone),
		zap.Bool("inputsDone", inputsDone))
	return logsDone && msgsDone && inputsDone, nil
}

// deleteBatched runs the delete in rounds of r.batch until either nothing is
// left or cap rows have been deleted this run. Returns true when the table
// is clean for this player.
func (r *CleanupRepo) deleteBatched(ctx context.Context, query, worldID string, pid int64, maxRows int) (bool, error) {
	deleted := 0
	for deleted < maxRows {
		limit := r.batch
		if maxRows-deleted < limit {
			limit = maxRows - deleted
		}
		tag, err := r.db.Pool.Exec(ctx, query, worldID, pid, limit)
		if err != nil {
			return false, err
		}
		n := int(tag.RowsAffected())
		deleted += n
		if n < limit {
			return true, nil
		}
	}
	return false, nil
}
