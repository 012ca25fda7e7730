package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/townd/server/internal/world"
)

// ErrGenerationConflict means another engine took over the world between
// steps. The losing engine must stop without writing anything further.
var ErrGenerationConflict = errors.New("engine generation conflict")

const (
	WorldRunning            = "running"
	WorldInactive           = "inactive"
	WorldStoppedByDeveloper = "stoppedByDeveloper"
)

// WorldRow mirrors one row of the worlds table.
type WorldRow struct {
	ID         string
	Status     string
	MapName    string
	Snapshot   []byte
	Generation int64
	LastViewed time.Time
	CreatedAt  time.Time
}

type WorldRepo struct {
	db *DB
}

func NewWorldRepo(db *DB) *WorldRepo {
	return &WorldRepo{db: db}
}

func (r *WorldRepo) Create(ctx context.Context, id, mapName string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO worlds (id, map_name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, mapName,
	)
	return err
}

func (r *WorldRepo) Load(ctx context.Context, id string) (*WorldRow, error) {
	w := &WorldRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, status, map_name, snapshot, generation, last_viewed, created_at
		 FROM worlds WHERE id = $1`, id,
	).Scan(&w.ID, &w.Status, &w.MapName, &w.Snapshot, &w.Generation, &w.LastViewed, &w.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WorldRepo) ListByStatus(ctx context.Context, status string) ([]WorldRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, status, map_name, snapshot, generation, last_viewed, created_at
		 FROM worlds WHERE status = $1 ORDER BY id`, status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorldRow
	for rows.Next() {
		var w WorldRow
		if err := rows.Scan(&w.ID, &w.Status, &w.MapName, &w.Snapshot,
			&w.Generation, &w.LastViewed, &w.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (r *WorldRepo) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE worlds SET status = $1 WHERE id = $2`, status, id,
	)
	return err
}

// TouchLastViewed records observer interest; the supervisor keeps worlds
// with recent viewers running.
func (r *WorldRepo) TouchLastViewed(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE worlds SET last_viewed = NOW() WHERE id = $1`, id,
	)
	return err
}

// ListIdle returns running worlds nobody has viewed since cutoff.
func (r *WorldRepo) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id FROM worlds WHERE status = 'running' AND last_viewed < $1`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BumpGeneration claims a world for a new engine: increments the world
// generation and returns the new value. Concurrent claimers serialize on the
// row lock, so exactly one generation number goes to each claimant.
func (r *WorldRepo) BumpGeneration(ctx context.Context, id string) (int64, error) {
	var gen int64
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE worlds SET generation = generation + 1 WHERE id = $1 RETURNING generation`, id,
	).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("bump generation for %s: %w", id, err)
	}
	return gen, nil
}

// InputReturn is the recorded outcome for one processed input.
type InputReturn struct {
	Number      int64
	ReturnValue json.RawMessage
}

// StepCommit bundles everything one step writes: the snapshot, the engine
// heartbeat, return values for consumed inputs, and the step's external
// effects. CommitStep applies it in a single transaction guarded by the
// engine generation.
type StepCommit struct {
	WorldID              string
	EngineID             string
	Generation           int64
	Snapshot             []byte
	SimTime              int64
	ProcessedInputNumber int64

	Returns []InputReturn
	Effects world.StepEffects
}

// CommitStep writes a finished step atomically. Returns
// ErrGenerationConflict when the engine row no longer carries the expected
// generation, meaning another engine owns the world now.
func (r *WorldRepo) CommitStep(ctx context.Context, c *StepCommit) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE engines
		 SET sim_time = $1, processed_input_number = $2, updated_at = NOW()
		 WHERE id = $3 AND generation = $4 AND state = 'running'`,
		c.SimTime, c.ProcessedInputNumber, c.EngineID, c.Generation,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGenerationConflict
	}

	if _, err := tx.Exec(ctx,
		`UPDATE worlds SET snapshot = $1 WHERE id = $2`,
		c.Snapshot, c.WorldID,
	); err != nil {
		return err
	}

	for _, ret := range c.Returns {
		if _, err := tx.Exec(ctx,
			`UPDATE inputs SET return_value = $1 WHERE engine_id = $2 AND number = $3`,
			ret.ReturnValue, c.EngineID, ret.Number,
		); err != nil {
			return err
		}
	}

	for _, m := range c.Effects.Messages {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (message_uuid, world_id, conversation_id, author, text, sim_time)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (message_uuid) DO NOTHING`,
			m.MessageUUID, c.WorldID, int64(m.ConversationID), int64(m.Author), m.Text, m.At,
		); err != nil {
			return err
		}
	}

	for _, d := range c.Effects.NewPlayerDescriptions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO player_descriptions (world_id, player_id, name, character, description)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (world_id, player_id) DO UPDATE
			 SET name = EXCLUDED.name, character = EXCLUDED.character, description = EXCLUDED.description`,
			c.WorldID, int64(d.PlayerID), d.Name, d.Character, d.Description,
		); err != nil {
			return err
		}
	}
	for _, d := range c.Effects.NewAgentDescriptions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_descriptions (world_id, agent_id, identity, plan, ai_arena_bot_id)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (world_id, agent_id) DO UPDATE
			 SET identity = EXCLUDED.identity, plan = EXCLUDED.plan, ai_arena_bot_id = EXCLUDED.ai_arena_bot_id`,
			c.WorldID, int64(d.AgentID), d.Identity, d.Plan, d.AIArenaBotID,
		); err != nil {
			return err
		}
	}

	for _, p := range c.Effects.ArchivedPlayers {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal archived player %s: %w", p.Player.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO archived_players (world_id, player_id, data, reason)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (world_id, player_id) DO UPDATE SET data = EXCLUDED.data, reason = EXCLUDED.reason`,
			c.WorldID, int64(p.Player.ID), data, p.Reason,
		); err != nil {
			return err
		}
	}
	for _, a := range c.Effects.ArchivedAgents {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal archived agent %s: %w", a.Agent.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO archived_agents (world_id, agent_id, data)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (world_id, agent_id) DO UPDATE SET data = EXCLUDED.data`,
			c.WorldID, int64(a.Agent.ID), data,
		); err != nil {
			return err
		}
	}
	for _, conv := range c.Effects.ArchivedConversations {
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("marshal archived conversation %s: %w", conv.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO archived_conversations (world_id, conversation_id, data, reason, num_messages)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (world_id, conversation_id) DO UPDATE
			 SET data = EXCLUDED.data, reason = EXCLUDED.reason, num_messages = EXCLUDED.num_messages`,
			c.WorldID, int64(conv.ID), data, conv.Reason, conv.NumMessages,
		); err != nil {
			return err
		}
		if conv.NumMessages > 0 && len(conv.Participants) == 2 {
			a, b := int64(conv.Participants[0]), int64(conv.Participants[1])
			if a > b {
				a, b = b, a
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO participated_together (world_id, player_a, player_b, conversation_id)
				 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
				c.WorldID, a, b, int64(conv.ID),
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// MapRepo stores static tile grids.
type MapRepo struct {
	db *DB
}

func NewMapRepo(db *DB) *MapRepo {
	return &MapRepo{db: db}
}

func (r *MapRepo) Save(ctx context.Context, name string, m *world.WorldMap) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal map %s: %w", name, err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO maps (name, width, height, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET width = EXCLUDED.width, height = EXCLUDED.height, data = EXCLUDED.data`,
		name, m.Width, m.Height, data,
	)
	return err
}

func (r *MapRepo) Load(ctx context.Context, name string) (*world.WorldMap, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM maps WHERE name = $1`, name,
	).Scan(&raw)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := &world.WorldMap{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("unmarshal map %s: %w", name, err)
	}
	return m, nil
}
