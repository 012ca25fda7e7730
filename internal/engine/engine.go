package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/townd/server/internal/config"
	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/world"
)

// Journal is the engine's read side of the input log.
type Journal interface {
	LoadUnprocessed(ctx context.Context, engineID string, after int64, limit int) ([]persist.InputRow, error)
}

// Store commits finished steps.
type Store interface {
	CommitStep(ctx context.Context, c *persist.StepCommit) error
}

// ViewLoader provides the per-step read-only domain view.
type ViewLoader interface {
	LoadExternalView(ctx context.Context, worldID string) (*world.ExternalView, error)
}

// Dispatcher receives a committed step's operations.
type Dispatcher interface {
	Dispatch(ctx context.Context, worldID, engineID string, batch []world.ScheduledOp)
}

// inputBatchLimit caps how many journal rows one step consumes. Later inputs
// wait for the next step, keeping step wall time bounded.
const inputBatchLimit = 256

// InputOutcome is the recorded result of one processed input.
type InputOutcome struct {
	Ok  any          `json:"ok,omitempty"`
	Err *world.Error `json:"error,omitempty"`
}

// Engine advances one world. It is the single writer for the world's
// snapshot: inputs drain from the journal, ticks run synchronously, and the
// result commits in one transaction guarded by the generation.
type Engine struct {
	ID         string
	WorldID    string
	Generation int64

	game      *world.Game
	simTime   int64
	processed int64

	cfg        config.EngineConfig
	log        *zap.Logger
	journal    Journal
	store      Store
	views      ViewLoader
	dispatcher Dispatcher

	kick chan struct{}
}

// Deps bundles what an engine needs beyond its world.
type Deps struct {
	Cfg        config.EngineConfig
	Log        *zap.Logger
	Worlds     *persist.WorldRepo
	Engines    *persist.EngineRepo
	Journal    Journal
	Store      Store
	Views      ViewLoader
	Dispatcher Dispatcher
}

// Start claims the world by bumping its generation, registers a fresh engine
// row, and restores the game from the stored snapshot (or boots a new one).
func Start(ctx context.Context, deps Deps, worldID string, m *world.WorldMap, tun *world.Tunables, seed uint64) (*Engine, error) {
	row, err := deps.Worlds.Load(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("world %s does not exist", worldID)
	}

	gen, err := deps.Worlds.BumpGeneration(ctx, worldID)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		ID:         uuid.NewString(),
		WorldID:    worldID,
		Generation: gen,
		processed:  -1, // input numbering is per-engine and starts at 0
		cfg:        deps.Cfg,
		log:        deps.Log.With(zap.String("world", worldID), zap.Int64("generation", gen)),
		journal:    deps.Journal,
		store:      deps.Store,
		views:      deps.Views,
		dispatcher: deps.Dispatcher,
		kick:       make(chan struct{}, 1),
	}

	if len(row.Snapshot) > 0 {
		e.game, err = world.LoadGame(worldID, row.Snapshot, m, tun, e.log)
		if err != nil {
			return nil, err
		}
	} else {
		if seed == 0 {
			seed = seedFromWorldID(worldID)
		}
		e.game = world.NewGame(worldID, m, tun, seed, e.log)
	}

	prev, err := deps.Engines.RunningForWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		// Only sim time carries over. The input watermark does not: numbering
		// restarts at 0 under the new engine id, so the old watermark would
		// skip the new journal's head.
		e.simTime = prev.SimTime
		// The previous engine loses its generation guard the moment our row
		// exists; stopping its row here just tidies the table.
		if err := deps.Engines.Stop(ctx, prev.ID, prev.Generation); err != nil {
			return nil, err
		}
	}

	err = deps.Engines.Create(ctx, &persist.EngineRow{
		ID:                   e.ID,
		WorldID:              worldID,
		Generation:           gen,
		SimTime:              e.simTime,
		ProcessedInputNumber: e.processed,
		State:                persist.EngineRunning,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("engine started",
		zap.String("engine", e.ID),
		zap.Int64("simTime", e.simTime),
		zap.Int64("processed", e.processed))
	return e, nil
}

// Run steps the world until ctx is cancelled or the world is taken over.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.kick:
		}
		if err := e.Step(ctx); err != nil {
			if errors.Is(err, persist.ErrGenerationConflict) {
				e.log.Info("world taken over, stopping")
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error("step failed", zap.Error(err))
		}
	}
}

// Kick forces the next step without waiting for the interval.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Step runs one full step: drain inputs, advance ticks, commit, dispatch.
func (e *Engine) Step(ctx context.Context) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxStepWall)
	defer cancel()

	view, err := e.views.LoadExternalView(stepCtx, e.WorldID)
	if err != nil {
		return fmt.Errorf("load external view: %w", err)
	}
	e.game.BeginStep(view)

	inputs, err := e.journal.LoadUnprocessed(stepCtx, e.ID, e.processed, inputBatchLimit)
	if err != nil {
		return fmt.Errorf("load inputs: %w", err)
	}

	returns := make([]persist.InputReturn, 0, len(inputs))
	lastProcessed := e.processed
	for _, in := range inputs {
		outcome := e.handleInput(in)
		raw, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("encode outcome for input %d: %w", in.Number, err)
		}
		returns = append(returns, persist.InputReturn{Number: in.Number, ReturnValue: raw})
		lastProcessed = in.Number
	}

	simTime := e.simTime
	ticks := e.game.Tunables.StepInterval / e.game.Tunables.Tick
	for i := int64(0); i < ticks; i++ {
		if stepCtx.Err() != nil {
			// Wall-time budget spent. Commit what the step has; the missing
			// ticks run in later steps.
			e.log.Warn("step over wall-time budget",
				zap.Int64("ticksRun", i),
				zap.Int64("ticksPlanned", ticks))
			break
		}
		simTime += e.game.Tunables.Tick
		e.game.Tick(simTime)
	}

	effects := e.game.EndStep()
	snapshot, err := e.game.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	commitCtx := stepCtx
	if stepCtx.Err() != nil {
		// The budget may have expired mid-step; the commit still has to land.
		var commitCancel context.CancelFunc
		commitCtx, commitCancel = context.WithTimeout(context.WithoutCancel(ctx), e.cfg.MaxStepWall)
		defer commitCancel()
	}

	err = e.store.CommitStep(commitCtx, &persist.StepCommit{
		WorldID:              e.WorldID,
		EngineID:             e.ID,
		Generation:           e.Generation,
		Snapshot:             snapshot,
		SimTime:              simTime,
		ProcessedInputNumber: lastProcessed,
		Returns:              returns,
		Effects:              effects,
	})
	if err != nil {
		return err
	}

	e.simTime = simTime
	e.processed = lastProcessed

	if len(effects.Ops) > 0 {
		e.dispatcher.Dispatch(ctx, e.WorldID, e.ID, effects.Ops)
	}
	return nil
}

// handleInput decodes and applies one journal row. Failures become recorded
// outcomes, never step failures: a bad input must not wedge the world.
func (e *Engine) handleInput(in persist.InputRow) InputOutcome {
	args, err := world.DecodeInput(world.InputName(in.Name), in.Args)
	if err != nil {
		return InputOutcome{Err: world.AsError(err)}
	}
	result, err := e.game.HandleInput(e.simTime, world.InputName(in.Name), args)
	if err != nil {
		return InputOutcome{Err: world.AsError(err)}
	}
	if result == nil {
		result = struct{}{}
	}
	return InputOutcome{Ok: result}
}

// SimTime returns the engine's simulated clock in ms.
func (e *Engine) SimTime() int64 {
	return e.simTime
}

func seedFromWorldID(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	s := h.Sum64()
	if s == 0 {
		s = 1
	}
	return s
}
