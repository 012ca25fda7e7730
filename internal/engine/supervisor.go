package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townd/server/internal/config"
	"github.com/townd/server/internal/data"
	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/world"
)

// InputAppender journals inputs on behalf of the supervisor (bot placement).
type InputAppender interface {
	Append(ctx context.Context, worldID, engineID, name string, args json.RawMessage, maxPending int) (int64, error)
}

// Vacuumer prunes processed journal rows and flushes stale unprocessed ones.
type Vacuumer interface {
	Vacuum(ctx context.Context, maxAge time.Duration, batch int) (int64, error)
	FlushStale(ctx context.Context, maxAge time.Duration, batch int) (int64, error)
}

// Supervisor owns the set of engines in this process. A periodic sweep keeps
// the database and the in-process picture consistent: running worlds get
// engines, idle worlds stop, stalled engines elsewhere get superseded, and
// pending arena bots get placed.
type Supervisor struct {
	cfg      config.EngineConfig
	log      *zap.Logger
	worlds   *persist.WorldRepo
	engines  *persist.EngineRepo
	bots     *persist.BotRepo
	inputs   InputAppender
	vacuum   Vacuumer
	deps     Deps
	maps     *data.MapTable
	tunables *world.Tunables
	seed     uint64

	mu      sync.Mutex
	running map[string]*managed // by world id
	wg      sync.WaitGroup
}

type managed struct {
	engine *Engine
	cancel context.CancelFunc
}

func NewSupervisor(
	cfg config.EngineConfig,
	log *zap.Logger,
	worlds *persist.WorldRepo,
	engines *persist.EngineRepo,
	bots *persist.BotRepo,
	inputs InputAppender,
	vacuum Vacuumer,
	deps Deps,
	maps *data.MapTable,
	tunables *world.Tunables,
	seed uint64,
) *Supervisor {
	if tunables == nil {
		tunables = world.DefaultTunables()
	}
	return &Supervisor{
		cfg:      cfg,
		log:      log,
		worlds:   worlds,
		engines:  engines,
		bots:     bots,
		inputs:   inputs,
		vacuum:   vacuum,
		deps:     deps,
		maps:     maps,
		tunables: tunables,
		seed:     seed,
		running:  map[string]*managed{},
	}
}

// Run sweeps until ctx is cancelled, then waits for engines to drain.
func (s *Supervisor) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	if err := s.adoptRunningWorlds(ctx); err != nil {
		s.log.Warn("adopt running worlds", zap.Error(err))
	}
	if err := s.stopIdleWorlds(ctx); err != nil {
		s.log.Warn("stop idle worlds", zap.Error(err))
	}
	if err := s.reapStalledEngines(ctx); err != nil {
		s.log.Warn("reap stalled engines", zap.Error(err))
	}
	if err := s.placePendingBots(ctx); err != nil {
		s.log.Warn("place pending bots", zap.Error(err))
	}
	if n, err := s.vacuum.Vacuum(ctx, s.cfg.VacuumMaxAge, s.cfg.DeleteBatchSize); err != nil {
		s.log.Warn("vacuum inputs", zap.Error(err))
	} else if n > 0 {
		s.log.Debug("vacuumed inputs", zap.Int64("rows", n))
	}
	if n, err := s.vacuum.FlushStale(ctx, s.cfg.FlushMaxAge, s.cfg.DeleteBatchSize); err != nil {
		s.log.Warn("flush stale inputs", zap.Error(err))
	} else if n > 0 {
		s.log.Warn("emergency-flushed stale inputs", zap.Int64("rows", n))
	}
}

// adoptRunningWorlds starts an engine for every running world this process
// does not manage yet.
func (s *Supervisor) adoptRunningWorlds(ctx context.Context) error {
	rows, err := s.worlds.ListByStatus(ctx, persist.WorldRunning)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.mu.Lock()
		_, have := s.running[row.ID]
		s.mu.Unlock()
		if have {
			continue
		}
		// A healthy engine in another process keeps its heartbeat fresh;
		// adopting would needlessly bump the generation.
		prev, err := s.engines.RunningForWorld(ctx, row.ID)
		if err != nil {
			return err
		}
		if prev != nil && time.Since(prev.UpdatedAt) < s.cfg.StalledAfter {
			continue
		}
		if err := s.startEngine(ctx, row.ID, row.MapName); err != nil {
			s.log.Error("start engine", zap.String("world", row.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Supervisor) startEngine(ctx context.Context, worldID, mapName string) error {
	def := s.maps.Get(mapName)
	if def == nil {
		return errors.New("unknown map " + mapName)
	}

	e, err := Start(ctx, s.deps, worldID, def.Build(), s.tunables, s.seed)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[worldID] = &managed{engine: e, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		err := e.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("engine exited", zap.String("world", worldID), zap.Error(err))
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := s.engines.Stop(stopCtx, e.ID, e.Generation); err != nil {
			s.log.Warn("mark engine stopped", zap.String("world", worldID), zap.Error(err))
		}
		s.mu.Lock()
		if m := s.running[worldID]; m != nil && m.engine == e {
			delete(s.running, worldID)
		}
		s.mu.Unlock()
	}()
	return nil
}

// stopIdleWorlds marks unviewed worlds inactive and cancels their engines.
func (s *Supervisor) stopIdleWorlds(ctx context.Context) error {
	ids, err := s.worlds.ListIdle(ctx, time.Now().Add(-s.cfg.IdleWorldTimeout))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.worlds.SetStatus(ctx, id, persist.WorldInactive); err != nil {
			return err
		}
		s.stopLocal(id)
		s.log.Info("world idled out", zap.String("world", id))
	}
	return nil
}

// reapStalledEngines stops engine rows whose heartbeat went quiet. Their
// worlds, if still running, get re-adopted on the next sweep.
func (s *Supervisor) reapStalledEngines(ctx context.Context) error {
	stalled, err := s.engines.ListStalled(ctx, time.Now().Add(-s.cfg.StalledAfter))
	if err != nil {
		return err
	}
	for _, row := range stalled {
		s.mu.Lock()
		m := s.running[row.WorldID]
		local := m != nil && m.engine.ID == row.ID
		s.mu.Unlock()
		if local {
			// Our own engine is wedged; cancel it and let adoption restart.
			s.stopLocal(row.WorldID)
		}
		if err := s.engines.Stop(ctx, row.ID, row.Generation); err != nil {
			return err
		}
		s.log.Warn("reaped stalled engine",
			zap.String("world", row.WorldID),
			zap.String("engine", row.ID))
	}
	return nil
}

// placePendingBots turns waiting arena registrations into agents in a
// running world.
func (s *Supervisor) placePendingBots(ctx context.Context) error {
	pending, err := s.bots.ListPending(ctx, 16)
	if err != nil || len(pending) == 0 {
		return err
	}
	for _, b := range pending {
		worldID, engineID := s.anyRunning()
		if engineID == "" {
			return nil // no world to place into yet
		}
		args, err := world.EncodeArgs(&world.CreateAgentArgs{
			Name:         b.Name,
			Character:    b.Character,
			Identity:     b.Identity,
			Plan:         b.Plan,
			AIArenaBotID: b.BotID,
			InitialZone:  b.InitialZone,
			Personality:  b.Personality,
		})
		if err != nil {
			return err
		}
		_, err = s.inputs.Append(ctx, worldID, engineID, string(world.InputCreateAgentFromAIArena), args, 0)
		if err != nil {
			return err
		}
		if err := s.bots.MarkPlaced(ctx, b.ID, worldID); err != nil {
			return err
		}
		s.log.Info("placed arena bot",
			zap.String("bot", b.BotID),
			zap.String("world", worldID))
	}
	return nil
}

func (s *Supervisor) anyRunning() (worldID, engineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.running {
		return id, m.engine.ID
	}
	return "", ""
}

// EnsureWorld creates the world row if needed, marks it running, and starts
// an engine for it right away.
func (s *Supervisor) EnsureWorld(ctx context.Context, worldID, mapName string) error {
	if s.maps.Get(mapName) == nil {
		return errors.New("unknown map " + mapName)
	}
	if err := s.worlds.Create(ctx, worldID, mapName); err != nil {
		return err
	}
	if err := s.worlds.SetStatus(ctx, worldID, persist.WorldRunning); err != nil {
		return err
	}
	s.mu.Lock()
	_, have := s.running[worldID]
	s.mu.Unlock()
	if have {
		return nil
	}
	return s.startEngine(ctx, worldID, mapName)
}

// StopWorld halts a world on developer request.
func (s *Supervisor) StopWorld(ctx context.Context, worldID string) error {
	if err := s.worlds.SetStatus(ctx, worldID, persist.WorldStoppedByDeveloper); err != nil {
		return err
	}
	s.stopLocal(worldID)
	return nil
}

// WakeWorld flips an inactive world back to running; the engine starts on
// this sweep rather than the next one.
func (s *Supervisor) WakeWorld(ctx context.Context, worldID string) error {
	row, err := s.worlds.Load(ctx, worldID)
	if err != nil {
		return err
	}
	if row == nil {
		return errors.New("world " + worldID + " does not exist")
	}
	if row.Status == persist.WorldStoppedByDeveloper {
		return errors.New("world " + worldID + " is stopped")
	}
	if err := s.worlds.SetStatus(ctx, worldID, persist.WorldRunning); err != nil {
		return err
	}
	if err := s.worlds.TouchLastViewed(ctx, worldID); err != nil {
		return err
	}
	s.mu.Lock()
	m := s.running[worldID]
	s.mu.Unlock()
	if m != nil {
		m.engine.Kick()
		return nil
	}
	return s.startEngine(ctx, worldID, row.MapName)
}

// KickWorld forces the next step of a locally-managed engine without waiting
// for its interval. Reports whether this process manages the world.
func (s *Supervisor) KickWorld(worldID string) bool {
	s.mu.Lock()
	m := s.running[worldID]
	s.mu.Unlock()
	if m == nil {
		return false
	}
	m.engine.Kick()
	return true
}

// RunningEngineID returns the local engine id for a world, or "".
func (s *Supervisor) RunningEngineID(worldID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.running[worldID]; m != nil {
		return m.engine.ID
	}
	return ""
}

func (s *Supervisor) stopLocal(worldID string) {
	s.mu.Lock()
	m := s.running[worldID]
	delete(s.running, worldID)
	s.mu.Unlock()
	if m != nil {
		m.cancel()
	}
}
