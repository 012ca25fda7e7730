package ops

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/scripting"
	"github.com/townd/server/internal/world"
)

// Appender journals an input for an engine. Results of operations re-enter
// the simulation only through this path.
type Appender interface {
	Append(ctx context.Context, worldID, engineID, name string, args json.RawMessage, maxPending int) (int64, error)
}

// DomainStore is the slice of the domain tables operations write.
type DomainStore interface {
	ConversationMessages(ctx context.Context, worldID string, id world.ConversationID) ([]persist.MessageRow, error)
	AdjustRelationship(ctx context.Context, worldID string, owner, other world.PlayerID, delta world.Relationship) error
	TransferInventory(ctx context.Context, worldID string, from, to world.PlayerID, amount int64) (int64, error)
	AddInventory(ctx context.Context, worldID string, id world.PlayerID, amount int64) (int64, error)
	GrantBotExperience(ctx context.Context, botID string, xp, steps int64) error
	EnqueueLootbox(ctx context.Context, worldID string, id world.PlayerID, botID, zone string, value int64, energy int) error
	InsertActivityLog(ctx context.Context, row persist.ActivityLogRow) error
}

// Cleaner removes a departed player's external data in passes.
type Cleaner interface {
	CleanupPlayer(ctx context.Context, worldID string, id world.PlayerID) (bool, error)
}

const opTimeout = 30 * time.Second

// Runner executes scheduled operations on a worker pool. The engine hands it
// a batch after each committed step; each operation runs independently and
// reports back by appending a journal input.
type Runner struct {
	log      *zap.Logger
	domain   DomainStore
	cleanup  Cleaner
	inputs   Appender
	reasoner Reasoner

	balanceMu sync.Mutex
	balance   *scripting.Engine

	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	worldID  string
	engineID string
	op       world.ScheduledOp
}

func NewRunner(
	log *zap.Logger,
	balance *scripting.Engine,
	domain DomainStore,
	cleanup Cleaner,
	inputs Appender,
	reasoner Reasoner,
) *Runner {
	if reasoner == nil {
		reasoner = CannedReasoner{}
	}
	return &Runner{
		log:      log,
		balance:  balance,
		domain:   domain,
		cleanup:  cleanup,
		inputs:   inputs,
		reasoner: reasoner,
		jobs:     make(chan job, 256),
	}
}

// Start launches workers that run until ctx is cancelled.
func (r *Runner) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-r.jobs:
					r.run(ctx, j)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Dispatch queues a committed step's operations. Blocks when the queue is
// full; the step loop absorbing that backpressure is preferable to dropping
// work that agents are waiting on.
func (r *Runner) Dispatch(ctx context.Context, worldID, engineID string, batch []world.ScheduledOp) {
	for _, op := range batch {
		select {
		case <-ctx.Done():
			return
		case r.jobs <- job{worldID: worldID, engineID: engineID, op: op}:
		}
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	start := time.Now()
	err := r.execute(opCtx, j)
	if err != nil {
		r.log.Warn("operation failed",
			zap.String("world", j.worldID),
			zap.String("op", string(j.op.Name)),
			zap.String("opId", j.op.ID),
			zap.Error(err))
		return
	}
	r.log.Debug("operation done",
		zap.String("world", j.worldID),
		zap.String("op", string(j.op.Name)),
		zap.String("opId", j.op.ID),
		zap.Duration("took", time.Since(start)))
}

// append journals one input on behalf of an operation. The pending cap does
// not apply: blocking a finish input would wedge the agent that scheduled it.
func (r *Runner) append(ctx context.Context, j job, name world.InputName, args world.InputArgs) error {
	raw, err := world.EncodeArgs(args)
	if err != nil {
		return err
	}
	_, err = r.inputs.Append(ctx, j.worldID, j.engineID, string(name), raw, 0)
	return err
}

// opArgs recovers the typed arguments of a scheduled operation.
func opArgs[T any](op world.ScheduledOp) (T, bool) {
	if v, ok := op.Args.(T); ok {
		return v, true
	}
	if p, ok := op.Args.(*T); ok && p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}
