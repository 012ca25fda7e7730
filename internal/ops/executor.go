package ops

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/scripting"
	"github.com/townd/server/internal/world"
)

// Decision thresholds for the agent's free-roam choice. Checked in order:
// robbery, combat, invite, wander.
const (
	robberyRoll = 0.3
	combatRoll  = 0.4
	wanderRange = 10
)

func (r *Runner) execute(ctx context.Context, j job) error {
	switch j.op.Name {
	case world.OpAgentDoSomething:
		return dispatch(ctx, r, j, r.agentDoSomething)
	case world.OpAgentSelectZoneActivity:
		return dispatch(ctx, r, j, r.agentSelectZoneActivity)
	case world.OpAgentGenerateMessage:
		return dispatch(ctx, r, j, r.agentGenerateMessage)
	case world.OpAgentRememberConversation:
		return dispatch(ctx, r, j, r.agentRememberConversation)
	case world.OpResolveRobbery:
		return dispatch(ctx, r, j, r.resolveRobbery)
	case world.OpResolveCombat:
		return dispatch(ctx, r, j, r.resolveCombat)
	case world.OpLogActivityEnd:
		return dispatch(ctx, r, j, r.logActivityEnd)
	case world.OpLogZoneChange:
		return dispatch(ctx, r, j, r.logZoneChange)
	case world.OpGrantMovementXP:
		return dispatch(ctx, r, j, r.grantMovementXP)
	case world.OpGenerateLootDrop:
		return dispatch(ctx, r, j, r.generateLootDrop)
	case world.OpCleanupPlayerData:
		return dispatch(ctx, r, j, r.cleanupPlayerData)
	default:
		return fmt.Errorf("unknown operation %q", j.op.Name)
	}
}

func dispatch[T any](ctx context.Context, r *Runner, j job, fn func(context.Context, job, T) error) error {
	args, ok := opArgs[T](j.op)
	if !ok {
		return fmt.Errorf("%s: bad args type %T", j.op.Name, j.op.Args)
	}
	return fn(ctx, j, args)
}

// agentDoSomething picks the agent's next move from the candidates the tick
// packed in. Exactly one input is appended.
func (r *Runner) agentDoSomething(ctx context.Context, j job, args world.AgentDoSomethingArgs) error {
	switch {
	case len(args.RobberyTargets) > 0 && rand.Float64() < robberyRoll:
		target := args.RobberyTargets[rand.Intn(len(args.RobberyTargets))]
		return r.append(ctx, j, world.InputStartRobbery, world.StartRobberyArgs{
			OperationID:    args.OperationID,
			AgentID:        args.AgentID,
			TargetPlayerID: target.PlayerID,
		})
	case len(args.CombatOpponents) > 0 && rand.Float64() < combatRoll:
		opponent := args.CombatOpponents[rand.Intn(len(args.CombatOpponents))]
		return r.append(ctx, j, world.InputStartCombat, world.StartCombatArgs{
			OperationID: args.OperationID,
			AgentID:     args.AgentID,
			OpponentID:  opponent.PlayerID,
		})
	case args.InviteCandidate != nil:
		invitee := args.InviteCandidate.PlayerID
		return r.append(ctx, j, world.InputFinishDoSomething, world.FinishDoSomethingArgs{
			OperationID: args.OperationID,
			AgentID:     args.AgentID,
			Invitee:     &invitee,
		})
	default:
		dest := r.wanderDestination(args)
		return r.append(ctx, j, world.InputFinishDoSomething, world.FinishDoSomethingArgs{
			OperationID: args.OperationID,
			AgentID:     args.AgentID,
			Destination: &dest,
		})
	}
}

func (r *Runner) wanderDestination(args world.AgentDoSomethingArgs) world.Tile {
	at := args.Position.Tile()
	dest := world.Tile{
		X: at.X + rand.Intn(2*wanderRange+1) - wanderRange,
		Y: at.Y + rand.Intn(2*wanderRange+1) - wanderRange,
	}
	dest.X = clampInt(dest.X, 0, args.MapWidth-1)
	dest.Y = clampInt(dest.Y, 0, args.MapHeight-1)
	return dest
}

// agentSelectZoneActivity makes a weighted draw from the zone's activity
// table and reports it as a finishDoSomething.
func (r *Runner) agentSelectZoneActivity(ctx context.Context, j job, args world.AgentSelectZoneActivityArgs) error {
	r.balanceMu.Lock()
	options := r.balance.GetZoneActivities(args.Zone, args.Personality)
	r.balanceMu.Unlock()

	choice := weightedPick(options)
	return r.append(ctx, j, world.InputFinishDoSomething, world.FinishDoSomethingArgs{
		OperationID: args.OperationID,
		AgentID:     args.AgentID,
		Activity: &world.ActivityChoice{
			Description: choice.Description,
			Emoji:       choice.Emoji,
			DurationMs:  choice.DurationMs,
		},
	})
}

func weightedPick(options []scripting.ZoneActivity) scripting.ZoneActivity {
	total := 0.0
	for _, o := range options {
		if o.Weight > 0 {
			total += o.Weight
		}
	}
	if total <= 0 {
		return options[rand.Intn(len(options))]
	}
	roll := rand.Float64() * total
	for _, o := range options {
		if o.Weight <= 0 {
			continue
		}
		roll -= o.Weight
		if roll < 0 {
			return o
		}
	}
	return options[len(options)-1]
}

// agentGenerateMessage asks the reasoner for a line of dialogue. Failures
// still append a finish input so the typing lock is released.
func (r *Runner) agentGenerateMessage(ctx context.Context, j job, args world.AgentGenerateMessageArgs) error {
	history, err := r.domain.ConversationMessages(ctx, j.worldID, args.ConversationID)
	if err != nil {
		r.log.Warn("load conversation history", zap.String("world", j.worldID), zap.Error(err))
	}
	req := MessageRequest{
		WorldID:   j.worldID,
		OtherName: args.OtherName,
		Kind:      args.Kind,
	}
	for _, m := range history {
		req.History = append(req.History, HistoryLine{Author: m.Author, Text: m.Text})
	}

	text, err := r.reasoner.GenerateMessage(ctx, req)
	if err != nil {
		return r.append(ctx, j, world.InputAgentFinishSendingMessage, world.AgentFinishSendingMessageArgs{
			OperationID:    args.OperationID,
			AgentID:        args.AgentID,
			ConversationID: args.ConversationID,
			MessageUUID:    args.MessageUUID,
			Error:          err.Error(),
		})
	}
	return r.append(ctx, j, world.InputAgentFinishSendingMessage, world.AgentFinishSendingMessageArgs{
		OperationID:    args.OperationID,
		AgentID:        args.AgentID,
		ConversationID: args.ConversationID,
		MessageUUID:    args.MessageUUID,
		Text:           text,
		Leave:          args.Kind == world.MessageLeave,
	})
}

// agentRememberConversation folds a finished conversation into the agent's
// relationship with the other participant.
func (r *Runner) agentRememberConversation(ctx context.Context, j job, args world.AgentRememberConversationArgs) error {
	msgs, err := r.domain.ConversationMessages(ctx, j.worldID, args.ConversationID)
	if err != nil {
		return err
	}
	var other world.PlayerID
	for _, m := range msgs {
		if m.Author != args.PlayerID {
			other = m.Author
			break
		}
	}
	if other != 0 {
		trust := float64(2 * len(msgs))
		if trust > 10 {
			trust = 10
		}
		err := r.domain.AdjustRelationship(ctx, j.worldID, args.PlayerID, other,
			world.Relationship{Trust: trust, Loyalty: 1})
		if err != nil {
			return err
		}
	}
	return r.append(ctx, j, world.InputFinishRememberConversation, world.FinishRememberConversationArgs{
		OperationID: args.OperationID,
		AgentID:     args.AgentID,
	})
}

// resolveRobbery rolls the odds, moves loot out of the victim's inventory on
// success, and bumps the victim's grudge either way.
func (r *Runner) resolveRobbery(ctx context.Context, j job, args world.ResolveRobberyArgs) error {
	r.balanceMu.Lock()
	odds := r.balance.CalcRobbery(scripting.RobberyContext{
		AttackerPower:       args.PowerBonus,
		AttackerPersonality: args.Personality,
		TargetDefense:       args.Target.DefenseBonus,
		TargetHomeDefense:   args.Target.HomeDefense,
		TargetInventory:     args.Target.Inventory,
		Zone:                args.Zone,
	})
	r.balanceMu.Unlock()

	success := rand.Float64() < odds.SuccessChance
	var loot int64
	if success {
		want := odds.LootBase
		if args.Target.Inventory > 0 && odds.LootFraction > 0 {
			want += int64(rand.Float64() * odds.LootFraction * float64(args.Target.Inventory))
		}
		var err error
		loot, err = r.domain.TransferInventory(ctx, j.worldID, args.Target.PlayerID, args.PlayerID, want)
		if err != nil {
			return err
		}
	}

	grudge := world.Relationship{Revenge: 15, Fear: 5}
	if success {
		grudge = world.Relationship{Revenge: 25, Fear: 10, Trust: -10}
	}
	if err := r.domain.AdjustRelationship(ctx, j.worldID, args.Target.PlayerID, args.PlayerID, grudge); err != nil {
		return err
	}

	return r.append(ctx, j, world.InputFinishRobbery, world.FinishRobberyArgs{
		OperationID:    args.OperationID,
		AgentID:        args.AgentID,
		TargetPlayerID: args.Target.PlayerID,
		Success:        success,
		LootValue:      loot,
	})
}

// resolveCombat rolls the fight and records the loser's grudge.
func (r *Runner) resolveCombat(ctx context.Context, j job, args world.ResolveCombatArgs) error {
	r.balanceMu.Lock()
	odds := r.balance.CalcCombat(scripting.CombatContext{
		AttackerPower:       args.PowerBonus,
		AttackerPersonality: args.Personality,
		OpponentPower:       args.Opponent.PowerBonus,
		OpponentPersonality: args.Opponent.Personality,
		Zone:                args.Zone,
	})
	r.balanceMu.Unlock()

	attackerWon := rand.Float64() < odds.AttackerWinChance
	loser, winner := args.PlayerID, args.Opponent.PlayerID
	if attackerWon {
		loser, winner = args.Opponent.PlayerID, args.PlayerID
	}
	err := r.domain.AdjustRelationship(ctx, j.worldID, loser, winner,
		world.Relationship{Revenge: 25, Fear: 15})
	if err != nil {
		return err
	}

	return r.append(ctx, j, world.InputFinishCombat, world.FinishCombatArgs{
		OperationID: args.OperationID,
		AgentID:     args.AgentID,
		OpponentID:  args.Opponent.PlayerID,
		AttackerWon: attackerWon,
	})
}

func (r *Runner) logActivityEnd(ctx context.Context, j job, args world.LogActivityEndArgs) error {
	err := r.domain.InsertActivityLog(ctx, persist.ActivityLogRow{
		WorldID:     j.worldID,
		PlayerID:    args.PlayerID,
		Kind:        "activity",
		Description: args.Description,
		Emoji:       args.Emoji,
		Zone:        args.Zone,
		StartedAt:   args.StartedAt,
		EndedAt:     args.EndedAt,
	})
	if err != nil {
		return err
	}
	if args.EnergyRefill > 0 {
		return r.append(ctx, j, world.InputRefillEnergy, world.RefillEnergyArgs{
			PlayerID: args.PlayerID,
			Amount:   args.EnergyRefill,
		})
	}
	return nil
}

func (r *Runner) logZoneChange(ctx context.Context, j job, args world.LogZoneChangeArgs) error {
	return r.domain.InsertActivityLog(ctx, persist.ActivityLogRow{
		WorldID:     j.worldID,
		PlayerID:    args.PlayerID,
		Kind:        "zoneChange",
		Description: fmt.Sprintf("%s entered %s", args.Name, zoneLabel(args.ToZone)),
		Zone:        args.ToZone,
		StartedAt:   args.At,
		EndedAt:     args.At,
	})
}

// grantMovementXP converts accrued steps into arena experience. Players
// without a bot binding earn nothing.
func (r *Runner) grantMovementXP(ctx context.Context, j job, args world.GrantMovementXPArgs) error {
	if args.BotID == "" || args.Steps <= 0 {
		return nil
	}
	r.balanceMu.Lock()
	perStep := r.balance.MovementXPPerStep()
	r.balanceMu.Unlock()

	return r.domain.GrantBotExperience(ctx, args.BotID, int64(perStep*args.Steps), int64(args.Steps))
}

// generateLootDrop rolls a drop from the zone's table, credits the player and
// feeds the energy back through the journal.
func (r *Runner) generateLootDrop(ctx context.Context, j job, args world.GenerateLootDropArgs) error {
	r.balanceMu.Lock()
	table := r.balance.GetLootTable(args.Zone)
	r.balanceMu.Unlock()

	value := table.MinValue
	if table.MaxValue > table.MinValue {
		value += rand.Int63n(table.MaxValue - table.MinValue + 1)
	}
	if err := r.domain.EnqueueLootbox(ctx, j.worldID, args.PlayerID, args.BotID, args.Zone, value, table.Energy); err != nil {
		return err
	}
	if _, err := r.domain.AddInventory(ctx, j.worldID, args.PlayerID, value); err != nil {
		return err
	}
	if table.Energy > 0 {
		return r.append(ctx, j, world.InputRefillEnergy, world.RefillEnergyArgs{
			PlayerID: args.PlayerID,
			Amount:   table.Energy,
		})
	}
	return nil
}

// cleanupPlayerData runs cleanup passes until the player's residue is gone.
func (r *Runner) cleanupPlayerData(ctx context.Context, j job, args world.CleanupPlayerDataArgs) error {
	for i := 0; i < 10; i++ {
		done, err := r.cleanup.CleanupPlayer(ctx, j.worldID, args.PlayerID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("cleanup for %s did not converge", args.PlayerID)
}

func zoneLabel(zone string) string {
	if zone == "" {
		return "the streets"
	}
	return zone
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
