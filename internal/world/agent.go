package world

import "sort"

// Agent personalities bias the decision tree and the combat math.
const (
	PersonalityCriminal = "CRIMINAL"
	PersonalityGambler  = "GAMBLER"
	PersonalityWorker   = "WORKER"
)

// Interaction radii in tiles.
const (
	inviteRadius  = 10.0
	robberyRadius = 5.0
	combatRadius  = 5.0
)

// AgentOperation marks the one operation an agent may have in flight. While
// set, the decision tree is parked; the operation's finish input (or the
// action timeout) clears it.
type AgentOperation struct {
	Name    OpName `json:"name"`
	OpID    string `json:"opId"`
	Started int64  `json:"started"`
}

// Agent is the autonomous controller bound to one player body.
type Agent struct {
	ID          AgentID  `json:"id"`
	PlayerID    PlayerID `json:"playerId"`
	Personality string   `json:"personality,omitempty"`

	InProgressOperation *AgentOperation `json:"inProgressOperation,omitempty"`
	ToRemember          *ConversationID `json:"toRemember,omitempty"`

	LastConversation  int64              `json:"lastConversation,omitempty"`
	LastConversedWith map[PlayerID]int64 `json:"lastConversedWith,omitempty"`
	LastRobbery       int64              `json:"lastRobbery,omitempty"`
	LastCombat        int64              `json:"lastCombat,omitempty"`
	HospitalUntil     int64              `json:"hospitalUntil,omitempty"`
}

// tick walks the decision tree. The tree only mutates world state and
// schedules operations; any decision that needs randomness beyond the world
// RNG, or any external table write, happens in the operation.
func (a *Agent) tick(g *Game, now int64) {
	p := g.Players[a.PlayerID]
	if p == nil {
		// Ghost: the player vanished without the agent being torn down.
		g.removeGhostAgent(a, now)
		return
	}

	if op := a.InProgressOperation; op != nil {
		if now-op.Started < g.Tunables.ActionTimeout {
			return
		}
		// The operation never reported back. Release whatever it held.
		if c := g.conversationOf(a.PlayerID); c != nil &&
			c.IsTyping != nil && c.IsTyping.PlayerID == a.PlayerID {
			c.IsTyping = nil
		}
		a.InProgressOperation = nil
	}

	if a.HospitalUntil != 0 {
		if now < a.HospitalUntil {
			if p.Activity == nil {
				p.Activity = &Activity{
					Description: "recovering",
					Started:     a.HospitalUntil - g.Tunables.HospitalRecovery,
					Until:       a.HospitalUntil,
				}
			}
			return
		}
		// Discharged. Log the stay; deciding resumes next tick. The player
		// phase runs after agents, so clearing the activity here keeps it
		// from logging the stay a second time.
		p.Activity = nil
		g.scheduleOp(OpLogActivityEnd, LogActivityEndArgs{
			PlayerID:    a.PlayerID,
			Name:        g.nameOf(a.PlayerID),
			Description: "recovering in the hospital",
			Zone:        p.CurrentZone,
			StartedAt:   a.HospitalUntil - g.Tunables.HospitalRecovery,
			EndedAt:     now,
		})
		a.HospitalUntil = 0
		return
	}

	if a.ToRemember != nil {
		cid := *a.ToRemember
		opID := g.allocOpID()
		a.InProgressOperation = &AgentOperation{Name: OpAgentRememberConversation, OpID: opID, Started: now}
		g.scheduleOpID(opID, OpAgentRememberConversation, AgentRememberConversationArgs{
			OperationID:    opID,
			AgentID:        a.ID,
			PlayerID:       a.PlayerID,
			ConversationID: cid,
		})
		return
	}

	if c := g.conversationOf(a.PlayerID); c != nil {
		a.tickConversation(g, c, now)
		return
	}

	if p.Activity != nil && now < p.Activity.Until {
		return
	}
	if !p.IsHuman() && p.Energy <= 0 {
		return
	}

	args := AgentDoSomethingArgs{
		AgentID:     a.ID,
		PlayerID:    a.PlayerID,
		Name:        g.nameOf(a.PlayerID),
		Personality: a.Personality,
		Zone:        p.CurrentZone,
		Position:    p.Position,
		MapWidth:    g.Map.Width,
		MapHeight:   g.Map.Height,
	}

	if p.Pathfinding != nil {
		// Walking somewhere already. The only decision left is scanning for
		// someone worth talking to along the way.
		if now-a.LastConversation < g.Tunables.ConversationCooldown {
			return
		}
		cand := a.inviteCandidate(g, p, now)
		if cand == nil {
			return
		}
		args.InviteCandidate = cand
		opID := g.allocOpID()
		args.OperationID = opID
		a.InProgressOperation = &AgentOperation{Name: OpAgentDoSomething, OpID: opID, Started: now}
		g.scheduleOpID(opID, OpAgentDoSomething, args)
		return
	}

	// Zone-conditioned aggression outranks picking an activity.
	if now-a.LastRobbery >= g.Tunables.RobberyCooldown {
		args.RobberyTargets = a.robberyTargets(g, p)
	}
	if now-a.LastCombat >= g.Tunables.CombatCooldown {
		args.CombatOpponents = a.combatOpponents(g, p)
	}

	if len(args.RobberyTargets) == 0 && len(args.CombatOpponents) == 0 &&
		p.CurrentZone != ZoneStreets && g.RNG.Float64() < 0.5 {
		opID := g.allocOpID()
		a.InProgressOperation = &AgentOperation{Name: OpAgentSelectZoneActivity, OpID: opID, Started: now}
		g.scheduleOpID(opID, OpAgentSelectZoneActivity, AgentSelectZoneActivityArgs{
			OperationID: opID,
			AgentID:     a.ID,
			PlayerID:    a.PlayerID,
			Name:        g.nameOf(a.PlayerID),
			Personality: a.Personality,
			Zone:        p.CurrentZone,
		})
		return
	}

	if now-a.LastConversation >= g.Tunables.ConversationCooldown {
		args.InviteCandidate = a.inviteCandidate(g, p, now)
	}

	opID := g.allocOpID()
	args.OperationID = opID
	a.InProgressOperation = &AgentOperation{Name: OpAgentDoSomething, OpID: opID, Started: now}
	g.scheduleOpID(opID, OpAgentDoSomething, args)
}

// tickConversation handles the agent's side of a conversation it is already
// a member of.
func (a *Agent) tickConversation(g *Game, c *Conversation, now int64) {
	m := c.participant(a.PlayerID)
	if m == nil {
		return
	}
	switch m.Status {
	case StatusInvited:
		if g.RNG.Float64() < g.Tunables.InviteAcceptProbability {
			g.acceptInvite(c, a.PlayerID, now)
		} else {
			g.rejectInvite(c, a.PlayerID, now)
		}
	case StatusWalkingOver:
		// The conversation tick steers both parties.
	case StatusParticipating:
		a.maybeSendMessage(g, c, now)
	}
}

// maybeSendMessage takes the typing lock and schedules message generation
// when it is this agent's turn to speak.
func (a *Agent) maybeSendMessage(g *Game, c *Conversation, now int64) {
	if c.IsTyping != nil {
		return
	}
	otherID, _ := c.otherParticipant(a.PlayerID)

	var kind MessageKind
	switch {
	case now-c.startedAt() >= g.Tunables.MaxConversationDuration,
		c.NumMessages >= g.Tunables.MaxConversationMessages:
		// Out of time or out of things to say. Saying goodbye is itself a
		// message, through the same typing lock as any other; the archive
		// happens when the leave lands.
		kind = MessageLeave
	case c.LastMessage == nil:
		if c.Creator != a.PlayerID && now-c.startedAt() < g.Tunables.AwkwardConversationTimeout {
			return // the inviter opens, until the silence gets awkward
		}
		kind = MessageStart
	case c.LastMessage.Author == a.PlayerID:
		return // wait for a reply
	case now-c.LastMessage.At < g.Tunables.MessageCooldown:
		return
	default:
		kind = MessageContinue
	}

	messageUUID := g.newMessageUUID()
	c.IsTyping = &Typing{PlayerID: a.PlayerID, MessageUUID: messageUUID, Since: now}

	opID := g.allocOpID()
	a.InProgressOperation = &AgentOperation{Name: OpAgentGenerateMessage, OpID: opID, Started: now}
	g.scheduleOpID(opID, OpAgentGenerateMessage, AgentGenerateMessageArgs{
		OperationID:    opID,
		AgentID:        a.ID,
		PlayerID:       a.PlayerID,
		ConversationID: c.ID,
		OtherPlayerID:  otherID,
		OtherName:      g.nameOf(otherID),
		Kind:           kind,
		MessageUUID:    messageUUID,
	})
}

// robberyTargets snapshots nearby players worth robbing: criminals in the
// dark alley only. Targets are scored on what they carry against how hard
// they are to rob; only the three best positive scores go to the operation,
// which picks among them.
func (a *Agent) robberyTargets(g *Game, p *Player) []RobberyTarget {
	if a.Personality != PersonalityCriminal || p.CurrentZone != ZoneDarkAlley {
		return nil
	}
	var targets []RobberyTarget
	for pid, other := range g.Players {
		if pid == a.PlayerID {
			continue
		}
		d := Distance(p.Position, other.Position)
		if d > robberyRadius {
			continue
		}
		if g.conversationOf(pid) != nil {
			continue
		}
		inv := g.External.InventoryValue[pid]
		score := other.Equipment.PowerBonus + 0.1*float64(inv) - 2*other.Equipment.DefenseBonus
		if score <= 0 {
			continue
		}
		targets = append(targets, RobberyTarget{
			PlayerID:     pid,
			Name:         g.nameOf(pid),
			DefenseBonus: other.Equipment.DefenseBonus,
			HomeDefense:  g.External.HomeDefense[pid],
			Inventory:    inv,
			Distance:     d,
			Score:        score,
		})
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Score != targets[j].Score {
			return targets[i].Score > targets[j].Score
		}
		return targets[i].PlayerID < targets[j].PlayerID
	})
	if len(targets) > 3 {
		targets = targets[:3]
	}
	return targets
}

// combatOpponents snapshots nearby free players: criminals and gamblers in
// the underground only. The operation picks an opponent at random.
func (a *Agent) combatOpponents(g *Game, p *Player) []CombatOpponent {
	if p.CurrentZone != ZoneUnderground {
		return nil
	}
	if a.Personality != PersonalityCriminal && a.Personality != PersonalityGambler {
		return nil
	}
	var opponents []CombatOpponent
	for pid, other := range g.Players {
		if pid == a.PlayerID {
			continue
		}
		d := Distance(p.Position, other.Position)
		if d > combatRadius {
			continue
		}
		if g.conversationOf(pid) != nil {
			continue
		}
		opponents = append(opponents, CombatOpponent{
			PlayerID:    pid,
			Name:        g.nameOf(pid),
			PowerBonus:  other.Equipment.PowerBonus,
			Personality: g.personalityOf(pid),
			Distance:    d,
		})
	}
	sort.Slice(opponents, func(i, j int) bool { return opponents[i].PlayerID < opponents[j].PlayerID })
	return opponents
}

// inviteCandidate scores nearby free players on the social edge and distance
// and returns the winner, or nil when nobody scores above zero. Players the
// agent wants revenge on are never invited to talk.
func (a *Agent) inviteCandidate(g *Game, p *Player, now int64) *InviteCandidate {
	var best *InviteCandidate
	for pid, other := range g.Players {
		if pid == a.PlayerID {
			continue
		}
		d := Distance(p.Position, other.Position)
		if d > inviteRadius {
			continue
		}
		if g.conversationOf(pid) != nil {
			continue
		}
		if now-a.LastConversedWith[pid] < g.Tunables.PlayerConversationCooldown {
			continue
		}
		rel := g.External.RelationshipBetween(a.PlayerID, pid)
		if rel.Revenge > 70 {
			continue
		}
		score := 50 + 0.5*rel.Trust - 2*rel.Revenge + 0.3*rel.Loyalty - 0.5*rel.Fear
		score *= 10 / (d + 10)
		if score <= 0 {
			continue
		}
		if best == nil || score > best.Score {
			best = &InviteCandidate{PlayerID: pid, Name: g.nameOf(pid), Score: score}
		}
	}
	return best
}
