package world

import "go.uber.org/zap"

// JoinResult is the ok-value recorded for a successful join.
type JoinResult struct {
	PlayerID PlayerID `json:"playerId"`
}

// CreateAgentResult is the ok-value for createAgentFromAIArena.
type CreateAgentResult struct {
	AgentID  AgentID  `json:"agentId"`
	PlayerID PlayerID `json:"playerId"`
}

// HandleInput applies one journal input to the world. The returned value and
// error become the input's recorded returnValue; errors of type *Error keep
// their kind, anything else is recorded as internal.
func (g *Game) HandleInput(now int64, name InputName, args InputArgs) (any, error) {
	switch a := args.(type) {
	case *JoinArgs:
		return g.handleJoin(now, a)
	case *LeaveArgs:
		return nil, g.handleLeave(now, a)
	case *MoveToArgs:
		return nil, g.handleMoveTo(now, a)
	case *CreateAgentArgs:
		return g.handleCreateAgent(now, a)
	case *UpdateEquipmentArgs:
		return nil, g.handleUpdateEquipment(now, a)
	case *SendMessageArgs:
		return nil, g.handleSendMessage(now, a)
	case *StartTypingArgs:
		return nil, g.handleStartTyping(now, a)
	case *ConversationMembershipArgs:
		return nil, g.handleMembership(now, name, a)
	case *StartRobberyArgs:
		return nil, g.handleStartRobbery(now, a)
	case *StartCombatArgs:
		return nil, g.handleStartCombat(now, a)
	case *FinishDoSomethingArgs:
		return nil, g.handleFinishDoSomething(now, a)
	case *FinishRobberyArgs:
		return nil, g.handleFinishRobbery(now, a)
	case *FinishCombatArgs:
		return nil, g.handleFinishCombat(now, a)
	case *AgentFinishSendingMessageArgs:
		return nil, g.handleAgentFinishSendingMessage(now, a)
	case *FinishRememberConversationArgs:
		return nil, g.handleFinishRememberConversation(now, a)
	case *RefillEnergyArgs:
		return nil, g.handleRefillEnergy(now, a)
	default:
		return nil, InvalidInput("unhandled input args %T", args)
	}
}

// handleMembership routes the three conversation membership inputs, which
// share an argument shape.
func (g *Game) handleMembership(now int64, name InputName, a *ConversationMembershipArgs) error {
	p := g.Players[a.PlayerID]
	if p == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	c := g.Conversations[a.ConversationID]
	if c == nil {
		return NotFound("conversation %s not found", a.ConversationID)
	}
	if p.IsHuman() {
		p.LastInput = now
	}
	switch name {
	case InputAcceptInvite:
		return g.acceptInvite(c, a.PlayerID, now)
	case InputRejectInvite:
		return g.rejectInvite(c, a.PlayerID, now)
	case InputLeaveConversation:
		return g.leaveConversation(c, a.PlayerID, now)
	default:
		return InvalidInput("input %q is not a membership input", name)
	}
}

func (g *Game) handleJoin(now int64, a *JoinArgs) (*JoinResult, error) {
	if a.Name == "" {
		return nil, InvalidInput("join requires a name")
	}
	if a.TokenIdentifier != "" {
		humans := 0
		for _, p := range g.Players {
			if p.IsHuman() {
				humans++
				if p.Human == a.TokenIdentifier {
					return nil, Conflict("token already joined")
				}
			}
		}
		if humans >= g.Tunables.MaxHumanPlayers {
			return nil, Conflict("world is full")
		}
	}
	pos, err := g.randomSpawn("")
	if err != nil {
		return nil, err
	}
	id := PlayerID(g.allocID())
	g.Players[id] = &Player{
		ID:        id,
		Human:     a.TokenIdentifier,
		Joined:    now,
		LastInput: now,
		Position:  pos,
		Facing:    Vector{DX: 0, DY: 1},
		Energy:    g.Tunables.EnergyMax,
	}
	g.Players[id].CurrentZone = g.Map.ZoneOf(pos)
	desc := &PlayerDescription{
		PlayerID:    id,
		Name:        a.Name,
		Character:   a.Character,
		Description: a.Description,
	}
	g.PlayerDescriptions[id] = desc
	g.effects.NewPlayerDescriptions = append(g.effects.NewPlayerDescriptions, *desc)
	g.Logger.Info("player joined",
		zap.String("world", g.WorldID),
		zap.String("player", id.String()),
		zap.String("name", a.Name),
		zap.Bool("human", a.TokenIdentifier != ""))
	return &JoinResult{PlayerID: id}, nil
}

func (g *Game) handleCreateAgent(now int64, a *CreateAgentArgs) (*CreateAgentResult, error) {
	if a.Name == "" || a.AIArenaBotID == "" {
		return nil, InvalidInput("agent requires a name and a bot id")
	}
	for _, d := range g.AgentDescriptions {
		if d.AIArenaBotID == a.AIArenaBotID {
			return nil, Conflict("bot %s already has an agent", a.AIArenaBotID)
		}
	}
	pos, err := g.randomSpawn(a.InitialZone)
	if err != nil {
		return nil, err
	}
	personality := a.Personality
	switch personality {
	case PersonalityCriminal, PersonalityGambler, PersonalityWorker:
	case "":
		personality = [...]string{PersonalityCriminal, PersonalityGambler, PersonalityWorker}[g.RNG.Intn(3)]
	default:
		return nil, InvalidInput("unknown personality %q", a.Personality)
	}

	pid := PlayerID(g.allocID())
	g.Players[pid] = &Player{
		ID:        pid,
		Joined:    now,
		LastInput: now,
		Position:  pos,
		Facing:    Vector{DX: 0, DY: 1},
		Energy:    g.Tunables.EnergyMax,
	}
	g.Players[pid].CurrentZone = g.Map.ZoneOf(pos)
	pdesc := &PlayerDescription{
		PlayerID:    pid,
		Name:        a.Name,
		Character:   a.Character,
		Description: a.Identity,
	}
	g.PlayerDescriptions[pid] = pdesc
	g.effects.NewPlayerDescriptions = append(g.effects.NewPlayerDescriptions, *pdesc)

	aid := AgentID(g.allocID())
	g.Agents[aid] = &Agent{ID: aid, PlayerID: pid, Personality: personality}
	adesc := &AgentDescription{
		AgentID:      aid,
		Identity:     a.Identity,
		Plan:         a.Plan,
		AIArenaBotID: a.AIArenaBotID,
	}
	g.AgentDescriptions[aid] = adesc
	g.effects.NewAgentDescriptions = append(g.effects.NewAgentDescriptions, *adesc)
	g.Logger.Info("agent created",
		zap.String("world", g.WorldID),
		zap.String("agent", aid.String()),
		zap.String("bot", a.AIArenaBotID),
		zap.String("personality", personality))
	return &CreateAgentResult{AgentID: aid, PlayerID: pid}, nil
}

func (g *Game) handleLeave(now int64, a *LeaveArgs) error {
	if g.Players[a.PlayerID] == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	g.removePlayer(a.PlayerID, now, "left")
	return nil
}

func (g *Game) handleMoveTo(now int64, a *MoveToArgs) error {
	p := g.Players[a.PlayerID]
	if p == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	if p.IsHuman() {
		p.LastInput = now
	}
	if a.Destination == nil {
		p.stopPathfinding()
		return nil
	}
	if c := g.conversationOf(a.PlayerID); c != nil {
		if m := c.participant(a.PlayerID); m != nil && m.Status == StatusParticipating {
			return Conflict("cannot walk away mid-conversation")
		}
	}
	dest := *a.Destination
	if !g.Map.InBounds(dest) {
		return InvalidInput("destination %v out of bounds", dest)
	}
	if g.Map.IsBlocked(dest) {
		return InvalidInput("destination %v is blocked", dest)
	}
	if pf := p.Pathfinding; pf != nil && pf.Destination == dest {
		return nil // already heading there
	}
	p.startPathfinding(dest, now)
	return nil
}

func (g *Game) handleUpdateEquipment(now int64, a *UpdateEquipmentArgs) error {
	p := g.Players[a.PlayerID]
	if p == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	p.Equipment = Equipment{PowerBonus: a.PowerBonus, DefenseBonus: a.DefenseBonus}
	return nil
}

func (g *Game) handleSendMessage(now int64, a *SendMessageArgs) error {
	p := g.Players[a.PlayerID]
	if p == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	c := g.Conversations[a.ConversationID]
	if c == nil {
		return NotFound("conversation %s not found", a.ConversationID)
	}
	m := c.participant(a.PlayerID)
	if m == nil || m.Status != StatusParticipating {
		return Conflict("%s is not participating in %s", a.PlayerID, a.ConversationID)
	}
	if a.Text == "" || a.MessageUUID == "" {
		return InvalidInput("message requires text and a uuid")
	}
	if c.IsTyping != nil && c.IsTyping.PlayerID != a.PlayerID {
		return Conflict("someone else is typing")
	}
	if p.IsHuman() {
		p.LastInput = now
	}
	g.deliverMessage(c, a.PlayerID, a.MessageUUID, a.Text, now)
	return nil
}

func (g *Game) handleStartTyping(now int64, a *StartTypingArgs) error {
	p := g.Players[a.PlayerID]
	if p == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	c := g.Conversations[a.ConversationID]
	if c == nil {
		return NotFound("conversation %s not found", a.ConversationID)
	}
	m := c.participant(a.PlayerID)
	if m == nil || m.Status != StatusParticipating {
		return Conflict("%s is not participating in %s", a.PlayerID, a.ConversationID)
	}
	if c.IsTyping != nil && c.IsTyping.PlayerID != a.PlayerID {
		return Conflict("someone else is typing")
	}
	if p.IsHuman() {
		p.LastInput = now
	}
	c.IsTyping = &Typing{PlayerID: a.PlayerID, MessageUUID: a.MessageUUID, Since: now}
	return nil
}

// claimOperation checks that the named operation is still the agent's
// in-flight one and clears it. Stale finishes from superseded operations are
// rejected so they cannot double-apply.
func (g *Game) claimOperation(agentID AgentID, opID string) (*Agent, error) {
	a := g.Agents[agentID]
	if a == nil {
		return nil, NotFound("agent %s not found", agentID)
	}
	op := a.InProgressOperation
	if op == nil || op.OpID != opID {
		return nil, Conflict("operation %s is no longer in flight for %s", opID, agentID)
	}
	a.InProgressOperation = nil
	return a, nil
}

func (g *Game) handleStartRobbery(now int64, a *StartRobberyArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	p := g.Players[ag.PlayerID]
	target := g.Players[a.TargetPlayerID]
	if p == nil || target == nil {
		return NotFound("robbery party missing")
	}
	if now-ag.LastRobbery < g.Tunables.RobberyCooldown {
		return Conflict("robbery on cooldown")
	}
	if g.conversationOf(a.TargetPlayerID) != nil {
		return Conflict("target is busy talking")
	}
	if Distance(p.Position, target.Position) > 2*robberyRadius {
		return Conflict("target slipped away")
	}

	ag.LastRobbery = now
	opID := g.allocOpID()
	ag.InProgressOperation = &AgentOperation{Name: OpResolveRobbery, OpID: opID, Started: now}
	g.scheduleOpID(opID, OpResolveRobbery, ResolveRobberyArgs{
		OperationID: opID,
		AgentID:     ag.ID,
		PlayerID:    ag.PlayerID,
		Name:        g.nameOf(ag.PlayerID),
		Personality: ag.Personality,
		PowerBonus:  p.Equipment.PowerBonus,
		Zone:        p.CurrentZone,
		Target: RobberyTarget{
			PlayerID:     a.TargetPlayerID,
			Name:         g.nameOf(a.TargetPlayerID),
			DefenseBonus: target.Equipment.DefenseBonus,
			HomeDefense:  g.External.HomeDefense[a.TargetPlayerID],
			Inventory:    g.External.InventoryValue[a.TargetPlayerID],
			Distance:     Distance(p.Position, target.Position),
		},
	})
	return nil
}

func (g *Game) handleStartCombat(now int64, a *StartCombatArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	p := g.Players[ag.PlayerID]
	opponent := g.Players[a.OpponentID]
	if p == nil || opponent == nil {
		return NotFound("combat party missing")
	}
	if now-ag.LastCombat < g.Tunables.CombatCooldown {
		return Conflict("combat on cooldown")
	}
	if oa := g.agentForPlayer(a.OpponentID); oa != nil && now < oa.HospitalUntil {
		return Conflict("opponent is in the hospital")
	}
	if g.conversationOf(a.OpponentID) != nil {
		return Conflict("opponent is busy talking")
	}
	if Distance(p.Position, opponent.Position) > 2*combatRadius {
		return Conflict("opponent slipped away")
	}

	ag.LastCombat = now
	opID := g.allocOpID()
	ag.InProgressOperation = &AgentOperation{Name: OpResolveCombat, OpID: opID, Started: now}
	g.scheduleOpID(opID, OpResolveCombat, ResolveCombatArgs{
		OperationID: opID,
		AgentID:     ag.ID,
		PlayerID:    ag.PlayerID,
		Name:        g.nameOf(ag.PlayerID),
		Personality: ag.Personality,
		PowerBonus:  p.Equipment.PowerBonus,
		Zone:        p.CurrentZone,
		Opponent: CombatOpponent{
			PlayerID:    a.OpponentID,
			Name:        g.nameOf(a.OpponentID),
			PowerBonus:  opponent.Equipment.PowerBonus,
			Personality: g.personalityOf(a.OpponentID),
			Distance:    Distance(p.Position, opponent.Position),
		},
	})
	return nil
}

func (g *Game) handleFinishDoSomething(now int64, a *FinishDoSomethingArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	p := g.Players[ag.PlayerID]
	if p == nil {
		return NotFound("agent %s has no body", ag.ID)
	}
	switch {
	case a.Activity != nil:
		p.stopPathfinding()
		p.Activity = &Activity{
			Description: a.Activity.Description,
			Emoji:       a.Activity.Emoji,
			Started:     now,
			Until:       now + a.Activity.DurationMs,
		}
	case a.Invitee != nil:
		if _, err := g.createConversation(ag.PlayerID, *a.Invitee, now); err != nil {
			return err
		}
		// The invite may have been decided mid-walk; the walk-over steering
		// owns movement from here.
		p.stopPathfinding()
	case a.Destination != nil:
		dest := *a.Destination
		if !g.Map.InBounds(dest) {
			return InvalidInput("destination %v out of bounds", dest)
		}
		p.startPathfinding(dest, now)
	}
	return nil
}

func (g *Game) handleFinishRobbery(now int64, a *FinishRobberyArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	ag.LastRobbery = now
	g.Logger.Info("robbery resolved",
		zap.String("world", g.WorldID),
		zap.String("agent", ag.ID.String()),
		zap.String("target", a.TargetPlayerID.String()),
		zap.Bool("success", a.Success),
		zap.Int64("loot", a.LootValue))
	return nil
}

func (g *Game) handleFinishCombat(now int64, a *FinishCombatArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	ag.LastCombat = now
	loserID := a.OpponentID
	if !a.AttackerWon {
		loserID = ag.PlayerID
	}
	if loser := g.Players[loserID]; loser != nil {
		loser.stopPathfinding()
		loser.Activity = nil
	}
	if la := g.agentForPlayer(loserID); la != nil {
		la.HospitalUntil = now + g.Tunables.HospitalRecovery
	}
	g.Logger.Info("combat resolved",
		zap.String("world", g.WorldID),
		zap.String("attacker", ag.PlayerID.String()),
		zap.String("opponent", a.OpponentID.String()),
		zap.Bool("attackerWon", a.AttackerWon))
	return nil
}

func (g *Game) handleAgentFinishSendingMessage(now int64, a *AgentFinishSendingMessageArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	c := g.Conversations[a.ConversationID]
	if c == nil {
		return nil // conversation already ended; nothing to release
	}
	holds := c.IsTyping != nil && c.IsTyping.MessageUUID == a.MessageUUID
	if a.Error != "" {
		if holds {
			c.IsTyping = nil
		}
		return Errorf(ErrInternal, "message generation failed: %s", a.Error)
	}
	if !holds {
		return Conflict("lost the typing lock")
	}
	g.deliverMessage(c, ag.PlayerID, a.MessageUUID, a.Text, now)
	if a.Leave {
		g.stopConversation(c, now, "left")
	}
	return nil
}

func (g *Game) handleFinishRememberConversation(now int64, a *FinishRememberConversationArgs) error {
	ag, err := g.claimOperation(a.AgentID, a.OperationID)
	if err != nil {
		return err
	}
	ag.ToRemember = nil
	return nil
}

func (g *Game) handleRefillEnergy(now int64, a *RefillEnergyArgs) error {
	p := g.Players[a.PlayerID]
	if p == nil {
		return NotFound("player %s not found", a.PlayerID)
	}
	if a.Amount <= 0 {
		return InvalidInput("refill amount must be positive")
	}
	p.Energy += a.Amount
	if p.Energy > g.Tunables.EnergyMax {
		p.Energy = g.Tunables.EnergyMax
	}
	if p.LastEnergyDrain == 0 {
		p.LastEnergyDrain = now
	}
	return nil
}
