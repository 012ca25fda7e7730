package world

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is a finished conversation message bound for the external messages
// table. Text for agent messages arrives through the finish input; human text
// comes straight from sendMessage.
type Message struct {
	ConversationID ConversationID `json:"conversationId"`
	Author         PlayerID       `json:"author"`
	MessageUUID    string         `json:"messageUuid"`
	Text           string         `json:"text"`
	At             int64          `json:"at"`
}

// ArchivedPlayer is the terminal record for a removed player.
type ArchivedPlayer struct {
	Player      Player             `json:"player"`
	Description *PlayerDescription `json:"description,omitempty"`
	Left        int64              `json:"left"`
	Reason      string             `json:"reason"`
}

// ArchivedAgent is the terminal record for a removed agent.
type ArchivedAgent struct {
	Agent       Agent             `json:"agent"`
	Description *AgentDescription `json:"description,omitempty"`
	Left        int64             `json:"left"`
}

// StepEffects is everything a step produced besides the snapshot itself:
// operations to dispatch, messages and archives to persist. Drained at
// commit, atomically with the snapshot write.
type StepEffects struct {
	Ops                   []ScheduledOp
	Messages              []Message
	ArchivedPlayers       []ArchivedPlayer
	ArchivedAgents        []ArchivedAgent
	ArchivedConversations []ArchivedConversation
	NewPlayerDescriptions []PlayerDescription
	NewAgentDescriptions  []AgentDescription
}

// Empty reports whether the step produced nothing beyond the snapshot.
func (e *StepEffects) Empty() bool {
	return len(e.Ops) == 0 && len(e.Messages) == 0 &&
		len(e.ArchivedPlayers) == 0 && len(e.ArchivedAgents) == 0 &&
		len(e.ArchivedConversations) == 0 &&
		len(e.NewPlayerDescriptions) == 0 && len(e.NewAgentDescriptions) == 0
}

// Game is the live state of one world. It is owned by a single engine
// goroutine; nothing here is safe for concurrent use.
//
// The json-tagged portion is the step snapshot. Map, tunables and logger are
// ambient and re-attached on load.
type Game struct {
	WorldID  string      `json:"-"`
	Tunables *Tunables   `json:"-"`
	Map      *WorldMap   `json:"-"`
	Logger   *zap.Logger `json:"-"`

	RNG    *RNG  `json:"rng"`
	NextID int64 `json:"nextId"`

	Players            map[PlayerID]*Player             `json:"players"`
	Agents             map[AgentID]*Agent               `json:"agents"`
	Conversations      map[ConversationID]*Conversation `json:"conversations"`
	PlayerDescriptions map[PlayerID]*PlayerDescription  `json:"playerDescriptions"`
	AgentDescriptions  map[AgentID]*AgentDescription    `json:"agentDescriptions"`

	// External is the per-step read-only view of domain tables.
	External *ExternalView `json:"-"`

	pathfindsThisStep int
	effects           StepEffects
}

func NewGame(worldID string, m *WorldMap, tun *Tunables, seed uint64, logger *zap.Logger) *Game {
	if tun == nil {
		tun = DefaultTunables()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Game{
		WorldID:            worldID,
		Tunables:           tun,
		Map:                m,
		Logger:             logger,
		RNG:                NewRNG(seed),
		NextID:             1,
		Players:            map[PlayerID]*Player{},
		Agents:             map[AgentID]*Agent{},
		Conversations:      map[ConversationID]*Conversation{},
		PlayerDescriptions: map[PlayerID]*PlayerDescription{},
		AgentDescriptions:  map[AgentID]*AgentDescription{},
		External:           NewExternalView(),
	}
}

// LoadGame restores a game from a snapshot and re-attaches the ambient
// pieces that are not part of it.
func LoadGame(worldID string, snapshot []byte, m *WorldMap, tun *Tunables, logger *zap.Logger) (*Game, error) {
	g := NewGame(worldID, m, tun, 1, logger)
	if err := json.Unmarshal(snapshot, g); err != nil {
		return nil, fmt.Errorf("load world %s snapshot: %w", worldID, err)
	}
	return g, nil
}

// Snapshot serializes the replay-relevant state.
func (g *Game) Snapshot() ([]byte, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("snapshot world %s: %w", g.WorldID, err)
	}
	return raw, nil
}

// BeginStep resets per-step accounting and installs the external view the
// step's ticks will read from.
func (g *Game) BeginStep(view *ExternalView) {
	if view == nil {
		view = NewExternalView()
	}
	g.External = view
	g.pathfindsThisStep = 0
}

// EndStep drains the effects accumulated since BeginStep.
func (g *Game) EndStep() StepEffects {
	out := g.effects
	g.effects = StepEffects{}
	return out
}

// Tick advances the world by one tick. Phase order is fixed: agents decide,
// then player housekeeping, pathfinding and movement, then conversations
// reconcile. Iteration is by ascending id so a replay visits entities
// identically.
func (g *Game) Tick(now int64) {
	for _, id := range sortedIDs(g.Agents) {
		if a := g.Agents[id]; a != nil {
			a.tick(g, now)
		}
	}
	playerIDs := sortedIDs(g.Players)
	for _, id := range playerIDs {
		if p := g.Players[id]; p != nil {
			p.tick(g, now)
		}
	}
	g.kickIdleHumans(now, playerIDs)
	for _, id := range sortedIDs(g.Players) {
		if p := g.Players[id]; p != nil {
			p.tickPathfinding(g, now)
		}
	}
	for _, id := range sortedIDs(g.Players) {
		if p := g.Players[id]; p != nil {
			p.tickPosition(g, now)
		}
	}
	for _, id := range sortedIDs(g.Conversations) {
		if c := g.Conversations[id]; c != nil {
			c.tick(g, now)
		}
	}
}

func (g *Game) kickIdleHumans(now int64, ids []PlayerID) {
	for _, id := range ids {
		p := g.Players[id]
		if p == nil || !p.IsHuman() {
			continue
		}
		if now-p.LastInput >= g.Tunables.HumanIdleTooLong {
			g.Logger.Info("kicking idle human",
				zap.String("world", g.WorldID),
				zap.String("player", id.String()))
			g.removePlayer(id, now, "idle")
		}
	}
}

// removePlayer tears a player (and its agent, if any) out of the world:
// conversation membership, live maps, then archive records and a cleanup
// operation for the external tables.
func (g *Game) removePlayer(id PlayerID, now int64, reason string) {
	p := g.Players[id]
	if p == nil {
		return
	}
	if c := g.conversationOf(id); c != nil {
		g.stopConversation(c, now, "participantLeft")
	}

	archived := ArchivedPlayer{Player: *p, Description: g.PlayerDescriptions[id], Left: now, Reason: reason}
	g.effects.ArchivedPlayers = append(g.effects.ArchivedPlayers, archived)

	cleanup := CleanupPlayerDataArgs{PlayerID: id}
	if a := g.agentForPlayer(id); a != nil {
		aid := a.ID
		cleanup.AgentID = &aid
		g.effects.ArchivedAgents = append(g.effects.ArchivedAgents, ArchivedAgent{
			Agent:       *a,
			Description: g.AgentDescriptions[aid],
			Left:        now,
		})
		delete(g.Agents, aid)
		delete(g.AgentDescriptions, aid)
	}
	delete(g.Players, id)
	delete(g.PlayerDescriptions, id)

	g.scheduleOp(OpCleanupPlayerData, cleanup)
}

// removeGhostAgent archives an agent whose player no longer exists.
func (g *Game) removeGhostAgent(a *Agent, now int64) {
	g.effects.ArchivedAgents = append(g.effects.ArchivedAgents, ArchivedAgent{
		Agent:       *a,
		Description: g.AgentDescriptions[a.ID],
		Left:        now,
	})
	delete(g.Agents, a.ID)
	delete(g.AgentDescriptions, a.ID)
	g.Logger.Warn("removed ghost agent",
		zap.String("world", g.WorldID),
		zap.String("agent", a.ID.String()))
}

// --- conversation lifecycle -------------------------------------------------

// createConversation starts the invite handshake: creator walks over while
// invitee decides. Both must be free.
func (g *Game) createConversation(creator, invitee PlayerID, now int64) (*Conversation, error) {
	if creator == invitee {
		return nil, InvalidInput("cannot invite yourself")
	}
	if g.Players[creator] == nil || g.Players[invitee] == nil {
		return nil, NotFound("conversation party missing")
	}
	if g.conversationOf(creator) != nil {
		return nil, Conflict("%s already in a conversation", creator)
	}
	if g.conversationOf(invitee) != nil {
		return nil, Conflict("%s already in a conversation", invitee)
	}
	c := &Conversation{
		ID:      ConversationID(g.allocID()),
		Creator: creator,
		Created: now,
		Participants: map[PlayerID]*Participant{
			creator: {Status: StatusWalkingOver, InvitedAt: now},
			invitee: {Status: StatusInvited, InvitedAt: now},
		},
	}
	g.Conversations[c.ID] = c
	return c, nil
}

func (g *Game) acceptInvite(c *Conversation, id PlayerID, now int64) error {
	m := c.participant(id)
	if m == nil {
		return NotFound("%s is not part of conversation %s", id, c.ID)
	}
	if m.Status != StatusInvited {
		return Conflict("%s has already responded", id)
	}
	m.Status = StatusWalkingOver
	m.InvitedAt = now
	return nil
}

func (g *Game) rejectInvite(c *Conversation, id PlayerID, now int64) error {
	m := c.participant(id)
	if m == nil {
		return NotFound("%s is not part of conversation %s", id, c.ID)
	}
	if m.Status != StatusInvited {
		return Conflict("%s has already responded", id)
	}
	g.stopConversation(c, now, "rejected")
	return nil
}

func (g *Game) leaveConversation(c *Conversation, id PlayerID, now int64) error {
	if c.participant(id) == nil {
		return NotFound("%s is not part of conversation %s", id, c.ID)
	}
	g.stopConversation(c, now, "left")
	return nil
}

// stopConversation ends a conversation for any reason: archive it, release
// walkers, and prime agent memory and cooldowns.
func (g *Game) stopConversation(c *Conversation, now int64, reason string) {
	if g.Conversations[c.ID] == nil {
		return
	}
	ids := sortedIDs(c.Participants)
	for _, pid := range ids {
		m := c.Participants[pid]
		if p := g.Players[pid]; p != nil && m.Status == StatusWalkingOver {
			p.stopPathfinding()
		}
		a := g.agentForPlayer(pid)
		if a == nil {
			continue
		}
		a.LastConversation = now
		if other, _ := c.otherParticipant(pid); other != 0 {
			if a.LastConversedWith == nil {
				a.LastConversedWith = map[PlayerID]int64{}
			}
			a.LastConversedWith[other] = now
		}
		if c.NumMessages > 0 && m.Status == StatusParticipating {
			cid := c.ID
			a.ToRemember = &cid
		}
	}
	c.IsTyping = nil
	g.effects.ArchivedConversations = append(g.effects.ArchivedConversations, ArchivedConversation{
		ID:           c.ID,
		Creator:      c.Creator,
		Created:      c.Created,
		Ended:        now,
		Reason:       reason,
		NumMessages:  c.NumMessages,
		Participants: ids,
	})
	delete(g.Conversations, c.ID)
}

// deliverMessage lands a finished message in the conversation and queues it
// for the messages table.
func (g *Game) deliverMessage(c *Conversation, author PlayerID, messageUUID, text string, now int64) {
	g.effects.Messages = append(g.effects.Messages, Message{
		ConversationID: c.ID,
		Author:         author,
		MessageUUID:    messageUUID,
		Text:           text,
		At:             now,
	})
	c.LastMessage = &MessageRef{Author: author, At: now}
	c.NumMessages++
	if c.IsTyping != nil && c.IsTyping.PlayerID == author {
		c.IsTyping = nil
	}
}

// --- lookups ----------------------------------------------------------------

func (g *Game) conversationOf(id PlayerID) *Conversation {
	for _, cid := range sortedIDs(g.Conversations) {
		if c := g.Conversations[cid]; c != nil && c.participant(id) != nil {
			return c
		}
	}
	return nil
}

func (g *Game) agentForPlayer(id PlayerID) *Agent {
	for _, aid := range sortedIDs(g.Agents) {
		if a := g.Agents[aid]; a != nil && a.PlayerID == id {
			return a
		}
	}
	return nil
}

func (g *Game) nameOf(id PlayerID) string {
	if d := g.PlayerDescriptions[id]; d != nil {
		return d.Name
	}
	return id.String()
}

func (g *Game) personalityOf(id PlayerID) string {
	if a := g.agentForPlayer(id); a != nil {
		return a.Personality
	}
	return ""
}

func (g *Game) botIDFor(id PlayerID) string {
	if a := g.agentForPlayer(id); a != nil {
		if d := g.AgentDescriptions[a.ID]; d != nil {
			return d.AIArenaBotID
		}
	}
	return ""
}

// occupiedBy reports tiles held by players other than exclude, for route
// searches.
func (g *Game) occupiedBy(exclude PlayerID) func(Tile) bool {
	return func(t Tile) bool {
		for pid, p := range g.Players {
			if pid == exclude {
				continue
			}
			if p.Position.Tile() == t {
				return true
			}
		}
		return false
	}
}

// playerWithin returns a player other than exclude closer than threshold to
// pos. Conversation partners are ignored so they can close the final gap.
func (g *Game) playerWithin(exclude PlayerID, pos Point, threshold float64) *Player {
	var mine *Conversation
	for _, cid := range sortedIDs(g.Conversations) {
		if c := g.Conversations[cid]; c != nil && c.participant(exclude) != nil {
			mine = c
			break
		}
	}
	for _, pid := range sortedIDs(g.Players) {
		if pid == exclude {
			continue
		}
		if mine != nil && mine.participant(pid) != nil {
			continue
		}
		p := g.Players[pid]
		if p != nil && Distance(p.Position, pos) < threshold {
			return p
		}
	}
	return nil
}

// --- allocation -------------------------------------------------------------

func (g *Game) allocID() int64 {
	id := g.NextID
	g.NextID++
	return id
}

func (g *Game) allocOpID() string {
	return fmt.Sprintf("op:%d", g.allocID())
}

func (g *Game) scheduleOp(name OpName, args any) string {
	id := g.allocOpID()
	g.scheduleOpID(id, name, args)
	return id
}

func (g *Game) scheduleOpID(id string, name OpName, args any) {
	g.effects.Ops = append(g.effects.Ops, ScheduledOp{ID: id, Name: name, Args: args})
}

// newMessageUUID derives a v4-shaped uuid from the world RNG, so replays
// mint the same message ids.
func (g *Game) newMessageUUID() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], g.RNG.Uint64())
	binary.BigEndian.PutUint64(b[8:], g.RNG.Uint64())
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.Nil.String()
	}
	return u.String()
}

// randomSpawn picks a passable unoccupied position, constrained to a zone
// when one is named. Random probes first, then a linear sweep.
func (g *Game) randomSpawn(zone string) (Point, error) {
	x0, y0, x1, y1 := 0, 0, g.Map.Width-1, g.Map.Height-1
	if zone != "" {
		found := false
		for _, z := range g.Map.Zones {
			if z.Name == zone {
				x0, y0, x1, y1 = z.X0, z.Y0, z.X1, z.Y1
				found = true
				break
			}
		}
		if !found {
			return Point{}, InvalidInput("unknown zone %q", zone)
		}
	}
	occupied := g.occupiedBy(0)
	for attempt := 0; attempt < 100; attempt++ {
		t := Tile{
			X: x0 + g.RNG.Intn(x1-x0+1),
			Y: y0 + g.RNG.Intn(y1-y0+1),
		}
		if !g.Map.IsBlocked(t) && !occupied(t) {
			return t.Point(), nil
		}
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			t := Tile{X: x, Y: y}
			if !g.Map.IsBlocked(t) && !occupied(t) {
				return t.Point(), nil
			}
		}
	}
	return Point{}, Conflict("no free tile to spawn on")
}

func sortedIDs[K ~int64, V any](m map[K]V) []K {
	ids := make([]K, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
