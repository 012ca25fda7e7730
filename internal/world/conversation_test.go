package world

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pairAt(t *testing.T, g *Game, ax, ay, bx, by float64) (PlayerID, PlayerID) {
	t.Helper()
	a := joinHuman(t, g, "Ada", "tok-a", 0)
	b := joinHuman(t, g, "Bob", "tok-b", 0)
	g.Players[a].Position = Point{X: ax, Y: ay}
	g.Players[a].CurrentZone = g.Map.ZoneOf(g.Players[a].Position)
	g.Players[b].Position = Point{X: bx, Y: by}
	g.Players[b].CurrentZone = g.Map.ZoneOf(g.Players[b].Position)
	g.EndStep()
	return a, b
}

func lastArchivedConversation(t *testing.T, g *Game) ArchivedConversation {
	t.Helper()
	eff := g.EndStep()
	require.NotEmpty(t, eff.ArchivedConversations)
	return eff.ArchivedConversations[len(eff.ArchivedConversations)-1]
}

func TestCreateConversationValidation(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 5, 5, 8, 5)

	_, err := g.createConversation(a, a, 0)
	requireErrKind(t, err, ErrInvalidInput)

	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)
	require.Equal(t, StatusWalkingOver, c.Participants[a].Status)
	require.Equal(t, StatusInvited, c.Participants[b].Status)

	_, err = g.createConversation(a, b, 0)
	requireErrKind(t, err, ErrConflict)
}

func TestInviteTimeout(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 5, 5, 8, 5)
	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)

	c.tick(g, g.Tunables.InviteTimeout-1)
	require.NotNil(t, g.Conversations[c.ID])

	c.tick(g, g.Tunables.InviteTimeout)
	require.Nil(t, g.Conversations[c.ID])
	require.Equal(t, "inviteTimeout", lastArchivedConversation(t, g).Reason)
}

func TestRejectInviteStopsConversation(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 5, 5, 8, 5)
	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)

	_, err = g.HandleInput(1, InputRejectInvite, &ConversationMembershipArgs{PlayerID: b, ConversationID: c.ID})
	require.NoError(t, err)
	require.Nil(t, g.Conversations[c.ID])
	require.Equal(t, "rejected", lastArchivedConversation(t, g).Reason)
}

func TestAcceptRespondTwice(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 5, 5, 8, 5)
	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)

	_, err = g.HandleInput(1, InputAcceptInvite, &ConversationMembershipArgs{PlayerID: b, ConversationID: c.ID})
	require.NoError(t, err)
	_, err = g.HandleInput(2, InputAcceptInvite, &ConversationMembershipArgs{PlayerID: b, ConversationID: c.ID})
	requireErrKind(t, err, ErrConflict)
}

func TestWalkOverSteersThenParticipates(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 2, 5, 12, 5)
	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)
	require.NoError(t, g.acceptInvite(c, b, 1))

	// Far apart: both get steered.
	c.tick(g, 2)
	require.NotNil(t, g.Players[a].Pathfinding)
	require.NotNil(t, g.Players[b].Pathfinding)

	// Close the gap by hand; the next tick flips both to participating.
	g.Players[a].Position = Point{X: 5, Y: 5}
	g.Players[b].Position = Point{X: 6, Y: 5}
	c.tick(g, 3)
	require.Equal(t, StatusParticipating, c.Participants[a].Status)
	require.Equal(t, StatusParticipating, c.Participants[b].Status)
	require.Equal(t, int64(3), c.Participants[a].StartedAt)
	require.Nil(t, g.Players[a].Pathfinding)
	require.Nil(t, g.Players[b].Pathfinding)
}

func TestWalkOverStopsWhenParticipantGone(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 2, 5, 12, 5)
	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)
	require.NoError(t, g.acceptInvite(c, b, 1))

	delete(g.Players, b)
	c.tick(g, 2)
	require.Nil(t, g.Conversations[c.ID])
	require.Equal(t, "participantGone", lastArchivedConversation(t, g).Reason)
}

func participating(t *testing.T, g *Game, startedAt int64) (*Conversation, PlayerID, PlayerID) {
	t.Helper()
	a, b := pairAt(t, g, 5, 5, 6, 5)
	c, err := g.createConversation(a, b, startedAt)
	require.NoError(t, err)
	for _, m := range c.Participants {
		m.Status = StatusParticipating
		m.StartedAt = startedAt
	}
	return c, a, b
}

// agentPairTalking puts two agents into a participating conversation, A the
// creator.
func agentPairTalking(t *testing.T, g *Game, startedAt int64) (*Agent, *Agent, *Conversation) {
	t.Helper()
	ra := addAgent(t, g, "BotA", "bot-pa", PersonalityWorker, 0)
	rb := addAgent(t, g, "BotB", "bot-pb", PersonalityWorker, 0)
	c, err := g.createConversation(ra.PlayerID, rb.PlayerID, startedAt)
	require.NoError(t, err)
	for _, m := range c.Participants {
		m.Status = StatusParticipating
		m.StartedAt = startedAt
	}
	g.EndStep()
	return g.Agents[ra.AgentID], g.Agents[rb.AgentID], c
}

func TestSilentConversationStaysLive(t *testing.T) {
	g := newTestGame(1)
	c, _, _ := participating(t, g, 1_000)

	// Silence never ends a conversation from outside; it only changes who
	// is allowed to speak next.
	c.tick(g, 1_000+g.Tunables.AwkwardConversationTimeout+60_000)
	require.NotNil(t, g.Conversations[c.ID])
	require.Empty(t, g.EndStep().ArchivedConversations)
}

func TestAwkwardSilenceLetsInviteeOpen(t *testing.T) {
	g := newTestGame(1)
	_, agentB, c := agentPairTalking(t, g, 1_000)

	// Before the awkward timeout the invitee keeps waiting for the opener.
	agentB.maybeSendMessage(g, c, 1_000+g.Tunables.AwkwardConversationTimeout-1)
	require.Nil(t, c.IsTyping)
	require.Empty(t, g.EndStep().Ops)

	agentB.maybeSendMessage(g, c, 1_000+g.Tunables.AwkwardConversationTimeout)
	require.NotNil(t, c.IsTyping)
	require.Equal(t, agentB.PlayerID, c.IsTyping.PlayerID)
	eff := g.EndStep()
	require.Len(t, eff.Ops, 1)
	require.Equal(t, MessageStart, eff.Ops[0].Args.(AgentGenerateMessageArgs).Kind)
}

func TestOverlongConversationWindsDown(t *testing.T) {
	g := newTestGame(1)
	agentA, _, c := agentPairTalking(t, g, 0)
	c.LastMessage = &MessageRef{Author: agentA.PlayerID, At: 5_000}
	c.NumMessages = 3
	now := g.Tunables.MaxConversationDuration + 1_000

	// Duration is up: the next agent to act says goodbye through the
	// regular message path instead of the conversation being cut.
	agentA.tick(g, now)
	require.NotNil(t, g.Conversations[c.ID])
	require.NotNil(t, c.IsTyping)
	require.Equal(t, agentA.PlayerID, c.IsTyping.PlayerID)
	eff := g.EndStep()
	require.Len(t, eff.Ops, 1)
	args := eff.Ops[0].Args.(AgentGenerateMessageArgs)
	require.Equal(t, MessageLeave, args.Kind)

	// The goodbye lands and archives the conversation.
	_, err := g.HandleInput(now+500, InputAgentFinishSendingMessage, &AgentFinishSendingMessageArgs{
		OperationID: eff.Ops[0].ID, AgentID: agentA.ID,
		ConversationID: c.ID, MessageUUID: args.MessageUUID, Text: "gotta run", Leave: true,
	})
	require.NoError(t, err)
	require.Nil(t, g.Conversations[c.ID])
	require.NotNil(t, agentA.ToRemember)
	require.Equal(t, "left", lastArchivedConversation(t, g).Reason)
}

func TestConversationWindsDownAfterMaxMessages(t *testing.T) {
	g := newTestGame(1)
	agentA, agentB, c := agentPairTalking(t, g, 0)
	c.LastMessage = &MessageRef{Author: agentA.PlayerID, At: 9_000}
	c.NumMessages = g.Tunables.MaxConversationMessages

	agentB.maybeSendMessage(g, c, 10_000)
	require.NotNil(t, c.IsTyping)
	eff := g.EndStep()
	require.Len(t, eff.Ops, 1)
	require.Equal(t, MessageLeave, eff.Ops[0].Args.(AgentGenerateMessageArgs).Kind)
	require.NotNil(t, g.Conversations[c.ID], "live until the goodbye lands")
}

func TestTypingLockExpires(t *testing.T) {
	g := newTestGame(1)
	c, a, _ := participating(t, g, 0)
	c.IsTyping = &Typing{PlayerID: a, MessageUUID: "u-1", Since: 0}
	c.LastMessage = &MessageRef{Author: a, At: g.Tunables.TypingTimeout - 1}

	c.tick(g, g.Tunables.TypingTimeout)
	require.Nil(t, c.IsTyping)
	require.NotNil(t, g.Conversations[c.ID])
}

func TestSendMessageHonorsTypingLock(t *testing.T) {
	g := newTestGame(1)
	c, a, b := participating(t, g, 0)

	_, err := g.HandleInput(1, InputStartTyping, &StartTypingArgs{PlayerID: a, ConversationID: c.ID, MessageUUID: "u-1"})
	require.NoError(t, err)

	_, err = g.HandleInput(2, InputSendMessage, &SendMessageArgs{PlayerID: b, ConversationID: c.ID, Text: "hi", MessageUUID: "u-2"})
	requireErrKind(t, err, ErrConflict)

	_, err = g.HandleInput(3, InputSendMessage, &SendMessageArgs{PlayerID: a, ConversationID: c.ID, Text: "hello", MessageUUID: "u-1"})
	require.NoError(t, err)
	require.Nil(t, c.IsTyping)
	require.Equal(t, 1, c.NumMessages)
	require.Equal(t, a, c.LastMessage.Author)

	eff := g.EndStep()
	require.Len(t, eff.Messages, 1)
	require.Equal(t, "hello", eff.Messages[0].Text)
	require.Equal(t, "u-1", eff.Messages[0].MessageUUID)
}

func TestSendMessageRequiresParticipation(t *testing.T) {
	g := newTestGame(1)
	a, b := pairAt(t, g, 5, 5, 6, 5)
	c, err := g.createConversation(a, b, 0)
	require.NoError(t, err)

	_, err = g.HandleInput(1, InputSendMessage, &SendMessageArgs{PlayerID: b, ConversationID: c.ID, Text: "hi", MessageUUID: "u-1"})
	requireErrKind(t, err, ErrConflict)
}

func TestStopConversationPrimesAgentMemory(t *testing.T) {
	g := newTestGame(1)
	ra := addAgent(t, g, "BotA", "bot-a", PersonalityWorker, 0)
	rb := addAgent(t, g, "BotB", "bot-b", PersonalityWorker, 0)
	c, err := g.createConversation(ra.PlayerID, rb.PlayerID, 0)
	require.NoError(t, err)
	for _, m := range c.Participants {
		m.Status = StatusParticipating
		m.StartedAt = 0
	}
	c.NumMessages = 4
	g.EndStep()

	g.stopConversation(c, 500, "left")

	agentA := g.Agents[ra.AgentID]
	require.Equal(t, int64(500), agentA.LastConversation)
	require.Equal(t, int64(500), agentA.LastConversedWith[rb.PlayerID])
	require.NotNil(t, agentA.ToRemember)
	require.Equal(t, c.ID, *agentA.ToRemember)

	arch := lastArchivedConversation(t, g)
	require.Equal(t, "left", arch.Reason)
	require.Equal(t, 4, arch.NumMessages)
	require.ElementsMatch(t, []PlayerID{ra.PlayerID, rb.PlayerID}, arch.Participants)
}

func TestAgentFinishSendingMessage(t *testing.T) {
	g := newTestGame(1)
	ra := addAgent(t, g, "BotA", "bot-a", PersonalityWorker, 0)
	rb := addAgent(t, g, "BotB", "bot-b", PersonalityWorker, 0)
	c, err := g.createConversation(ra.PlayerID, rb.PlayerID, 0)
	require.NoError(t, err)
	for _, m := range c.Participants {
		m.Status = StatusParticipating
	}
	agent := g.Agents[ra.AgentID]

	// Stale operation id is rejected.
	_, err = g.HandleInput(1, InputAgentFinishSendingMessage, &AgentFinishSendingMessageArgs{
		OperationID: "op:99", AgentID: ra.AgentID, ConversationID: c.ID, MessageUUID: "u-1", Text: "hi",
	})
	requireErrKind(t, err, ErrConflict)

	// Lost the typing lock.
	agent.InProgressOperation = &AgentOperation{Name: OpAgentGenerateMessage, OpID: "op:7", Started: 0}
	_, err = g.HandleInput(1, InputAgentFinishSendingMessage, &AgentFinishSendingMessageArgs{
		OperationID: "op:7", AgentID: ra.AgentID, ConversationID: c.ID, MessageUUID: "u-1", Text: "hi",
	})
	requireErrKind(t, err, ErrConflict)
	require.Nil(t, agent.InProgressOperation)

	// Generation failure releases the lock without delivering.
	c.IsTyping = &Typing{PlayerID: ra.PlayerID, MessageUUID: "u-2", Since: 1}
	agent.InProgressOperation = &AgentOperation{Name: OpAgentGenerateMessage, OpID: "op:8", Started: 0}
	_, err = g.HandleInput(2, InputAgentFinishSendingMessage, &AgentFinishSendingMessageArgs{
		OperationID: "op:8", AgentID: ra.AgentID, ConversationID: c.ID, MessageUUID: "u-2", Error: "model unavailable",
	})
	requireErrKind(t, err, ErrInternal)
	require.Nil(t, c.IsTyping)
	require.Equal(t, 0, c.NumMessages)

	// Success delivers, and Leave ends the conversation.
	c.IsTyping = &Typing{PlayerID: ra.PlayerID, MessageUUID: "u-3", Since: 3}
	agent.InProgressOperation = &AgentOperation{Name: OpAgentGenerateMessage, OpID: "op:9", Started: 0}
	g.EndStep()
	_, err = g.HandleInput(4, InputAgentFinishSendingMessage, &AgentFinishSendingMessageArgs{
		OperationID: "op:9", AgentID: ra.AgentID, ConversationID: c.ID, MessageUUID: "u-3", Text: "bye", Leave: true,
	})
	require.NoError(t, err)
	require.Nil(t, g.Conversations[c.ID])

	eff := g.EndStep()
	require.Len(t, eff.Messages, 1)
	require.Equal(t, "bye", eff.Messages[0].Text)
	require.Len(t, eff.ArchivedConversations, 1)
	require.Equal(t, "left", eff.ArchivedConversations[0].Reason)
}
