package world

// ParticipantStatus tracks a member's place in the conversation handshake.
type ParticipantStatus string

const (
	StatusInvited       ParticipantStatus = "invited"
	StatusWalkingOver   ParticipantStatus = "walkingOver"
	StatusParticipating ParticipantStatus = "participating"
)

// Participant is one member's side of a conversation.
type Participant struct {
	Status    ParticipantStatus `json:"status"`
	InvitedAt int64             `json:"invitedAt"`
	StartedAt int64             `json:"startedAt,omitempty"` // participating since
}

// Typing is the single-writer lock on the next message slot. Only the holder
// may append a message; the lock expires if no message lands in time.
type Typing struct {
	PlayerID    PlayerID `json:"playerId"`
	MessageUUID string   `json:"messageUuid"`
	Since       int64    `json:"since"`
}

// MessageRef points at the latest message without carrying its text; message
// bodies live in the external messages table.
type MessageRef struct {
	Author PlayerID `json:"author"`
	At     int64    `json:"at"`
}

// Conversation is a strictly two-party exchange: one invite, an acceptance
// walk, then alternating messages until someone leaves or a timeout fires.
type Conversation struct {
	ID           ConversationID           `json:"id"`
	Creator      PlayerID                 `json:"creator"`
	Created      int64                    `json:"created"`
	Participants map[PlayerID]*Participant `json:"participants"`
	IsTyping     *Typing                  `json:"isTyping,omitempty"`
	LastMessage  *MessageRef              `json:"lastMessage,omitempty"`
	NumMessages  int                      `json:"numMessages"`
}

// ArchivedConversation is the terminal record handed to persistence when a
// conversation ends, whatever the reason.
type ArchivedConversation struct {
	ID           ConversationID `json:"id"`
	Creator      PlayerID       `json:"creator"`
	Created      int64          `json:"created"`
	Ended        int64          `json:"ended"`
	Reason       string         `json:"reason"`
	NumMessages  int            `json:"numMessages"`
	Participants []PlayerID     `json:"participants"`
}

// otherParticipant returns the member that is not id. Conversations always
// hold exactly two members while live.
func (c *Conversation) otherParticipant(id PlayerID) (PlayerID, *Participant) {
	for pid, m := range c.Participants {
		if pid != id {
			return pid, m
		}
	}
	return 0, nil
}

func (c *Conversation) participant(id PlayerID) *Participant {
	return c.Participants[id]
}

func (c *Conversation) allParticipating() bool {
	for _, m := range c.Participants {
		if m.Status != StatusParticipating {
			return false
		}
	}
	return len(c.Participants) == 2
}

// tick drives the conversation lifecycle: invite expiry, the walk-over
// phase and typing lock expiry. Running out of time or messages is not
// ended here: a participant says goodbye through a leave-typed message,
// which archives the conversation once it lands. Message content is never
// produced here.
func (c *Conversation) tick(g *Game, now int64) {
	t := g.Tunables

	for _, m := range c.Participants {
		if m.Status == StatusInvited && now-m.InvitedAt >= t.InviteTimeout {
			g.stopConversation(c, now, "inviteTimeout")
			return
		}
	}

	if !c.allParticipating() {
		c.tickWalkingOver(g, now)
		return
	}

	if c.IsTyping != nil && now-c.IsTyping.Since >= t.TypingTimeout {
		c.IsTyping = nil
	}
}

func (c *Conversation) startedAt() int64 {
	var started int64
	for _, m := range c.Participants {
		if m.StartedAt > started {
			started = m.StartedAt
		}
	}
	if started == 0 {
		started = c.Created
	}
	return started
}

// tickWalkingOver moves accepted members toward each other and flips the
// conversation to participating once they are close enough to talk.
func (c *Conversation) tickWalkingOver(g *Game, now int64) {
	var ids []PlayerID
	for pid, m := range c.Participants {
		if m.Status == StatusWalkingOver {
			ids = append(ids, pid)
		}
	}
	if len(ids) != 2 {
		return
	}
	a, b := g.Players[ids[0]], g.Players[ids[1]]
	if a == nil || b == nil {
		g.stopConversation(c, now, "participantGone")
		return
	}

	if Distance(a.Position, b.Position) <= g.Tunables.ConversationDistance {
		for _, m := range c.Participants {
			m.Status = StatusParticipating
			m.StartedAt = now
		}
		a.stopPathfinding()
		b.stopPathfinding()
		return
	}

	c.steerTogether(g, a, b, now)
	c.steerTogether(g, b, a, now)
}

// steerTogether gives p a destination toward partner when it has none. Far
// pairs meet at the midpoint; near pairs walk straight at each other and let
// the route search settle on an adjacent cell.
func (c *Conversation) steerTogether(g *Game, p, partner *Player, now int64) {
	if p.Pathfinding != nil {
		return
	}
	var dest Tile
	if Distance(p.Position, partner.Position) > g.Tunables.MidpointThreshold {
		dest = Midpoint(p.Position, partner.Position).Tile()
	} else {
		dest = partner.Position.Tile()
	}
	p.startPathfinding(dest, now)
}
