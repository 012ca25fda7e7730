package ops

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/townd/server/internal/world"
)

// MessageRequest is everything the reasoner gets to produce one line of
// dialogue. History is the conversation so far, oldest first.
type MessageRequest struct {
	WorldID   string
	AgentName string
	OtherName string
	Kind      world.MessageKind
	History   []HistoryLine
}

type HistoryLine struct {
	Author world.PlayerID
	Text   string
}

// Reasoner produces dialogue for agents. Implementations may call out to a
// language model; the canned default keeps worlds alive without one.
type Reasoner interface {
	GenerateMessage(ctx context.Context, req MessageRequest) (string, error)
}

// CannedReasoner picks from fixed lines per message kind.
type CannedReasoner struct{}

var cannedOpeners = []string{
	"Hey %s, got a minute?",
	"%s! I was hoping to run into you.",
	"Evening, %s. Heard anything interesting lately?",
	"Hey %s, how's your day been?",
}

var cannedReplies = []string{
	"That's one way to look at it.",
	"Huh, I hadn't heard that.",
	"You always say that.",
	"Maybe. The streets have been strange this week.",
	"I'll keep that in mind.",
	"Same as ever around here.",
}

var cannedFarewells = []string{
	"Anyway, I should get going. See you around, %s.",
	"Good talk. I've got things to do.",
	"I'll catch you later, %s.",
}

func (CannedReasoner) GenerateMessage(_ context.Context, req MessageRequest) (string, error) {
	pick := func(lines []string) string {
		line := lines[rand.Intn(len(lines))]
		if strings.Contains(line, "%s") {
			return fmt.Sprintf(line, req.OtherName)
		}
		return line
	}
	switch req.Kind {
	case world.MessageStart:
		return pick(cannedOpeners), nil
	case world.MessageLeave:
		return pick(cannedFarewells), nil
	default:
		return pick(cannedReplies), nil
	}
}
