package world

import (
	"encoding/json"
	"fmt"
)

// InputName identifies an input kind in the journal. The set is closed: the
// engine refuses names without a registered decoder.
type InputName string

const (
	InputJoin                   InputName = "join"
	InputLeave                  InputName = "leave"
	InputMoveTo                 InputName = "moveTo"
	InputCreateAgentFromAIArena InputName = "createAgentFromAIArena"
	InputUpdatePlayerEquipment  InputName = "updatePlayerEquipment"

	InputSendMessage       InputName = "sendMessage"
	InputStartTyping       InputName = "startTyping"
	InputAcceptInvite      InputName = "acceptInvite"
	InputRejectInvite      InputName = "rejectInvite"
	InputLeaveConversation InputName = "leaveConversation"

	InputStartRobbery InputName = "startRobbery"
	InputStartCombat  InputName = "startCombat"

	InputFinishDoSomething          InputName = "finishDoSomething"
	InputFinishRobbery              InputName = "finishRobbery"
	InputFinishCombat               InputName = "finishCombat"
	InputAgentFinishSendingMessage  InputName = "agentFinishSendingMessage"
	InputFinishRememberConversation InputName = "finishRememberConversation"
	InputRefillEnergy               InputName = "refillEnergy"
)

// InputArgs is the closed union of argument shapes, one struct per name.
type InputArgs interface {
	inputArgs()
}

type JoinArgs struct {
	Name            string `json:"name"`
	Character       string `json:"character"`
	Description     string `json:"description"`
	TokenIdentifier string `json:"tokenIdentifier,omitempty"`
}

type LeaveArgs struct {
	PlayerID PlayerID `json:"playerId"`
}

type MoveToArgs struct {
	PlayerID    PlayerID `json:"playerId"`
	Destination *Tile    `json:"destination"` // nil clears pathfinding
}

type CreateAgentArgs struct {
	Name         string `json:"name"`
	Character    string `json:"character"`
	Identity     string `json:"identity"`
	Plan         string `json:"plan"`
	AIArenaBotID string `json:"aiArenaBotId"`
	InitialZone  string `json:"initialZone,omitempty"`
	Personality  string `json:"personality,omitempty"`
}

type UpdateEquipmentArgs struct {
	PlayerID     PlayerID `json:"playerId"`
	PowerBonus   float64  `json:"powerBonus"`
	DefenseBonus float64  `json:"defenseBonus"`
}

type SendMessageArgs struct {
	PlayerID       PlayerID       `json:"playerId"`
	ConversationID ConversationID `json:"conversationId"`
	Text           string         `json:"text"`
	MessageUUID    string         `json:"messageUuid"`
}

type StartTypingArgs struct {
	PlayerID       PlayerID       `json:"playerId"`
	ConversationID ConversationID `json:"conversationId"`
	MessageUUID    string         `json:"messageUuid"`
}

type ConversationMembershipArgs struct {
	PlayerID       PlayerID       `json:"playerId"`
	ConversationID ConversationID `json:"conversationId"`
}

type StartRobberyArgs struct {
	OperationID    string   `json:"operationId,omitempty"` // set when initiated by an agent op
	AgentID        AgentID  `json:"agentId"`
	TargetPlayerID PlayerID `json:"targetPlayerId"`
}

type StartCombatArgs struct {
	OperationID string   `json:"operationId,omitempty"`
	AgentID     AgentID  `json:"agentId"`
	OpponentID  PlayerID `json:"opponentId"`
}

// ActivityChoice is a zone activity picked by the selection operation.
type ActivityChoice struct {
	Description string `json:"description"`
	Emoji       string `json:"emoji,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

type FinishDoSomethingArgs struct {
	OperationID string          `json:"operationId"`
	AgentID     AgentID         `json:"agentId"`
	Destination *Tile           `json:"destination,omitempty"`
	Invitee     *PlayerID       `json:"invitee,omitempty"`
	Activity    *ActivityChoice `json:"activity,omitempty"`
}

type FinishRobberyArgs struct {
	OperationID    string   `json:"operationId"`
	AgentID        AgentID  `json:"agentId"`
	TargetPlayerID PlayerID `json:"targetPlayerId"`
	Success        bool     `json:"success"`
	LootValue      int64    `json:"lootValue"`
}

type FinishCombatArgs struct {
	OperationID string   `json:"operationId"`
	AgentID     AgentID  `json:"agentId"`
	OpponentID  PlayerID `json:"opponentId"`
	AttackerWon bool     `json:"attackerWon"`
}

type AgentFinishSendingMessageArgs struct {
	OperationID    string         `json:"operationId"`
	AgentID        AgentID        `json:"agentId"`
	ConversationID ConversationID `json:"conversationId"`
	MessageUUID    string         `json:"messageUuid"`
	Text           string         `json:"text,omitempty"`
	Leave          bool           `json:"leave,omitempty"`
	Error          string         `json:"error,omitempty"` // generation failed; release locks only
}

type FinishRememberConversationArgs struct {
	OperationID string  `json:"operationId"`
	AgentID     AgentID `json:"agentId"`
}

// RefillEnergyArgs is the external-effect hook: lootboxes and activity-end
// effects restore bot energy only through this input (the kernel never
// regenerates energy on its own).
type RefillEnergyArgs struct {
	PlayerID PlayerID `json:"playerId"`
	Amount   int      `json:"amount"`
}

func (JoinArgs) inputArgs()                       {}
func (LeaveArgs) inputArgs()                      {}
func (MoveToArgs) inputArgs()                     {}
func (CreateAgentArgs) inputArgs()                {}
func (UpdateEquipmentArgs) inputArgs()            {}
func (SendMessageArgs) inputArgs()                {}
func (StartTypingArgs) inputArgs()                {}
func (ConversationMembershipArgs) inputArgs()     {}
func (StartRobberyArgs) inputArgs()               {}
func (StartCombatArgs) inputArgs()                {}
func (FinishDoSomethingArgs) inputArgs()          {}
func (FinishRobberyArgs) inputArgs()              {}
func (FinishCombatArgs) inputArgs()               {}
func (AgentFinishSendingMessageArgs) inputArgs()  {}
func (FinishRememberConversationArgs) inputArgs() {}
func (RefillEnergyArgs) inputArgs()               {}

var inputDecoders = map[InputName]func() InputArgs{
	InputJoin:                   func() InputArgs { return &JoinArgs{} },
	InputLeave:                  func() InputArgs { return &LeaveArgs{} },
	InputMoveTo:                 func() InputArgs { return &MoveToArgs{} },
	InputCreateAgentFromAIArena: func() InputArgs { return &CreateAgentArgs{} },
	InputUpdatePlayerEquipment:  func() InputArgs { return &UpdateEquipmentArgs{} },

	InputSendMessage:       func() InputArgs { return &SendMessageArgs{} },
	InputStartTyping:       func() InputArgs { return &StartTypingArgs{} },
	InputAcceptInvite:      func() InputArgs { return &ConversationMembershipArgs{} },
	InputRejectInvite:      func() InputArgs { return &ConversationMembershipArgs{} },
	InputLeaveConversation: func() InputArgs { return &ConversationMembershipArgs{} },

	InputStartRobbery: func() InputArgs { return &StartRobberyArgs{} },
	InputStartCombat:  func() InputArgs { return &StartCombatArgs{} },

	InputFinishDoSomething:          func() InputArgs { return &FinishDoSomethingArgs{} },
	InputFinishRobbery:              func() InputArgs { return &FinishRobberyArgs{} },
	InputFinishCombat:               func() InputArgs { return &FinishCombatArgs{} },
	InputAgentFinishSendingMessage:  func() InputArgs { return &AgentFinishSendingMessageArgs{} },
	InputFinishRememberConversation: func() InputArgs { return &FinishRememberConversationArgs{} },
	InputRefillEnergy:               func() InputArgs { return &RefillEnergyArgs{} },
}

// KnownInput reports whether name has a registered argument shape.
func KnownInput(name InputName) bool {
	_, ok := inputDecoders[name]
	return ok
}

// DecodeInput unmarshals raw journal args into the typed shape for name.
func DecodeInput(name InputName, raw json.RawMessage) (InputArgs, error) {
	mk, ok := inputDecoders[name]
	if !ok {
		return nil, InvalidInput("unknown input %q", name)
	}
	args := mk()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, InvalidInput("decode %s args: %v", name, err)
		}
	}
	return args, nil
}

// EncodeArgs marshals typed args for journal storage.
func EncodeArgs(args InputArgs) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode input args: %w", err)
	}
	return raw, nil
}
