package world

// OpName identifies a scheduled operation. Operations run outside the step
// loop; everything they decide re-enters the world as a journal input, so the
// set below is the complete catalogue of side work a tick may request.
type OpName string

const (
	OpAgentDoSomething          OpName = "agentDoSomething"
	OpAgentGenerateMessage      OpName = "agentGenerateMessage"
	OpAgentRememberConversation OpName = "agentRememberConversation"
	OpAgentSelectZoneActivity   OpName = "agentSelectZoneActivity"
	OpResolveRobbery            OpName = "resolveRobbery"
	OpResolveCombat             OpName = "resolveCombat"
	OpLogActivityEnd            OpName = "logActivityEnd"
	OpLogZoneChange             OpName = "logZoneChange"
	OpGrantMovementXP           OpName = "grantMovementXP"
	OpGenerateLootDrop          OpName = "generateLootDrop"
	OpCleanupPlayerData         OpName = "cleanupPlayerData"
)

// ScheduledOp is one unit of side work collected during a step and handed to
// the dispatcher at commit. The id comes from the world counter so replays of
// the same journal schedule identically-named operations.
type ScheduledOp struct {
	ID   string `json:"id"`
	Name OpName `json:"name"`
	Args any    `json:"args"`
}

// RobberyTarget is a snapshot of a candidate victim taken at decision time.
// The operation works from this snapshot, not live state.
type RobberyTarget struct {
	PlayerID     PlayerID `json:"playerId"`
	Name         string   `json:"name"`
	DefenseBonus float64  `json:"defenseBonus"`
	HomeDefense  float64  `json:"homeDefense"`
	Inventory    int64    `json:"inventoryValue"`
	Distance     float64  `json:"distance"`
	Score        float64  `json:"score"`
}

// CombatOpponent is a snapshot of a nearby fightable player.
type CombatOpponent struct {
	PlayerID    PlayerID `json:"playerId"`
	Name        string   `json:"name"`
	PowerBonus  float64  `json:"powerBonus"`
	Personality string   `json:"personality,omitempty"`
	Distance    float64  `json:"distance"`
}

// InviteCandidate is the scored winner of conversation partner selection.
type InviteCandidate struct {
	PlayerID PlayerID `json:"playerId"`
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
}

// AgentDoSomethingArgs carries everything the decision operation needs to pick
// the agent's next move without reading world state. Exactly one of the
// candidate groups wins; the operation appends exactly one input
// (startRobbery, startCombat or finishDoSomething).
type AgentDoSomethingArgs struct {
	OperationID string   `json:"operationId"`
	AgentID     AgentID  `json:"agentId"`
	PlayerID    PlayerID `json:"playerId"`
	Name        string   `json:"name"`
	Personality string   `json:"personality,omitempty"`
	Zone        string   `json:"zone"`
	Position    Point    `json:"position"`
	MapWidth    int      `json:"mapWidth"`
	MapHeight   int      `json:"mapHeight"`

	RobberyTargets  []RobberyTarget  `json:"robberyTargets,omitempty"`
	CombatOpponents []CombatOpponent `json:"combatOpponents,omitempty"`
	InviteCandidate *InviteCandidate `json:"inviteCandidate,omitempty"`
}

// MessageKind distinguishes the three prompts of conversation generation.
type MessageKind string

const (
	MessageStart    MessageKind = "start"
	MessageContinue MessageKind = "continue"
	MessageLeave    MessageKind = "leave"
)

type AgentGenerateMessageArgs struct {
	OperationID    string         `json:"operationId"`
	AgentID        AgentID        `json:"agentId"`
	PlayerID       PlayerID       `json:"playerId"`
	ConversationID ConversationID `json:"conversationId"`
	OtherPlayerID  PlayerID       `json:"otherPlayerId"`
	OtherName      string         `json:"otherName"`
	Kind           MessageKind    `json:"kind"`
	MessageUUID    string         `json:"messageUuid"`
}

type AgentRememberConversationArgs struct {
	OperationID    string         `json:"operationId"`
	AgentID        AgentID        `json:"agentId"`
	PlayerID       PlayerID       `json:"playerId"`
	ConversationID ConversationID `json:"conversationId"`
}

type AgentSelectZoneActivityArgs struct {
	OperationID string   `json:"operationId"`
	AgentID     AgentID  `json:"agentId"`
	PlayerID    PlayerID `json:"playerId"`
	Name        string   `json:"name"`
	Personality string   `json:"personality,omitempty"`
	Zone        string   `json:"zone"`
}

type ResolveRobberyArgs struct {
	OperationID string        `json:"operationId"`
	AgentID     AgentID       `json:"agentId"`
	PlayerID    PlayerID      `json:"playerId"`
	Name        string        `json:"name"`
	Personality string        `json:"personality,omitempty"`
	PowerBonus  float64       `json:"powerBonus"`
	Zone        string        `json:"zone"`
	Target      RobberyTarget `json:"target"`
}

type ResolveCombatArgs struct {
	OperationID string         `json:"operationId"`
	AgentID     AgentID        `json:"agentId"`
	PlayerID    PlayerID       `json:"playerId"`
	Name        string         `json:"name"`
	Personality string         `json:"personality,omitempty"`
	PowerBonus  float64        `json:"powerBonus"`
	Zone        string         `json:"zone"`
	Opponent    CombatOpponent `json:"opponent"`
}

type LogActivityEndArgs struct {
	PlayerID     PlayerID `json:"playerId"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Emoji        string   `json:"emoji,omitempty"`
	Zone         string   `json:"zone"`
	StartedAt    int64    `json:"startedAt"`
	EndedAt      int64    `json:"endedAt"`
	EnergyRefill int      `json:"energyRefill,omitempty"`
}

type LogZoneChangeArgs struct {
	PlayerID PlayerID `json:"playerId"`
	Name     string   `json:"name"`
	FromZone string   `json:"fromZone"`
	ToZone   string   `json:"toZone"`
	At       int64    `json:"at"`
}

type GrantMovementXPArgs struct {
	PlayerID PlayerID `json:"playerId"`
	BotID    string   `json:"botId,omitempty"`
	Steps    int      `json:"steps"`
	At       int64    `json:"at"`
}

type GenerateLootDropArgs struct {
	PlayerID PlayerID `json:"playerId"`
	BotID    string   `json:"botId,omitempty"`
	Zone     string   `json:"zone"`
	At       int64    `json:"at"`
}

type CleanupPlayerDataArgs struct {
	PlayerID PlayerID `json:"playerId"`
	AgentID  *AgentID `json:"agentId,omitempty"`
}
