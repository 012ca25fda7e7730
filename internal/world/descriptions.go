package world

// PlayerDescription is the static identity of a player: written once at join,
// read by operations, archived on leave. Not part of the hot snapshot.
type PlayerDescription struct {
	PlayerID    PlayerID `json:"playerId"`
	Name        string   `json:"name"`
	Character   string   `json:"character"`
	Description string   `json:"description"`
}

// AgentDescription holds the prompt-side identity of an agent.
type AgentDescription struct {
	AgentID      AgentID `json:"agentId"`
	Identity     string  `json:"identity"`
	Plan         string  `json:"plan"`
	AIArenaBotID string  `json:"aiArenaBotId,omitempty"`
}
