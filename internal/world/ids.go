package world

import "fmt"

// Entity ids are dense and monotone within one world, allocated from the
// world's single counter. Cross-references between entity sets are always by
// id and resolved on demand; archival never renumbers.
type (
	PlayerID       int64
	AgentID        int64
	ConversationID int64
)

func (id PlayerID) String() string       { return fmt.Sprintf("p:%d", int64(id)) }
func (id AgentID) String() string        { return fmt.Sprintf("a:%d", int64(id)) }
func (id ConversationID) String() string { return fmt.Sprintf("c:%d", int64(id)) }
