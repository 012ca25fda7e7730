package world

// Relationship is one directed edge of social memory, owner -> other.
// Values live in external tables and are written only by operations; ticks
// read them through the step's ExternalView.
type Relationship struct {
	Trust   float64 `json:"trust"`
	Revenge float64 `json:"revenge"`
	Loyalty float64 `json:"loyalty"`
	Fear    float64 `json:"fear"`
}

// ExternalView is the read-only slice of domain tables loaded once per step.
// The kernel consults it for decisions but never writes through it; all
// mutation of these tables happens in operations.
type ExternalView struct {
	Relationships  map[PlayerID]map[PlayerID]Relationship
	InventoryValue map[PlayerID]int64
	HomeDefense    map[PlayerID]float64
}

func NewExternalView() *ExternalView {
	return &ExternalView{
		Relationships:  map[PlayerID]map[PlayerID]Relationship{},
		InventoryValue: map[PlayerID]int64{},
		HomeDefense:    map[PlayerID]float64{},
	}
}

// RelationshipBetween returns owner's view of other, zero-valued when the
// pair has no history.
func (v *ExternalView) RelationshipBetween(owner, other PlayerID) Relationship {
	if v == nil {
		return Relationship{}
	}
	if m, ok := v.Relationships[owner]; ok {
		return m[other]
	}
	return Relationship{}
}
