package world

// PathfindKind is the phase of a player's current movement request.
type PathfindKind string

const (
	PathfindNeedsPath PathfindKind = "needsPath"
	PathfindWaiting   PathfindKind = "waiting"
	PathfindMoving    PathfindKind = "moving"
)

// Pathfinding tracks one movement request from issue to arrival. needsPath
// means the route is not computed yet, waiting means a retry is scheduled
// after a collision or failed search, moving carries the timed route.
type Pathfinding struct {
	Destination Tile         `json:"destination"`
	Started     int64        `json:"started"`
	Kind        PathfindKind `json:"kind"`
	Until       int64        `json:"until,omitempty"` // waiting: retry time
	Path        []PathStep   `json:"path,omitempty"`  // moving
}

// Activity is a timed emote shown over the player's head.
type Activity struct {
	Description string `json:"description"`
	Emoji       string `json:"emoji,omitempty"`
	Started     int64  `json:"started"`
	Until       int64  `json:"until"`
}

// Equipment bonuses come in through updatePlayerEquipment and only ever
// modify combat math; the kernel never changes them itself.
type Equipment struct {
	PowerBonus   float64 `json:"powerBonus"`
	DefenseBonus float64 `json:"defenseBonus"`
}

// Player is the dynamic state of one body in the world, human or
// agent-driven. Everything here is part of the step snapshot.
type Player struct {
	ID        PlayerID `json:"id"`
	Human     string   `json:"human,omitempty"` // token identifier, empty for bots
	Joined    int64    `json:"joined"`
	LastInput int64    `json:"lastInput"`

	Position Point   `json:"position"`
	Facing   Vector  `json:"facing"`
	Speed    float64 `json:"speed"`

	Pathfinding *Pathfinding `json:"pathfinding,omitempty"`
	Activity    *Activity    `json:"activity,omitempty"`
	CurrentZone string       `json:"currentZone"`

	Equipment Equipment `json:"equipment"`

	Energy          int   `json:"energy"`
	LastEnergyDrain int64 `json:"lastEnergyDrain"`

	DistanceAccrued float64 `json:"distanceAccrued"`
	StepsAccrued    int     `json:"stepsAccrued"`
	LastStepGrant   int64   `json:"lastStepGrant"`
	LastLootRoll    int64   `json:"lastLootRoll"`
}

func (p *Player) IsHuman() bool { return p.Human != "" }

// startPathfinding replaces any in-flight movement with a fresh request.
func (p *Player) startPathfinding(dest Tile, now int64) {
	p.Pathfinding = &Pathfinding{
		Destination: dest,
		Started:     now,
		Kind:        PathfindNeedsPath,
	}
}

func (p *Player) stopPathfinding() {
	p.Pathfinding = nil
	p.Speed = 0
}

// tick runs the per-player housekeeping phase: bot energy drain, activity
// expiry, hospital-free idle checks. Human inactivity kicks are handled by
// the game so leave cleanup runs through one code path.
func (p *Player) tick(g *Game, now int64) {
	if !p.IsHuman() {
		if p.LastEnergyDrain == 0 {
			p.LastEnergyDrain = now
		}
		for p.Energy > 0 && now-p.LastEnergyDrain >= g.Tunables.EnergyDrainEvery {
			p.Energy--
			p.LastEnergyDrain += g.Tunables.EnergyDrainEvery
		}
		if p.Energy <= 0 && p.Pathfinding != nil {
			// Exhausted bots stand still until something refills them.
			p.stopPathfinding()
		}
	}

	if p.Activity != nil && now >= p.Activity.Until {
		g.scheduleOp(OpLogActivityEnd, LogActivityEndArgs{
			PlayerID:     p.ID,
			Name:         g.nameOf(p.ID),
			Description:  p.Activity.Description,
			Emoji:        p.Activity.Emoji,
			Zone:         p.CurrentZone,
			StartedAt:    p.Activity.Started,
			EndedAt:      now,
			EnergyRefill: activityEnergyRefill(p.Activity),
		})
		p.Activity = nil
	}
}

// activityEnergyRefill sizes the external-effect refill for a finished
// activity: one energy per 30s of activity, capped at 10.
func activityEnergyRefill(a *Activity) int {
	refill := int((a.Until - a.Started) / 30_000)
	if refill > 10 {
		refill = 10
	}
	if refill < 0 {
		refill = 0
	}
	return refill
}

// tickPathfinding resolves needsPath and expired waiting states into routes.
// Route searches are rationed per step; requests beyond the budget simply
// wait for the next tick.
func (p *Player) tickPathfinding(g *Game, now int64) {
	pf := p.Pathfinding
	if pf == nil {
		return
	}
	if now-pf.Started > g.Tunables.PathfindingTimeout {
		p.stopPathfinding()
		return
	}
	if pf.Kind == PathfindMoving {
		return
	}
	if pf.Kind == PathfindWaiting && now < pf.Until {
		return
	}
	if g.pathfindsThisStep >= g.Tunables.MaxPathfindsPerStep {
		return
	}
	g.pathfindsThisStep++

	route := FindRoute(g.Map, p.Position, pf.Destination, g.occupiedBy(p.ID), now, g.Tunables.DefaultSpeed)
	if route == nil || len(route.Path) == 0 {
		pf.Kind = PathfindWaiting
		pf.Until = now + g.RNG.Int63n(g.Tunables.PathfindingBackoff)
		return
	}
	if route.NewDestination != nil {
		pf.Destination = *route.NewDestination
	}
	if len(route.Path) == 1 {
		// Already there.
		p.Position = route.Path[0].Pos.Point()
		p.stopPathfinding()
		return
	}
	pf.Kind = PathfindMoving
	pf.Until = 0
	pf.Path = route.Path
}

// tickPosition advances a moving player along its route, watching for
// collisions, arrival, zone transitions and movement accrual.
func (p *Player) tickPosition(g *Game, now int64) {
	pf := p.Pathfinding
	if pf == nil || pf.Kind != PathfindMoving {
		p.Speed = 0
		return
	}

	pos, facing, speed := PathPosition(pf.Path, now)

	if other := g.playerWithin(p.ID, pos, g.Tunables.CollisionThreshold); other != nil {
		// Bumped into someone. Drop the route and retry after a jittered
		// backoff so the pair does not deadlock mirror-stepping.
		pf.Kind = PathfindWaiting
		pf.Until = now + g.RNG.Int63n(g.Tunables.PathfindingBackoff)
		pf.Path = nil
		p.Speed = 0
		return
	}

	moved := Distance(p.Position, pos)
	p.Position = pos
	p.Facing = facing
	p.Speed = speed

	p.accrueMovement(g, moved, now)

	newZone := g.Map.ZoneOf(p.Position)
	if newZone != p.CurrentZone {
		g.scheduleOp(OpLogZoneChange, LogZoneChangeArgs{
			PlayerID: p.ID,
			Name:     g.nameOf(p.ID),
			FromZone: p.CurrentZone,
			ToZone:   newZone,
			At:       now,
		})
		p.CurrentZone = newZone
	}

	if now >= pf.Path[len(pf.Path)-1].T {
		p.Position = pf.Path[len(pf.Path)-1].Pos.Point()
		p.stopPathfinding()
	}
}

// accrueMovement converts walked distance into XP step grants and loot
// rolls. Both only apply to agent bodies; humans earn nothing for walking.
func (p *Player) accrueMovement(g *Game, moved float64, now int64) {
	if p.IsHuman() || moved <= 0 {
		return
	}
	p.DistanceAccrued += moved
	for p.DistanceAccrued >= g.Tunables.StepGrantDistance {
		p.DistanceAccrued -= g.Tunables.StepGrantDistance
		p.StepsAccrued++
	}
	if p.StepsAccrued >= g.Tunables.StepsPerXPGrant && now-p.LastStepGrant >= g.Tunables.StepGrantMinGap {
		g.scheduleOp(OpGrantMovementXP, GrantMovementXPArgs{
			PlayerID: p.ID,
			BotID:    g.botIDFor(p.ID),
			Steps:    p.StepsAccrued,
			At:       now,
		})
		p.StepsAccrued = 0
		p.LastStepGrant = now
	}
	if now-p.LastLootRoll >= g.Tunables.LootRollMinGap {
		p.LastLootRoll = now
		if g.RNG.Float64() < lootChance(p.CurrentZone) {
			g.scheduleOp(OpGenerateLootDrop, GenerateLootDropArgs{
				PlayerID: p.ID,
				BotID:    g.botIDFor(p.ID),
				Zone:     p.CurrentZone,
				At:       now,
			})
		}
	}
}

// lootChance is the per-roll drop probability, weighted toward the seedier
// districts.
func lootChance(zone string) float64 {
	switch zone {
	case ZoneDarkAlley:
		return 0.020
	case ZoneUnderground:
		return 0.015
	case ZoneCasino:
		return 0.010
	default:
		return 0.005
	}
}
