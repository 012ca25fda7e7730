package world

import "time"

// Tunables collects every balance and pacing constant the kernel consults.
// Values are durations in simulated milliseconds unless noted. The defaults
// are canonical; deployments override them through the TOML config.
type Tunables struct {
	Tick         int64 // tick duration, sim ms
	StepInterval int64 // sim ms advanced per step
	MaxStepWall  time.Duration

	PathfindingTimeout  int64
	PathfindingBackoff  int64
	MaxPathfindsPerStep int
	CollisionThreshold  float64 // tiles
	DefaultSpeed        float64 // tiles per second

	ConversationDistance       float64 // tiles
	MidpointThreshold          float64 // tiles
	ConversationCooldown       int64
	ActivityCooldown           int64
	PlayerConversationCooldown int64
	InviteAcceptProbability    float64
	InviteTimeout              int64
	AwkwardConversationTimeout int64
	MaxConversationDuration    int64
	MaxConversationMessages    int
	MessageCooldown            int64
	TypingTimeout              int64

	RobberyCooldown  int64
	CombatCooldown   int64
	HospitalRecovery int64

	ActionTimeout    int64
	HumanIdleTooLong int64

	MaxHumanPlayers    int
	MaxInputsPerEngine int

	IdleWorldTimeout time.Duration
	VacuumMaxAge     time.Duration
	DeleteBatchSize  int

	EnergyMax        int
	EnergyDrainEvery int64 // sim ms per unit of bot energy

	StepGrantDistance float64 // tiles per idle step
	StepGrantMinGap   int64   // sim ms between step grants
	StepsPerXPGrant   int
	LootRollMinGap    int64 // sim ms between loot rolls
}

func DefaultTunables() *Tunables {
	return &Tunables{
		Tick:         16,
		StepInterval: 1000,
		MaxStepWall:  10 * time.Minute,

		PathfindingTimeout:  60_000,
		PathfindingBackoff:  1_000,
		MaxPathfindsPerStep: 16,
		CollisionThreshold:  0.75,
		DefaultSpeed:        2.0,

		ConversationDistance:       1.3,
		MidpointThreshold:          4,
		ConversationCooldown:       15_000,
		ActivityCooldown:           10_000,
		PlayerConversationCooldown: 60_000,
		InviteAcceptProbability:    0.8,
		InviteTimeout:              45_000,
		AwkwardConversationTimeout: 20_000,
		MaxConversationDuration:    120_000,
		MaxConversationMessages:    8,
		MessageCooldown:            2_000,
		TypingTimeout:              10_000,

		RobberyCooldown:  120_000,
		CombatCooldown:   180_000,
		HospitalRecovery: 300_000,

		ActionTimeout:    60_000,
		HumanIdleTooLong: 300_000,

		MaxHumanPlayers:    8,
		MaxInputsPerEngine: 1000,

		IdleWorldTimeout: 5 * time.Minute,
		VacuumMaxAge:     72 * time.Hour,
		DeleteBatchSize:  100,

		EnergyMax:        100,
		EnergyDrainEvery: 5 * 60 * 1000,

		StepGrantDistance: 0.5,
		StepGrantMinGap:   5_000,
		StepsPerXPGrant:   10,
		LootRollMinGap:    1_000,
	}
}
