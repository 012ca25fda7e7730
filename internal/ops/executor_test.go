package ops

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/scripting"
	"github.com/townd/server/internal/world"
)

type appendedInput struct {
	worldID    string
	engineID   string
	name       world.InputName
	args       world.InputArgs
	maxPending int
}

type fakeAppender struct {
	mu     sync.Mutex
	inputs []appendedInput
}

func (f *fakeAppender) Append(_ context.Context, worldID, engineID, name string, raw json.RawMessage, maxPending int) (int64, error) {
	args, err := world.DecodeInput(world.InputName(name), raw)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, appendedInput{worldID, engineID, world.InputName(name), args, maxPending})
	return int64(len(f.inputs)), nil
}

func (f *fakeAppender) all() []appendedInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendedInput(nil), f.inputs...)
}

func (f *fakeAppender) last(t *testing.T) appendedInput {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.inputs)
	return f.inputs[len(f.inputs)-1]
}

type relAdjust struct {
	owner, other world.PlayerID
	delta        world.Relationship
}

type transferCall struct {
	from, to world.PlayerID
	want     int64
}

type lootboxCall struct {
	id     world.PlayerID
	botID  string
	zone   string
	value  int64
	energy int
}

type xpCall struct {
	botID     string
	xp, steps int64
}

type fakeDomain struct {
	messages  []persist.MessageRow
	msgErr    error
	available int64

	adjusts   []relAdjust
	transfers []transferCall
	logs      []persist.ActivityLogRow
	lootboxes []lootboxCall
	addedInv  []int64
	xp        []xpCall
}

func (f *fakeDomain) ConversationMessages(context.Context, string, world.ConversationID) ([]persist.MessageRow, error) {
	return f.messages, f.msgErr
}

func (f *fakeDomain) AdjustRelationship(_ context.Context, _ string, owner, other world.PlayerID, delta world.Relationship) error {
	f.adjusts = append(f.adjusts, relAdjust{owner, other, delta})
	return nil
}

func (f *fakeDomain) TransferInventory(_ context.Context, _ string, from, to world.PlayerID, amount int64) (int64, error) {
	f.transfers = append(f.transfers, transferCall{from, to, amount})
	if amount > f.available {
		amount = f.available
	}
	return amount, nil
}

func (f *fakeDomain) AddInventory(_ context.Context, _ string, _ world.PlayerID, amount int64) (int64, error) {
	f.addedInv = append(f.addedInv, amount)
	return amount, nil
}

func (f *fakeDomain) GrantBotExperience(_ context.Context, botID string, xp, steps int64) error {
	f.xp = append(f.xp, xpCall{botID, xp, steps})
	return nil
}

func (f *fakeDomain) EnqueueLootbox(_ context.Context, _ string, id world.PlayerID, botID, zone string, value int64, energy int) error {
	f.lootboxes = append(f.lootboxes, lootboxCall{id, botID, zone, value, energy})
	return nil
}

func (f *fakeDomain) InsertActivityLog(_ context.Context, row persist.ActivityLogRow) error {
	f.logs = append(f.logs, row)
	return nil
}

type fakeCleaner struct {
	passesNeeded int
	calls        int
}

func (f *fakeCleaner) CleanupPlayer(context.Context, string, world.PlayerID) (bool, error) {
	f.calls++
	return f.calls >= f.passesNeeded, nil
}

type errReasoner struct{}

func (errReasoner) GenerateMessage(context.Context, MessageRequest) (string, error) {
	return "", errors.New("model unavailable")
}

func newTestRunner(t *testing.T, domain *fakeDomain, cleaner *fakeCleaner, reasoner Reasoner) (*Runner, *fakeAppender) {
	t.Helper()
	balance, err := scripting.NewEngine("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(balance.Close)
	app := &fakeAppender{}
	return NewRunner(zap.NewNop(), balance, domain, cleaner, app, reasoner), app
}

func testJob(name world.OpName, args any) job {
	return job{worldID: "w1", engineID: "e1", op: world.ScheduledOp{ID: "op:1", Name: name, Args: args}}
}

func TestExecuteUnknownOp(t *testing.T) {
	r, _ := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, nil)
	err := r.execute(context.Background(), testJob("teleport", nil))
	require.Error(t, err)
}

func TestExecuteBadArgsType(t *testing.T) {
	r, _ := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, nil)
	err := r.execute(context.Background(), testJob(world.OpLogZoneChange, world.GrantMovementXPArgs{}))
	require.Error(t, err)
}

func TestExecuteAcceptsPointerArgs(t *testing.T) {
	domain := &fakeDomain{}
	r, _ := newTestRunner(t, domain, &fakeCleaner{}, nil)
	err := r.execute(context.Background(), testJob(world.OpLogZoneChange, &world.LogZoneChangeArgs{
		PlayerID: 3, Name: "Ada", ToZone: world.ZoneCasino, At: 10,
	}))
	require.NoError(t, err)
	require.Len(t, domain.logs, 1)
}

func TestDoSomethingWandersInBounds(t *testing.T) {
	r, app := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, nil)
	args := world.AgentDoSomethingArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3,
		Position: world.Point{X: 1, Y: 1}, MapWidth: 10, MapHeight: 10,
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentDoSomething, args)))
	}
	for _, in := range app.all() {
		require.Equal(t, world.InputFinishDoSomething, in.name)
		fin := in.args.(*world.FinishDoSomethingArgs)
		require.NotNil(t, fin.Destination)
		require.GreaterOrEqual(t, fin.Destination.X, 0)
		require.Less(t, fin.Destination.X, 10)
		require.GreaterOrEqual(t, fin.Destination.Y, 0)
		require.Less(t, fin.Destination.Y, 10)
		require.Zero(t, in.maxPending, "finish inputs bypass the backlog cap")
	}
}

func TestDoSomethingPrefersInviteOverWander(t *testing.T) {
	r, app := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, nil)
	args := world.AgentDoSomethingArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3,
		Position: world.Point{X: 1, Y: 1}, MapWidth: 10, MapHeight: 10,
		InviteCandidate: &world.InviteCandidate{PlayerID: 9, Name: "Bob", Score: 40},
	}
	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentDoSomething, args)))

	in := app.last(t)
	require.Equal(t, world.InputFinishDoSomething, in.name)
	fin := in.args.(*world.FinishDoSomethingArgs)
	require.NotNil(t, fin.Invitee)
	require.Equal(t, world.PlayerID(9), *fin.Invitee)
}

func TestDoSomethingRobsEventually(t *testing.T) {
	r, app := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, nil)
	args := world.AgentDoSomethingArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3,
		Position: world.Point{X: 1, Y: 1}, MapWidth: 10, MapHeight: 10,
		RobberyTargets: []world.RobberyTarget{{PlayerID: 9, Inventory: 500}},
	}
	robbed := false
	for i := 0; i < 200 && !robbed; i++ {
		require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentDoSomething, args)))
		in := app.last(t)
		if in.name == world.InputStartRobbery {
			robbed = true
			require.Equal(t, world.PlayerID(9), in.args.(*world.StartRobberyArgs).TargetPlayerID)
		}
	}
	require.True(t, robbed, "the robbery branch fires with probability 0.3 per decision")
}

func TestSelectZoneActivity(t *testing.T) {
	r, app := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, nil)
	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentSelectZoneActivity, world.AgentSelectZoneActivityArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3,
		Personality: world.PersonalityGambler, Zone: world.ZoneCasino,
	})))

	in := app.last(t)
	require.Equal(t, world.InputFinishDoSomething, in.name)
	fin := in.args.(*world.FinishDoSomethingArgs)
	require.NotNil(t, fin.Activity)
	require.NotEmpty(t, fin.Activity.Description)
	require.Greater(t, fin.Activity.DurationMs, int64(0))
}

func TestWeightedPick(t *testing.T) {
	heavy := scripting.ZoneActivity{Description: "only choice", Weight: 5}
	options := []scripting.ZoneActivity{
		{Description: "never", Weight: 0},
		heavy,
	}
	for i := 0; i < 20; i++ {
		require.Equal(t, heavy, weightedPick(options))
	}

	// All-zero weights still pick something.
	zeros := []scripting.ZoneActivity{{Description: "a"}, {Description: "b"}}
	got := weightedPick(zeros)
	require.Contains(t, []string{"a", "b"}, got.Description)
}

func TestGenerateMessage(t *testing.T) {
	domain := &fakeDomain{messages: []persist.MessageRow{{Author: 9, Text: "hi"}}}
	r, app := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentGenerateMessage, world.AgentGenerateMessageArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3, ConversationID: 4,
		OtherPlayerID: 9, OtherName: "Bob", Kind: world.MessageStart, MessageUUID: "u-1",
	})))
	in := app.last(t)
	require.Equal(t, world.InputAgentFinishSendingMessage, in.name)
	fin := in.args.(*world.AgentFinishSendingMessageArgs)
	require.Empty(t, fin.Error)
	require.Contains(t, fin.Text, "Bob", "canned openers address the other party")
	require.False(t, fin.Leave)
	require.Equal(t, "u-1", fin.MessageUUID)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentGenerateMessage, world.AgentGenerateMessageArgs{
		OperationID: "op:2", AgentID: 2, PlayerID: 3, ConversationID: 4,
		OtherPlayerID: 9, OtherName: "Bob", Kind: world.MessageLeave, MessageUUID: "u-2",
	})))
	require.True(t, app.last(t).args.(*world.AgentFinishSendingMessageArgs).Leave)
}

func TestGenerateMessageFailureReleasesLock(t *testing.T) {
	r, app := newTestRunner(t, &fakeDomain{}, &fakeCleaner{}, errReasoner{})
	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentGenerateMessage, world.AgentGenerateMessageArgs{
		OperationID: "op:1", AgentID: 2, ConversationID: 4, MessageUUID: "u-1",
	})))

	fin := app.last(t).args.(*world.AgentFinishSendingMessageArgs)
	require.Equal(t, "model unavailable", fin.Error)
	require.Empty(t, fin.Text)
}

func TestRememberConversation(t *testing.T) {
	domain := &fakeDomain{messages: []persist.MessageRow{
		{Author: 3, Text: "hi"},
		{Author: 9, Text: "hello"},
		{Author: 3, Text: "nice weather"},
	}}
	r, app := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentRememberConversation, world.AgentRememberConversationArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3, ConversationID: 4,
	})))

	require.Len(t, domain.adjusts, 1)
	adj := domain.adjusts[0]
	require.Equal(t, world.PlayerID(3), adj.owner)
	require.Equal(t, world.PlayerID(9), adj.other)
	require.Equal(t, world.Relationship{Trust: 6, Loyalty: 1}, adj.delta)

	require.Equal(t, world.InputFinishRememberConversation, app.last(t).name)
}

func TestRememberConversationTrustCaps(t *testing.T) {
	msgs := make([]persist.MessageRow, 8)
	for i := range msgs {
		msgs[i] = persist.MessageRow{Author: 9, Text: "chatter"}
	}
	domain := &fakeDomain{messages: msgs}
	r, _ := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpAgentRememberConversation, world.AgentRememberConversationArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3, ConversationID: 4,
	})))
	require.Equal(t, 10.0, domain.adjusts[0].delta.Trust)
}

func TestResolveRobbery(t *testing.T) {
	domain := &fakeDomain{available: 300}
	r, app := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpResolveRobbery, world.ResolveRobberyArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3, Personality: world.PersonalityCriminal,
		Zone:   world.ZoneDarkAlley,
		Target: world.RobberyTarget{PlayerID: 9, Inventory: 300},
	})))

	fin := app.last(t).args.(*world.FinishRobberyArgs)
	require.Equal(t, world.PlayerID(9), fin.TargetPlayerID)
	require.Len(t, domain.adjusts, 1)
	grudge := domain.adjusts[0]
	require.Equal(t, world.PlayerID(9), grudge.owner, "the victim holds the grudge")
	require.Equal(t, world.PlayerID(3), grudge.other)

	if fin.Success {
		require.Len(t, domain.transfers, 1)
		require.Equal(t, world.PlayerID(9), domain.transfers[0].from)
		require.Equal(t, world.PlayerID(3), domain.transfers[0].to)
		require.Equal(t, fin.LootValue, min64(domain.transfers[0].want, 300))
		require.Equal(t, world.Relationship{Revenge: 25, Fear: 10, Trust: -10}, grudge.delta)
	} else {
		require.Empty(t, domain.transfers)
		require.Zero(t, fin.LootValue)
		require.Equal(t, world.Relationship{Revenge: 15, Fear: 5}, grudge.delta)
	}
}

func TestResolveCombat(t *testing.T) {
	domain := &fakeDomain{}
	r, app := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpResolveCombat, world.ResolveCombatArgs{
		OperationID: "op:1", AgentID: 2, PlayerID: 3, Personality: world.PersonalityCriminal,
		Opponent: world.CombatOpponent{PlayerID: 9, Personality: world.PersonalityWorker},
	})))

	fin := app.last(t).args.(*world.FinishCombatArgs)
	require.Equal(t, world.PlayerID(9), fin.OpponentID)
	require.Len(t, domain.adjusts, 1)
	adj := domain.adjusts[0]
	require.Equal(t, world.Relationship{Revenge: 25, Fear: 15}, adj.delta)
	if fin.AttackerWon {
		require.Equal(t, world.PlayerID(9), adj.owner)
		require.Equal(t, world.PlayerID(3), adj.other)
	} else {
		require.Equal(t, world.PlayerID(3), adj.owner)
		require.Equal(t, world.PlayerID(9), adj.other)
	}
}

func TestLogActivityEnd(t *testing.T) {
	domain := &fakeDomain{}
	r, app := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpLogActivityEnd, world.LogActivityEndArgs{
		PlayerID: 3, Name: "Bot", Description: "fishing", Zone: world.ZoneSuburb,
		StartedAt: 0, EndedAt: 90_000, EnergyRefill: 3,
	})))

	require.Len(t, domain.logs, 1)
	require.Equal(t, "activity", domain.logs[0].Kind)
	require.Equal(t, "fishing", domain.logs[0].Description)

	in := app.last(t)
	require.Equal(t, world.InputRefillEnergy, in.name)
	require.Equal(t, 3, in.args.(*world.RefillEnergyArgs).Amount)

	// No refill, no journal traffic.
	require.NoError(t, r.execute(context.Background(), testJob(world.OpLogActivityEnd, world.LogActivityEndArgs{
		PlayerID: 3, Description: "blinking", EndedAt: 1_000,
	})))
	require.Len(t, app.all(), 1)
}

func TestLogZoneChange(t *testing.T) {
	domain := &fakeDomain{}
	r, _ := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpLogZoneChange, world.LogZoneChangeArgs{
		PlayerID: 3, Name: "Ada", FromZone: world.ZoneCasino, ToZone: "", At: 5,
	})))

	require.Len(t, domain.logs, 1)
	require.Equal(t, "zoneChange", domain.logs[0].Kind)
	require.Equal(t, "Ada entered the streets", domain.logs[0].Description)
}

func TestGrantMovementXP(t *testing.T) {
	domain := &fakeDomain{}
	r, _ := newTestRunner(t, domain, &fakeCleaner{}, nil)

	// No bot binding, nothing to grant.
	require.NoError(t, r.execute(context.Background(), testJob(world.OpGrantMovementXP, world.GrantMovementXPArgs{
		PlayerID: 3, Steps: 12,
	})))
	require.Empty(t, domain.xp)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpGrantMovementXP, world.GrantMovementXPArgs{
		PlayerID: 3, BotID: "bot-1", Steps: 12,
	})))
	require.Equal(t, []xpCall{{botID: "bot-1", xp: 24, steps: 12}}, domain.xp)
}

func TestGenerateLootDrop(t *testing.T) {
	domain := &fakeDomain{}
	r, app := newTestRunner(t, domain, &fakeCleaner{}, nil)

	require.NoError(t, r.execute(context.Background(), testJob(world.OpGenerateLootDrop, world.GenerateLootDropArgs{
		PlayerID: 3, BotID: "bot-1", Zone: world.ZoneDarkAlley, At: 5,
	})))

	require.Len(t, domain.lootboxes, 1)
	box := domain.lootboxes[0]
	require.Equal(t, world.ZoneDarkAlley, box.zone)
	require.GreaterOrEqual(t, box.value, int64(20))
	require.LessOrEqual(t, box.value, int64(120))
	require.Equal(t, 5, box.energy)

	require.Equal(t, []int64{box.value}, domain.addedInv)
	in := app.last(t)
	require.Equal(t, world.InputRefillEnergy, in.name)
	require.Equal(t, 5, in.args.(*world.RefillEnergyArgs).Amount)
}

func TestCleanupPlayerData(t *testing.T) {
	cleaner := &fakeCleaner{passesNeeded: 3}
	r, _ := newTestRunner(t, &fakeDomain{}, cleaner, nil)
	require.NoError(t, r.execute(context.Background(), testJob(world.OpCleanupPlayerData, world.CleanupPlayerDataArgs{PlayerID: 3})))
	require.Equal(t, 3, cleaner.calls)

	stuck := &fakeCleaner{passesNeeded: 100}
	r2, _ := newTestRunner(t, &fakeDomain{}, stuck, nil)
	err := r2.execute(context.Background(), testJob(world.OpCleanupPlayerData, world.CleanupPlayerDataArgs{PlayerID: 3}))
	require.Error(t, err)
	require.Equal(t, 10, stuck.calls)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
