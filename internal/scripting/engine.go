package scripting

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

//go:embed scripts/balance.lua
var defaultBalanceScript string

// Engine wraps a single gopher-lua VM for balance formula execution.
// Operations share one engine behind the runner's mutex; the VM itself is
// not safe for concurrent calls.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine, loads the built-in balance script, then
// overlays any .lua files from scriptsDir so deployments can reshape the
// formulas without rebuilding.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	if err := vm.DoString(defaultBalanceScript); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load built-in balance script: %w", err)
	}
	if scriptsDir != "" {
		if err := e.loadDir(scriptsDir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load balance scripts: %w", err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// RobberyContext holds pre-packed data for a robbery odds calculation.
type RobberyContext struct {
	AttackerPower       float64 // equipment power bonus
	AttackerPersonality string
	TargetDefense       float64 // equipment defense bonus
	TargetHomeDefense   float64
	TargetInventory     int64
	Zone                string
}

// RobberyOdds is returned by the Lua robbery function.
type RobberyOdds struct {
	SuccessChance float64
	LootFraction  float64 // loot drawn uniformly from [0, frac*inventory]
	LootBase      int64   // flat amount added on success
}

// CalcRobbery calls the Lua calc_robbery function.
func (e *Engine) CalcRobbery(ctx RobberyContext) RobberyOdds {
	fallback := fallbackRobbery(ctx)
	fn := e.vm.GetGlobal("calc_robbery")
	if fn == lua.LNil {
		e.log.Error("lua function calc_robbery not found")
		return fallback
	}

	t := e.vm.NewTable()

	atk := e.vm.NewTable()
	atk.RawSetString("power_bonus", lua.LNumber(ctx.AttackerPower))
	atk.RawSetString("personality", lua.LString(ctx.AttackerPersonality))
	t.RawSetString("attacker", atk)

	tgt := e.vm.NewTable()
	tgt.RawSetString("defense_bonus", lua.LNumber(ctx.TargetDefense))
	tgt.RawSetString("home_defense", lua.LNumber(ctx.TargetHomeDefense))
	tgt.RawSetString("inventory_value", lua.LNumber(ctx.TargetInventory))
	t.RawSetString("target", tgt)

	t.RawSetString("zone", lua.LString(ctx.Zone))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua calc_robbery error", zap.Error(err))
		return fallback
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua calc_robbery returned non-table")
		return fallback
	}

	return RobberyOdds{
		SuccessChance: clamp01(lFloat(rt, "success_chance")),
		LootFraction:  lFloat(rt, "loot_fraction"),
		LootBase:      int64(lFloat(rt, "loot_base")),
	}
}

// CombatContext holds pre-packed data for a fight odds calculation.
type CombatContext struct {
	AttackerPower       float64
	AttackerPersonality string
	OpponentPower       float64
	OpponentPersonality string
	Zone                string
}

// CombatOdds is returned by the Lua combat function.
type CombatOdds struct {
	AttackerWinChance float64
}

// CalcCombat calls the Lua calc_combat function.
func (e *Engine) CalcCombat(ctx CombatContext) CombatOdds {
	fallback := fallbackCombat(ctx)
	fn := e.vm.GetGlobal("calc_combat")
	if fn == lua.LNil {
		e.log.Error("lua function calc_combat not found")
		return fallback
	}

	t := e.vm.NewTable()

	atk := e.vm.NewTable()
	atk.RawSetString("power_bonus", lua.LNumber(ctx.AttackerPower))
	atk.RawSetString("personality", lua.LString(ctx.AttackerPersonality))
	t.RawSetString("attacker", atk)

	opp := e.vm.NewTable()
	opp.RawSetString("power_bonus", lua.LNumber(ctx.OpponentPower))
	opp.RawSetString("personality", lua.LString(ctx.OpponentPersonality))
	t.RawSetString("opponent", opp)

	t.RawSetString("zone", lua.LString(ctx.Zone))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua calc_combat error", zap.Error(err))
		return fallback
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua calc_combat returned non-table")
		return fallback
	}

	return CombatOdds{AttackerWinChance: clamp01(lFloat(rt, "attacker_win_chance"))}
}

// ZoneActivity is one weighted activity option for a zone.
type ZoneActivity struct {
	Description string
	Emoji       string
	DurationMs  int64
	Weight      float64
}

// GetZoneActivities calls Lua get_zone_activities(zone, personality).
func (e *Engine) GetZoneActivities(zone, personality string) []ZoneActivity {
	fn := e.vm.GetGlobal("get_zone_activities")
	if fn == lua.LNil {
		return fallbackActivities(zone)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(zone), lua.LString(personality)); err != nil {
		e.log.Error("lua get_zone_activities error", zap.Error(err), zap.String("zone", zone))
		return fallbackActivities(zone)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return fallbackActivities(zone)
	}

	var out []ZoneActivity
	rt.ForEach(func(_, v lua.LValue) {
		if row, ok := v.(*lua.LTable); ok {
			out = append(out, ZoneActivity{
				Description: lStr(row, "description"),
				Emoji:       lStr(row, "emoji"),
				DurationMs:  int64(lFloat(row, "duration_ms")),
				Weight:      lFloat(row, "weight"),
			})
		}
	})
	if len(out) == 0 {
		return fallbackActivities(zone)
	}
	return out
}

// LootTable holds the drop parameters for a zone.
type LootTable struct {
	MinValue int64
	MaxValue int64
	Energy   int
}

// GetLootTable calls Lua get_loot_table(zone).
func (e *Engine) GetLootTable(zone string) LootTable {
	fallback := LootTable{MinValue: 5, MaxValue: 50, Energy: 5}
	fn := e.vm.GetGlobal("get_loot_table")
	if fn == lua.LNil {
		return fallback
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(zone)); err != nil {
		e.log.Error("lua get_loot_table error", zap.Error(err), zap.String("zone", zone))
		return fallback
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return fallback
	}

	return LootTable{
		MinValue: int64(lFloat(rt, "min_value")),
		MaxValue: int64(lFloat(rt, "max_value")),
		Energy:   lInt(rt, "energy"),
	}
}

// MovementXPPerStep calls Lua movement_xp_per_step().
func (e *Engine) MovementXPPerStep() int {
	return e.callIntFunc("movement_xp_per_step")
}

// --- Go fallbacks -----------------------------------------------------------

// The fallbacks mirror the built-in script so a broken override script
// degrades to stock balance instead of taking the worker down.

func fallbackRobbery(ctx RobberyContext) RobberyOdds {
	power := ctx.AttackerPower
	if ctx.AttackerPersonality == "CRIMINAL" {
		power *= 1.2
	}
	defense := ctx.TargetDefense + 2*ctx.TargetHomeDefense
	chance := 0.4 + (power-defense)/50
	switch ctx.Zone {
	case "darkAlley":
		chance += 0.15
	case "casino":
		chance += 0.05
	case "suburb":
		chance -= 0.10
	}
	return RobberyOdds{
		SuccessChance: clampRange(chance, 0.05, 0.85),
		LootFraction:  0.2,
		LootBase:      10,
	}
}

func fallbackCombat(ctx CombatContext) CombatOdds {
	atk := 50 + ctx.AttackerPower
	opp := 50 + ctx.OpponentPower
	if ctx.AttackerPersonality == "CRIMINAL" {
		atk += 30
	}
	if ctx.OpponentPersonality == "CRIMINAL" {
		opp += 10
	}
	if atk+opp <= 0 {
		return CombatOdds{AttackerWinChance: 0.5}
	}
	return CombatOdds{AttackerWinChance: atk / (atk + opp)}
}

func fallbackActivities(zone string) []ZoneActivity {
	switch zone {
	case "casino":
		return []ZoneActivity{
			{Description: "playing the slots", Emoji: "🎰", DurationMs: 60_000, Weight: 1},
			{Description: "counting cards", Emoji: "🃏", DurationMs: 90_000, Weight: 1},
		}
	case "darkAlley":
		return []ZoneActivity{
			{Description: "lurking in the shadows", Emoji: "🕶️", DurationMs: 45_000, Weight: 1},
			{Description: "fencing stolen goods", Emoji: "💰", DurationMs: 60_000, Weight: 1},
		}
	case "suburb":
		return []ZoneActivity{
			{Description: "tending the garden", Emoji: "🌱", DurationMs: 90_000, Weight: 1},
			{Description: "chatting over the fence", Emoji: "🏡", DurationMs: 60_000, Weight: 1},
		}
	case "underground":
		return []ZoneActivity{
			{Description: "placing bets on the fights", Emoji: "🥊", DurationMs: 60_000, Weight: 1},
			{Description: "trading rumors", Emoji: "🤫", DurationMs: 45_000, Weight: 1},
		}
	default:
		return []ZoneActivity{
			{Description: "people watching", Emoji: "👀", DurationMs: 30_000, Weight: 1},
		}
	}
}

// --- Lua helpers ---

func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

func lFloat(t *lua.LTable, key string) float64 {
	return float64(lua.LVAsNumber(t.RawGetString(key)))
}

func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// callIntFunc calls a Lua function with int args and returns an int result.
func (e *Engine) callIntFunc(name string, args ...int) int {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		e.log.Error("lua function not found", zap.String("name", name))
		return 0
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = lua.LNumber(a)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return 0
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return int(lua.LVAsNumber(result))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
