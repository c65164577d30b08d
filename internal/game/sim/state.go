// Package sim implements the deterministic combat simulation: units,
// initiative order, turn state, action validation and execution, and event
// emission. The package is pure with respect to its inputs — no clocks, no
// global RNG, no I/O — so the session coordinator can replay any event log
// and land on the same state.
package sim

import (
	"time"

	"github.com/udisondev/warband/internal/game/geo"
)

// UnitType discriminates who controls a unit.
type UnitType string

const (
	UnitPlayer  UnitType = "player"
	UnitMonster UnitType = "monster"
	UnitNPC     UnitType = "npc"
)

// Stats is the combat stat block of a unit.
type Stats struct {
	HP          int `json:"hp"`
	MaxHP       int `json:"maxHp"`
	Attack      int `json:"attack"`
	Defense     int `json:"defense"`
	AttackRange int `json:"attackRange"`
	MoveRange   int `json:"moveRange"`
	Initiative  int `json:"initiative"`
}

// Unit is a combatant on the map. Dead units (HP 0) stay in the state vector
// but are skipped by scheduling and do not block movement.
type Unit struct {
	ID               string       `json:"id"`
	Type             UnitType     `json:"type"`
	Name             string       `json:"name"`
	Position         geo.Position `json:"position"`
	Stats            Stats        `json:"stats"`
	ControllerUserID string       `json:"controllerUserId,omitempty"`
}

// Alive reports whether the unit still takes turns and blocks tiles.
func (u *Unit) Alive() bool {
	return u.Stats.HP > 0
}

// InitiativeEntry is one slot of the turn order.
type InitiativeEntry struct {
	UnitID     string `json:"unitId"`
	Initiative int    `json:"initiative"`
}

// TurnState tracks the budgets of the unit whose turn it is.
type TurnState struct {
	UnitID    string    `json:"unitId"`
	MovesUsed int       `json:"movesUsed"`
	HasActed  bool      `json:"hasActed"`
	StartedAt time.Time `json:"startedAt"`
}

// Phase is the top-level combat state.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseVictory    Phase = "victory"
	PhaseDefeat     Phase = "defeat"
)

// Over reports whether combat reached a terminal phase.
func (p Phase) Over() bool {
	return p == PhaseVictory || p == PhaseDefeat
}

// CombatState holds phase, round and initiative bookkeeping. TurnState is
// non-nil exactly while the phase is in_progress.
type CombatState struct {
	Phase           Phase             `json:"phase"`
	Round           int               `json:"round"`
	InitiativeOrder []InitiativeEntry `json:"initiativeOrder"`
	TurnState       *TurnState        `json:"turnState,omitempty"`
}

// RNGState pins the simulation's PRNG position inside the state so replays
// resume the exact draw stream.
type RNGState struct {
	Seed  uint64 `json:"seed"`
	Draws uint64 `json:"draws"`
}

// GameState is the single authoritative source of truth for one session's
// combat. Tick increments on every executed action and never resets.
type GameState struct {
	Map    *geo.Map     `json:"map"`
	Units  []*Unit      `json:"units"`
	Combat CombatState  `json:"combat"`
	RNG    RNGState     `json:"rng"`
	Tick   uint64       `json:"tick"`
}

// UnitByID returns the unit with the given ID, or nil.
func (s *GameState) UnitByID(id string) *Unit {
	for _, u := range s.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// LiveUnitAt returns the live unit standing on p, or nil.
func (s *GameState) LiveUnitAt(p geo.Position) *Unit {
	for _, u := range s.Units {
		if u.Alive() && u.Position == p {
			return u
		}
	}
	return nil
}

// Occupied returns a blocker predicate for pathfinding that treats tiles held
// by live units as impassable, except the moving unit's own tile.
func (s *GameState) Occupied(movingUnitID string) func(geo.Position) bool {
	return func(p geo.Position) bool {
		u := s.LiveUnitAt(p)
		return u != nil && u.ID != movingUnitID
	}
}

// CurrentUnit returns the unit whose turn it is, or nil outside in_progress.
func (s *GameState) CurrentUnit() *Unit {
	if s.Combat.TurnState == nil {
		return nil
	}
	return s.UnitByID(s.Combat.TurnState.UnitID)
}

// LiveCount returns the number of live units of the given type.
func (s *GameState) LiveCount(t UnitType) int {
	n := 0
	for _, u := range s.Units {
		if u.Type == t && u.Alive() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the state. The coordinator executes actions
// against a clone and only swaps it in once the new version is persisted, so
// a failed persist never leaks a half-applied state.
func (s *GameState) Clone() *GameState {
	c := *s

	c.Units = make([]*Unit, len(s.Units))
	for i, u := range s.Units {
		cu := *u
		c.Units[i] = &cu
	}

	c.Combat.InitiativeOrder = append([]InitiativeEntry(nil), s.Combat.InitiativeOrder...)
	if s.Combat.TurnState != nil {
		ts := *s.Combat.TurnState
		c.Combat.TurnState = &ts
	}

	// The map is immutable after generation and safe to share.
	return &c
}
