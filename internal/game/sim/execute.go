package sim

import (
	"fmt"
	"time"

	"github.com/udisondev/warband/internal/game/geo"
	"github.com/udisondev/warband/internal/rng"
)

// Execute applies a validated action to the state in place and returns the
// ordered event batch it produced. The caller passes the wall-clock as an
// argument so the function stays referentially transparent; the coordinator
// clones the state beforehand and swaps the clone in only after the new
// version persists.
//
// An error return means the action reached execution in a state it should
// never have reached — an internal invariant violation, not a user fault.
func Execute(a Action, s *GameState, now time.Time) ([]Event, error) {
	if v := Validate(a, s); !v.Valid {
		return nil, fmt.Errorf("unvalidated action %q reached execution: %s", a.Type, v.Reason)
	}

	unit := s.UnitByID(a.UnitID)

	var events []Event
	switch a.Type {
	case ActionMove:
		events = executeMove(a, s, unit, now)
	case ActionAttack:
		events = executeAttack(a, s, unit, now)
	case ActionEndTurn:
		events = endTurn(s, unit, now)
	case ActionUseAbility:
		events = LookupAbility(a.AbilityID).Apply(a, s, unit, now)
	default:
		return nil, fmt.Errorf("unknown action type %q reached execution", a.Type)
	}

	s.Tick++
	return events, nil
}

func executeMove(a Action, s *GameState, unit *Unit, now time.Time) []Event {
	from := unit.Position
	to := a.Path[len(a.Path)-1]
	unit.Position = to
	s.Combat.TurnState.MovesUsed += len(a.Path) - 1

	return []Event{event(now, EventUnitMoved, UnitMoved{
		UnitID: unit.ID,
		From:   from,
		To:     to,
		Path:   a.Path,
	})}
}

func executeAttack(a Action, s *GameState, unit *Unit, now time.Time) []Event {
	target := s.UnitByID(a.TargetID)

	r := rng.At(s.RNG.Seed, s.RNG.Draws)
	damage := unit.Stats.Attack + r.Roll(1, 6) - target.Stats.Defense
	if damage < 1 {
		damage = 1
	}
	s.RNG.Draws = r.Draws()

	s.Combat.TurnState.HasActed = true

	events := []Event{event(now, EventUnitAttacked, UnitAttacked{
		AttackerID: unit.ID,
		TargetID:   target.ID,
		Damage:     damage,
	})}
	events = append(events, applyDamage(target, damage, now)...)
	events = append(events, checkOutcome(s, now)...)
	return events
}

// applyDamage clamps HP at zero and emits the damaged/killed events.
func applyDamage(target *Unit, amount int, now time.Time) []Event {
	target.Stats.HP -= amount
	if target.Stats.HP < 0 {
		target.Stats.HP = 0
	}

	events := []Event{event(now, EventUnitDamaged, UnitDamaged{
		UnitID: target.ID,
		Amount: amount,
		NewHP:  target.Stats.HP,
	})}
	if target.Stats.HP == 0 {
		events = append(events, event(now, EventUnitKilled, UnitKilled{UnitID: target.ID}))
	}
	return events
}

// checkOutcome detects the win condition after any HP change. On a terminal
// phase it clears the turn state so no further actions validate.
func checkOutcome(s *GameState, now time.Time) []Event {
	switch {
	case s.LiveCount(UnitMonster) == 0:
		s.Combat.Phase = PhaseVictory
	case s.LiveCount(UnitPlayer) == 0:
		s.Combat.Phase = PhaseDefeat
	default:
		return nil
	}
	s.Combat.TurnState = nil
	return []Event{event(now, EventCombatEnded, CombatEnded{Outcome: s.Combat.Phase})}
}

// endTurn advances to the next live unit in initiative order, wrapping to a
// new round when the order cycles. Dead units are skipped; combat cannot be
// in_progress with zero live units, so the scan terminates.
func endTurn(s *GameState, unit *Unit, now time.Time) []Event {
	events := []Event{event(now, EventTurnEnded, TurnEnded{UnitID: unit.ID})}

	order := s.Combat.InitiativeOrder
	idx := 0
	for i, e := range order {
		if e.UnitID == s.Combat.TurnState.UnitID {
			idx = i
			break
		}
	}

	for i := 1; i <= len(order); i++ {
		pos := (idx + i) % len(order)
		next := s.UnitByID(order[pos].UnitID)
		if next == nil || !next.Alive() {
			continue
		}
		if (idx + i) >= len(order) {
			s.Combat.Round++
		}
		s.Combat.TurnState = &TurnState{
			UnitID:    next.ID,
			MovesUsed: 0,
			HasActed:  false,
			StartedAt: now,
		}
		events = append(events, event(now, EventTurnStarted, TurnStarted{
			UnitID: next.ID,
			Round:  s.Combat.Round,
		}))
		return events
	}

	// No live unit found: unreachable while phase is in_progress.
	s.Combat.TurnState = nil
	return events
}

// ValidMoveTargets enumerates every tile reachable by the current unit within
// its remaining move budget. Used by clients for UI highlighting and by the
// server for pre-validation.
func ValidMoveTargets(s *GameState) []geo.Position {
	unit := s.CurrentUnit()
	if unit == nil {
		return nil
	}
	remaining := unit.Stats.MoveRange - s.Combat.TurnState.MovesUsed
	if remaining <= 0 {
		return nil
	}

	occupied := s.Occupied(unit.ID)
	var targets []geo.Position
	for y := 0; y < s.Map.Height; y++ {
		for x := 0; x < s.Map.Width; x++ {
			p := geo.Position{X: x, Y: y}
			if p == unit.Position || geo.Manhattan(unit.Position, p) > remaining {
				continue
			}
			if !s.Map.Walkable(p) || occupied(p) {
				continue
			}
			path := geo.FindPath(unit.Position, p, s.Map, occupied)
			if path != nil && len(path)-1 <= remaining {
				targets = append(targets, p)
			}
		}
	}
	return targets
}

// ValidAttackTargets enumerates live enemies of the current unit that are in
// range with line of sight. Empty when the unit has already acted.
func ValidAttackTargets(s *GameState) []*Unit {
	unit := s.CurrentUnit()
	if unit == nil || s.Combat.TurnState.HasActed {
		return nil
	}

	var targets []*Unit
	for _, candidate := range s.Units {
		if !candidate.Alive() || candidate.ID == unit.ID {
			continue
		}
		if !hostile(unit, candidate) {
			continue
		}
		if geo.Manhattan(unit.Position, candidate.Position) > unit.Stats.AttackRange {
			continue
		}
		if !geo.LineOfSight(unit.Position, candidate.Position, s.Map) {
			continue
		}
		targets = append(targets, candidate)
	}
	return targets
}

// hostile reports whether two units are on opposing sides. Players and NPCs
// form one side, monsters the other.
func hostile(a, b *Unit) bool {
	return (a.Type == UnitMonster) != (b.Type == UnitMonster)
}
