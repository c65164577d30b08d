package sim

import "github.com/udisondev/warband/internal/game/geo"

// Validate checks an action against the current state without mutating it.
// Every failure maps to a stable reason code; Execute must only be called on
// actions that validated.
func Validate(a Action, s *GameState) Verdict {
	if s.Combat.Phase != PhaseInProgress {
		return fail(ReasonNotInProgress)
	}
	unit := s.UnitByID(a.UnitID)
	if unit == nil {
		return fail(ReasonUnitNotFound)
	}
	if s.Combat.TurnState == nil || s.Combat.TurnState.UnitID != a.UnitID {
		return fail(ReasonNotYourTurn)
	}

	switch a.Type {
	case ActionMove:
		return validateMove(a, s, unit)
	case ActionAttack:
		return validateAttack(a, s, unit)
	case ActionEndTurn:
		return ok()
	case ActionUseAbility:
		return validateAbility(a, s, unit)
	default:
		return fail(ReasonUnknownAction)
	}
}

func validateMove(a Action, s *GameState, unit *Unit) Verdict {
	if len(a.Path) < 2 {
		return fail(ReasonInvalidPath)
	}
	if a.Path[0] != unit.Position {
		return fail(ReasonInvalidPath)
	}

	steps := len(a.Path) - 1
	remaining := unit.Stats.MoveRange - s.Combat.TurnState.MovesUsed
	if steps > remaining {
		return fail(ReasonInsufficientMoves)
	}

	occupied := s.Occupied(unit.ID)
	for i := 1; i < len(a.Path); i++ {
		if !a.Path[i-1].Adjacent(a.Path[i]) {
			return fail(ReasonInvalidPath)
		}
		if !s.Map.Walkable(a.Path[i]) {
			return fail(ReasonBlockedTile)
		}
		if occupied(a.Path[i]) {
			return fail(ReasonBlockedTile)
		}
	}
	return ok()
}

func validateAttack(a Action, s *GameState, unit *Unit) Verdict {
	if s.Combat.TurnState.HasActed {
		return fail(ReasonAlreadyActed)
	}
	target := s.UnitByID(a.TargetID)
	if target == nil {
		return fail(ReasonTargetNotFound)
	}
	if !target.Alive() {
		return fail(ReasonTargetDead)
	}
	if geo.Manhattan(unit.Position, target.Position) > unit.Stats.AttackRange {
		return fail(ReasonOutOfRange)
	}
	if !geo.LineOfSight(unit.Position, target.Position, s.Map) {
		return fail(ReasonNoLineOfSight)
	}
	return ok()
}

func validateAbility(a Action, s *GameState, unit *Unit) Verdict {
	ability := LookupAbility(a.AbilityID)
	if ability == nil {
		return fail(ReasonUnknownAbility)
	}
	return ability.Validate(a, s, unit)
}
