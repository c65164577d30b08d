package sim

import "github.com/udisondev/warband/internal/game/geo"

// ScriptedAction picks the next action for a server-driven unit (monster or
// NPC companion) on its turn. Returns false when the current unit is
// player-controlled or combat is not running.
//
// The policy is deliberately minimal and fully deterministic: monsters attack
// the first reachable enemy, otherwise step toward the nearest live player;
// NPC companions hold position. The coordinator feeds the result through the
// same validate/execute pipeline as client actions and calls again until the
// unit ends its turn, which is guaranteed to happen because every non-end
// action consumes budget.
func ScriptedAction(s *GameState) (Action, bool) {
	unit := s.CurrentUnit()
	if unit == nil || unit.Type == UnitPlayer {
		return Action{}, false
	}

	endTurn := Action{Type: ActionEndTurn, UnitID: unit.ID}

	if unit.Type == UnitNPC {
		// Companion behavior is an open policy question; holding position
		// keeps the round advancing without inventing tactics.
		return endTurn, true
	}

	if !s.Combat.TurnState.HasActed {
		if targets := ValidAttackTargets(s); len(targets) > 0 {
			return Action{Type: ActionAttack, UnitID: unit.ID, TargetID: targets[0].ID}, true
		}
	}

	remaining := unit.Stats.MoveRange - s.Combat.TurnState.MovesUsed
	if remaining > 0 {
		if path := pathTowardNearestPlayer(s, unit, remaining); len(path) >= 2 {
			return Action{Type: ActionMove, UnitID: unit.ID, Path: path}, true
		}
	}
	return endTurn, true
}

// pathTowardNearestPlayer returns a path of at most budget steps toward the
// closest live player's adjacent tile, or nil when no progress is possible.
func pathTowardNearestPlayer(s *GameState, unit *Unit, budget int) []geo.Position {
	var best []geo.Position
	occupied := s.Occupied(unit.ID)

	for _, target := range s.Units {
		if target.Type != UnitPlayer || !target.Alive() {
			continue
		}
		for _, step := range []geo.Position{
			{X: target.Position.X, Y: target.Position.Y - 1},
			{X: target.Position.X - 1, Y: target.Position.Y},
			{X: target.Position.X + 1, Y: target.Position.Y},
			{X: target.Position.X, Y: target.Position.Y + 1},
		} {
			if !s.Map.Walkable(step) || occupied(step) {
				continue
			}
			path := geo.FindPath(unit.Position, step, s.Map, occupied)
			if path == nil {
				continue
			}
			if best == nil || len(path) < len(best) {
				best = path
			}
		}
	}

	if best == nil || len(best) < 2 {
		return nil
	}
	if len(best)-1 > budget {
		best = best[:budget+1]
	}
	// A truncated path may end on an occupied tile's approach; the final
	// tile itself is always free because FindPath only traverses free tiles.
	return best
}
