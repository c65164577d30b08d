package sim

import "fmt"

// ApplyEvent folds one event into a state mirror. This is the client-side
// half of delta synchronization and the replay path for archived logs:
// events carry resolved values (final HP, final positions), so application
// needs no RNG and cannot diverge from the authoritative run.
//
// Bookkeeping that is not part of the combat-visible state (tick, RNG draw
// counter) is not replayed; mirrors track versions through the transport
// layer instead.
func ApplyEvent(s *GameState, ev Event) error {
	switch p := ev.Payload.(type) {
	case CombatStarted:
		s.Combat.Phase = PhaseInProgress
		s.Combat.Round = p.Round
		s.Combat.InitiativeOrder = append([]InitiativeEntry(nil), p.InitiativeOrder...)

	case TurnStarted:
		s.Combat.Round = p.Round
		s.Combat.TurnState = &TurnState{UnitID: p.UnitID, StartedAt: ev.TS}

	case TurnEnded:
		// Superseded by the turn_started that follows in the same batch.

	case UnitMoved:
		u := s.UnitByID(p.UnitID)
		if u == nil {
			return fmt.Errorf("unit_moved for unknown unit %q", p.UnitID)
		}
		u.Position = p.To
		if s.Combat.TurnState != nil && s.Combat.TurnState.UnitID == p.UnitID {
			s.Combat.TurnState.MovesUsed += len(p.Path) - 1
		}

	case UnitAttacked:
		if s.Combat.TurnState != nil && s.Combat.TurnState.UnitID == p.AttackerID {
			s.Combat.TurnState.HasActed = true
		}

	case UnitDamaged:
		u := s.UnitByID(p.UnitID)
		if u == nil {
			return fmt.Errorf("unit_damaged for unknown unit %q", p.UnitID)
		}
		u.Stats.HP = p.NewHP

	case UnitKilled:
		// HP already zeroed by the preceding unit_damaged.

	case UnitUsedAbility:
		for _, eff := range p.Effects {
			u := s.UnitByID(eff.UnitID)
			if u == nil {
				return fmt.Errorf("ability effect for unknown unit %q", eff.UnitID)
			}
			u.Stats.HP = eff.NewHP
		}
		if s.Combat.TurnState != nil && s.Combat.TurnState.UnitID == p.UnitID {
			s.Combat.TurnState.HasActed = true
			s.Combat.TurnState.MovesUsed -= p.MoveBonus
		}

	case CombatEnded:
		s.Combat.Phase = p.Outcome
		s.Combat.TurnState = nil

	case PlayerJoined, PlayerLeft, PlayerDisconnected, PlayerReconnected, ChatMessage, DMCommandApplied:
		// Roster and chat events do not touch combat state.

	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}
	return nil
}

// ApplyEvents folds an ordered batch, stopping on the first failure.
func ApplyEvents(s *GameState, events []Event) error {
	for i, ev := range events {
		if err := ApplyEvent(s, ev); err != nil {
			return fmt.Errorf("applying event %d (%s): %w", i, ev.Type, err)
		}
	}
	return nil
}
