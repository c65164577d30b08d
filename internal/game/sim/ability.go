package sim

import (
	"time"

	"github.com/udisondev/warband/internal/rng"
)

// Ability is one entry of the ability catalog. Entries follow the same
// validate-then-execute contract as built-in actions: Validate never mutates,
// Apply runs only after a passing verdict and returns the event batch.
//
// The concrete catalog is deliberately small; abilities are meant to be
// data-driven and registered at startup.
type Ability interface {
	ID() string
	Validate(a Action, s *GameState, u *Unit) Verdict
	Apply(a Action, s *GameState, u *Unit, now time.Time) []Event
}

var abilityRegistry = map[string]Ability{}

// RegisterAbility adds an ability to the catalog. Called from init or at
// startup before any session runs; not safe for concurrent use afterwards.
func RegisterAbility(ab Ability) {
	abilityRegistry[ab.ID()] = ab
}

// LookupAbility returns the registered ability or nil.
func LookupAbility(id string) Ability {
	return abilityRegistry[id]
}

func init() {
	RegisterAbility(secondWind{})
	RegisterAbility(dash{})
}

// secondWind heals the caster for 1d6+2, consuming the act budget.
type secondWind struct{}

func (secondWind) ID() string { return "second_wind" }

func (secondWind) Validate(a Action, s *GameState, u *Unit) Verdict {
	if s.Combat.TurnState.HasActed {
		return fail(ReasonAlreadyActed)
	}
	return ok()
}

func (secondWind) Apply(a Action, s *GameState, u *Unit, now time.Time) []Event {
	r := rng.At(s.RNG.Seed, s.RNG.Draws)
	heal := r.Roll(1, 6) + 2
	s.RNG.Draws = r.Draws()

	newHP := u.Stats.HP + heal
	if newHP > u.Stats.MaxHP {
		newHP = u.Stats.MaxHP
	}
	healed := newHP - u.Stats.HP
	u.Stats.HP = newHP
	s.Combat.TurnState.HasActed = true

	return []Event{event(now, EventUnitUsedAbility, UnitUsedAbility{
		UnitID:    u.ID,
		AbilityID: "second_wind",
		Effects:   []UnitDamaged{{UnitID: u.ID, Amount: -healed, NewHP: newHP}},
	})}
}

// dash grants two extra tiles of movement this turn at the cost of the act
// budget.
type dash struct{}

func (dash) ID() string { return "dash" }

func (dash) Validate(a Action, s *GameState, u *Unit) Verdict {
	if s.Combat.TurnState.HasActed {
		return fail(ReasonAlreadyActed)
	}
	return ok()
}

func (dash) Apply(a Action, s *GameState, u *Unit, now time.Time) []Event {
	const bonus = 2
	s.Combat.TurnState.MovesUsed -= bonus
	s.Combat.TurnState.HasActed = true

	return []Event{event(now, EventUnitUsedAbility, UnitUsedAbility{
		UnitID:    u.ID,
		AbilityID: "dash",
		MoveBonus: bonus,
	})}
}
