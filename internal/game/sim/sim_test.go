package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/warband/internal/game/geo"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// openState builds a 10x10 open-floor state with one player at (2,2) and one
// monster at (7,2), combat already started. Initiative order is pinned
// manually so tests do not depend on rolls.
func openState(t *testing.T) *GameState {
	t.Helper()
	m := geo.Generate(geo.GenOptions{Seed: 1, Width: 10, Height: 10, WallDensity: 0, Spawn: geo.Position{X: 5, Y: 5}})
	s := &GameState{
		Map: m,
		Units: []*Unit{
			{ID: "player-1", Type: UnitPlayer, Name: "Hero", Position: geo.Position{X: 2, Y: 2},
				Stats: Stats{HP: 20, MaxHP: 20, Attack: 6, Defense: 2, AttackRange: 6, MoveRange: 3, Initiative: 2}},
			{ID: "monster-1", Type: UnitMonster, Name: "Gnarler", Position: geo.Position{X: 7, Y: 2},
				Stats: Stats{HP: 10, MaxHP: 10, Attack: 4, Defense: 1, AttackRange: 1, MoveRange: 3, Initiative: 0}},
		},
		Combat: CombatState{
			Phase: PhaseInProgress,
			Round: 1,
			InitiativeOrder: []InitiativeEntry{
				{UnitID: "player-1", Initiative: 15},
				{UnitID: "monster-1", Initiative: 7},
			},
			TurnState: &TurnState{UnitID: "player-1", StartedAt: t0},
		},
		RNG: RNGState{Seed: 42},
	}
	return s
}

func TestGenerateDeterministic(t *testing.T) {
	opts := DefaultOptions(12345)
	a, err := Generate(opts)
	require.NoError(t, err)
	b, err := Generate(opts)
	require.NoError(t, err)

	require.Equal(t, a.Map.Tiles, b.Map.Tiles)
	require.Len(t, b.Units, len(a.Units))
	for i := range a.Units {
		assert.Equal(t, a.Units[i].Position, b.Units[i].Position, "unit %d", i)
		assert.Equal(t, a.Units[i].Stats, b.Units[i].Stats, "unit %d", i)
	}
	assert.Equal(t, PhaseNotStarted, a.Combat.Phase)
}

func TestGeneratePlacement(t *testing.T) {
	opts := DefaultOptions(9)
	opts.PlayerCount = 2
	opts.NPCCount = 2
	opts.NPCClasses = []Class{ClassMage, ClassRanger}
	opts.MonsterCount = 4

	s, err := Generate(opts)
	require.NoError(t, err)
	require.Len(t, s.Units, 8)

	seen := map[geo.Position]bool{}
	for _, u := range s.Units {
		assert.True(t, s.Map.Walkable(u.Position), "unit %s on unwalkable tile", u.ID)
		assert.False(t, seen[u.Position], "units share tile %v", u.Position)
		seen[u.Position] = true
	}
}

func TestStartCombatDeterministicOrder(t *testing.T) {
	opts := DefaultOptions(12345)
	opts.MonsterCount = 3

	var first []InitiativeEntry
	for i := 0; i < 3; i++ {
		s, err := Generate(opts)
		require.NoError(t, err)
		events, err := StartCombat(s, t0)
		require.NoError(t, err)

		require.Len(t, events, 2)
		assert.Equal(t, EventCombatStarted, events[0].Type)
		assert.Equal(t, EventTurnStarted, events[1].Type)
		require.Equal(t, PhaseInProgress, s.Combat.Phase)
		require.NotNil(t, s.Combat.TurnState)
		assert.Equal(t, s.Combat.InitiativeOrder[0].UnitID, s.Combat.TurnState.UnitID)

		if i == 0 {
			first = s.Combat.InitiativeOrder
			continue
		}
		require.Equal(t, first, s.Combat.InitiativeOrder, "run %d diverged", i)
	}
}

func TestStartCombatTwiceFails(t *testing.T) {
	s, err := Generate(DefaultOptions(1))
	require.NoError(t, err)
	_, err = StartCombat(s, t0)
	require.NoError(t, err)
	_, err = StartCombat(s, t0)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GameState)
		action Action
		want   Reason
	}{
		{
			name:   "off turn end_turn",
			action: Action{Type: ActionEndTurn, UnitID: "monster-1"},
			want:   ReasonNotYourTurn,
		},
		{
			name:   "unknown unit",
			action: Action{Type: ActionEndTurn, UnitID: "ghost"},
			want:   ReasonUnitNotFound,
		},
		{
			name:   "not in progress",
			mutate: func(s *GameState) { s.Combat.Phase = PhaseVictory; s.Combat.TurnState = nil },
			action: Action{Type: ActionEndTurn, UnitID: "player-1"},
			want:   ReasonNotInProgress,
		},
		{
			name:   "attack out of range",
			mutate: func(s *GameState) { s.UnitByID("player-1").Stats.AttackRange = 2 },
			action: Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"},
			want:   ReasonOutOfRange,
		},
		{
			name:   "attack dead target",
			mutate: func(s *GameState) { s.UnitByID("monster-1").Stats.HP = 0 },
			action: Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"},
			want:   ReasonTargetDead,
		},
		{
			name:   "attack unknown target",
			action: Action{Type: ActionAttack, UnitID: "player-1", TargetID: "ghost"},
			want:   ReasonTargetNotFound,
		},
		{
			name:   "attack after acting",
			mutate: func(s *GameState) { s.Combat.TurnState.HasActed = true },
			action: Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"},
			want:   ReasonAlreadyActed,
		},
		{
			name:   "move with foreign start",
			action: Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{{X: 3, Y: 3}, {X: 4, Y: 3}}},
			want:   ReasonInvalidPath,
		},
		{
			name: "move too far",
			action: Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
				{X: 2, Y: 2}, {X: 3, Y: 2}, {X: 4, Y: 2}, {X: 5, Y: 2}, {X: 6, Y: 2}}},
			want: ReasonInsufficientMoves,
		},
		{
			name: "move through wall",
			action: Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
				{X: 2, Y: 2}, {X: 2, Y: 1}, {X: 2, Y: 0}}},
			want: ReasonBlockedTile,
		},
		{
			name: "move onto occupied tile",
			mutate: func(s *GameState) {
				s.UnitByID("monster-1").Position = geo.Position{X: 3, Y: 2}
			},
			action: Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
				{X: 2, Y: 2}, {X: 3, Y: 2}}},
			want: ReasonBlockedTile,
		},
		{
			name: "move not contiguous",
			action: Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
				{X: 2, Y: 2}, {X: 4, Y: 2}}},
			want: ReasonInvalidPath,
		},
		{
			name:   "unknown ability",
			action: Action{Type: ActionUseAbility, UnitID: "player-1", AbilityID: "fireball"},
			want:   ReasonUnknownAbility,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openState(t)
			if tt.mutate != nil {
				tt.mutate(s)
			}
			v := Validate(tt.action, s)
			require.False(t, v.Valid)
			assert.Equal(t, tt.want, v.Reason)
		})
	}
}

func TestExecuteMove(t *testing.T) {
	s := openState(t)
	a := Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
		{X: 2, Y: 2}, {X: 3, Y: 2}, {X: 4, Y: 2}}}

	events, err := Execute(a, s, t0)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventUnitMoved, events[0].Type)
	assert.Equal(t, geo.Position{X: 4, Y: 2}, s.UnitByID("player-1").Position)
	assert.Equal(t, 2, s.Combat.TurnState.MovesUsed)
	assert.Equal(t, uint64(1), s.Tick)

	// Remaining budget allows one more step.
	v := Validate(Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
		{X: 4, Y: 2}, {X: 5, Y: 2}, {X: 6, Y: 2}}}, s)
	require.False(t, v.Valid)
	assert.Equal(t, ReasonInsufficientMoves, v.Reason)
}

func TestExecuteAttack(t *testing.T) {
	s := openState(t)
	a := Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"}

	events, err := Execute(a, s, t0)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventUnitAttacked, events[0].Type)
	assert.Equal(t, EventUnitDamaged, events[1].Type)

	attacked := events[0].Payload.(UnitAttacked)
	damaged := events[1].Payload.(UnitDamaged)
	// Damage = attack 6 + 1d6 - defense 1, floor 1.
	assert.GreaterOrEqual(t, attacked.Damage, 6)
	assert.LessOrEqual(t, attacked.Damage, 11)
	assert.Equal(t, attacked.Damage, damaged.Amount)

	target := s.UnitByID("monster-1")
	assert.Equal(t, damaged.NewHP, target.Stats.HP)
	assert.GreaterOrEqual(t, target.Stats.HP, 0)
	assert.True(t, s.Combat.TurnState.HasActed)
}

func TestExecuteAttackDeterministic(t *testing.T) {
	var firstDamage int
	for i := 0; i < 3; i++ {
		s := openState(t)
		events, err := Execute(Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"}, s, t0)
		require.NoError(t, err)
		damage := events[0].Payload.(UnitAttacked).Damage
		if i == 0 {
			firstDamage = damage
			continue
		}
		require.Equal(t, firstDamage, damage, "run %d diverged", i)
	}
}

func TestKillEmitsVictory(t *testing.T) {
	s := openState(t)
	s.UnitByID("monster-1").Stats.HP = 1

	events, err := Execute(Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"}, s, t0)
	require.NoError(t, err)

	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []EventType{EventUnitAttacked, EventUnitDamaged, EventUnitKilled, EventCombatEnded}, types)
	assert.Equal(t, PhaseVictory, s.Combat.Phase)
	assert.Nil(t, s.Combat.TurnState)
	assert.Equal(t, 0, s.UnitByID("monster-1").Stats.HP)
}

func TestDefeatWhenLastPlayerDies(t *testing.T) {
	s := openState(t)
	s.Combat.TurnState.UnitID = "monster-1"
	s.UnitByID("monster-1").Position = geo.Position{X: 3, Y: 2}
	s.UnitByID("player-1").Stats.HP = 1

	events, err := Execute(Action{Type: ActionAttack, UnitID: "monster-1", TargetID: "player-1"}, s, t0)
	require.NoError(t, err)
	assert.Equal(t, PhaseDefeat, s.Combat.Phase)
	assert.Equal(t, EventCombatEnded, events[len(events)-1].Type)
}

func TestEndTurnAdvancesAndWraps(t *testing.T) {
	s := openState(t)

	events, err := Execute(Action{Type: ActionEndTurn, UnitID: "player-1"}, s, t0)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventTurnEnded, events[0].Type)
	assert.Equal(t, EventTurnStarted, events[1].Type)
	assert.Equal(t, "monster-1", s.Combat.TurnState.UnitID)
	assert.Equal(t, 1, s.Combat.Round)
	assert.Zero(t, s.Combat.TurnState.MovesUsed)
	assert.False(t, s.Combat.TurnState.HasActed)

	// Wrap back to the first unit opens round 2.
	_, err = Execute(Action{Type: ActionEndTurn, UnitID: "monster-1"}, s, t0)
	require.NoError(t, err)
	assert.Equal(t, "player-1", s.Combat.TurnState.UnitID)
	assert.Equal(t, 2, s.Combat.Round)
}

func TestEndTurnSkipsDead(t *testing.T) {
	s := openState(t)
	s.Units = append(s.Units, &Unit{
		ID: "monster-2", Type: UnitMonster, Position: geo.Position{X: 8, Y: 8},
		Stats: Stats{HP: 10, MaxHP: 10, MoveRange: 3},
	})
	s.Combat.InitiativeOrder = []InitiativeEntry{
		{UnitID: "player-1", Initiative: 15},
		{UnitID: "monster-1", Initiative: 7},
		{UnitID: "monster-2", Initiative: 3},
	}
	s.UnitByID("monster-1").Stats.HP = 0

	_, err := Execute(Action{Type: ActionEndTurn, UnitID: "player-1"}, s, t0)
	require.NoError(t, err)
	assert.Equal(t, "monster-2", s.Combat.TurnState.UnitID)
}

func TestSecondWind(t *testing.T) {
	s := openState(t)
	s.UnitByID("player-1").Stats.HP = 5

	events, err := Execute(Action{Type: ActionUseAbility, UnitID: "player-1", AbilityID: "second_wind"}, s, t0)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventUnitUsedAbility, events[0].Type)
	hp := s.UnitByID("player-1").Stats.HP
	assert.GreaterOrEqual(t, hp, 8)  // 5 + 1d6+2 minimum
	assert.LessOrEqual(t, hp, 13)
	assert.True(t, s.Combat.TurnState.HasActed)
}

func TestSecondWindClampsAtMax(t *testing.T) {
	s := openState(t)
	s.UnitByID("player-1").Stats.HP = 19

	_, err := Execute(Action{Type: ActionUseAbility, UnitID: "player-1", AbilityID: "second_wind"}, s, t0)
	require.NoError(t, err)
	assert.Equal(t, 20, s.UnitByID("player-1").Stats.HP)
}

func TestDashExtendsBudget(t *testing.T) {
	s := openState(t)
	_, err := Execute(Action{Type: ActionUseAbility, UnitID: "player-1", AbilityID: "dash"}, s, t0)
	require.NoError(t, err)

	// Budget is now 3 - (-2) = 5 steps.
	a := Action{Type: ActionMove, UnitID: "player-1", Path: []geo.Position{
		{X: 2, Y: 2}, {X: 3, Y: 2}, {X: 4, Y: 2}, {X: 5, Y: 2}, {X: 6, Y: 2}, {X: 6, Y: 3}}}
	require.True(t, Validate(a, s).Valid)
}

func TestValidMoveTargets(t *testing.T) {
	s := openState(t)
	targets := ValidMoveTargets(s)
	require.NotEmpty(t, targets)
	for _, p := range targets {
		assert.True(t, s.Map.Walkable(p))
		assert.LessOrEqual(t, geo.Manhattan(s.UnitByID("player-1").Position, p), 3)
		assert.Nil(t, s.LiveUnitAt(p))
	}
}

func TestValidAttackTargets(t *testing.T) {
	s := openState(t)
	targets := ValidAttackTargets(s)
	require.Len(t, targets, 1)
	assert.Equal(t, "monster-1", targets[0].ID)

	s.Combat.TurnState.HasActed = true
	assert.Empty(t, ValidAttackTargets(s))
}

func TestExecuteIsPureOverClone(t *testing.T) {
	s := openState(t)
	snapshot := s.Clone()

	clone := s.Clone()
	_, err := Execute(Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"}, clone, t0)
	require.NoError(t, err)

	// The original state is untouched by execution against the clone.
	assert.Equal(t, snapshot, s)
	assert.NotEqual(t, snapshot.UnitByID("monster-1").Stats.HP, clone.UnitByID("monster-1").Stats.HP)
}

func TestReplayReproducesState(t *testing.T) {
	opts := DefaultOptions(777)
	opts.MonsterCount = 2

	authoritative, err := Generate(opts)
	require.NoError(t, err)
	mirror := authoritative.Clone()

	var log []Event
	events, err := StartCombat(authoritative, t0)
	require.NoError(t, err)
	log = append(log, events...)

	// Drive a few rounds through the scripted policy plus player end_turns.
	for i := 0; i < 40 && authoritative.Combat.Phase == PhaseInProgress; i++ {
		a, scripted := ScriptedAction(authoritative)
		if !scripted {
			a = Action{Type: ActionEndTurn, UnitID: authoritative.Combat.TurnState.UnitID}
		}
		require.True(t, Validate(a, authoritative).Valid, "action %+v", a)
		events, err := Execute(a, authoritative, t0)
		require.NoError(t, err)
		log = append(log, events...)
	}
	require.NotEmpty(t, log)

	require.NoError(t, ApplyEvents(mirror, log))

	// The mirror reproduces the combat-visible state exactly.
	assert.Equal(t, authoritative.Combat.Phase, mirror.Combat.Phase)
	assert.Equal(t, authoritative.Combat.Round, mirror.Combat.Round)
	assert.Equal(t, authoritative.Combat.InitiativeOrder, mirror.Combat.InitiativeOrder)
	for i := range authoritative.Units {
		assert.Equal(t, authoritative.Units[i].Position, mirror.Units[i].Position, "unit %d position", i)
		assert.Equal(t, authoritative.Units[i].Stats.HP, mirror.Units[i].Stats.HP, "unit %d hp", i)
	}
}

func TestHPClampInvariant(t *testing.T) {
	s := openState(t)
	s.UnitByID("player-1").Stats.Attack = 100

	_, err := Execute(Action{Type: ActionAttack, UnitID: "player-1", TargetID: "monster-1"}, s, t0)
	require.NoError(t, err)

	for _, u := range s.Units {
		assert.GreaterOrEqual(t, u.Stats.HP, 0)
		assert.LessOrEqual(t, u.Stats.HP, u.Stats.MaxHP)
	}
}

func TestScriptedMonsterClosesAndAttacks(t *testing.T) {
	s := openState(t)
	s.Combat.TurnState = &TurnState{UnitID: "monster-1", StartedAt: t0}

	// Out of reach: the monster should move toward the player.
	a, scripted := ScriptedAction(s)
	require.True(t, scripted)
	require.Equal(t, ActionMove, a.Type)
	require.True(t, Validate(a, s).Valid)
	_, err := Execute(a, s, t0)
	require.NoError(t, err)

	// Drive until the turn ends; the policy must terminate.
	for i := 0; i < 10; i++ {
		a, scripted = ScriptedAction(s)
		require.True(t, scripted)
		require.True(t, Validate(a, s).Valid)
		_, err = Execute(a, s, t0)
		require.NoError(t, err)
		if a.Type == ActionEndTurn {
			return
		}
	}
	t.Fatal("monster turn did not terminate")
}
