package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/udisondev/warband/internal/game/geo"
	"github.com/udisondev/warband/internal/rng"
)

// Difficulty scales monster stat blocks and end-of-game rewards.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// Class tags the persona archetype of player and NPC units.
type Class string

const (
	ClassWarrior Class = "warrior"
	ClassRanger  Class = "ranger"
	ClassMage    Class = "mage"
	ClassRogue   Class = "rogue"
)

// ValidClass reports whether c is a recognized class tag.
func ValidClass(c Class) bool {
	switch c {
	case ClassWarrior, ClassRanger, ClassMage, ClassRogue:
		return true
	}
	return false
}

// Options parameterizes initial game state generation. Everything downstream
// of Seed is deterministic.
type Options struct {
	Seed            uint64
	MapWidth        int
	MapHeight       int
	WallDensity     float64
	PlayerCount     int
	PlayerClasses   []Class // one per player slot; defaults to warrior
	PlayerMoveRange int
	MonsterCount    int
	NPCCount        int
	NPCClasses      []Class
	Difficulty      Difficulty
}

// DefaultOptions mirrors the session config defaults.
func DefaultOptions(seed uint64) Options {
	return Options{
		Seed:            seed,
		MapWidth:        20,
		MapHeight:       20,
		WallDensity:     0.15,
		PlayerCount:     1,
		PlayerMoveRange: 3,
		MonsterCount:    3,
		Difficulty:      DifficultyNormal,
	}
}

// simSeedMix decorrelates the simulation draw stream from the map
// generator's, which consumes the raw seed. Splitmix64 golden gamma.
const simSeedMix = 0x9E3779B97F4A7C15

// Generate builds the initial game state: map, player units in the spawn
// region, monsters and NPC party members on free floor tiles. Referentially
// transparent — two calls with equal options produce identical states.
func Generate(opts Options) (*GameState, error) {
	if opts.MapWidth < 8 || opts.MapHeight < 8 {
		return nil, fmt.Errorf("map %dx%d too small", opts.MapWidth, opts.MapHeight)
	}
	if opts.PlayerCount < 1 {
		return nil, fmt.Errorf("player count %d must be positive", opts.PlayerCount)
	}

	genOpts := geo.DefaultGenOptions(opts.Seed, opts.MapWidth, opts.MapHeight)
	genOpts.WallDensity = opts.WallDensity
	m := geo.Generate(genOpts)

	s := &GameState{
		Map:    m,
		Combat: CombatState{Phase: PhaseNotStarted, Round: 0},
		RNG:    RNGState{Seed: opts.Seed ^ simSeedMix},
	}

	r := rng.At(s.RNG.Seed, 0)

	// Players go in the spawn region first: generation keeps the 3x3 around
	// the spawn clear, which holds up to 9 seats.
	spawnTiles := spawnRegion(genOpts.Spawn, m)
	if len(spawnTiles) < opts.PlayerCount+opts.NPCCount {
		return nil, fmt.Errorf("spawn region holds %d tiles, need %d", len(spawnTiles), opts.PlayerCount+opts.NPCCount)
	}
	for i := 0; i < opts.PlayerCount; i++ {
		class := ClassWarrior
		if i < len(opts.PlayerClasses) && ValidClass(opts.PlayerClasses[i]) {
			class = opts.PlayerClasses[i]
		}
		stats := ClassStats(class)
		stats.MoveRange = opts.PlayerMoveRange
		s.Units = append(s.Units, &Unit{
			ID:       fmt.Sprintf("player-%d", i+1),
			Type:     UnitPlayer,
			Name:     fmt.Sprintf("Player %d", i+1),
			Position: spawnTiles[i],
			Stats:    stats,
		})
	}
	for i := 0; i < opts.NPCCount; i++ {
		class := ClassWarrior
		if i < len(opts.NPCClasses) && ValidClass(opts.NPCClasses[i]) {
			class = opts.NPCClasses[i]
		}
		s.Units = append(s.Units, &Unit{
			ID:       fmt.Sprintf("npc-%d", i+1),
			Type:     UnitNPC,
			Name:     fmt.Sprintf("Companion %d", i+1),
			Position: spawnTiles[opts.PlayerCount+i],
			Stats:    ClassStats(class),
		})
	}

	// Monsters land on random free floor tiles away from the spawn region.
	free := freeTiles(s, genOpts.Spawn)
	if len(free) < opts.MonsterCount {
		return nil, fmt.Errorf("%d free tiles for %d monsters", len(free), opts.MonsterCount)
	}
	for i := 0; i < opts.MonsterCount; i++ {
		idx := r.Range(0, len(free))
		pos := free[idx]
		free = append(free[:idx], free[idx+1:]...)
		s.Units = append(s.Units, &Unit{
			ID:       fmt.Sprintf("monster-%d", i+1),
			Type:     UnitMonster,
			Name:     fmt.Sprintf("Gnarler %d", i+1),
			Position: pos,
			Stats:    MonsterStats(opts.Difficulty),
		})
	}

	s.RNG.Draws = r.Draws()
	return s, nil
}

// spawnRegion returns the walkable tiles of the 3x3 start region, center
// first, in deterministic order.
func spawnRegion(spawn geo.Position, m *geo.Map) []geo.Position {
	tiles := []geo.Position{}
	if m.Walkable(spawn) {
		tiles = append(tiles, spawn)
	}
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			p := geo.Position{X: spawn.X + dx, Y: spawn.Y + dy}
			if m.Walkable(p) {
				tiles = append(tiles, p)
			}
		}
	}
	return tiles
}

// freeTiles lists walkable, unoccupied tiles outside the spawn region in
// row-major order.
func freeTiles(s *GameState, spawn geo.Position) []geo.Position {
	var free []geo.Position
	for y := 0; y < s.Map.Height; y++ {
		for x := 0; x < s.Map.Width; x++ {
			p := geo.Position{X: x, Y: y}
			if !s.Map.Walkable(p) || s.LiveUnitAt(p) != nil {
				continue
			}
			if abs(p.X-spawn.X) <= 1 && abs(p.Y-spawn.Y) <= 1 {
				continue
			}
			free = append(free, p)
		}
	}
	return free
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ClassStats returns the base stat block for a class.
func ClassStats(c Class) Stats {
	switch c {
	case ClassRanger:
		return Stats{HP: 18, MaxHP: 18, Attack: 5, Defense: 2, AttackRange: 5, MoveRange: 3, Initiative: 3}
	case ClassMage:
		return Stats{HP: 14, MaxHP: 14, Attack: 7, Defense: 1, AttackRange: 6, MoveRange: 3, Initiative: 2}
	case ClassRogue:
		return Stats{HP: 16, MaxHP: 16, Attack: 6, Defense: 2, AttackRange: 1, MoveRange: 4, Initiative: 4}
	default: // warrior
		return Stats{HP: 24, MaxHP: 24, Attack: 6, Defense: 4, AttackRange: 1, MoveRange: 3, Initiative: 1}
	}
}

// MonsterStats returns the monster stat block scaled by difficulty.
func MonsterStats(d Difficulty) Stats {
	base := Stats{HP: 12, MaxHP: 12, Attack: 4, Defense: 2, AttackRange: 1, MoveRange: 3, Initiative: 0}
	switch d {
	case DifficultyEasy:
		base.HP, base.MaxHP = 8, 8
		base.Attack = 3
	case DifficultyHard:
		base.HP, base.MaxHP = 16, 16
		base.Attack = 6
		base.Initiative = 2
	}
	return base
}

// StartCombat rolls initiative for every unit, orders the turn queue and
// opens round 1. Initiative is stats.initiative + 1d20; ties break on unit ID
// so repeated runs from the same seed produce the same order.
func StartCombat(s *GameState, now time.Time) ([]Event, error) {
	if s.Combat.Phase != PhaseNotStarted {
		return nil, fmt.Errorf("combat already %s", s.Combat.Phase)
	}
	if len(s.Units) == 0 {
		return nil, fmt.Errorf("no units to start combat with")
	}

	r := rng.At(s.RNG.Seed, s.RNG.Draws)
	order := make([]InitiativeEntry, 0, len(s.Units))
	for _, u := range s.Units {
		order = append(order, InitiativeEntry{
			UnitID:     u.ID,
			Initiative: u.Stats.Initiative + r.Roll(1, 20),
		})
	}
	s.RNG.Draws = r.Draws()

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Initiative != order[j].Initiative {
			return order[i].Initiative > order[j].Initiative
		}
		return order[i].UnitID < order[j].UnitID
	})

	s.Combat.Phase = PhaseInProgress
	s.Combat.Round = 1
	s.Combat.InitiativeOrder = order
	s.Combat.TurnState = &TurnState{
		UnitID:    order[0].UnitID,
		StartedAt: now,
	}
	s.Tick++

	return []Event{
		event(now, EventCombatStarted, CombatStarted{Round: 1, InitiativeOrder: order}),
		event(now, EventTurnStarted, TurnStarted{UnitID: order[0].UnitID, Round: 1}),
	}, nil
}
