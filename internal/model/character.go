package model

import (
	"fmt"
	"time"

	"github.com/udisondev/warband/internal/game/sim"
)

// Character splits into a client-authored persona and a server-authoritative
// progression. Persona fields are mutable by the owning user; progression
// fields change only through simulation outcomes or DM grants, and client
// submissions against them are rejected at the protocol boundary.
type Character struct {
	ID     string
	UserID string

	// Persona.
	Name       string
	Class      sim.Class
	Appearance string
	Backstory  string

	// Progression.
	XP        int
	Gold      int
	Silver    int
	Inventory []string

	// Lifetime counters.
	GamesPlayed   int
	MonstersSlain int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Level is derived from XP and never written directly.
func (c *Character) Level() int {
	return c.XP/1000 + 1
}

// MaxBackstoryLen bounds the persona backstory.
const MaxBackstoryLen = 1000

// Persona is the client-writable subset of a character.
type Persona struct {
	Name       string    `json:"name"`
	Class      sim.Class `json:"class"`
	Appearance string    `json:"appearance"`
	Backstory  string    `json:"backstory,omitempty"`
}

// Validate checks persona constraints on create and update.
func (p Persona) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("character name is required")
	}
	if len(p.Name) > 50 {
		return fmt.Errorf("character name exceeds 50 characters")
	}
	if !sim.ValidClass(p.Class) {
		return fmt.Errorf("unknown class %q", p.Class)
	}
	if len(p.Backstory) > MaxBackstoryLen {
		return fmt.Errorf("backstory exceeds %d characters", MaxBackstoryLen)
	}
	return nil
}
