package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/udisondev/warband/internal/game/geo"
	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
)

// Request payloads.

type Authenticate struct {
	Token string `json:"token"`
}

type CreateGame struct {
	// Raw so unknown keys can be rejected with invalid_config.
	Config json.RawMessage `json:"config,omitempty"`
}

type JoinGame struct {
	JoinCode    string `json:"joinCode"`
	CharacterID string `json:"characterId"`
}

type Ready struct {
	IsReady bool `json:"isReady"`
}

type ActionRequest struct {
	Action sim.Action `json:"action"`
}

// DMCommandKind enumerates the DM-only mutations.
type DMCommandKind string

const (
	DMSpawnUnit    DMCommandKind = "spawn_unit"
	DMSetStats     DMCommandKind = "set_stats"
	DMGrant        DMCommandKind = "grant"
	DMForceEndTurn DMCommandKind = "force_end_turn"
	DMPause        DMCommandKind = "pause"
	DMResume       DMCommandKind = "resume"
	DMEndSession   DMCommandKind = "end_session"
)

type DMCommand struct {
	Kind DMCommandKind `json:"kind"`

	// spawn_unit
	UnitType sim.UnitType  `json:"unitType,omitempty"`
	Position *geo.Position `json:"position,omitempty"`

	// set_stats
	UnitID string     `json:"unitId,omitempty"`
	Stats  *sim.Stats `json:"stats,omitempty"`

	// grant
	UserID string `json:"userId,omitempty"`
	XP     int    `json:"xp,omitempty"`
	Gold   int    `json:"gold,omitempty"`
}

type Chat struct {
	Text string `json:"text"`
}

// MaxChatLen bounds a single chat message.
const MaxChatLen = 500

type CreateCharacter struct {
	Persona model.Persona `json:"persona"`
}

type UpdateCharacter struct {
	CharacterID string `json:"characterId"`
	// Raw so progression-field writes can be rejected explicitly.
	Persona json.RawMessage `json:"persona"`
}

// personaKeys is the closed set of client-writable character fields.
var personaKeys = map[string]struct{}{
	"name": {}, "class": {}, "appearance": {}, "backstory": {},
}

// DecodePersona parses a persona update, rejecting any attempt to write
// progression fields (xp, gold, inventory, ...). The stored row is untouched
// when this fails.
func DecodePersona(raw json.RawMessage) (model.Persona, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return model.Persona{}, fmt.Errorf("persona is not an object: %w", err)
	}
	for k := range keys {
		if _, known := personaKeys[k]; !known {
			return model.Persona{}, fmt.Errorf("field %q is not client-writable", k)
		}
	}
	var p model.Persona
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Persona{}, fmt.Errorf("decoding persona: %w", err)
	}
	return p, nil
}

// Response and push payloads.

type Authenticated struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type SessionCreated struct {
	SessionID string `json:"sessionId"`
	JoinCode  string `json:"joinCode"`
}

// SessionView is the client-facing projection of a session.
type SessionView struct {
	ID            string              `json:"id"`
	JoinCode      string              `json:"joinCode"`
	DMUserID      string              `json:"dmUserId"`
	Status        model.SessionStatus `json:"status"`
	Config        model.SessionConfig `json:"config"`
	StateVersion  uint64              `json:"stateVersion"`
	Players       []PlayerView        `json:"players"`
}

type PlayerView struct {
	UserID      string             `json:"userId"`
	CharacterID string             `json:"characterId"`
	UnitID      string             `json:"unitId,omitempty"`
	Status      model.PlayerStatus `json:"status"`
	IsReady     bool               `json:"isReady"`
}

type StateSnapshot struct {
	GameState    *sim.GameState `json:"gameState"`
	StateVersion uint64         `json:"stateVersion"`
}

type StateDelta struct {
	FromVersion uint64      `json:"fromVersion"`
	ToVersion   uint64      `json:"toVersion"`
	Events      []sim.Event `json:"events"`
}

type PlayerEvent struct {
	Kind   string `json:"kind"`
	UserID string `json:"userId"`
}

type ChatMessagePush struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
}

type CharacterView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Class      sim.Class `json:"class"`
	Appearance string    `json:"appearance"`
	Backstory  string    `json:"backstory,omitempty"`
	XP         int       `json:"xp"`
	Level      int       `json:"level"`
	Gold       int       `json:"gold"`
	Silver     int       `json:"silver"`
	Inventory  []string  `json:"inventory"`
}

// NewCharacterView projects a character for the wire; level is computed,
// never stored.
func NewCharacterView(c *model.Character) CharacterView {
	return CharacterView{
		ID:         c.ID,
		Name:       c.Name,
		Class:      c.Class,
		Appearance: c.Appearance,
		Backstory:  c.Backstory,
		XP:         c.XP,
		Level:      c.Level(),
		Gold:       c.Gold,
		Silver:     c.Silver,
		Inventory:  c.Inventory,
	}
}
