package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/udisondev/warband/internal/game/sim"
)

// SessionStatus is the lifecycle state of a multiplayer session.
type SessionStatus string

const (
	StatusLobby   SessionStatus = "lobby"
	StatusPlaying SessionStatus = "playing"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

// Active reports whether the session still holds its join code and players.
func (s SessionStatus) Active() bool {
	return s != StatusEnded
}

// Session is the durable record of one multiplayer game. GameState is nil in
// lobby and StateVersion is 0 until the game starts; afterwards StateVersion
// increments atomically with every persisted state write.
type Session struct {
	ID           string
	JoinCode     string
	DMUserID     string
	Status       SessionStatus
	Config       SessionConfig
	GameState    *sim.GameState
	StateVersion uint64
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
	EndReason    string
}

// PlayerStatus tracks a member's connection standing within a session.
type PlayerStatus string

const (
	PlayerConnected    PlayerStatus = "connected"
	PlayerDisconnected PlayerStatus = "disconnected"
	PlayerSpectating   PlayerStatus = "spectating"
)

// SessionPlayer is one member row; (SessionID, UserID) is the natural key.
// UnitID is empty in lobby and assigned when the game starts.
type SessionPlayer struct {
	SessionID   string
	UserID      string
	CharacterID string
	UnitID      string
	Status      PlayerStatus
	IsReady     bool
	JoinedAt    time.Time
	LastSeenAt  time.Time
}

// SessionArchive is the write-once record of an ended session.
type SessionArchive struct {
	ID              string
	DMUserID        string
	Config          SessionConfig
	FinalState      *sim.GameState
	EventLog        []sim.Event
	PlayerResults   []PlayerResult
	PlayedAt        time.Time
	DurationSeconds int
}

// PlayerResult summarizes one player's rewards at game end.
type PlayerResult struct {
	UserID      string `json:"userId"`
	CharacterID string `json:"characterId"`
	XPGained    int    `json:"xpGained"`
	GoldGained  int    `json:"goldGained"`
	Survived    bool   `json:"survived"`
}

// SessionConfig is the client-supplied per-session configuration.
type SessionConfig struct {
	MaxPlayers      int            `json:"maxPlayers"`
	MapSeed         uint64         `json:"mapSeed"`
	Difficulty      sim.Difficulty `json:"difficulty"`
	TurnTimeLimit   int            `json:"turnTimeLimit"` // seconds, 0 disables
	MonsterCount    int            `json:"monsterCount"`
	PlayerMoveRange int            `json:"playerMoveRange"`
	AllowLateJoin   bool           `json:"allowLateJoin"`
	NPCCount        int            `json:"npcCount"`
	NPCClasses      []sim.Class    `json:"npcClasses"`
}

// DefaultSessionConfig returns the documented defaults. MapSeed is filled by
// the caller when left zero.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxPlayers:      4,
		Difficulty:      sim.DifficultyNormal,
		MonsterCount:    3,
		PlayerMoveRange: 3,
	}
}

// sessionConfigKeys is the closed set of recognized config keys.
var sessionConfigKeys = map[string]struct{}{
	"maxPlayers": {}, "mapSeed": {}, "difficulty": {}, "turnTimeLimit": {},
	"monsterCount": {}, "playerMoveRange": {}, "allowLateJoin": {},
	"npcCount": {}, "npcClasses": {},
}

// ParseSessionConfig decodes a raw config object over the defaults. Unknown
// keys and out-of-range values are rejected so a typo never silently falls
// back to a default.
func ParseSessionConfig(raw json.RawMessage) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if len(raw) == 0 {
		return cfg, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return cfg, fmt.Errorf("config is not an object: %w", err)
	}
	for k := range keys {
		if _, known := sessionConfigKeys[k]; !known {
			return cfg, fmt.Errorf("unknown config key %q", k)
		}
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate enforces the documented value ranges.
func (c SessionConfig) Validate() error {
	if c.MaxPlayers < 1 || c.MaxPlayers > 9 {
		return fmt.Errorf("maxPlayers %d out of range [1,9]", c.MaxPlayers)
	}
	switch c.Difficulty {
	case sim.DifficultyEasy, sim.DifficultyNormal, sim.DifficultyHard:
	default:
		return fmt.Errorf("unknown difficulty %q", c.Difficulty)
	}
	if c.TurnTimeLimit < 0 {
		return fmt.Errorf("turnTimeLimit must not be negative")
	}
	if c.MonsterCount < 0 {
		return fmt.Errorf("monsterCount must not be negative")
	}
	if c.PlayerMoveRange < 1 {
		return fmt.Errorf("playerMoveRange must be at least 1")
	}
	if c.NPCCount < 0 {
		return fmt.Errorf("npcCount must not be negative")
	}
	for _, cl := range c.NPCClasses {
		if !sim.ValidClass(cl) {
			return fmt.Errorf("unknown npc class %q", cl)
		}
	}
	return nil
}
