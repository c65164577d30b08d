package sim

import (
	"time"

	"github.com/udisondev/warband/internal/game/geo"
)

// EventType tags entries of the append-only session event log.
type EventType string

const (
	EventCombatStarted      EventType = "combat_started"
	EventTurnStarted        EventType = "turn_started"
	EventTurnEnded          EventType = "turn_ended"
	EventUnitMoved          EventType = "unit_moved"
	EventUnitAttacked       EventType = "unit_attacked"
	EventUnitDamaged        EventType = "unit_damaged"
	EventUnitKilled         EventType = "unit_killed"
	EventUnitUsedAbility    EventType = "unit_used_ability"
	EventCombatEnded        EventType = "combat_ended"
	EventPlayerJoined       EventType = "player_joined"
	EventPlayerLeft         EventType = "player_left"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerReconnected  EventType = "player_reconnected"
	EventChatMessage        EventType = "chat_message"
	EventDMCommandApplied   EventType = "dm_command_applied"
)

// Event is one authoritative state-changing fact. Seq is assigned by the
// session coordinator when the event is appended to the log; TS is the
// wall-clock passed into the producing operation.
type Event struct {
	Seq     uint64    `json:"seq"`
	TS      time.Time `json:"ts"`
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Event payloads. Damage events carry resolved values (never rolls), so
// applying a log to a state mirror requires no RNG.

type CombatStarted struct {
	Round           int               `json:"round"`
	InitiativeOrder []InitiativeEntry `json:"initiativeOrder"`
}

type TurnStarted struct {
	UnitID string `json:"unitId"`
	Round  int    `json:"round"`
}

type TurnEnded struct {
	UnitID string `json:"unitId"`
}

type UnitMoved struct {
	UnitID string         `json:"unitId"`
	From   geo.Position   `json:"from"`
	To     geo.Position   `json:"to"`
	Path   []geo.Position `json:"path"`
}

type UnitAttacked struct {
	AttackerID string `json:"attackerId"`
	TargetID   string `json:"targetId"`
	Damage     int    `json:"damage"`
}

type UnitDamaged struct {
	UnitID string `json:"unitId"`
	Amount int    `json:"amount"`
	NewHP  int    `json:"newHp"`
}

type UnitKilled struct {
	UnitID string `json:"unitId"`
}

type UnitUsedAbility struct {
	UnitID    string `json:"unitId"`
	AbilityID string `json:"abilityId"`
	TargetID  string `json:"targetId,omitempty"`
	Effects   []UnitDamaged `json:"effects,omitempty"`
	MoveBonus int    `json:"moveBonus,omitempty"`
}

type CombatEnded struct {
	Outcome Phase `json:"outcome"`
}

type PlayerJoined struct {
	UserID      string `json:"userId"`
	CharacterID string `json:"characterId"`
}

type PlayerLeft struct {
	UserID string `json:"userId"`
}

type PlayerDisconnected struct {
	UserID string `json:"userId"`
}

type PlayerReconnected struct {
	UserID string `json:"userId"`
}

type ChatMessage struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

type DMCommandApplied struct {
	Command string `json:"command"`
	Detail  any    `json:"detail,omitempty"`
}

func event(ts time.Time, typ EventType, payload any) Event {
	return Event{TS: ts, Type: typ, Payload: payload}
}
