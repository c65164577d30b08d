package sim

import "github.com/udisondev/warband/internal/game/geo"

// ActionType discriminates client action requests.
type ActionType string

const (
	ActionMove       ActionType = "move"
	ActionAttack     ActionType = "attack"
	ActionEndTurn    ActionType = "end_turn"
	ActionUseAbility ActionType = "use_ability"
)

// Action is a request to mutate combat state during a turn. Fields beyond
// UnitID are populated per type: Path for move, TargetID for attack and some
// abilities, AbilityID for use_ability.
type Action struct {
	Type      ActionType     `json:"type"`
	UnitID    string         `json:"unitId"`
	Path      []geo.Position `json:"path,omitempty"`
	TargetID  string         `json:"targetId,omitempty"`
	AbilityID string         `json:"abilityId,omitempty"`
}

// Reason is a stable machine-readable validation failure code.
type Reason string

const (
	ReasonNotInProgress     Reason = "not_in_progress"
	ReasonNotYourTurn       Reason = "not_your_turn"
	ReasonUnitNotFound      Reason = "unit_not_found"
	ReasonTargetNotFound    Reason = "target_not_found"
	ReasonTargetDead        Reason = "target_dead"
	ReasonOutOfRange        Reason = "out_of_range"
	ReasonNoLineOfSight     Reason = "no_line_of_sight"
	ReasonAlreadyActed      Reason = "already_acted"
	ReasonInsufficientMoves Reason = "insufficient_moves"
	ReasonInvalidPath       Reason = "invalid_path"
	ReasonBlockedTile       Reason = "blocked_tile"
	ReasonUnknownAbility    Reason = "unknown_ability"
	ReasonUnknownAction     Reason = "unknown_action"
)

// Verdict is the result of validating an action.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

func ok() Verdict           { return Verdict{Valid: true} }
func fail(r Reason) Verdict { return Verdict{Valid: false, Reason: r} }
