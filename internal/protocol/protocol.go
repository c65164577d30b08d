// Package protocol defines the JSON message protocol spoken over the
// websocket: request/response/push envelopes, the typed payloads behind
// them, and the stable error and close-reason codes. A single decode step
// turns a raw frame into a typed value; nothing past this package inspects
// raw JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxFrameSize bounds a single frame. Oversize frames close the connection
// with ClosePayloadTooLarge.
const MaxFrameSize = 64 * 1024

// Request message types (client to server).
const (
	TypeAuthenticate    = "authenticate"
	TypeCreateGame      = "create_game"
	TypeJoinGame        = "join_game"
	TypeLeaveGame       = "leave_game"
	TypeReady           = "ready"
	TypeStartGame       = "start_game"
	TypeAction          = "action"
	TypeDMCommand       = "dm_command"
	TypeRequestResync   = "request_resync"
	TypeChat            = "chat"
	TypePing            = "ping"
	TypeCreateCharacter = "create_character"
	TypeUpdateCharacter = "update_character"
	TypeListCharacters  = "list_characters"
)

// Push message types (server to client, unsolicited).
const (
	TypeAuthenticated  = "authenticated"
	TypeError          = "error"
	TypeSessionJoined  = "session_joined"
	TypeSessionUpdated = "session_updated"
	TypeStateSnapshot  = "state_snapshot"
	TypeStateDelta     = "state_delta"
	TypePlayerEvent    = "player_event"
	TypeChatMessage    = "chat_message"
	TypePong           = "pong"
)

// Close reasons (server-initiated).
const (
	CloseAuthFailed      = "auth_failed"
	CloseSuperseded      = "superseded"
	CloseTimeout         = "timeout"
	CloseBackpressure    = "backpressure"
	ClosePayloadTooLarge = "payload_too_large"
	CloseServerShutdown  = "server_shutdown"
	CloseProtocolError   = "protocol_error"
)

// Stable error codes returned to clients. Validation reasons from the
// simulation pass through verbatim; these cover the protocol and session
// layers.
const (
	ErrInvalidPayload      = "invalid_payload"
	ErrUnknownType         = "unknown_type"
	ErrNotAuthenticated    = "not_authenticated"
	ErrInvalidConfig       = "invalid_config"
	ErrSessionNotFound     = "session_not_found"
	ErrSessionFull         = "session_full"
	ErrSessionStarted      = "session_started"
	ErrAlreadyInSession    = "already_in_session"
	ErrNotInSession        = "not_in_session"
	ErrCharacterNotOwned   = "character_not_owned"
	ErrNotDM               = "not_dm"
	ErrNotInLobby          = "not_in_lobby"
	ErrPlayersNotReady     = "players_not_ready"
	ErrNotYourUnit         = "not_your_unit"
	ErrProgressionReadonly = "progression_readonly"
	ErrChatTooLong         = "chat_too_long"
	ErrPersistFailed       = "persist_failed"
	ErrStateConflict       = "state_conflict"
	ErrInternal            = "internal_error"
)

// Request is the client-to-server envelope. Seq is client-assigned and
// monotonically increasing; the server echoes it on the matching response.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"seq"`
	TS      int64           `json:"ts,omitempty"`
}

// Response answers one request, matched by ReqSeq.
type Response struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	ReqSeq  uint64 `json:"reqSeq"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Push is an unsolicited server-to-client message. ServerSeq is
// session-monotonic so clients can detect gaps.
type Push struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	ServerSeq uint64 `json:"serverSeq,omitempty"`
	TS        int64  `json:"ts"`
}

// NewPush stamps the wall clock on an outbound push.
func NewPush(typ string, payload any, serverSeq uint64) Push {
	return Push{Type: typ, Payload: payload, ServerSeq: serverSeq, TS: time.Now().UnixMilli()}
}

// OKResponse builds a success response echoing the request seq.
func OKResponse(reqType string, reqSeq uint64, payload any) Response {
	return Response{
		Type:    reqType + "_response",
		Payload: payload,
		ReqSeq:  reqSeq,
		Success: true,
	}
}

// ErrResponse builds a failure response with a stable code and a human
// message. Internal detail never leaks here.
func ErrResponse(reqType string, reqSeq uint64, code, message string) Response {
	return Response{
		Type:    reqType + "_response",
		ReqSeq:  reqSeq,
		Success: false,
		Error:   code,
		Message: message,
	}
}

// ErrorEnvelope reports a failure that cannot be tied to a known request
// type, such as an unrecognized type tag. The seq still echoes back so the
// client can release the pending request.
func ErrorEnvelope(reqSeq uint64, code, message string) Response {
	return Response{
		Type:    TypeError,
		ReqSeq:  reqSeq,
		Success: false,
		Error:   code,
		Message: message,
	}
}

// DecodeRequest parses and size-checks one inbound frame.
func DecodeRequest(frame []byte) (Request, error) {
	if len(frame) > MaxFrameSize {
		return Request{}, fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return Request{}, fmt.Errorf("malformed frame: %w", err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("frame missing type")
	}
	return req, nil
}

// DecodePayload unmarshals a request payload into its typed struct.
func DecodePayload[T any](req Request) (T, error) {
	var v T
	if len(req.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(req.Payload, &v); err != nil {
		return v, fmt.Errorf("decoding %s payload: %w", req.Type, err)
	}
	return v, nil
}
