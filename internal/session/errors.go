// Package session implements the session coordinator: lifecycle FSM, lobby
// operations, authoritative action dispatch, turn and grace timers, and
// end-of-game archival. Each live session is owned by exactly one goroutine
// reading a mailbox channel, so everything inside a session runs serialized
// and lock-free; sessions run in parallel with each other.
package session

import "fmt"

// Error is a client-facing failure with a stable code from the protocol's
// documented set. Anything else that escapes a coordinator is an internal
// error and is never shown to clients verbatim.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf builds a client-facing error.
func Errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
