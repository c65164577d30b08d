package session

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// joinCodeAlphabet drops the ambiguous I, O, 0 and 1.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// joinCodeLen is the length of every join code.
const joinCodeLen = 6

// joinCodeAttempts bounds collision retries on create.
const joinCodeAttempts = 10

// newJoinCode returns a random 6-character code from the reduced alphabet.
// Codes identify lobbies to humans, not secrets, but crypto/rand keeps them
// unguessable enough to stop join-code scanning.
func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading randomness for join code: %w", err)
	}
	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(joinCodeAlphabet[int(c)%len(joinCodeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeJoinCode uppercases a client-supplied code for comparison.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
