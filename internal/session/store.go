package session

import (
	"context"

	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
)

// Store is the durable side of the coordinator. Implemented by the db
// package; narrowed to an interface so coordinator tests run against an
// in-memory fake.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetActiveByJoinCode(ctx context.Context, code string) (*model.Session, error)
	UpdateStatus(ctx context.Context, id string, status model.SessionStatus, endReason string) error
	UpdateGameState(ctx context.Context, id string, state *sim.GameState, newVersion uint64) error
	AppendEvents(ctx context.Context, sessionID string, events []sim.Event) error
	UpsertPlayer(ctx context.Context, p *model.SessionPlayer) error
	RemovePlayer(ctx context.Context, sessionID, userID string) error
	Archive(ctx context.Context, a *model.SessionArchive, sessionID string) error

	GetCharacter(ctx context.Context, id string) (*model.Character, error)
	ApplyProgression(ctx context.Context, id string, xp, gold, monstersSlain, gamesPlayed int) error
}

// Broadcaster is the connection-manager surface the coordinator pushes
// through. Send and Broadcast never block the caller; slow connections are
// the connection manager's problem.
type Broadcaster interface {
	Send(userID string, msg protocol.Push)
	Broadcast(sessionID string, msg protocol.Push, excludeUserID string)
	AddToSession(sessionID, userID string)
	RemoveFromSession(sessionID, userID string)
	CloseSession(sessionID string, reason string)
}
