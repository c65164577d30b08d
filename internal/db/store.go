package db

import (
	"context"

	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
)

// Store bundles the repositories behind the single surface the session
// coordinator consumes.
type Store struct {
	Users      *UserRepository
	Characters *CharacterRepository
	Sessions   *SessionRepository
}

// NewStore wires the repositories over one pool.
func NewStore(db *DB) *Store {
	return &Store{
		Users:      NewUserRepository(db),
		Characters: NewCharacterRepository(db),
		Sessions:   NewSessionRepository(db),
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	return s.Sessions.Create(ctx, sess)
}

func (s *Store) GetActiveByJoinCode(ctx context.Context, code string) (*model.Session, error) {
	return s.Sessions.GetActiveByJoinCode(ctx, code)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, endReason string) error {
	return s.Sessions.UpdateStatus(ctx, id, status, endReason)
}

func (s *Store) UpdateGameState(ctx context.Context, id string, state *sim.GameState, newVersion uint64) error {
	return s.Sessions.UpdateGameState(ctx, id, state, newVersion)
}

func (s *Store) AppendEvents(ctx context.Context, sessionID string, events []sim.Event) error {
	return s.Sessions.AppendEvents(ctx, sessionID, events)
}

func (s *Store) UpsertPlayer(ctx context.Context, p *model.SessionPlayer) error {
	return s.Sessions.UpsertPlayer(ctx, p)
}

func (s *Store) RemovePlayer(ctx context.Context, sessionID, userID string) error {
	return s.Sessions.RemovePlayer(ctx, sessionID, userID)
}

func (s *Store) Archive(ctx context.Context, a *model.SessionArchive, sessionID string) error {
	return s.Sessions.Archive(ctx, a, sessionID)
}

func (s *Store) GetCharacter(ctx context.Context, id string) (*model.Character, error) {
	return s.Characters.Get(ctx, id)
}

func (s *Store) ApplyProgression(ctx context.Context, id string, xp, gold, monstersSlain, gamesPlayed int) error {
	return s.Characters.ApplyProgression(ctx, id, xp, gold, monstersSlain, gamesPlayed)
}
