package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
)

// ErrVersionConflict is returned when an optimistic state write loses.
// With one writer per session this indicates a bug or a second process on
// the same database; the coordinator surfaces it as state_conflict.
var ErrVersionConflict = errors.New("state version conflict")

// SessionRepository persists session aggregates, their player rosters and
// the append-only event log.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository returns a repository over the shared pool.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a fresh lobby session.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = r.db.pool.Exec(ctx,
		`INSERT INTO sessions (id, join_code, dm_user_id, status, config, state_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		s.ID, s.JoinCode, s.DMUserID, s.Status, cfg, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating session %q: %w", s.ID, err)
	}
	return nil
}

// Get returns a session by ID, or nil when unknown.
func (r *SessionRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	row := r.db.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, id)
	return scanSession(row)
}

// GetActiveByJoinCode returns the non-ended session holding the code, or
// nil. Codes are stored uppercase and compared case-insensitively.
func (r *SessionRepository) GetActiveByJoinCode(ctx context.Context, code string) (*model.Session, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	row := r.db.pool.QueryRow(ctx,
		sessionSelect+` WHERE join_code = $1 AND status <> 'ended'`,
		strings.ToUpper(code))
	return scanSession(row)
}

// UpdateStatus transitions the lifecycle column and its timestamps.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, endReason string) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var err error
	switch status {
	case model.StatusPlaying:
		_, err = r.db.pool.Exec(ctx,
			`UPDATE sessions SET status = $2, started_at = COALESCE(started_at, now()) WHERE id = $1`,
			id, status)
	case model.StatusEnded:
		_, err = r.db.pool.Exec(ctx,
			`UPDATE sessions SET status = $2, end_reason = NULLIF($3, ''), ended_at = now() WHERE id = $1`,
			id, status, endReason)
	default:
		_, err = r.db.pool.Exec(ctx,
			`UPDATE sessions SET status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("updating session %q to %s: %w", id, status, err)
	}
	return nil
}

// UpdateGameState persists a new authoritative state under optimistic
// concurrency: the write succeeds only if the stored version is exactly
// newVersion-1. On a lost race it returns ErrVersionConflict.
func (r *SessionRepository) UpdateGameState(ctx context.Context, id string, state *sim.GameState, newVersion uint64) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding game state: %w", err)
	}
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE sessions SET game_state = $2, state_version = $3
		 WHERE id = $1 AND state_version = $3 - 1`,
		id, encoded, newVersion,
	)
	if err != nil {
		return fmt.Errorf("persisting state v%d of session %q: %w", newVersion, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q state v%d: %w", id, newVersion, ErrVersionConflict)
	}
	return nil
}

// AppendEvents appends an ordered batch to the session's event log. Seq
// values are assigned by the coordinator and unique per session; the
// primary key enforces that no two events share (session, seq).
func (r *SessionRepository) AppendEvents(ctx context.Context, sessionID string, events []sim.Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encoding event %d payload: %w", ev.Seq, err)
		}
		batch.Queue(
			`INSERT INTO session_events (session_id, seq, ts, type, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			sessionID, ev.Seq, ev.TS, ev.Type, payload)
	}
	if err := r.db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("appending %d events to session %q: %w", len(events), sessionID, err)
	}
	return nil
}

// UpsertPlayer inserts or refreshes a member row. (session_id, user_id) is
// the natural key, so re-joining is idempotent.
func (r *SessionRepository) UpsertPlayer(ctx context.Context, p *model.SessionPlayer) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO session_players (session_id, user_id, character_id, unit_id, status, is_ready, joined_at, last_seen_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		 ON CONFLICT (session_id, user_id) DO UPDATE SET
		     character_id = EXCLUDED.character_id,
		     unit_id      = EXCLUDED.unit_id,
		     status       = EXCLUDED.status,
		     is_ready     = EXCLUDED.is_ready,
		     last_seen_at = EXCLUDED.last_seen_at`,
		p.SessionID, p.UserID, p.CharacterID, p.UnitID, p.Status, p.IsReady, p.JoinedAt, p.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("upserting player %q in session %q: %w", p.UserID, p.SessionID, err)
	}
	return nil
}

// RemovePlayer deletes a member row.
func (r *SessionRepository) RemovePlayer(ctx context.Context, sessionID, userID string) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.pool.Exec(ctx,
		`DELETE FROM session_players WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID)
	if err != nil {
		return fmt.Errorf("removing player %q from session %q: %w", userID, sessionID, err)
	}
	return nil
}

// ListPlayers returns the roster in join order.
func (r *SessionRepository) ListPlayers(ctx context.Context, sessionID string) ([]*model.SessionPlayer, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	rows, err := r.db.pool.Query(ctx,
		`SELECT session_id, user_id, character_id, COALESCE(unit_id, ''), status, is_ready, joined_at, last_seen_at
		 FROM session_players WHERE session_id = $1 ORDER BY joined_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing players of session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*model.SessionPlayer
	for rows.Next() {
		var p model.SessionPlayer
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.CharacterID, &p.UnitID,
			&p.Status, &p.IsReady, &p.JoinedAt, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Archive moves an ended session into session_archives in one transaction:
// the archive row is written, the event log rows are dropped, and the
// session row is closed out. Archives are write-once.
func (r *SessionRepository) Archive(ctx context.Context, a *model.SessionArchive, sessionID string) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("encoding archive config: %w", err)
	}
	finalState, err := json.Marshal(a.FinalState)
	if err != nil {
		return fmt.Errorf("encoding final state: %w", err)
	}
	eventLog, err := json.Marshal(a.EventLog)
	if err != nil {
		return fmt.Errorf("encoding event log: %w", err)
	}
	results, err := json.Marshal(a.PlayerResults)
	if err != nil {
		return fmt.Errorf("encoding player results: %w", err)
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO session_archives (id, dm_user_id, config, final_state, event_log, player_results, played_at, duration_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.DMUserID, cfg, finalState, eventLog, results, a.PlayedAt, a.DurationSeconds)
	if err != nil {
		return fmt.Errorf("inserting archive %q: %w", a.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM session_events WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clearing event log of session %q: %w", sessionID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET status = 'ended', ended_at = COALESCE(ended_at, now()) WHERE id = $1`,
		sessionID); err != nil {
		return fmt.Errorf("closing session %q: %w", sessionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing archive of session %q: %w", sessionID, err)
	}
	return nil
}

const sessionSelect = `
	SELECT id, join_code, dm_user_id, status, config, game_state, state_version,
	       COALESCE(end_reason, ''), created_at, started_at, ended_at
	FROM sessions`

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s         model.Session
		cfg       []byte
		gameState []byte
	)
	err := row.Scan(&s.ID, &s.JoinCode, &s.DMUserID, &s.Status, &cfg, &gameState,
		&s.StateVersion, &s.EndReason, &s.CreatedAt, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if err := json.Unmarshal(cfg, &s.Config); err != nil {
		return nil, fmt.Errorf("decoding config of %q: %w", s.ID, err)
	}
	if len(gameState) > 0 {
		s.GameState = &sim.GameState{}
		if err := json.Unmarshal(gameState, s.GameState); err != nil {
			return nil, fmt.Errorf("decoding game state of %q: %w", s.ID, err)
		}
	}
	return &s, nil
}
