package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/udisondev/warband/internal/model"
)

// CharacterRepository persists characters. Persona and progression writes go
// through separate methods: UpdatePersona is the only client-reachable
// mutation and cannot touch progression columns.
type CharacterRepository struct {
	db *DB
}

// NewCharacterRepository returns a repository over the shared pool.
func NewCharacterRepository(db *DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create inserts a new character from a validated persona.
func (r *CharacterRepository) Create(ctx context.Context, userID string, p model.Persona) (*model.Character, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona: %w", err)
	}

	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	now := time.Now()
	c := &model.Character{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       p.Name,
		Class:      p.Class,
		Appearance: p.Appearance,
		Backstory:  p.Backstory,
		Inventory:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO characters (id, user_id, name, class, appearance, backstory, inventory, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), '[]', $7, $7)`,
		c.ID, c.UserID, c.Name, c.Class, c.Appearance, c.Backstory, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating character for user %q: %w", userID, err)
	}
	return c, nil
}

// Get returns a character by ID, or nil when unknown.
func (r *CharacterRepository) Get(ctx context.Context, id string) (*model.Character, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	row := r.db.pool.QueryRow(ctx, characterSelect+` WHERE id = $1`, id)
	c, err := scanCharacter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying character %q: %w", id, err)
	}
	return c, nil
}

// ListByUser returns all characters owned by a user.
func (r *CharacterRepository) ListByUser(ctx context.Context, userID string) ([]*model.Character, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	rows, err := r.db.pool.Query(ctx, characterSelect+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing characters for user %q: %w", userID, err)
	}
	defer rows.Close()

	var out []*model.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdatePersona rewrites the client-authored fields of a character the user
// owns. Progression columns are not reachable from here.
func (r *CharacterRepository) UpdatePersona(ctx context.Context, id, userID string, p model.Persona) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid persona: %w", err)
	}

	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	tag, err := r.db.pool.Exec(ctx,
		`UPDATE characters
		 SET name = $3, class = $4, appearance = $5, backstory = NULLIF($6, ''), updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, p.Name, p.Class, p.Appearance, p.Backstory,
	)
	if err != nil {
		return fmt.Errorf("updating persona of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("character %q not found or not owned by %q", id, userID)
	}
	return nil
}

// ApplyProgression adds simulation outcomes or DM grants to the
// server-authoritative fields. Level is a generated column and follows xp.
func (r *CharacterRepository) ApplyProgression(ctx context.Context, id string, xp, gold, monstersSlain, gamesPlayed int) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	tag, err := r.db.pool.Exec(ctx,
		`UPDATE characters
		 SET xp = xp + $2, gold = gold + $3,
		     monsters_slain = monsters_slain + $4, games_played = games_played + $5,
		     updated_at = now()
		 WHERE id = $1`,
		id, xp, gold, monstersSlain, gamesPlayed,
	)
	if err != nil {
		return fmt.Errorf("applying progression to %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("character %q not found", id)
	}
	return nil
}

const characterSelect = `
	SELECT id, user_id, name, class, appearance, COALESCE(backstory, ''),
	       xp, gold, silver, inventory, games_played, monsters_slain,
	       created_at, updated_at
	FROM characters`

func scanCharacter(row pgx.Row) (*model.Character, error) {
	var (
		c         model.Character
		inventory []byte
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Class, &c.Appearance, &c.Backstory,
		&c.XP, &c.Gold, &c.Silver, &inventory, &c.GamesPlayed, &c.MonstersSlain,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inventory, &c.Inventory); err != nil {
		return nil, fmt.Errorf("decoding inventory of %q: %w", c.ID, err)
	}
	return &c, nil
}
