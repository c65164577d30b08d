package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/udisondev/warband/internal/model"
)

// UserRepository persists identity records keyed by external subject ID.
type UserRepository struct {
	db *DB
}

// NewUserRepository returns a repository over the shared pool.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertOnLogin creates the user on first authenticated connection or
// refreshes display name, email, IP and last-login on subsequent ones.
func (r *UserRepository) UpsertOnLogin(ctx context.Context, u *model.User) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, email, last_ip, created_at, last_login_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $5)
		 ON CONFLICT (id) DO UPDATE SET
		     display_name  = EXCLUDED.display_name,
		     email         = COALESCE(EXCLUDED.email, users.email),
		     last_ip       = COALESCE(EXCLUDED.last_ip, users.last_ip),
		     last_login_at = EXCLUDED.last_login_at`,
		u.ID, u.DisplayName, u.Email, u.LastIP, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

// Get returns the user or nil when unknown.
func (r *UserRepository) Get(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var (
		u         model.User
		email     *string
		lastIP    *string
		lastLogin *time.Time
	)
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, display_name, email, last_ip, created_at, last_login_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &email, &lastIP, &u.CreatedAt, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %q: %w", id, err)
	}
	if email != nil {
		u.Email = *email
	}
	if lastIP != nil {
		u.LastIP = *lastIP
	}
	if lastLogin != nil {
		u.LastLoginAt = *lastLogin
	}
	return &u, nil
}
