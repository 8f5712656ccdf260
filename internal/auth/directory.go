package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

// PGDirectory resolves users against the shared users table.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) Resolve(ctx context.Context, userID string) (models.Identity, error) {
	var ident models.Identity
	var active bool
	err := d.pool.QueryRow(ctx,
		`SELECT id, username, is_active FROM users WHERE id = $1`, userID,
	).Scan(&ident.ID, &ident.Username, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Identity{}, errs.Auth("unknown user")
	}
	if err != nil {
		return models.Identity{}, errs.Wrap(errs.CodeStoreUnavailable, "user lookup failed", err)
	}
	if !active {
		return models.Identity{}, errs.Auth("user is inactive")
	}
	return ident, nil
}

// StaticDirectory serves a fixed user set, for tests.
type StaticDirectory map[string]models.Identity

func (d StaticDirectory) Resolve(_ context.Context, userID string) (models.Identity, error) {
	ident, ok := d[userID]
	if !ok {
		return models.Identity{}, errs.Auth("unknown user")
	}
	return ident, nil
}
