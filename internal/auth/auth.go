// Package auth validates the bearer credential presented at connection
// time and resolves it to a live user. Token issuance belongs to an
// external issuer; this side only verifies.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

// UserDirectory resolves a token subject to an active user record. A
// deleted or deactivated user must come back as an error.
type UserDirectory interface {
	Resolve(ctx context.Context, userID string) (models.Identity, error)
}

type Authenticator struct {
	secret []byte
	dir    UserDirectory
}

func NewAuthenticator(secret string, dir UserDirectory) *Authenticator {
	return &Authenticator{secret: []byte(secret), dir: dir}
}

// Authenticate verifies signature and expiry, then resolves the subject.
// Any failure refuses the connection; there is no per-event re-check.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, errs.Auth("missing token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, errs.Wrap(errs.CodeAuth, "token expired", err)
		}
		return models.Identity{}, errs.Wrap(errs.CodeAuth, "invalid token", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, errs.Auth("invalid token claims")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return models.Identity{}, errs.Auth("invalid token claims")
	}

	ident, err := a.dir.Resolve(ctx, userID)
	if err != nil {
		return models.Identity{}, err
	}
	return ident, nil
}
