package auth

import (
	"context"
	"time"
)

// UserStore persists user identities. Implementations must enforce email
// uniqueness themselves and report a collision as ErrDuplicateEmail.
type UserStore interface {
	CreateUserWithToken(ctx context.Context, user User, token AccessToken) error
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdatePasswordWithToken(ctx context.Context, userID, passwordHash string, token AccessToken) error
}

// TokenStore persists access tokens. Lookups return ErrNotFound for missing
// rows.
type TokenStore interface {
	ReplaceUserTokens(ctx context.Context, token AccessToken) error
	GetToken(ctx context.Context, id string) (AccessToken, error)
	GetTokenByHash(ctx context.Context, tokenHash string) (AccessToken, error)
	TouchToken(ctx context.Context, id string, usedAt time.Time) error
	DeleteToken(ctx context.Context, userID, id string) (int64, error)
	DeleteUserTokens(ctx context.Context, userID string) (int64, error)
}

type AttemptStore interface {
	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}
