package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const defaultTouchTimeout = 2 * time.Second

// Validator resolves presented bearer tokens to a Principal.
type Validator struct {
	tokens       TokenStore
	users        UserStore
	logger       Logger
	now          func() time.Time
	touchTimeout time.Duration
}

func NewValidator(tokens TokenStore, users UserStore, logger Logger) *Validator {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Validator{
		tokens:       tokens,
		users:        users,
		logger:       logger,
		now:          time.Now,
		touchTimeout: defaultTouchTimeout,
	}
}

// Validate returns ErrUnauthorized for every credential problem and a
// *TransientError when storage could not answer.
func (v *Validator) Validate(ctx context.Context, plain string) (Principal, error) {
	id, secret, ok := parsePlainText(plain)
	if !ok {
		return v.reject("malformed", "")
	}
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return v.reject("malformed", "")
		}
	}

	hash := HashSecret(secret)

	var (
		token AccessToken
		err   error
	)
	if id != "" {
		token, err = v.tokens.GetToken(ctx, id)
	} else {
		token, err = v.tokens.GetTokenByHash(ctx, hash)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.reject("unknown_token", id)
		}
		return Principal{}, transient("lookup access token", err)
	}

	if !hashesEqual(token.TokenHash, hash) {
		return v.reject("hash_mismatch", token.ID)
	}

	now := v.now().UTC()
	if token.Expired(now) {
		return v.reject("expired", token.ID)
	}

	user, err := v.users.GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.reject("orphaned_token", token.ID)
		}
		return Principal{}, transient("lookup token owner", err)
	}

	v.touch(ctx, token.ID, now)
	token.LastUsedAt = &now

	return Principal{User: user, Token: token}, nil
}

func (v *Validator) reject(reason, tokenID string) (Principal, error) {
	fields := map[string]any{"reason": reason}
	if tokenID != "" {
		fields["token_id"] = tokenID
	}
	v.logger.Info("access_token_rejected", fields)
	return Principal{}, ErrUnauthorized
}

// touch records last use off the request path; a lost update is acceptable.
func (v *Validator) touch(ctx context.Context, tokenID string, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.touchTimeout)
		defer cancel()

		if err := v.tokens.TouchToken(ctx, tokenID, at); err != nil {
			v.logger.Warn("access_token_touch_failed", map[string]any{
				"token_id": tokenID,
				"error":    err.Error(),
			})
		}
	}()
}
