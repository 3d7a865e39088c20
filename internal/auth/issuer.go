package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Issuer mints bearer tokens and persists their hashes.
type Issuer struct {
	tokens TokenStore
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A ttl of zero issues tokens that never expire.
func NewIssuer(tokens TokenStore, ttl time.Duration) *Issuer {
	if ttl < 0 {
		ttl = 0
	}
	return &Issuer{tokens: tokens, ttl: ttl, now: time.Now}
}

// Mint builds a token row and its plaintext without persisting anything.
func (i *Issuer) Mint(userID, name string, abilities ...string) (NewAccessToken, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return NewAccessToken{}, fmt.Errorf("generate token id: %w", err)
	}
	secret, err := randomSecret()
	if err != nil {
		return NewAccessToken{}, fmt.Errorf("generate token secret: %w", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTokenName
	}
	if len(abilities) == 0 {
		abilities = []string{AbilityAll}
	}

	now := i.now().UTC()
	token := AccessToken{
		ID:        id.String(),
		UserID:    userID,
		Name:      name,
		TokenHash: HashSecret(secret),
		Abilities: append([]string(nil), abilities...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if i.ttl > 0 {
		expiresAt := now.Add(i.ttl)
		token.ExpiresAt = &expiresAt
	}

	return NewAccessToken{
		AccessToken: token,
		PlainText:   formatPlainText(token.ID, secret),
	}, nil
}

// Issue revokes every token the user holds and stores a new one in the same
// transaction. The plaintext is returned only after the write committed.
func (i *Issuer) Issue(ctx context.Context, user User, name string, abilities ...string) (NewAccessToken, error) {
	issued, err := i.Mint(user.ID, name, abilities...)
	if err != nil {
		return NewAccessToken{}, err
	}
	if err := i.tokens.ReplaceUserTokens(ctx, issued.AccessToken); err != nil {
		return NewAccessToken{}, transient("persist access token", err)
	}
	return issued, nil
}
