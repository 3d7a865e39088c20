package auth

import "context"

type Revoker struct {
	tokens TokenStore
}

func NewRevoker(tokens TokenStore) *Revoker {
	return &Revoker{tokens: tokens}
}

// RevokeOne deletes a single token owned by userID. Unknown tokens are not an
// error so logout stays idempotent.
func (r *Revoker) RevokeOne(ctx context.Context, userID, tokenID string) error {
	if _, err := r.tokens.DeleteToken(ctx, userID, tokenID); err != nil {
		return transient("revoke access token", err)
	}
	return nil
}

func (r *Revoker) RevokeAll(ctx context.Context, userID string) (int64, error) {
	deleted, err := r.tokens.DeleteUserTokens(ctx, userID)
	if err != nil {
		return 0, transient("revoke user access tokens", err)
	}
	return deleted, nil
}
