package auth

import "time"

const (
	// TokenType is echoed to clients next to every issued token.
	TokenType = "Bearer"

	// DefaultTokenName labels tokens issued by login and registration.
	DefaultTokenName = "auth_token"

	// AbilityAll grants every ability.
	AbilityAll = "*"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccessToken is the persisted form of a bearer token. The plaintext secret
// is never part of it.
type AccessToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	Abilities  []string   `json:"abilities"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (t AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

func (t AccessToken) Can(ability string) bool {
	for _, a := range t.Abilities {
		if a == AbilityAll || a == ability {
			return true
		}
	}
	return false
}

// NewAccessToken pairs a freshly persisted token with its plaintext, which is
// only available at this point.
type NewAccessToken struct {
	AccessToken AccessToken
	PlainText   string
}

// Principal is the identity resolved from a validated bearer token.
type Principal struct {
	User  User
	Token AccessToken
}

type AuthResult struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}

type RegisterInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}
