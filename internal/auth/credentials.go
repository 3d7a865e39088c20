package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// dummyPassword seeds the hash compared against when an email is unknown, so
// both login failure paths pay for one bcrypt comparison.
const dummyPassword = "jobboard-timing-equalizer"

// Credentials is the credential store: user lookup, creation and password
// verification.
type Credentials struct {
	users     UserStore
	cost      int
	dummyHash []byte
	now       func() time.Time
}

func NewCredentials(users UserStore, cost int) (*Credentials, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}

	return &Credentials{users: users, cost: cost, dummyHash: dummy, now: time.Now}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (c *Credentials) FindByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrNotFound
	}

	user, err := c.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, transient("lookup user by email", err)
	}
	return user, nil
}

func (c *Credentials) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// NewUser builds an unsaved user with a hashed password.
func (c *Credentials) NewUser(name, email, password string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}
	hash, err := c.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	now := c.now().UTC()
	return User{
		ID:           id.String(),
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Create stores the user together with its first token. Email uniqueness is
// decided by the store, not by a prior lookup.
func (c *Credentials) Create(ctx context.Context, user User, first AccessToken) (User, error) {
	if err := c.users.CreateUserWithToken(ctx, user, first); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, transient("create user", err)
	}
	return user, nil
}

// Verify reports whether password matches the user's hash. A nil user is
// checked against a dummy hash and always fails.
func (c *Credentials) Verify(user *User, password string) bool {
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}
