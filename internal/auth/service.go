package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

type ServiceConfig struct {
	BcryptCost   int
	TokenTTL     time.Duration
	MaxAttempts  int
	LockDuration time.Duration
}

// Service runs the registration, login, logout and password change flows on
// top of the credential store and the token components.
type Service struct {
	creds     *Credentials
	issuer    *Issuer
	validator *Validator
	revoker   *Revoker
	attempts  AttemptStore
	logger    Logger

	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

// NewService wires the auth components. attempts may be nil to disable login
// lockout.
func NewService(users UserStore, tokens TokenStore, attempts AttemptStore, logger Logger, cfg ServiceConfig) (*Service, error) {
	if users == nil || tokens == nil {
		return nil, fmt.Errorf("user and token stores are required")
	}
	if logger == nil {
		logger = nopLogger{}
	}

	creds, err := NewCredentials(users, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	s := &Service{
		creds:        creds,
		issuer:       NewIssuer(tokens, cfg.TokenTTL),
		validator:    NewValidator(tokens, users, logger),
		revoker:      NewRevoker(tokens),
		attempts:     attempts,
		logger:       logger,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		now:          time.Now,
	}
	if cfg.MaxAttempts > 0 {
		s.maxAttempts = cfg.MaxAttempts
	}
	if cfg.LockDuration > 0 {
		s.lockDuration = cfg.LockDuration
	}
	return s, nil
}

func (s *Service) Validator() *Validator {
	return s.validator
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return AuthResult{}, err
	}

	user, err := s.creds.NewUser(in.Name, in.Email, in.Password)
	if err != nil {
		return AuthResult{}, err
	}
	issued, err := s.issuer.Mint(user.ID, DefaultTokenName)
	if err != nil {
		return AuthResult{}, err
	}

	user, err = s.creds.Create(ctx, user, issued.AccessToken)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			s.logger.Info("register_duplicate_email", nil)
		}
		return AuthResult{}, err
	}

	s.logger.Info("user_registered", map[string]any{"user_id": user.ID, "token_id": issued.AccessToken.ID})
	return newAuthResult(user, issued), nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return AuthResult{}, err
	}

	now := s.now().UTC()
	if s.attempts != nil {
		attempt, err := s.attempts.GetLoginAttempt(ctx, in.Email)
		if err != nil {
			return AuthResult{}, transient("read login attempts", err)
		}
		if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
			return AuthResult{}, ErrLoginLocked{Until: *attempt.LockedUntil}
		}
	}

	user, err := s.creds.FindByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return AuthResult{}, err
		}
		s.creds.Verify(nil, in.Password)
		return AuthResult{}, s.failLogin(ctx, in.Email, "unknown_email", now)
	}

	if !s.creds.Verify(&user, in.Password) {
		return AuthResult{}, s.failLogin(ctx, in.Email, "password_mismatch", now)
	}

	if s.attempts != nil {
		if err := s.attempts.ResetLoginAttempt(ctx, in.Email); err != nil {
			return AuthResult{}, transient("reset login attempts", err)
		}
	}

	issued, err := s.issuer.Issue(ctx, user, DefaultTokenName)
	if err != nil {
		return AuthResult{}, err
	}

	s.logger.Info("user_logged_in", map[string]any{"user_id": user.ID, "token_id": issued.AccessToken.ID})
	return newAuthResult(user, issued), nil
}

// failLogin records the failed attempt and returns the error the caller sees.
// reason is for logs only.
func (s *Service) failLogin(ctx context.Context, email, reason string, now time.Time) error {
	s.logger.Info("login_failed", map[string]any{"reason": reason})

	if s.attempts == nil {
		return ErrInvalidCredentials
	}
	lockedUntil, err := s.attempts.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return transient("register failed login", err)
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) Logout(ctx context.Context, p Principal) error {
	if err := s.revoker.RevokeOne(ctx, p.User.ID, p.Token.ID); err != nil {
		return err
	}
	s.logger.Info("user_logged_out", map[string]any{"user_id": p.User.ID, "token_id": p.Token.ID})
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, p Principal) (int64, error) {
	revoked, err := s.revoker.RevokeAll(ctx, p.User.ID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("user_logged_out_everywhere", map[string]any{"user_id": p.User.ID, "revoked": revoked})
	return revoked, nil
}

// ChangePassword replaces the password hash and every token of the user with
// a single fresh token.
func (s *Service) ChangePassword(ctx context.Context, p Principal, in ChangePasswordInput) (AuthResult, error) {
	if err := in.Validate(); err != nil {
		return AuthResult{}, err
	}

	if !s.creds.Verify(&p.User, in.CurrentPassword) {
		ve := &ValidationError{}
		ve.add("current_password", "is incorrect")
		return AuthResult{}, ve
	}

	hash, err := s.creds.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}
	issued, err := s.issuer.Mint(p.User.ID, p.Token.Name, p.Token.Abilities...)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.creds.users.UpdatePasswordWithToken(ctx, p.User.ID, hash, issued.AccessToken); err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, transient("update password", err)
	}

	user := p.User
	user.PasswordHash = hash
	user.UpdatedAt = issued.AccessToken.CreatedAt

	s.logger.Info("password_changed", map[string]any{"user_id": user.ID, "token_id": issued.AccessToken.ID})
	return newAuthResult(user, issued), nil
}

func newAuthResult(user User, issued NewAccessToken) AuthResult {
	return AuthResult{User: user, Token: issued.PlainText, TokenType: TokenType}
}
