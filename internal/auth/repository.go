package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE Postgres reports for a unique index hit.
const pgUniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedAccessTokens  int64 `json:"deleted_access_tokens"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, email, password_hash, created_at, updated_at`

const tokenColumns = `id, user_id, name, token_hash, abilities, last_used_at, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func scanToken(row rowScanner) (AccessToken, error) {
	var (
		token      AccessToken
		abilities  []byte
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
	)
	err := row.Scan(&token.ID, &token.UserID, &token.Name, &token.TokenHash, &abilities,
		&lastUsedAt, &expiresAt, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return AccessToken{}, err
	}

	if len(abilities) > 0 {
		if err := json.Unmarshal(abilities, &token.Abilities); err != nil {
			return AccessToken{}, fmt.Errorf("decode abilities: %w", err)
		}
	}
	if lastUsedAt.Valid {
		value := lastUsedAt.Time.UTC()
		token.LastUsedAt = &value
	}
	if expiresAt.Valid {
		value := expiresAt.Time.UTC()
		token.ExpiresAt = &value
	}
	return token, nil
}

func (r *Repository) CreateUserWithToken(ctx context.Context, user User, token AccessToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if err := insertToken(ctx, tx, token); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = lower($1)
	`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

// UpdatePasswordWithToken stores a new password hash and swaps every token of
// the user for the given one.
func (r *Repository) UpdatePasswordWithToken(ctx context.Context, userID, passwordHash string, token AccessToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, userID, passwordHash, token.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM personal_access_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	if err := insertToken(ctx, tx, token); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password tx: %w", err)
	}
	return nil
}

// ReplaceUserTokens deletes all tokens of token.UserID and inserts token in
// one transaction. The owner row is locked first so concurrent logins of the
// same user serialize and leave exactly one token.
func (r *Repository) ReplaceUserTokens(ctx context.Context, token AccessToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin token tx: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, token.UserID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock token owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM personal_access_tokens WHERE user_id = $1`, token.UserID); err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	if err := insertToken(ctx, tx, token); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token tx: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, tx *sql.Tx, token AccessToken) error {
	abilities, err := json.Marshal(token.Abilities)
	if err != nil {
		return fmt.Errorf("encode abilities: %w", err)
	}

	var expiresAt any
	if token.ExpiresAt != nil {
		expiresAt = token.ExpiresAt.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO personal_access_tokens (id, user_id, name, token_hash, abilities, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, token.ID, token.UserID, token.Name, token.TokenHash, string(abilities), expiresAt, token.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

func (r *Repository) GetToken(ctx context.Context, id string) (AccessToken, error) {
	token, err := scanToken(r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM personal_access_tokens
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccessToken{}, ErrNotFound
		}
		return AccessToken{}, fmt.Errorf("query access token: %w", err)
	}
	return token, nil
}

func (r *Repository) GetTokenByHash(ctx context.Context, tokenHash string) (AccessToken, error) {
	token, err := scanToken(r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM personal_access_tokens
		WHERE token_hash = $1
	`, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccessToken{}, ErrNotFound
		}
		return AccessToken{}, fmt.Errorf("query access token by hash: %w", err)
	}
	return token, nil
}

func (r *Repository) TouchToken(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE personal_access_tokens
		SET last_used_at = $2
		WHERE id = $1
	`, id, usedAt.UTC())
	if err != nil {
		return fmt.Errorf("touch access token: %w", err)
	}
	return nil
}

func (r *Repository) DeleteToken(ctx context.Context, userID, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM personal_access_tokens
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete access token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete access token rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) DeleteUserTokens(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM personal_access_tokens
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user access tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete user access tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error) {
	var attempt LoginAttempt
	attempt.Email = email

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
	`, email).Scan(&attempt.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

// RegisterFailedAttempt counts a failure and returns the lock deadline once
// maxAttempts is reached.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
		FOR UPDATE
	`, email).Scan(&failed, &lockedUntil)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock login attempt row: %w", err)
		}
		failed = 0
		lockedUntil = sql.NullTime{}
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (email, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, email, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_login_attempts
		WHERE email = $1
	`, email)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

// CleanupStaleAuthData removes expired tokens and idle login-attempt rows in
// batches of at most batchSize per table.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, loginAttemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	now := time.Now().UTC()

	deletedTokens, err := r.deleteExpiredTokens(ctx, now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedAttempts, err := r.deleteStaleLoginAttempts(ctx, now.Add(-loginAttemptRetention), now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedAccessTokens:  deletedTokens,
		DeletedLoginAttempts: deletedAttempts,
	}, nil
}

func (r *Repository) deleteExpiredTokens(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM personal_access_tokens
			WHERE expires_at IS NOT NULL AND expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM personal_access_tokens t
		USING expired
		WHERE t.id = expired.id
	`, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired access tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired access tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) deleteStaleLoginAttempts(ctx context.Context, cutoff, now time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM auth_login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < $2)
			ORDER BY updated_at ASC
			LIMIT $3
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.email = stale.email
	`, cutoff, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}
	return affected, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
