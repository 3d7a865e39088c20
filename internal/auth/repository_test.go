package auth

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db), mock
}

func sampleToken(userID string) AccessToken {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return AccessToken{
		ID:        "0190b9e2-0000-7000-8000-000000000001",
		UserID:    userID,
		Name:      DefaultTokenName,
		TokenHash: HashSecret("secret"),
		Abilities: []string{AbilityAll},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepositoryCreateUserWithToken(t *testing.T) {
	repo, mock := newMockRepository(t)
	user := User{ID: "u1", Name: "Ana", Email: "ana@x.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
	token := sampleToken(user.ID)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(user.ID, user.Name, user.Email, user.PasswordHash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO personal_access_tokens")).
		WithArgs(token.ID, user.ID, token.Name, token.TokenHash, `["*"]`, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateUserWithToken(context.Background(), user, token))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateUserDuplicateEmail(t *testing.T) {
	repo, mock := newMockRepository(t)
	user := User{ID: "u1", Name: "Ana", Email: "ana@x.com", PasswordHash: "hash"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_unique"})
	mock.ExpectRollback()

	err := repo.CreateUserWithToken(context.Background(), user, sampleToken(user.ID))
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReplaceUserTokens(t *testing.T) {
	repo, mock := newMockRepository(t)
	token := sampleToken("u1")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM personal_access_tokens WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO personal_access_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceUserTokens(context.Background(), token))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReplaceUserTokensUnknownUser(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.ReplaceUserTokens(context.Background(), sampleToken("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReplaceUserTokensRollsBackOnInsertFailure(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM personal_access_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO personal_access_tokens")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ReplaceUserTokens(context.Background(), sampleToken("u1"))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetToken(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := created.Add(time.Hour)

	columns := []string{"id", "user_id", "name", "token_hash", "abilities", "last_used_at", "expires_at", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM personal_access_tokens")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("t1", "u1", "auth_token", "abc", []byte(`["jobs:write"]`), nil, expires, created, created))

	token, err := repo.GetToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", token.UserID)
	assert.Equal(t, []string{"jobs:write"}, token.Abilities)
	assert.Nil(t, token.LastUsedAt)
	require.NotNil(t, token.ExpiresAt)
	assert.True(t, expires.Equal(*token.ExpiresAt))

	mock.ExpectQuery(regexp.QuoteMeta("FROM personal_access_tokens")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.GetToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetUserByEmailIsCaseInsensitive(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(email) = lower($1)")).
		WithArgs("Ana@X.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "created_at", "updated_at"}).
			AddRow("u1", "Ana", "ana@x.com", "hash", now, now))

	user, err := repo.GetUserByEmail(context.Background(), "Ana@X.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDeleteToken(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM personal_access_tokens")).
		WithArgs("t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM personal_access_tokens")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteToken(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = repo.DeleteUserTokens(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdatePasswordWithTokenUnknownUser(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdatePasswordWithToken(context.Background(), "ghost", "hash", sampleToken("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRegisterFailedAttempt(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM auth_login_attempts")).
		WithArgs("ana@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(4, nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auth_login_attempts")).
		WithArgs("ana@x.com", 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lockedUntil, err := repo.RegisterFailedAttempt(context.Background(), "ana@x.com", 5, 15*time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, lockedUntil)
	assert.Equal(t, now.Add(15*time.Minute), *lockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCleanupStaleAuthData(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM personal_access_tokens t")).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM auth_login_attempts t")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := repo.CleanupStaleAuthData(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedAccessTokens: 7, DeletedLoginAttempts: 2}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}
