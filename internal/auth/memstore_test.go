package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// memStore implements every auth store in memory for tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]User
	tokens   map[string]AccessToken
	attempts map[string]LoginAttempt

	failLookup error
	failWrite  error
	failTouch  error
	touched    map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]User),
		tokens:   make(map[string]AccessToken),
		attempts: make(map[string]LoginAttempt),
		touched:  make(map[string]time.Time),
	}
}

func (m *memStore) CreateUserWithToken(_ context.Context, user User, token AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite != nil {
		return m.failWrite
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	m.users[user.ID] = user
	m.tokens[token.ID] = token
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLookup != nil {
		return User{}, m.failLookup
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLookup != nil {
		return User{}, m.failLookup
	}
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) UpdatePasswordWithToken(_ context.Context, userID, passwordHash string, token AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite != nil {
		return m.failWrite
	}
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	m.users[userID] = u
	m.deleteUserTokensLocked(userID)
	m.tokens[token.ID] = token
	return nil
}

func (m *memStore) ReplaceUserTokens(_ context.Context, token AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite != nil {
		return m.failWrite
	}
	if _, ok := m.users[token.UserID]; !ok {
		return ErrNotFound
	}
	m.deleteUserTokensLocked(token.UserID)
	m.tokens[token.ID] = token
	return nil
}

func (m *memStore) GetToken(_ context.Context, id string) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLookup != nil {
		return AccessToken{}, m.failLookup
	}
	t, ok := m.tokens[id]
	if !ok {
		return AccessToken{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetTokenByHash(_ context.Context, tokenHash string) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLookup != nil {
		return AccessToken{}, m.failLookup
	}
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return AccessToken{}, ErrNotFound
}

func (m *memStore) TouchToken(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failTouch != nil {
		return m.failTouch
	}
	t, ok := m.tokens[id]
	if !ok {
		return nil
	}
	t.LastUsedAt = &usedAt
	m.tokens[id] = t
	m.touched[id] = usedAt
	return nil
}

func (m *memStore) DeleteToken(_ context.Context, userID, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite != nil {
		return 0, m.failWrite
	}
	t, ok := m.tokens[id]
	if !ok || t.UserID != userID {
		return 0, nil
	}
	delete(m.tokens, id)
	return 1, nil
}

func (m *memStore) DeleteUserTokens(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrite != nil {
		return 0, m.failWrite
	}
	return m.deleteUserTokensLocked(userID), nil
}

func (m *memStore) deleteUserTokensLocked(userID string) int64 {
	var deleted int64
	for id, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, id)
			deleted++
		}
	}
	return deleted
}

func (m *memStore) GetLoginAttempt(_ context.Context, email string) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[email]
	if !ok {
		return LoginAttempt{Email: email}, nil
	}
	return a, nil
}

func (m *memStore) RegisterFailedAttempt(_ context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.attempts[email]
	a.Email = email
	if a.LockedUntil != nil && now.Before(*a.LockedUntil) {
		until := *a.LockedUntil
		return &until, nil
	}

	a.FailedAttempts++
	a.LockedUntil = nil
	var lock *time.Time
	if a.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		a.LockedUntil = &until
		a.FailedAttempts = 0
		lock = &until
	}
	m.attempts[email] = a
	return lock, nil
}

func (m *memStore) ResetLoginAttempt(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.attempts, email)
	return nil
}

func (m *memStore) tokenCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) touchedAt(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.touched[id]
	return at, ok
}

// recordingLogger keeps every entry so tests can assert on event names.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level   string
	message string
	fields  map[string]any
}

func (l *recordingLogger) Info(message string, fields map[string]any) {
	l.record("info", message, fields)
}

func (l *recordingLogger) Warn(message string, fields map[string]any) {
	l.record("warn", message, fields)
}

func (l *recordingLogger) Error(message string, fields map[string]any) {
	l.record("error", message, fields)
}

func (l *recordingLogger) record(level, message string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, message: message, fields: fields})
}

func (l *recordingLogger) find(message string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.message == message {
			return e, true
		}
	}
	return logEntry{}, false
}

var errStoreDown = errors.New("connection refused")
