package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"jobboard/internal/auth"
	"jobboard/internal/config"
	"jobboard/internal/jobs"
	"jobboard/internal/observability"
)

// nopStores satisfies every store interface; the routes exercised here are
// rejected before any store is reached.
type nopStores struct {
	auth.UserStore
	auth.TokenStore
	auth.AttemptStore
	jobs.Store
}

func newTestRouter(t *testing.T, ping func(context.Context) error) http.Handler {
	t.Helper()
	stores := nopStores{}
	cfg := config.Config{Auth: config.AuthConfig{
		BcryptCost:           bcrypt.MinCost,
		LoginRateLimitMax:    5,
		LoginRateLimitWindow: time.Minute,
	}}

	handler, err := NewRouter(Dependencies{
		Config:   cfg,
		Logger:   observability.NewLoggerTo(&bytes.Buffer{}),
		Users:    stores,
		Tokens:   stores,
		Attempts: stores,
		Jobs:     stores,
		Ping:     ping,
	})
	require.NoError(t, err)
	return handler
}

func TestRouterProtectsRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/user"},
		{http.MethodPost, "/api/logout"},
		{http.MethodPost, "/api/logout-all"},
		{http.MethodPut, "/api/user/password"},
		{http.MethodPost, "/api/jobs"},
		{http.MethodPut, "/api/jobs/0190b9e2-0000-7000-8000-000000000001"},
		{http.MethodDelete, "/api/jobs/0190b9e2-0000-7000-8000-000000000001"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
		assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))
	}
}

func TestRouterHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, func(context.Context) error { return nil }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	newTestRouter(t, func(context.Context) error { return errors.New("down") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestRouterWithoutCleanerHasNoMaintenanceRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRouterRejectsMissingStores(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	assert.Error(t, err)
}

func TestBuildFailsWithoutDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Build(Options{})
	assert.Error(t, err)
}
