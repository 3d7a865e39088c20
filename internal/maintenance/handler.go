package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"jobboard/internal/auth"
	"jobboard/internal/observability"
)

type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

// CleanupHandler purges expired access tokens and stale login-attempt rows.
// It is meant to be hit by a scheduler holding CRON_SECRET.
type CleanupHandler struct {
	cleaner               Cleaner
	logger                *observability.Logger
	cronSecret            string
	loginAttemptRetention time.Duration
	batchSize             int
}

func NewCleanupHandler(
	cleaner Cleaner,
	logger *observability.Logger,
	cronSecret string,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		cleaner:               cleaner,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Without a secret the endpoint does not exist.
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
		return
	}

	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), h.loginAttemptRetention, h.batchSize)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server Error"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_access_tokens":  result.DeletedAccessTokens,
		"deleted_login_attempts": result.DeletedLoginAttempts,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
