package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

const (
	msgUnauthenticated    = "Unauthenticated."
	msgInvalidCredentials = "The provided credentials are incorrect."
	msgInvalidData        = "The given data was invalid."
	msgEmailTaken         = "The email has already been taken."
	msgServerError        = "Server Error"
)

type Handler struct {
	service *Service
	logger  Logger
}

func NewHandler(service *Service, logger Logger) *Handler {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	if err := h.service.Logout(r.Context(), principal); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "Logged out.")
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	revoked, err := h.service.LogoutAll(r.Context(), principal)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Logged out of all sessions.",
		"revoked": revoked,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": principal.User})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	var body ChangePasswordInput
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.ChangePassword(r.Context(), principal, body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	var lockedErr ErrLoginLocked

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": msgInvalidData,
			"errors":  validationErr.Fields,
		})
	case errors.Is(err, ErrDuplicateEmail):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": msgEmailTaken,
			"errors":  map[string][]string{"email": {msgEmailTaken}},
		})
	case errors.Is(err, ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, ErrUnauthorized):
		writeUnauthenticated(w)
	case errors.As(err, &lockedErr):
		retryAfter := int(time.Until(lockedErr.Until).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeMessage(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
	default:
		h.logger.Error("auth_request_failed", map[string]any{
			"method":    r.Method,
			"path":      r.URL.Path,
			"transient": IsTransient(err),
			"error":     err.Error(),
		})
		sentry.CaptureException(err)
		writeServerError(w)
	}
}

// decodeJSON reads a single JSON object into dst and answers 422 itself when
// the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": msgInvalidData,
			"errors":  map[string][]string{"body": {"must be a valid JSON object"}},
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
}

func writeServerError(w http.ResponseWriter) {
	writeMessage(w, http.StatusInternalServerError, msgServerError)
}
