package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type principalKey struct{}

// TokenValidator is what the Gate needs from the Validator.
type TokenValidator interface {
	Validate(ctx context.Context, plain string) (Principal, error)
}

// Gate resolves the caller of a protected route before any handler code,
// including body parsing, runs.
type Gate struct {
	validator TokenValidator
	logger    Logger
}

func NewGate(validator TokenValidator, logger Logger) *Gate {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Gate{validator: validator, logger: logger}
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthenticated(w)
			return
		}

		principal, err := g.validator.Validate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				writeUnauthenticated(w)
				return
			}
			g.logger.Error("access_token_validation_failed", map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			sentry.CaptureException(err)
			writeServerError(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireAbility wraps next with the Gate and additionally rejects tokens
// that lack ability.
func (g *Gate) RequireAbility(ability string, next http.Handler) http.Handler {
	return g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		if !principal.Token.Can(ability) {
			writeMessage(w, http.StatusForbidden, "This action is unauthorized.")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
