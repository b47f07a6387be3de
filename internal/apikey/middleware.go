package apikey

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/shared"
)

const contextKey = "operator_key"

type Validator interface {
	Validate(ctx context.Context, secret string) (*APIKey, error)
}

// Authenticator admits requests carrying either an operator key or the
// admin token. The admin token acts as a key holding every scope.
type Authenticator struct {
	keys       Validator
	adminToken string
}

func NewAuthenticator(keys Validator, adminToken string) *Authenticator {
	return &Authenticator{keys: keys, adminToken: adminToken}
}

func (a *Authenticator) isAdmin(secret string) bool {
	return a.adminToken != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(a.adminToken)) == 1
}

func (a *Authenticator) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := extractSecret(c.Request())
		if secret == "" {
			return shared.Unauthorized("missing_api_key", "api key required")
		}

		if a.isAdmin(secret) {
			c.Set(contextKey, adminKey())
			return next(c)
		}

		if a.keys == nil {
			return shared.Unauthorized("invalid_api_key", "invalid api key")
		}
		key, err := a.keys.Validate(c.Request().Context(), secret)
		if errors.Is(err, ErrExpired) {
			return shared.Unauthorized("api_key_expired", "api key has expired")
		}
		if err != nil {
			return shared.Unauthorized("invalid_api_key", "invalid api key")
		}

		c.Set(contextKey, key)
		return next(c)
	}
}

// RequireAdmin admits only the admin token.
func (a *Authenticator) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.isAdmin(extractSecret(c.Request())) {
			return shared.Forbidden("admin_required", "admin token required")
		}
		return next(c)
	}
}

// RequireScope must run after Authenticate.
func RequireScope(scope shared.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := FromContext(c)
			if key == nil {
				return shared.Unauthorized("auth_required", "authentication required")
			}
			if !key.HasScope(scope) {
				return shared.Forbidden("missing_scope", "api key lacks scope "+scope.String())
			}
			return next(c)
		}
	}
}

func FromContext(c echo.Context) *APIKey {
	if key, ok := c.Get(contextKey).(*APIKey); ok {
		return key
	}
	return nil
}

func adminKey() *APIKey {
	return &APIKey{
		ID:     "admin",
		Name:   "admin",
		Scopes: shared.StringSlice{string(shared.ScopeControl)},
	}
}

// extractSecret reads the Authorization bearer, then X-API-Key, then the
// api_key query parameter browsers use for websocket upgrades.
func extractSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func SetForTest(c echo.Context, key *APIKey) {
	c.Set(contextKey, key)
}
