package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/littlehero/api/internal/auth"
	"github.com/littlehero/api/pkg/response"
)

// localOwnerID is the Locals key holding the authenticated owner id.
const localOwnerID = "ownerId"

// AuthMiddleware resolves the bearer token to a book owner.
type AuthMiddleware struct {
	authn *auth.Authenticator
}

func NewAuthMiddleware(authn *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authn: authn}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := BearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing or malformed authorization header")
		}

		id, err := m.authn.Identify(token)
		switch {
		case errors.Is(err, auth.ErrNotConfigured):
			return response.Unauthorized(c, "Authentication not configured")
		case err != nil:
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id auth.Identity) {
	c.Locals(localOwnerID, id.OwnerID)
}

// BearerToken reads the token from the Authorization header, or from the
// access_token query parameter for websocket upgrades, which cannot set
// headers from a browser.
func BearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if tok := c.Query("access_token"); tok != "" && strings.HasPrefix(c.Path(), "/ws/") {
			return tok, true
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetOwnerID returns the authenticated owner id, or "" before
// authentication.
func GetOwnerID(c *fiber.Ctx) string {
	if ownerID, ok := c.Locals(localOwnerID).(string); ok {
		return ownerID
	}
	return ""
}
