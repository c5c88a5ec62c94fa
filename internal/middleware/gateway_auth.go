package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/littlehero/api/internal/auth"
	"github.com/littlehero/api/pkg/response"
)

// GatewayAuthMiddleware trusts the owner id the gateway attached after its
// ForwardAuth call to /auth/verify. The API must not be reachable except
// through that gateway when this is enabled.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerID := strings.TrimSpace(c.Get(auth.HeaderOwnerID))
		if ownerID == "" {
			return response.Unauthorized(c, "Missing owner identity header")
		}
		setIdentity(c, auth.Identity{OwnerID: ownerID})
		return c.Next()
	}
}
