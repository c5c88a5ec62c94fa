package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/littlehero/api/internal/auth"
	"github.com/littlehero/api/internal/middleware"
)

// AuthHandler serves the ForwardAuth check of the API gateway.
type AuthHandler struct {
	authn *auth.Authenticator
}

func NewAuthHandler(authn *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authn: authn}
}

// Verify handles GET /auth/verify. On success it answers 200 with the
// owner id in X-User-Id for the gateway to forward; otherwise 401.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := middleware.BearerToken(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	id, err := h.authn.Identify(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	c.Set(auth.HeaderOwnerID, id.OwnerID)
	return c.SendStatus(fiber.StatusOK)
}
