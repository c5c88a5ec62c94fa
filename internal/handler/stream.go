package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/littlehero/api/internal/middleware"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/service"
	ws "github.com/littlehero/api/internal/websocket"
	"github.com/rs/zerolog"
)

const localInitialStatus = "initialStatus"

// StreamHandler serves GET /ws/books/:id
type StreamHandler struct {
	service *service.BookService
	hub     *ws.Hub
	log     zerolog.Logger
}

func NewStreamHandler(svc *service.BookService, hub *ws.Hub, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{service: svc, hub: hub, log: log}
}

// Authorize rejects non-upgrade requests and books the caller does not own,
// before the connection is upgraded.
func (h *StreamHandler) Authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	event, err := h.service.StatusEvent(c.Context(), middleware.GetOwnerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	c.Locals(localInitialStatus, event)
	return c.Next()
}

// Stream writes the current status, then every change until the peer leaves.
func (h *StreamHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		initial, _ := c.Locals(localInitialStatus).(*model.StatusEvent)
		h.hub.HandleConnection(c, c.Params("id"), initial)
	})
}
