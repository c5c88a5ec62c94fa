package handler

import (
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/littlehero/api/internal/middleware"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/service"
	"github.com/littlehero/api/pkg/response"
	"github.com/rs/zerolog"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

type BookHandler struct {
	service   *service.BookService
	validator *validator.Validate
	log       zerolog.Logger
}

func NewBookHandler(svc *service.BookService, v *validator.Validate, log zerolog.Logger) *BookHandler {
	return &BookHandler{
		service:   svc,
		validator: v,
		log:       log,
	}
}

// Create handles POST /api/books
func (h *BookHandler) Create(c *fiber.Ctx) error {
	req := model.CreateBookRequest{
		ChildName:     c.FormValue("childName"),
		AdventureType: model.AdventureType(c.FormValue("adventureType")),
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	file, err := c.FormFile("photo")
	if err != nil {
		return response.ValidationError(c, "Photo is required", nil)
	}

	maxBytes := h.service.MaxUploadBytes()
	if file.Size > maxBytes {
		return response.ValidationError(c, fmt.Sprintf("Photo exceeds %dMB limit", maxBytes/(1024*1024)), map[string]interface{}{
			"maxSize":  maxBytes,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open photo")
	}
	defer f.Close()

	// one byte over the limit is enough to reject a lying header
	photo, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return response.ServiceError(c, "Failed to read photo")
	}

	result, err := h.service.CreateBook(c.Context(), service.CreateBookInput{
		OwnerID:       middleware.GetOwnerID(c),
		ChildName:     req.ChildName,
		AdventureType: req.AdventureType,
		Photo:         photo,
		ContentType:   file.Header.Get("Content-Type"),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return response.Accepted(c, result)
}

// List handles GET /api/books
func (h *BookHandler) List(c *fiber.Ctx) error {
	q := model.ListBooksQuery{Page: defaultPage, Limit: defaultLimit}
	if err := c.QueryParser(&q); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}
	if err := h.validator.Struct(&q); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.ListBooks(c.Context(), middleware.GetOwnerID(c), q)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return response.OK(c, result)
}

// Status handles GET /api/books/:id
func (h *BookHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.Context(), middleware.GetOwnerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return response.OK(c, result)
}

// Download handles GET /api/books/:id/download. It redirects to a presigned
// URL, or streams the pdf through the API with ?stream=true.
func (h *BookHandler) Download(c *fiber.Ctx) error {
	ownerID := middleware.GetOwnerID(c)
	id := c.Params("id")

	if c.QueryBool("stream") {
		body, size, err := h.service.OpenDownload(c.Context(), ownerID, id)
		if err != nil {
			return writeError(c, h.log, err)
		}
		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="book-%s.pdf"`, id))
		// the response writer closes body
		return c.SendStream(body, int(size))
	}

	url, err := h.service.DownloadURL(c.Context(), ownerID, id)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Redirect(url, fiber.StatusFound)
}

// Cancel handles POST /api/books/:id/cancel
func (h *BookHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.CancelBook(c.Context(), middleware.GetOwnerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/books/:id/retry
func (h *BookHandler) Retry(c *fiber.Ctx) error {
	result, err := h.service.RetryBook(c.Context(), middleware.GetOwnerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return response.Accepted(c, result)
}

// AdventureTypes handles GET /api/adventure-types
func (h *BookHandler) AdventureTypes(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"adventureTypes": h.service.AdventureTypes()})
}
