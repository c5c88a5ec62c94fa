package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/littlehero/api/internal/bookjob"
	"github.com/littlehero/api/internal/service"
	"github.com/littlehero/api/internal/storage"
	"github.com/littlehero/api/pkg/response"
	"github.com/rs/zerolog"
)

// writeError maps service and store errors onto API error responses.
// Books owned by someone else are reported as missing.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, bookjob.ErrNotFound), errors.Is(err, service.ErrForbidden):
		return response.NotFound(c, "Book not found")
	case errors.Is(err, service.ErrNotReady):
		return response.NotReady(c, "Book is not ready for download")
	case errors.Is(err, service.ErrIntegrity):
		return response.IntegrityError(c, "Book file is missing")
	case errors.Is(err, service.ErrInvalidInput):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, bookjob.ErrJobTerminal), errors.Is(err, bookjob.ErrInvalidTransition):
		return response.Conflict(c, err.Error())
	case errors.Is(err, storage.ErrStorageQuotaExceeded):
		log.Error().Err(err).Str("path", c.Path()).Msg("storage quota exceeded")
		return response.StorageError(c, fiber.StatusInsufficientStorage, "Storage quota exceeded")
	case errors.Is(err, storage.ErrStorageUnavailable):
		log.Error().Err(err).Str("path", c.Path()).Msg("storage unavailable")
		return response.StorageError(c, fiber.StatusServiceUnavailable, "Storage is temporarily unavailable")
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return response.ServiceError(c, "Internal server error")
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
