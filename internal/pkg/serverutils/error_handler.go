package serverutils

import (
	"errors"

	"apk-builder-be/internal/pkg/apperror"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps an error returned by a handler to its HTTP status.
func StatusFor(err error) int {
	switch apperror.CodeOf(err) {
	case apperror.CodeInvalidSession, apperror.CodeHashMismatch, apperror.CodeStructuralValidation:
		return fiber.StatusBadRequest
	case apperror.CodeOffsetMismatch:
		return fiber.StatusConflict
	case apperror.CodeArtifactNotFound:
		return fiber.StatusNotFound
	case apperror.CodeIOFailure:
		return fiber.StatusInternalServerError
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// ErrorHandlerMiddleware turns errors returned down the chain into the
// standard JSON envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}

		status := StatusFor(err)
		res := ErrorResponse(status, err.Error())

		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			res.ErrorCode = string(appErr.Code)
			res.Message = appErr.Message
		}

		return c.Status(status).JSON(res)
	}
}
