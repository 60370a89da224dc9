package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/vectaconvert/api/internal/apperr"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeConversionError = "CONVERSION_ERROR"
	CodeStorageError    = "STORAGE_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternalError   = "INTERNAL_ERROR"
)

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusUnprocessableEntity, CodeValidationError, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func FileTooLarge(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusRequestEntityTooLarge, CodeFileTooLarge, message, nil)
}

func RateLimited(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, message, nil)
}

func InternalError(c *fiber.Ctx) error {
	return Error(c, fiber.StatusInternalServerError, CodeInternalError, "Internal server error", nil)
}

// FromError maps a typed application error to its HTTP shape. Internal and
// storage failures are reported generically; the caller logs the detail.
func FromError(c *fiber.Ctx, err error) error {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return InternalError(c)
	}
	switch e.Kind {
	case apperr.KindValidation:
		return ValidationError(c, e.Message, nil)
	case apperr.KindNotFound:
		return NotFound(c, e.Message)
	case apperr.KindTooLarge:
		return FileTooLarge(c, e.Message)
	case apperr.KindRateLimited:
		return RateLimited(c, e.Message)
	case apperr.KindConversion:
		return Error(c, fiber.StatusInternalServerError, CodeConversionError, e.Message, nil)
	case apperr.KindStorage:
		return Error(c, fiber.StatusInternalServerError, CodeStorageError, "Storage operation failed", nil)
	}
	return InternalError(c)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(SuccessResponse{Success: true, Data: data})
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(SuccessResponse{Success: true, Data: data})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
