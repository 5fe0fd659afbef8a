package apperr

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

// statusFor maps a kind to its HTTP status.
func statusFor(k Kind) int {
	switch k {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindForbidden:
		return fiber.StatusForbidden
	case KindInvalidState, KindConflict:
		return fiber.StatusConflict
	case KindInsufficientBalance:
		return fiber.StatusUnprocessableEntity
	case KindValidation:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// httpCodeToString converts an HTTP status code to a short, stable string.
func httpCodeToString(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "UNPROCESSABLE_ENTITY"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// ErrorHandler is the global Fiber error handler. Tagged core errors keep
// their kind as the response code; plain fiber errors fall through with a
// status-based mapping.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindValidation && e.Fields != nil {
			return c.Status(fiber.StatusBadRequest).JSON(models.ValidationErrorResponse{
				Message: e.Message,
				Errors:  e.Fields,
			})
		}
		return c.Status(statusFor(e.Kind)).JSON(models.ErrorResponse{
			Error:   true,
			Code:    string(e.Kind),
			Message: e.Message,
		})
	}

	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
		if strings.TrimSpace(fe.Message) != "" {
			msg = fe.Message
		}
	}
	return c.Status(code).JSON(models.ErrorResponse{
		Error:   true,
		Code:    httpCodeToString(code),
		Message: msg,
	})
}
