package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, location_not_found, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

func errNotFound(c *fiber.Ctx, code, msg string) error {
	return newError(c, fiber.StatusNotFound, code, msg)
}

func errUnauthorized(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusUnauthorized, "unauthorized", msg)
}

func errForbidden(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusForbidden, "forbidden", msg)
}

// respondError maps the domain error taxonomy onto HTTP statuses. Store and
// unexpected failures are logged and never echoed to the client.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNoLocationData):
		return errNotFound(c, "location_not_found", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, "not_found", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return errUnauthorized(c, "invalid or expired session")
	case errors.Is(err, domain.ErrStore):
		LoggerFromCtx(c.UserContext()).Error("store failure", "path", c.Path(), "error", err)
		return newError(c, fiber.StatusServiceUnavailable, "store_unavailable", "location store temporarily unavailable")
	default:
		LoggerFromCtx(c.UserContext()).Error("unhandled error", "path", c.Path(), "error", err)
		return newError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
	}
}
