package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, conflict, internal_error
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID := RequestIDFromCtx(c.UserContext())
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errFromDomain maps a session error onto its HTTP response.
func errFromDomain(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidSpeed):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrPanoramaLocked),
		errors.Is(err, domain.ErrNoStops),
		errors.Is(err, domain.ErrNoSurface):
		return errConflict(c, err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("flyover request failed", "error", err)
		return errInternal(c, "internal error")
	}
}
