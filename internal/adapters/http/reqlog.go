package http

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// RequestIDLogMiddleware puts a request-scoped logger into the user context.
// The logger carries the request id and, on session routes, the session id.
func RequestIDLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid, _ := c.Locals("requestid").(string)
		if rid == "" {
			return c.Next()
		}

		logger := slog.Default().With("request_id", rid)
		if id := sessionFromPath(c.Path()); id != "" {
			logger = logger.With("session", id)
		}

		ctx := context.WithValue(c.UserContext(), requestIDKey, rid)
		ctx = context.WithValue(ctx, loggerKey, logger)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// LoggerFromCtx returns the request-scoped logger, or the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RequestIDFromCtx returns the request id set by RequestIDLogMiddleware.
func RequestIDFromCtx(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

// sessionFromPath extracts the session id from /v1/flyovers/:id[/...].
func sessionFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/flyovers/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
