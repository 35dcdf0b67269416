package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Version is reported by the health endpoint. Set at build time with -ldflags.
var Version = "dev"

// errNotConfigured marks an optional backend that is absent.
var errNotConfigured = errors.New("not configured")

// readinessCheck probes one dependency. Optional checks that return
// errNotConfigured do not affect readiness.
type readinessCheck struct {
	name     string
	optional bool
	probe    func(ctx context.Context) (string, error)
}

func readinessChecks(deps *Dependencies) []readinessCheck {
	return []readinessCheck{
		{name: "gazetteer", probe: func(context.Context) (string, error) {
			if deps.Gazetteer == nil || deps.Gazetteer.Len() == 0 {
				return "empty", errors.New("no places loaded")
			}
			return "ok", nil
		}},
		{name: "database", optional: true, probe: func(ctx context.Context) (string, error) {
			if deps.DB == nil {
				return "", errNotConfigured
			}
			return "ok", deps.DB.Ping(ctx)
		}},
		{name: "nats", optional: true, probe: func(context.Context) (string, error) {
			if deps.NATS == nil {
				return "", errNotConfigured
			}
			if !deps.NATS.IsConnected() {
				return "disconnected", errors.New(deps.NATS.Status().String())
			}
			return "ok", nil
		}},
		{name: "cache", optional: true, probe: func(ctx context.Context) (string, error) {
			if deps.Cache == nil {
				return "", errNotConfigured
			}
			return "ok", deps.Cache.Ping(ctx)
		}},
	}
}

// HealthHandler is the liveness check. It also reports how many sessions
// are open.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		sessions := 0
		if deps.Flyovers != nil {
			sessions = deps.Flyovers.Count()
		}
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"uptime":   time.Since(startedAt).Round(time.Second).String(),
			"version":  Version,
			"sessions": sessions,
		})
	}
}

// ReadyHandler runs every readiness check under a shared 3s deadline.
// The service is ready when the gazetteer has places and no configured
// backend fails.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	checks := readinessChecks(deps)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		ready := true
		for _, chk := range checks {
			state, err := chk.probe(ctx)
			switch {
			case chk.optional && errors.Is(err, errNotConfigured):
				results[chk.name] = errNotConfigured.Error()
			case err != nil && state == "ok":
				results[chk.name] = "error: " + err.Error()
				ready = false
			case err != nil:
				results[chk.name] = state
				ready = false
			default:
				results[chk.name] = state
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "checks": results})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": results})
	}
}
