package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/solvejet/pixe-whatspp-sub001/internal/persistence"
)

// backend is a checked dependency. Disabled backends were replaced by the
// in-memory implementation at startup.
type backend interface {
	Enabled() bool
	Ping(ctx context.Context) error
}

type namedBackend struct {
	name string
	backend
}

// HealthHandler responds to liveness and readiness checks.
type HealthHandler struct {
	serviceName string
	version     string
	backends    []namedBackend
	started     time.Time
}

// NewHealthHandler returns a new handler instance. Nil or disabled backends
// are reported as in-memory and never fail readiness.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		backends:    []namedBackend{{"postgres", postgres}, {"redis", redis}},
		started:     time.Now(),
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "alive",
		"service":        h.serviceName,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Ready pings every enabled backend and fails with 503 if any is unreachable.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true
	for _, b := range h.backends {
		switch {
		case !b.Enabled():
			depStatus[b.name] = "memory"
		case b.Ping(ctx) != nil:
			depStatus[b.name] = "unreachable"
			ready = false
		default:
			depStatus[b.name] = "ok"
		}
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "one or more dependencies unavailable",
				"details": depStatus,
			},
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "dependencies": depStatus})
}
