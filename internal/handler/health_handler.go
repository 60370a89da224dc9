package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// HealthHandler answers liveness requests by pinging every backing service.
type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Get handles GET /health
func (h *HealthHandler) Get(c *fiber.Ctx) error {
	services := fiber.Map{}
	status := "ok"
	for name, check := range h.checks {
		ok := check(c.Context()) == nil
		services[name] = ok
		if !ok {
			status = "degraded"
		}
	}
	if status != "ok" {
		c.Status(fiber.StatusServiceUnavailable)
	}
	return c.JSON(fiber.Map{
		"status":   status,
		"services": services,
	})
}
