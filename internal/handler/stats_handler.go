package handler

import (
	"context"
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/vectaconvert/api/internal/model"
	"github.com/vectaconvert/api/pkg/response"
)

// StatsSource is implemented by repository.AnalyticsRepository.
type StatsSource interface {
	GetStats(ctx context.Context) (*model.StatsResponse, error)
}

// StatsHandler serves the operator-facing aggregate counters, gated by a
// shared admin token.
type StatsHandler struct {
	stats      StatsSource
	adminToken string
}

func NewStatsHandler(stats StatsSource, adminToken string) *StatsHandler {
	return &StatsHandler{stats: stats, adminToken: adminToken}
}

// Get handles GET /api/admin/stats
func (h *StatsHandler) Get(c *fiber.Ctx) error {
	if h.adminToken == "" {
		return response.NotFound(c, "Not found")
	}
	token := c.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin token", nil)
	}

	stats, err := h.stats.GetStats(c.Context())
	if err != nil {
		log.Printf("Failed to load stats: %v", err)
		return response.InternalError(c)
	}
	return response.OK(c, stats)
}
