package handler

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/vectaconvert/api/internal/middleware"
	"github.com/vectaconvert/api/internal/model"
	"github.com/vectaconvert/api/pkg/response"
)

// LimitsSource is implemented by service.UsageService.
type LimitsSource interface {
	GetLimits(ctx context.Context, sessionToken string) (*model.LimitsResponse, error)
}

type LimitsHandler struct {
	usage LimitsSource
}

func NewLimitsHandler(usage LimitsSource) *LimitsHandler {
	return &LimitsHandler{usage: usage}
}

// Get handles GET /api/limits
func (h *LimitsHandler) Get(c *fiber.Ctx) error {
	limits, err := h.usage.GetLimits(c.Context(), middleware.SessionToken(c))
	if err != nil {
		log.Printf("Failed to load limits: %v", err)
		return response.InternalError(c)
	}
	return response.OK(c, limits)
}
