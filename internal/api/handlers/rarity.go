package handlers

import (
	"github.com/gofiber/fiber/v2"

	"nftrarity/internal/service"
)

// GetRarity handles GET /api/v1/rarity/:tokenId
// @Summary Rarity of one item
// @Produce json
// @Param tokenId path int true "Token id"
// @Success 200 {object} models.RarityResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/rarity/{tokenId} [get]
func (h *Handlers) GetRarity(c *fiber.Ctx) error {
	id, err := tokenIDParam(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	res, err := h.ranking.GetRarity(c.Context(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// GetItem handles GET /api/v1/items/:tokenId
// @Summary Stored item with metadata and staking state
// @Produce json
// @Param tokenId path int true "Token id"
// @Success 200 {object} models.Item
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/items/{tokenId} [get]
func (h *Handlers) GetItem(c *fiber.Ctx) error {
	id, err := tokenIDParam(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	item, err := h.ranking.GetItem(c.Context(), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(item)
}

// TopItems handles GET /api/v1/leaderboard/top-items
// @Summary Rarest items
// @Produce json
// @Param limit query int false "Max items" default(10)
// @Success 200 {object} models.TopItemsResponse
// @Router /api/v1/leaderboard/top-items [get]
func (h *Handlers) TopItems(c *fiber.Ctx) error {
	res, err := h.ranking.TopRankedItems(c.Context(), c.QueryInt("limit", service.DefaultListLimit))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// TopUsers handles GET /api/v1/leaderboard/top-users
// @Summary Users by points
// @Produce json
// @Param limit query int false "Max users" default(10)
// @Success 200 {object} models.TopUsersResponse
// @Router /api/v1/leaderboard/top-users [get]
func (h *Handlers) TopUsers(c *fiber.Ctx) error {
	res, err := h.accounts.TopUsersByPoints(c.Context(), c.QueryInt("limit", service.DefaultListLimit))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// GetTraits handles GET /api/v1/traits
func (h *Handlers) GetTraits(c *fiber.Ctx) error {
	res, err := h.ranking.Traits(c.Context())
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HealthCheck handles GET /api/v1/health
// @Summary Health check
// @Description Checks the health of the service and its dependencies
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} models.ErrorResponse
// @Router /api/v1/health [get]
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	if err := h.health.HealthCheck(c.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":          "healthy",
		"ranking_version": h.ranking.Version(),
	})
}
