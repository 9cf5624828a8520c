package handlers

import (
	"github.com/gofiber/fiber/v2"

	"nftrarity/internal/models"
)

func (h *Handlers) parseStake(c *fiber.Ctx) (int, error) {
	var req models.StakeRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, badRequest("invalid request body")
	}
	if err := h.validate(&req); err != nil {
		return 0, err
	}
	return req.TokenID, nil
}

// Stake handles POST /api/v1/stake
// @Summary Stake an item
// @Accept json
// @Produce json
// @Param request body models.StakeRequest true "Token to stake"
// @Success 200 {object} models.StakeResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/stake [post]
func (h *Handlers) Stake(c *fiber.Ctx) error {
	id, err := h.parseStake(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	res, err := h.staking.Stake(c.Context(), walletFrom(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// Unstake handles POST /api/v1/unstake
// @Summary Unstake an item held by the caller
// @Accept json
// @Produce json
// @Param request body models.StakeRequest true "Token to unstake"
// @Success 200 {object} models.StakeResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/unstake [post]
func (h *Handlers) Unstake(c *fiber.Ctx) error {
	id, err := h.parseStake(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	res, err := h.staking.Unstake(c.Context(), walletFrom(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// GetStakedItems handles GET /api/v1/user/staked
func (h *Handlers) GetStakedItems(c *fiber.Ctx) error {
	res, err := h.staking.StakedItems(c.Context(), walletFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}
