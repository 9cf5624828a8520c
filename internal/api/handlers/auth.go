package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
)

// IssueNonce handles GET /api/v1/auth/nonce
// @Summary Issue a login challenge
// @Produce json
// @Param walletAddress query string true "Wallet address"
// @Success 200 {object} models.NonceResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/auth/nonce [get]
func (h *Handlers) IssueNonce(c *fiber.Ctx) error {
	var req models.NonceRequest
	if err := c.QueryParser(&req); err != nil {
		return respondError(c, h.logger, badRequest("invalid query"))
	}
	if err := h.validator.Struct(&req); err != nil {
		return respondError(c, h.logger, apperr.Validation(apperr.CodeInvalidAddress,
			"walletAddress must be a 0x-prefixed 20-byte hex address"))
	}

	res, err := h.accounts.IssueNonce(c.Context(), req.WalletAddress)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// VerifySignature handles POST /api/v1/auth/verify
// @Summary Exchange a signed nonce for a session
// @Accept json
// @Produce json
// @Param request body models.VerifyRequest true "Wallet and signature"
// @Success 200 {object} models.VerifyResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /api/v1/auth/verify [post]
func (h *Handlers) VerifySignature(c *fiber.Ctx) error {
	var req models.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, h.logger, badRequest("invalid request body"))
	}
	if err := h.validate(&req); err != nil {
		return respondError(c, h.logger, err)
	}

	session, err := h.accounts.VerifySignature(c.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.sessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(fiber.StatusOK).JSON(models.VerifyResponse{
		Message:   "authenticated",
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *Handlers) Logout(c *fiber.Ctx) error {
	if err := h.accounts.Logout(c.Context(), h.sessionID(c)); err != nil {
		return respondError(c, h.logger, err)
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
	})
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "logged out"})
}

// GetCurrentUser handles GET /api/v1/user
// @Summary Current wallet summary
// @Produce json
// @Success 200 {object} models.UserSummary
// @Failure 401 {object} models.ErrorResponse
// @Router /api/v1/user [get]
func (h *Handlers) GetCurrentUser(c *fiber.Ctx) error {
	res, err := h.accounts.CurrentUser(c.Context(), walletFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}
