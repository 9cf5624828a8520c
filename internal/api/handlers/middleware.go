package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"nftrarity/internal/apperr"
)

const (
	localWallet  = "wallet"
	localSession = "session"
)

// sessionID reads the bearer token, falling back to the session cookie
func (h *Handlers) sessionID(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Cookies(h.sessionCookie)
}

// RequireSession resolves the caller's wallet or rejects with 401
func (h *Handlers) RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := h.sessionID(c)
		if sid == "" {
			return respondError(c, h.logger, apperr.ErrUnauthorized)
		}
		wallet, err := h.accounts.Authenticate(c.Context(), sid)
		if err != nil {
			return respondError(c, h.logger, err)
		}
		c.Locals(localSession, sid)
		c.Locals(localWallet, wallet)
		return c.Next()
	}
}

func walletFrom(c *fiber.Ctx) string {
	w, _ := c.Locals(localWallet).(string)
	return w
}
