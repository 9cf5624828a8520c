package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
)

// respondError writes err as an ErrorResponse. Only the classified message
// reaches the client; the cause is logged.
func respondError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	status := apperr.HTTPStatus(err)
	resp := models.ErrorResponse{Error: http.StatusText(status)}

	if e, ok := apperr.From(err); ok {
		resp.Code = e.Code
		resp.Message = e.Message
	} else {
		resp.Code = "INTERNAL"
		resp.Message = "internal error"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(resp)
}

// badRequest classifies malformed input with the INVALID_REQUEST code
func badRequest(message string) error {
	return apperr.Validation(apperr.CodeInvalidRequest, message)
}

// validationMessage turns validator errors into "field: rule" pairs
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (h *Handlers) validate(req interface{}) error {
	if err := h.validator.Struct(req); err != nil {
		return badRequest(validationMessage(err))
	}
	return nil
}

// tokenIDParam parses :tokenId as a positive integer
func tokenIDParam(c *fiber.Ctx) (int, error) {
	id, err := c.ParamsInt("tokenId")
	if err != nil || id <= 0 {
		return 0, apperr.Validation(apperr.CodeInvalidItemID, "tokenId must be a positive integer")
	}
	return id, nil
}
