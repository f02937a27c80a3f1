package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/pkg/logger"
	"github.com/makeasinger/studio/pkg/response"
)

type AuthHandler struct {
	verifier auth.Verifier
}

func NewAuthHandler(verifier auth.Verifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify for a ForwardAuth gateway. On success the
// caller's identity is returned in X-User-* headers.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	scheme, token, ok := strings.Cut(c.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return response.Unauthorized(c, "Missing or invalid authorization header")
	}

	id, err := h.verifier.Verify(token)
	if err != nil {
		logger.L().Debug("auth.verify_rejected", zap.Error(err))
		return response.Unauthorized(c, "Invalid or expired token")
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	return c.SendStatus(fiber.StatusOK)
}
