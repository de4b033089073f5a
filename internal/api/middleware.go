package api

import (
	"errors"
	"strings"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/gofiber/fiber/v2"
)

const (
	userHeader = "X-User-ID"
	userKey    = "userID"
)

// requireUser rejects requests without an X-User-ID header.
func requireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(userHeader))
	if userID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "User ID required in X-User-ID header")
	}
	c.Locals(userKey, userID)
	return c.Next()
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals(userKey).(string)
	return userID
}

// handleError maps domain errors onto HTTP status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	case errors.Is(err, common.ErrInvalidInput):
		code = fiber.StatusBadRequest
		message = err.Error()
	case errors.Is(err, common.ErrNotFound):
		code = fiber.StatusNotFound
		message = err.Error()
	case errors.Is(err, common.ErrTransientIO):
		code = fiber.StatusServiceUnavailable
		message = "temporarily unavailable, try again"
	}

	if code >= fiber.StatusInternalServerError {
		s.deps.Logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", code,
			"error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}
