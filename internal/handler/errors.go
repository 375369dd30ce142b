package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// respondError maps service errors onto HTTP statuses. Unclassified
// errors are logged and answered with a generic 500.
func respondError(c fiber.Ctx, err error) error {
	var (
		locked *port.LockedError
		perm   *port.PermissionError
	)
	switch {
	case errors.As(err, &locked):
		return c.Status(fiber.StatusLocked).JSON(fiber.Map{
			"error":        port.ErrAccountLocked.Error(),
			"locked_until": locked.Until.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &perm):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":               perm.Error(),
			"required_permission": string(perm.Capability),
		})
	case errors.Is(err, port.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": port.ErrInvalidCredentials.Error()})
	case errors.Is(err, port.ErrInvalidSession):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": port.ErrInvalidSession.Error()})
	case errors.Is(err, port.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, port.ErrAlreadyReviewed), errors.Is(err, port.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, port.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, port.ErrDeploymentFailure):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}
