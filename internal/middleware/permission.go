package middleware

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// DenialRecorder is told about every request refused for lack of a capability.
type DenialRecorder interface {
	RecordDenied(ctx context.Context, identity *domain.Identity, capability domain.Capability, ip string)
}

// RequirePermission lets the request through only when the caller's
// identity carries capability. It must run after JWTMiddleware.
func RequirePermission(capability domain.Capability, recorder DenialRecorder) fiber.Handler {
	return func(c fiber.Ctx) error {
		identity := GetIdentity(c)
		if identity == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization",
			})
		}
		if !identity.Has(capability) {
			if recorder != nil {
				recorder.RecordDenied(c.Context(), identity, capability, c.IP())
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":               "insufficient permission: requires " + string(capability),
				"required_permission": capability,
			})
		}
		return c.Next()
	}
}

// RequireLevel refuses callers whose role ranks below floor. It backs the
// capability checks on routes that are also reserved to a role tier.
func RequireLevel(floor domain.Role) fiber.Handler {
	return func(c fiber.Ctx) error {
		identity := GetIdentity(c)
		if identity == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization",
			})
		}
		if !identity.Role.AtLeast(floor) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":         "insufficient role: requires " + floor.String(),
				"required_role": floor,
			})
		}
		return c.Next()
	}
}
