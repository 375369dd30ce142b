package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/middleware"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

// OperatorHandler handles operator administration endpoints. Operators are
// provisioned from the CLI only.
type OperatorHandler struct {
	authService *service.AuthService
	denials     middleware.DenialRecorder
}

// NewOperatorHandler creates a new operator handler.
func NewOperatorHandler(authService *service.AuthService, denials middleware.DenialRecorder) *OperatorHandler {
	return &OperatorHandler{authService: authService, denials: denials}
}

// Register sets up operator routes.
func (h *OperatorHandler) Register(router fiber.Router) {
	ops := router.Group("/operators", middleware.RequirePermission(domain.CapManageAdminUsers, h.denials))
	ops.Post("/:id/deactivate", h.Deactivate)
}

// Deactivate disables an operator and ends its sessions.
func (h *OperatorHandler) Deactivate(c fiber.Ctx) error {
	id := c.Params("id")
	if err := h.authService.DeactivateOperator(c.Context(), middleware.GetIdentity(c), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "operator deactivated", "operator_id": id})
}
