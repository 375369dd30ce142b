package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/middleware"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

// Services are the collaborators the HTTP surface needs.
type Services struct {
	AppName  string
	Auth     *service.AuthService
	Workflow *service.WorkflowService
	Audit    *service.AuditService
	Events   *service.EventBus
}

// Mount registers every route on app. Everything below /api/v1 except
// login and health requires a live session and is request-audited.
func Mount(app *fiber.App, s Services) {
	public := app.Group("/api/v1")
	public.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"app":    s.AppName,
		})
	})

	auth := NewAuthHandler(s.Auth)
	auth.RegisterPublic(public)

	// Group middleware applies to every later route under the prefix, so
	// public routes must be registered above this line.
	protected := app.Group("/api/v1",
		middleware.JWTMiddleware(s.Auth),
		middleware.AuditMiddleware(s.Audit),
	)

	auth.Register(protected)
	NewKnowledgeHandler(s.Workflow, s.Audit).Register(protected)
	NewAuditHandler(s.Audit).Register(protected)
	NewOperatorHandler(s.Auth, s.Audit).Register(protected)
	if s.Events != nil {
		NewStreamHandler(s.Events).Register(protected)
	}
}
