package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/middleware"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

// AuthHandler handles operator login and session endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterPublic sets up the login route.
func (h *AuthHandler) RegisterPublic(router fiber.Router) {
	router.Post("/admin/login", h.Login)
}

// Register sets up the session routes.
func (h *AuthHandler) Register(router fiber.Router) {
	admin := router.Group("/admin")
	admin.Post("/logout", h.Logout)
	admin.Get("/me", h.Me)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

// Login verifies password and one-time code and returns a session token.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Username) == "" || body.Password == "" || body.TOTPCode == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "username, password and totp_code are required",
		})
	}

	result, err := h.authService.Authenticate(c.Context(), service.LoginRequest{
		Username: strings.TrimSpace(body.Username),
		Password: body.Password,
		Code:     strings.TrimSpace(body.TOTPCode),
		IP:       c.IP(),
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"access_token": result.Token,
		"token_type":   "bearer",
		"expires_at":   result.ExpiresAt,
		"identity":     result.Identity,
	})
}

// Logout revokes the caller's session.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	if err := h.authService.Revoke(c.Context(), middleware.GetIdentity(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "logged out"})
}

// Me returns the caller's identity and permissions.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	identity := middleware.GetIdentity(c)
	if identity == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
	}
	return c.JSON(identity)
}
