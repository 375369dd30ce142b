package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

const identityKey = "identity"

// TokenValidator resolves a bearer token into the caller's identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*domain.Identity, error)
}

// JWTMiddleware creates a Fiber middleware that validates the bearer token
// against the live session table and injects the caller's Identity into the
// request context.
func JWTMiddleware(validator TokenValidator) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := BearerToken(c)
		// Fallback: ?token= query param (for SSE/EventSource which can't set headers)
		if token == "" && acceptsEventStream(c) {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization",
			})
		}

		identity, err := validator.ValidateToken(c.Context(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired session",
			})
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// BearerToken returns the token from the Authorization header, or "".
func BearerToken(c fiber.Ctx) string {
	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// acceptsEventStream reports whether the request comes from an EventSource.
// Only those may carry the token in the query string.
func acceptsEventStream(c fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), "text/event-stream")
}

// GetIdentity extracts the Identity from Fiber locals.
func GetIdentity(c fiber.Ctx) *domain.Identity {
	id, ok := c.Locals(identityKey).(*domain.Identity)
	if !ok {
		return nil
	}
	return id
}

// --- JWT Claims & Helpers ---

// Claims represents the JWT payload.
type Claims struct {
	Subject   string `json:"sub"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	ID        string `json:"jti"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// JWT errors. Callers should collapse them into one generic failure.
var (
	ErrTokenFormat    = errors.New("invalid token format")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenIssuer    = errors.New("invalid token issuer")
)

var jwtHeaderB64 = func() string {
	h, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	return base64.RawURLEncoding.EncodeToString(h)
}()

// GenerateJWT signs claims with HS256.
func GenerateJWT(claims Claims, secret []byte) (string, error) {
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := jwtHeaderB64 + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	return signingInput + "." + signHS256(signingInput, secret), nil
}

// ParseJWT verifies the signature, expiry and issuer of tokenStr.
func ParseJWT(tokenStr string, secret []byte, expectedIssuer string, now time.Time) (*Claims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, ErrTokenFormat
	}

	// Only the header this package emits is accepted.
	if parts[0] != jwtHeaderB64 {
		return nil, ErrTokenFormat
	}

	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(signHS256(signingInput, secret))) {
		return nil, ErrTokenSignature
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenFormat
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrTokenFormat
	}

	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrTokenExpired
	}

	if claims.Issuer != expectedIssuer {
		return nil, ErrTokenIssuer
	}

	return &claims, nil
}

func signHS256(input string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
