package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// AuditRecorder persists audit records. Implementations must not block the
// caller on storage failures.
type AuditRecorder interface {
	Record(ctx context.Context, rec domain.AuditRecord)
}

// AuditMiddleware records every administrative request for compliance.
func AuditMiddleware(recorder AuditRecorder) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := c.Method()
		path := strings.Clone(c.Path())
		ip := strings.Clone(c.IP())
		userAgent := strings.Clone(c.Get("User-Agent"))

		err := c.Next()

		rec := domain.AuditRecord{
			Actor:  "anonymous",
			Action: domain.AuditActionHTTPRequest,
			IP:     ip,
			Details: map[string]any{
				"method":      method,
				"path":        path,
				"status":      c.Response().StatusCode(),
				"duration_ms": time.Since(start).Milliseconds(),
				"user_agent":  userAgent,
			},
		}
		if id := GetIdentity(c); id != nil {
			rec.ActorID = id.OperatorID
			rec.Actor = id.Username
		}

		// All values are captured; the write outlives the request.
		go recorder.Record(context.Background(), rec)

		return err
	}
}
