package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

type denialLog struct {
	mu   sync.Mutex
	caps []domain.Capability
}

func (d *denialLog) RecordDenied(_ context.Context, _ *domain.Identity, c domain.Capability, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = append(d.caps, c)
}

func withIdentity(id *domain.Identity) fiber.Handler {
	return func(c fiber.Ctx) error {
		if id != nil {
			c.Locals(identityKey, id)
		}
		return c.Next()
	}
}

func TestRequirePermission(t *testing.T) {
	auditor := &domain.Identity{Username: "carol", Role: domain.RoleAuditor, Permissions: domain.PermissionsFor(domain.RoleAuditor)}
	admin := &domain.Identity{Username: "alice", Role: domain.RoleKnowledgeAdmin, Permissions: domain.PermissionsFor(domain.RoleKnowledgeAdmin)}

	t.Run("granted", func(t *testing.T) {
		denials := &denialLog{}
		app := fiber.New()
		app.Post("/", withIdentity(admin), RequirePermission(domain.CapUploadKnowledge, denials), func(c fiber.Ctx) error {
			return c.SendStatus(fiber.StatusCreated)
		})
		resp, err := app.Test(httptest.NewRequest("POST", "/", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("got %d", resp.StatusCode)
		}
		if len(denials.caps) != 0 {
			t.Fatalf("unexpected denials: %v", denials.caps)
		}
	})

	t.Run("denied names the capability", func(t *testing.T) {
		denials := &denialLog{}
		app := fiber.New()
		app.Post("/", withIdentity(auditor), RequirePermission(domain.CapUploadKnowledge, denials), func(c fiber.Ctx) error {
			t.Error("handler must not run")
			return nil
		})
		resp, err := app.Test(httptest.NewRequest("POST", "/", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusForbidden {
			t.Fatalf("got %d", resp.StatusCode)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["required_permission"] != "upload_knowledge" {
			t.Fatalf("body: %v", body)
		}
		if len(denials.caps) != 1 || denials.caps[0] != domain.CapUploadKnowledge {
			t.Fatalf("denials: %v", denials.caps)
		}
	})

	t.Run("no identity", func(t *testing.T) {
		app := fiber.New()
		app.Get("/", RequirePermission(domain.CapViewAuditLogs, nil), func(c fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("got %d", resp.StatusCode)
		}
	})
}

func TestRequireLevel(t *testing.T) {
	// An auditor carrying a reviewer capability still lacks the role tier.
	elevated := &domain.Identity{Username: "carol", Role: domain.RoleAuditor, Permissions: []domain.Capability{domain.CapApproveKnowledge}}
	admin := &domain.Identity{Username: "alice", Role: domain.RoleKnowledgeAdmin, Permissions: domain.PermissionsFor(domain.RoleKnowledgeAdmin)}
	root := &domain.Identity{Username: "root", Role: domain.RoleSuperAdmin, Permissions: domain.PermissionsFor(domain.RoleSuperAdmin)}

	tests := []struct {
		name     string
		identity *domain.Identity
		floor    domain.Role
		want     int
	}{
		{"same tier", admin, domain.RoleKnowledgeAdmin, fiber.StatusOK},
		{"higher tier", root, domain.RoleKnowledgeAdmin, fiber.StatusOK},
		{"capability without tier", elevated, domain.RoleKnowledgeAdmin, fiber.StatusForbidden},
		{"admin below super admin", admin, domain.RoleSuperAdmin, fiber.StatusForbidden},
		{"no identity", nil, domain.RoleAuditor, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/", withIdentity(tt.identity), RequireLevel(tt.floor), func(c fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})
			resp, err := app.Test(httptest.NewRequest("POST", "/", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("got %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == fiber.StatusForbidden {
				var body map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body["required_role"] != tt.floor.String() {
					t.Fatalf("body: %v", body)
				}
			}
		})
	}
}

type recordSink struct {
	ch chan domain.AuditRecord
}

func (r *recordSink) Record(_ context.Context, rec domain.AuditRecord) {
	r.ch <- rec
}

func TestAuditMiddleware(t *testing.T) {
	sink := &recordSink{ch: make(chan domain.AuditRecord, 1)}
	admin := &domain.Identity{OperatorID: "op-1", Username: "alice"}

	app := fiber.New()
	app.Use(withIdentity(admin), AuditMiddleware(sink))
	app.Get("/things", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	req := httptest.NewRequest("GET", "/things", nil)
	req.Header.Set("User-Agent", "test-agent")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	select {
	case rec := <-sink.ch:
		if rec.Action != domain.AuditActionHTTPRequest || rec.Actor != "alice" || rec.ActorID != "op-1" {
			t.Fatalf("unexpected record: %+v", rec)
		}
		if rec.Details["path"] != "/things" || rec.Details["method"] != "GET" {
			t.Fatalf("details: %v", rec.Details)
		}
		if rec.Details["status"] != fiber.StatusAccepted {
			t.Fatalf("status: %v", rec.Details["status"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit record not written")
	}
}
