package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/auth"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/corpus"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/quality"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/store"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

const testPassword = "correct-horse-battery"

type testServer struct {
	app     *fiber.App
	ops     *service.OperatorService
	totp    *auth.TOTP
	secrets map[string]string
	ids     map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.TypeSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	kb, err := corpus.Open(filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatalf("corpus.Open: %v", err)
	}
	t.Cleanup(func() { _ = kb.Close() })

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	otp := auth.NewTOTP("Knowledge Gatekeeper", 1)
	audit := service.NewAuditService(st)
	authSvc := service.NewAuthService(st, st, hasher, otp, audit, service.AuthConfig{
		Secret:          []byte("0123456789abcdef0123456789abcdef"),
		Issuer:          "knowledge-gatekeeper",
		SessionTTL:      30 * time.Minute,
		MaxAttempts:     3,
		LockoutDuration: 30 * time.Minute,
	})
	engine := port.NewQualityEngine(quality.NewFormatStrategy(), quality.NewSensitiveDataStrategy())
	workflow := service.NewWorkflowService(st, kb, kb, engine, audit, service.WorkflowConfig{MaxUploadBytes: 1 << 20})

	app := fiber.New()
	Mount(app, Services{
		AppName:  "gatekeeper-test",
		Auth:     authSvc,
		Workflow: workflow,
		Audit:    audit,
		Events:   service.NewEventBus(),
	})

	return &testServer{
		app:     app,
		ops:     service.NewOperatorService(st, hasher, otp),
		totp:    otp,
		secrets: make(map[string]string),
		ids:     make(map[string]string),
	}
}

func (s *testServer) provision(t *testing.T, username string, role domain.Role) {
	t.Helper()
	p, err := s.ops.Create(context.Background(), username, testPassword, role)
	if err != nil {
		t.Fatalf("Create %s: %v", username, err)
	}
	s.secrets[username] = p.Enrollment.Secret
	s.ids[username] = p.Operator.ID
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("%s %s: decode %q: %v", req.Method, req.URL.Path, raw, err)
		}
	}
	return resp.StatusCode, body
}

func jsonRequest(method, path, token string, payload any) *http.Request {
	var r io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	code, err := s.totp.Code(s.secrets[username], time.Now())
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	status, body := s.do(t, jsonRequest("POST", "/api/v1/admin/login", "", map[string]string{
		"username":  username,
		"password":  testPassword,
		"totp_code": code,
	}))
	if status != fiber.StatusOK {
		t.Fatalf("login %s: %d %v", username, status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" || body["token_type"] != "bearer" {
		t.Fatalf("login body: %v", body)
	}
	return token
}

func uploadRequest(t *testing.T, token, knowledgeDomain string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("knowledge_domain", knowledgeDomain)
	_ = w.WriteField("description", "rebar grades")
	_ = w.WriteField("priority", "low")

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="rebar.csv"`)
	h.Set("Content-Type", "text/csv")
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write([]byte("material,grade,strength\nrebar,60,420MPa\n"))
	if err := w.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/knowledge/uploads/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, httptest.NewRequest("GET", "/api/v1/health", nil))
	if status != fiber.StatusOK || body["status"] != "healthy" || body["app"] != "gatekeeper-test" {
		t.Fatalf("health: %d %v", status, body)
	}
}

func TestLoginValidation(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "alice", domain.RoleKnowledgeAdmin)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"missing code", map[string]string{"username": "alice", "password": testPassword}, fiber.StatusBadRequest},
		{"blank username", map[string]string{"username": " ", "password": "x", "totp_code": "1"}, fiber.StatusBadRequest},
		{"wrong password", map[string]string{"username": "alice", "password": "nope-nope-nope", "totp_code": "123456"}, fiber.StatusUnauthorized},
		{"unknown operator", map[string]string{"username": "mallory", "password": testPassword, "totp_code": "123456"}, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, jsonRequest("POST", "/api/v1/admin/login", "", tt.body))
			if status != tt.status {
				t.Fatalf("got %d %v", status, body)
			}
		})
	}
}

func TestLockoutReturns423(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "alice", domain.RoleKnowledgeAdmin)

	bad := map[string]string{"username": "alice", "password": "not-her-password", "totp_code": "000000"}
	for i := 0; i < 3; i++ {
		if status, body := s.do(t, jsonRequest("POST", "/api/v1/admin/login", "", bad)); status != fiber.StatusUnauthorized {
			t.Fatalf("attempt %d: %d %v", i+1, status, body)
		}
	}

	code, _ := s.totp.Code(s.secrets["alice"], time.Now())
	status, body := s.do(t, jsonRequest("POST", "/api/v1/admin/login", "", map[string]string{
		"username": "alice", "password": testPassword, "totp_code": code,
	}))
	if status != fiber.StatusLocked {
		t.Fatalf("got %d %v", status, body)
	}
	until, err := time.Parse(time.RFC3339, body["locked_until"].(string))
	if err != nil || until.Before(time.Now().Add(29*time.Minute)) {
		t.Fatalf("locked_until %v: %v", body["locked_until"], err)
	}
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "alice", domain.RoleKnowledgeAdmin)

	if status, _ := s.do(t, jsonRequest("GET", "/api/v1/admin/me", "", nil)); status != fiber.StatusUnauthorized {
		t.Fatalf("me without token: %d", status)
	}

	token := s.login(t, "alice")
	status, me := s.do(t, jsonRequest("GET", "/api/v1/admin/me", token, nil))
	if status != fiber.StatusOK || me["username"] != "alice" || me["role"] != "knowledge_admin" {
		t.Fatalf("me: %d %v", status, me)
	}

	if status, body := s.do(t, jsonRequest("POST", "/api/v1/admin/logout", token, nil)); status != fiber.StatusOK {
		t.Fatalf("logout: %d %v", status, body)
	}
	if status, _ := s.do(t, jsonRequest("GET", "/api/v1/admin/me", token, nil)); status != fiber.StatusUnauthorized {
		t.Fatalf("me after logout: %d", status)
	}
}

func TestUploadReviewFlow(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "alice", domain.RoleKnowledgeAdmin)
	s.provision(t, "bob", domain.RoleKnowledgeAdmin)
	s.provision(t, "carol", domain.RoleAuditor)
	alice, bob, carol := s.login(t, "alice"), s.login(t, "bob"), s.login(t, "carol")

	status, body := s.do(t, uploadRequest(t, carol, domain.DomainMaterials))
	if status != fiber.StatusForbidden || body["required_permission"] != "upload_knowledge" {
		t.Fatalf("auditor upload: %d %v", status, body)
	}

	status, body = s.do(t, uploadRequest(t, alice, domain.DomainMaterials))
	if status != fiber.StatusCreated {
		t.Fatalf("upload: %d %v", status, body)
	}
	upload := body["upload"].(map[string]any)
	id := upload["id"].(string)
	if upload["status"] != "pending" || upload["files_count"] != float64(1) || upload["priority"] != "low" {
		t.Fatalf("upload: %v", upload)
	}

	status, body = s.do(t, jsonRequest("GET", "/api/v1/knowledge/uploads/pending", carol, nil))
	if status != fiber.StatusOK || body["count"] != float64(1) {
		t.Fatalf("pending: %d %v", status, body)
	}
	if status, _ := s.do(t, jsonRequest("GET", "/api/v1/knowledge/uploads/pending?limit=x", carol, nil)); status != fiber.StatusBadRequest {
		t.Fatalf("bad limit: %d", status)
	}

	review := map[string]any{"approval": true, "comments": "grades verified"}
	status, body = s.do(t, jsonRequest("POST", "/api/v1/knowledge/uploads/"+id+"/reviews", bob, review))
	if status != fiber.StatusOK || body["status"] != "deployed" {
		t.Fatalf("review: %d %v", status, body)
	}
	status, _ = s.do(t, jsonRequest("POST", "/api/v1/knowledge/uploads/"+id+"/reviews", alice, review))
	if status != fiber.StatusConflict {
		t.Fatalf("review after deploy: %d", status)
	}

	status, body = s.do(t, jsonRequest("GET", "/api/v1/knowledge/uploads/"+id, carol, nil))
	if status != fiber.StatusOK {
		t.Fatalf("get: %d %v", status, body)
	}
	if reviews := body["reviews"].([]any); len(reviews) != 1 {
		t.Fatalf("reviews: %v", reviews)
	}
	if status, _ := s.do(t, jsonRequest("GET", "/api/v1/knowledge/uploads/does-not-exist", carol, nil)); status != fiber.StatusNotFound {
		t.Fatalf("unknown upload: %d", status)
	}

	status, body = s.do(t, jsonRequest("POST", "/api/v1/knowledge/uploads/"+id+"/rollback", bob, nil))
	if status != fiber.StatusForbidden || body["required_permission"] != "emergency_controls" {
		t.Fatalf("rollback by knowledge admin: %d %v", status, body)
	}
}

func TestInvalidUploadInput(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "alice", domain.RoleKnowledgeAdmin)
	token := s.login(t, "alice")

	status, body := s.do(t, uploadRequest(t, token, "payroll"))
	if status != fiber.StatusBadRequest || !strings.Contains(body["error"].(string), "payroll") {
		t.Fatalf("unknown domain: %d %v", status, body)
	}

	req := jsonRequest("POST", "/api/v1/knowledge/uploads/", token, map[string]string{"knowledge_domain": "materials"})
	if status, _ := s.do(t, req); status != fiber.StatusBadRequest {
		t.Fatalf("json body instead of multipart: %d", status)
	}
}

func TestPolicyEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "carol", domain.RoleAuditor)
	status, body := s.do(t, jsonRequest("GET", "/api/v1/knowledge/policy", s.login(t, "carol"), nil))
	if status != fiber.StatusOK {
		t.Fatalf("policy: %d", status)
	}
	domains, _ := body["domains"].(map[string]any)
	rule, ok := domains[domain.DomainSafetyProtocols].(map[string]any)
	if !ok {
		t.Fatalf("policy body: %v", body)
	}
	if rule["required_reviewers"] != float64(3) {
		t.Fatalf("safety rule: %v", rule)
	}
	strategies, _ := body["quality_strategies"].([]any)
	if len(strategies) != 2 || strategies[0] != "format" || strategies[1] != "sensitive_data" {
		t.Fatalf("quality strategies: %v", body["quality_strategies"])
	}
}

func TestAuditLogs(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "carol", domain.RoleAuditor)
	token := s.login(t, "carol")

	status, body := s.do(t, jsonRequest("GET", "/api/v1/audit/logs?limit=5", token, nil))
	if status != fiber.StatusOK {
		t.Fatalf("logs: %d %v", status, body)
	}
	if n, _ := body["count"].(float64); n < 1 {
		t.Fatalf("expected at least the login record: %v", body)
	}
	if status, _ := s.do(t, jsonRequest("GET", "/api/v1/audit/logs?limit=many", token, nil)); status != fiber.StatusBadRequest {
		t.Fatalf("bad limit: %d", status)
	}
}

func TestOperatorDeactivation(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "root", domain.RoleSuperAdmin)
	s.provision(t, "alice", domain.RoleKnowledgeAdmin)
	root, alice := s.login(t, "root"), s.login(t, "alice")

	path := "/api/v1/operators/" + s.ids["root"] + "/deactivate"
	if status, body := s.do(t, jsonRequest("POST", path, alice, nil)); status != fiber.StatusForbidden {
		t.Fatalf("knowledge admin: %d %v", status, body)
	}
	if status, _ := s.do(t, jsonRequest("POST", path, root, nil)); status != fiber.StatusBadRequest {
		t.Fatalf("self deactivation: %d", status)
	}

	status, body := s.do(t, jsonRequest("POST", "/api/v1/operators/"+s.ids["alice"]+"/deactivate", root, nil))
	if status != fiber.StatusOK || body["operator_id"] != s.ids["alice"] {
		t.Fatalf("deactivate: %d %v", status, body)
	}
	if status, _ := s.do(t, jsonRequest("GET", "/api/v1/admin/me", alice, nil)); status != fiber.StatusUnauthorized {
		t.Fatalf("deactivated operator's session: %d", status)
	}
}

func TestUnknownTargetsAreNotFound(t *testing.T) {
	s := newTestServer(t)
	s.provision(t, "root", domain.RoleSuperAdmin)
	root := s.login(t, "root")

	tests := []struct {
		method, path string
		body         any
	}{
		{"GET", "/api/v1/knowledge/uploads/foo", nil},
		{"POST", "/api/v1/knowledge/uploads/foo/reviews", map[string]any{"approval": true, "comments": "ok"}},
		{"POST", "/api/v1/knowledge/uploads/foo/deploy", nil},
		{"POST", "/api/v1/knowledge/uploads/foo/rollback", nil},
		{"POST", "/api/v1/operators/foo/deactivate", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if status, body := s.do(t, jsonRequest(tt.method, tt.path, root, tt.body)); status != fiber.StatusNotFound {
				t.Fatalf("status %d %v", status, body)
			}
		})
	}
}

func TestStreamEventsFiltersByUpload(t *testing.T) {
	bus := service.NewEventBus()
	h := NewStreamHandler(bus)
	h.timeout = 300 * time.Millisecond

	app := fiber.New()
	h.Register(app)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			bus.Publish(service.WorkflowEvent{UploadID: "up-other", Status: domain.UploadStatusRejected})
			bus.Publish(service.WorkflowEvent{UploadID: "up-1", Status: domain.UploadStatusDeployed})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	resp, err := app.Test(httptest.NewRequest("GET", "/knowledge/events?upload_id=up-1", nil), fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	<-done
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}
	stream := string(body)
	for _, want := range []string{"event: ready", "event: deployed", `"upload_id":"up-1"`, "event: timeout"} {
		if !strings.Contains(stream, want) {
			t.Fatalf("stream lacks %q:\n%s", want, stream)
		}
	}
	if strings.Contains(stream, "up-other") {
		t.Fatalf("stream leaked another upload:\n%s", stream)
	}
}
