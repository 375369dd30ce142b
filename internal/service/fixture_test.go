package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/auth"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/corpus"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/store"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

const testPassword = "correct-horse-battery"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture wires the services onto an in-memory database and a temporary
// corpus, all driven by one fake clock.
type fixture struct {
	clock    *fakeClock
	store    *store.Store
	corpus   *corpus.Store
	totp     *auth.TOTP
	audit    *AuditService
	auth     *AuthService
	ops      *OperatorService
	workflow *WorkflowService
}

func newFixture(t *testing.T) *fixture {
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

	clock := &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	otp := auth.NewTOTP("Knowledge Gatekeeper", 1)

	f := &fixture{clock: clock, store: st, corpus: kb, totp: otp}
	f.audit = NewAuditService(st)
	f.audit.now = clock.Now
	f.auth = NewAuthService(st, st, hasher, otp, f.audit, AuthConfig{
		Secret:          testSecret,
		Issuer:          "knowledge-gatekeeper",
		SessionTTL:      30 * time.Minute,
		MaxAttempts:     3,
		LockoutDuration: 30 * time.Minute,
	})
	f.auth.now = clock.Now
	f.ops = NewOperatorService(st, hasher, otp)
	f.ops.now = clock.Now
	f.workflow = NewWorkflowService(st, kb, kb, nil, f.audit, WorkflowConfig{MaxUploadBytes: 1 << 20})
	f.workflow.now = clock.Now
	return f
}

// provision creates an operator through the CLI path and returns its TOTP
// secret.
func (f *fixture) provision(t *testing.T, username string, role domain.Role) (*domain.Operator, string) {
	t.Helper()
	p, err := f.ops.Create(context.Background(), username, testPassword, role)
	if err != nil {
		t.Fatalf("Create %s: %v", username, err)
	}
	return p.Operator, p.Enrollment.Secret
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := f.totp.Code(secret, f.clock.Now())
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	return c
}

func (f *fixture) login(t *testing.T, username, secret string) *domain.AuthResult {
	t.Helper()
	res, err := f.auth.Authenticate(context.Background(), LoginRequest{
		Username: username,
		Password: testPassword,
		Code:     f.code(t, secret),
		IP:       "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Authenticate %s: %v", username, err)
	}
	return res
}

// identity stores an operator directly and returns the identity a valid
// session for it would carry.
func (f *fixture) identity(t *testing.T, username string, role domain.Role) *domain.Identity {
	t.Helper()
	op := &domain.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: "unused",
		TOTPSecret:   "unused",
		Role:         role,
		Active:       true,
		CreatedAt:    f.clock.Now(),
	}
	if err := f.store.CreateOperator(context.Background(), op); err != nil {
		t.Fatalf("CreateOperator %s: %v", username, err)
	}
	return &domain.Identity{
		OperatorID:  op.ID,
		Username:    username,
		Role:        role,
		Permissions: domain.PermissionsFor(role),
		SessionID:   uuid.NewString(),
	}
}

func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	recs, err := f.store.ListAudit(context.Background(), MaxAuditLimit)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	actions := make([]string, len(recs))
	for i, r := range recs {
		actions[len(recs)-1-i] = r.Action
	}
	return actions
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
