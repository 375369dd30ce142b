package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/middleware"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// AuthConfig holds the secret material and thresholds of the auth flow.
type AuthConfig struct {
	Secret          []byte
	Issuer          string
	SessionTTL      time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
}

// AuthService verifies operator credentials, enforces lockout and owns the
// session lifecycle.
type AuthService struct {
	creds    port.CredentialStore
	sessions port.SessionStore
	hasher   port.PasswordHasher
	otp      port.OTPVerifier
	audit    *AuditService
	cfg      AuthConfig
	locks    *keyedMutex
	now      func() time.Time
}

var _ middleware.TokenValidator = (*AuthService)(nil)

// NewAuthService creates a new authentication service.
func NewAuthService(
	creds port.CredentialStore,
	sessions port.SessionStore,
	hasher port.PasswordHasher,
	otp port.OTPVerifier,
	audit *AuditService,
	cfg AuthConfig,
) *AuthService {
	return &AuthService{
		creds:    creds,
		sessions: sessions,
		hasher:   hasher,
		otp:      otp,
		audit:    audit,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// LoginRequest carries the factors of one login attempt.
type LoginRequest struct {
	Username string
	Password string
	Code     string
	IP       string
}

// Authenticate verifies both factors and, on success, replaces the
// operator's active session with a fresh one.
//
// Unknown users, bad passwords and bad codes all return
// ErrInvalidCredentials. A locked account returns *port.LockedError without
// consuming an attempt.
func (s *AuthService) Authenticate(ctx context.Context, req LoginRequest) (*domain.AuthResult, error) {
	unlock := s.locks.Lock("operator:" + req.Username)
	defer unlock()

	now := s.now().UTC()

	op, err := s.creds.GetOperatorByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("load operator: %w", err)
	}
	if op == nil || !op.Active {
		s.hasher.Verify("", req.Password)
		slog.Warn("login rejected: unknown or inactive operator", "username", req.Username, "ip", req.IP)
		s.audit.Record(ctx, domain.AuditRecord{
			Actor:   req.Username,
			Action:  domain.AuditActionLoginFailed,
			IP:      req.IP,
			Details: map[string]any{"reason": "unknown_operator"},
		})
		return nil, port.ErrInvalidCredentials
	}

	if op.LockedAt(now) {
		slog.Warn("login rejected: account locked", "username", op.Username, "until", *op.LockedUntil)
		s.audit.Record(ctx, domain.AuditRecord{
			ActorID: op.ID,
			Actor:   op.Username,
			Action:  domain.AuditActionLoginLocked,
			IP:      req.IP,
			Details: map[string]any{"locked_until": op.LockedUntil.UTC().Format(time.RFC3339)},
		})
		return nil, &port.LockedError{Until: *op.LockedUntil}
	}

	// An expired lock starts a fresh run of attempts.
	if op.LockedUntil != nil {
		if err := s.creds.ResetLoginFailures(ctx, op.ID); err != nil {
			return nil, fmt.Errorf("reset expired lock: %w", err)
		}
		op.FailedAttempts = 0
		op.LockedUntil = nil
	}

	if !s.hasher.Verify(op.PasswordHash, req.Password) {
		return nil, s.failLogin(ctx, op, req.IP, now, "password")
	}
	if !s.otp.Validate(req.Code, op.TOTPSecret, now) {
		return nil, s.failLogin(ctx, op, req.IP, now, "one_time_code")
	}

	if err := s.creds.RecordLoginSuccess(ctx, op.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	result, err := s.issueSession(ctx, op, now)
	if err != nil {
		return nil, err
	}

	slog.Info("operator authenticated", "operator_id", op.ID, "username", op.Username, "role", op.Role)
	s.audit.Record(ctx, domain.AuditRecord{
		ActorID: op.ID,
		Actor:   op.Username,
		Action:  domain.AuditActionLogin,
		IP:      req.IP,
		Details: map[string]any{
			"role":       op.Role.String(),
			"session_id": result.SessionID,
			"expires_at": result.ExpiresAt.Format(time.RFC3339),
		},
	})
	return result, nil
}

// failLogin consumes one attempt and locks the account at the threshold.
// The caller always sees ErrInvalidCredentials.
func (s *AuthService) failLogin(ctx context.Context, op *domain.Operator, ip string, now time.Time, factor string) error {
	attempts, err := s.creds.RecordLoginFailure(ctx, op.ID, s.cfg.MaxAttempts, now.Add(s.cfg.LockoutDuration))
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}

	slog.Warn("login rejected: bad credentials", "username", op.Username, "factor", factor, "attempts", attempts)
	s.audit.Record(ctx, domain.AuditRecord{
		ActorID: op.ID,
		Actor:   op.Username,
		Action:  domain.AuditActionLoginFailed,
		IP:      ip,
		Details: map[string]any{"reason": factor, "failed_attempts": attempts},
	})

	if attempts >= s.cfg.MaxAttempts {
		until := now.Add(s.cfg.LockoutDuration)
		slog.Warn("operator locked out", "username", op.Username, "until", until)
		s.audit.Record(ctx, domain.AuditRecord{
			ActorID: op.ID,
			Actor:   op.Username,
			Action:  domain.AuditActionLoginLocked,
			IP:      ip,
			Details: map[string]any{"failed_attempts": attempts, "locked_until": until.Format(time.RFC3339)},
		})
	}
	return port.ErrInvalidCredentials
}

func (s *AuthService) issueSession(ctx context.Context, op *domain.Operator, now time.Time) (*domain.AuthResult, error) {
	expires := now.Add(s.cfg.SessionTTL)
	sessionID := uuid.NewString()

	token, err := middleware.GenerateJWT(middleware.Claims{
		Subject:   op.ID,
		Username:  op.Username,
		Role:      op.Role.String(),
		SessionID: sessionID,
		ID:        uuid.NewString(),
		Issuer:    s.cfg.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
	}, s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}

	sess := &domain.Session{
		ID:         sessionID,
		OperatorID: op.ID,
		TokenHash:  tokenHash(token),
		CreatedAt:  now,
		ExpiresAt:  expires,
	}
	if err := s.sessions.ReplaceActiveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("replace session: %w", err)
	}

	return &domain.AuthResult{
		Identity: domain.Identity{
			OperatorID:  op.ID,
			Username:    op.Username,
			Role:        op.Role,
			Permissions: domain.PermissionsFor(op.Role),
			SessionID:   sessionID,
			ExpiresAt:   expires,
		},
		Token: token,
	}, nil
}

// ValidateToken resolves a bearer token into an Identity. The token must
// verify and its session row must still be active and unexpired. Every
// failure returns ErrInvalidSession.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*domain.Identity, error) {
	now := s.now().UTC()

	claims, err := middleware.ParseJWT(token, s.cfg.Secret, s.cfg.Issuer, now)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return nil, port.ErrInvalidSession
	}

	sess, err := s.sessions.GetSessionByTokenHash(ctx, tokenHash(token))
	if err != nil {
		if !errors.Is(err, port.ErrNotFound) {
			slog.Error("session lookup failed", "error", err)
		}
		return nil, port.ErrInvalidSession
	}
	if !sess.Active || !now.Before(sess.ExpiresAt) ||
		sess.ID != claims.SessionID || sess.OperatorID != claims.Subject {
		return nil, port.ErrInvalidSession
	}

	op, err := s.creds.GetOperatorByID(ctx, claims.Subject)
	if err != nil || !op.Active {
		return nil, port.ErrInvalidSession
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, port.ErrInvalidSession
	}

	return &domain.Identity{
		OperatorID:  claims.Subject,
		Username:    claims.Username,
		Role:        role,
		Permissions: domain.PermissionsFor(role),
		SessionID:   sess.ID,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// Authorize reports whether identity carries capability.
func (s *AuthService) Authorize(identity *domain.Identity, capability domain.Capability) error {
	return authorize(identity, capability)
}

// Revoke ends the caller's session.
func (s *AuthService) Revoke(ctx context.Context, identity *domain.Identity) error {
	if identity == nil {
		return port.ErrInvalidSession
	}
	if err := s.sessions.DeactivateSession(ctx, identity.SessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	slog.Info("operator logged out", "operator_id", identity.OperatorID)
	s.audit.RecordAction(ctx, identity, domain.AuditActionLogout, map[string]any{"session_id": identity.SessionID})
	return nil
}

// DeactivateOperator disables an operator and ends its sessions. Operators
// are never deleted.
func (s *AuthService) DeactivateOperator(ctx context.Context, identity *domain.Identity, operatorID string) error {
	if err := authorize(identity, domain.CapManageAdminUsers); err != nil {
		s.audit.RecordDenied(ctx, identity, domain.CapManageAdminUsers, "")
		return err
	}
	if !identity.Role.AtLeast(domain.RoleSuperAdmin) {
		return &port.PermissionError{Capability: domain.CapManageAdminUsers}
	}
	if operatorID == identity.OperatorID {
		return fmt.Errorf("%w: operators cannot deactivate themselves", port.ErrInvalidInput)
	}

	target, err := s.creds.GetOperatorByID(ctx, operatorID)
	if err != nil {
		return fmt.Errorf("load operator: %w", err)
	}
	if err := s.creds.DeactivateOperator(ctx, operatorID); err != nil {
		return fmt.Errorf("deactivate operator: %w", err)
	}

	slog.Info("operator deactivated", "operator_id", operatorID, "by", identity.Username)
	s.audit.RecordAction(ctx, identity, domain.AuditActionOperatorDeactivate, map[string]any{
		"operator_id": operatorID,
		"username":    target.Username,
	})
	return nil
}

// tokenHash is the digest stored in place of the bearer token.
func tokenHash(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
