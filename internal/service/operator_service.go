package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// MinPasswordLength is the shortest password accepted at provisioning.
const MinPasswordLength = 12

// OperatorService provisions operators out of band (CLI only).
type OperatorService struct {
	creds    port.OperatorStore
	hasher   port.PasswordHasher
	enroller port.OTPEnroller
	now      func() time.Time
}

// NewOperatorService creates a new provisioning service.
func NewOperatorService(creds port.OperatorStore, hasher port.PasswordHasher, enroller port.OTPEnroller) *OperatorService {
	return &OperatorService{creds: creds, hasher: hasher, enroller: enroller, now: time.Now}
}

// Provisioned is a newly created operator with its one-time-code enrollment.
type Provisioned struct {
	Operator   *domain.Operator
	Enrollment *port.OTPEnrollment
}

// Create registers a new active operator and generates its TOTP secret.
func (s *OperatorService) Create(ctx context.Context, username, password string, role domain.Role) (*Provisioned, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", port.ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", port.ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", port.ErrInvalidInput, MinPasswordLength)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.enroller.Enroll(username)
	if err != nil {
		return nil, err
	}

	op := &domain.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		TOTPSecret:   enrollment.Secret,
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.creds.CreateOperator(ctx, op); err != nil {
		return nil, fmt.Errorf("create operator %s: %w", username, err)
	}

	slog.Info("operator provisioned", "operator_id", op.ID, "username", username, "role", role)
	return &Provisioned{Operator: op, Enrollment: enrollment}, nil
}

// OperatorStatus is an operator with its lockout state and live sessions.
type OperatorStatus struct {
	Operator       *domain.Operator
	Locked         bool
	ActiveSessions []domain.Session
}

// Show returns an operator's account state. Sessions past their expiry are
// left out even while their row is still marked active.
func (s *OperatorService) Show(ctx context.Context, username string) (*OperatorStatus, error) {
	op, err := s.creds.GetOperatorByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("load operator %s: %w", username, err)
	}
	sessions, err := s.creds.ListActiveSessions(ctx, op.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", username, err)
	}
	now := s.now()
	live := sessions[:0]
	for _, sess := range sessions {
		if now.Before(sess.ExpiresAt) {
			live = append(live, sess)
		}
	}
	return &OperatorStatus{Operator: op, Locked: op.LockedAt(now), ActiveSessions: live}, nil
}

// Deactivate disables an operator from the CLI, bypassing the API's
// capability check. It is the recovery path when no super admin can log in.
func (s *OperatorService) Deactivate(ctx context.Context, username string) (*domain.Operator, error) {
	op, err := s.creds.GetOperatorByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load operator %s: %w", username, err)
	}
	if err := s.creds.DeactivateOperator(ctx, op.ID); err != nil {
		return nil, fmt.Errorf("deactivate operator %s: %w", username, err)
	}
	op.Active = false
	slog.Info("operator deactivated from cli", "operator_id", op.ID, "username", username)
	return op, nil
}
