package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// Audit listing bounds.
const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

// AuditService writes and reads the privileged action log. Writes are
// best-effort: a failed write is logged and never fails the caller.
type AuditService struct {
	sink port.AuditSink
	now  func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(sink port.AuditSink) *AuditService {
	return &AuditService{sink: sink, now: time.Now}
}

// Record writes rec, stamping it with the current time when unset.
func (s *AuditService) Record(ctx context.Context, rec domain.AuditRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if err := s.sink.WriteAudit(ctx, &rec); err != nil {
		slog.Error("failed to write audit log", "action", rec.Action, "actor", rec.Actor, "error", err)
	}
}

// RecordAction writes an audit record attributed to identity.
func (s *AuditService) RecordAction(ctx context.Context, identity *domain.Identity, action string, details map[string]any) {
	rec := domain.AuditRecord{Action: action, Details: details}
	if identity != nil {
		rec.ActorID = identity.OperatorID
		rec.Actor = identity.Username
	}
	s.Record(ctx, rec)
}

// RecordDenied implements middleware.DenialRecorder.
func (s *AuditService) RecordDenied(ctx context.Context, identity *domain.Identity, capability domain.Capability, ip string) {
	rec := domain.AuditRecord{
		Action:  domain.AuditActionPermissionDenied,
		IP:      ip,
		Details: map[string]any{"required_permission": string(capability)},
	}
	if identity != nil {
		rec.ActorID = identity.OperatorID
		rec.Actor = identity.Username
		rec.Details["role"] = identity.Role.String()
	}
	slog.Warn("permission denied", "actor", rec.Actor, "capability", capability)
	s.Record(ctx, rec)
}

// List returns the newest audit records first. limit <= 0 means the
// default; larger values are capped.
func (s *AuditService) List(ctx context.Context, identity *domain.Identity, limit int) ([]domain.AuditRecord, error) {
	if err := authorize(identity, domain.CapViewAuditLogs); err != nil {
		s.RecordDenied(ctx, identity, domain.CapViewAuditLogs, "")
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultAuditLimit
	case limit > MaxAuditLimit:
		limit = MaxAuditLimit
	}
	records, err := s.sink.ListAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return records, nil
}

// authorize checks identity against the capability carried on it.
func authorize(identity *domain.Identity, capability domain.Capability) error {
	if identity == nil {
		return port.ErrInvalidSession
	}
	if !identity.Has(capability) {
		return &port.PermissionError{Capability: capability}
	}
	return nil
}
