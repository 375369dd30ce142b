package store

import (
	"context"
	"fmt"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// --- Audit Logs ---

// WriteAudit appends an audit record and sets its id.
func (s *Store) WriteAudit(ctx context.Context, rec *domain.AuditRecord) error {
	details := rec.Details
	if details == nil {
		details = map[string]any{}
	}
	m := &auditModel{
		ActorID:   rec.ActorID,
		Actor:     rec.Actor,
		Action:    rec.Action,
		Details:   details,
		IP:        rec.IP,
		CreatedAt: rec.CreatedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("write audit: %w", mapDBError(err))
	}
	rec.ID = m.ID
	return nil
}

// ListAudit returns the newest audit records first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	var rows []auditModel
	q := s.db.NewSelect().Model(&rows).OrderExpr("a.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", mapDBError(err))
	}
	out := make([]domain.AuditRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
