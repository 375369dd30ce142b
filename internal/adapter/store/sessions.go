package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// --- Sessions ---

// ReplaceActiveSession deactivates the operator's active sessions and
// inserts sess in one transaction. On Postgres the operator row is locked
// first so concurrent logins of the same operator queue behind each other.
func (s *Store) ReplaceActiveSession(ctx context.Context, sess *domain.Session) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var op operatorModel
		q := tx.NewSelect().Model(&op).ColumnExpr("o.id").Where("o.id = ?", sess.OperatorID)
		if err := lockForUpdate(q).Scan(ctx); err != nil {
			return fmt.Errorf("lock operator: %w", mapDBError(err))
		}

		if _, err := execRaw(ctx, tx,
			`UPDATE sessions SET active = ? WHERE operator_id = ? AND active = ?`,
			false, sess.OperatorID, true); err != nil {
			return fmt.Errorf("deactivate sessions: %w", err)
		}

		m := &sessionModel{
			ID:         sess.ID,
			OperatorID: sess.OperatorID,
			TokenHash:  sess.TokenHash,
			CreatedAt:  sess.CreatedAt.UTC(),
			ExpiresAt:  sess.ExpiresAt.UTC(),
			Active:     true,
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert session: %w", mapDBError(err))
		}
		sess.Active = true
		return nil
	})
}

// GetSessionByTokenHash looks a session up by the hash of its token.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var m sessionModel
	if err := s.db.NewSelect().Model(&m).Where("s.token_hash = ?", tokenHash).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get session: %w", mapDBError(err))
	}
	sess := m.toDomain()
	return &sess, nil
}

// ListActiveSessions returns the active sessions of an operator.
func (s *Store) ListActiveSessions(ctx context.Context, operatorID string) ([]domain.Session, error) {
	var rows []sessionModel
	err := s.db.NewSelect().Model(&rows).
		Where("s.operator_id = ?", operatorID).
		Where("s.active = ?", true).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", mapDBError(err))
	}
	out := make([]domain.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// DeactivateSession marks one session inactive. Deactivating an inactive
// session succeeds; an unknown id returns ErrNotFound.
func (s *Store) DeactivateSession(ctx context.Context, sessionID string) error {
	res, err := execRaw(ctx, s.db, `UPDATE sessions SET active = ? WHERE id = ?`, false, sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", mapDBError(err))
	}
	return requireAffected(res)
}
