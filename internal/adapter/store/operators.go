package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// --- Operators ---

// CreateOperator inserts a provisioned operator.
func (s *Store) CreateOperator(ctx context.Context, op *domain.Operator) error {
	if _, err := s.db.NewInsert().Model(operatorToModel(op)).Exec(ctx); err != nil {
		return fmt.Errorf("create operator: %w", mapDBError(err))
	}
	return nil
}

// GetOperatorByUsername returns an operator by login name.
func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	var m operatorModel
	if err := s.db.NewSelect().Model(&m).Where("o.username = ?", username).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get operator: %w", mapDBError(err))
	}
	return m.toDomain()
}

// GetOperatorByID returns an operator by id.
func (s *Store) GetOperatorByID(ctx context.Context, id string) (*domain.Operator, error) {
	var m operatorModel
	if err := s.db.NewSelect().Model(&m).Where("o.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get operator: %w", mapDBError(err))
	}
	return m.toDomain()
}

// ListOperators returns every operator ordered by username.
func (s *Store) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	var rows []operatorModel
	if err := s.db.NewSelect().Model(&rows).OrderExpr("o.username ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list operators: %w", mapDBError(err))
	}
	out := make([]domain.Operator, 0, len(rows))
	for i := range rows {
		op, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *op)
	}
	return out, nil
}

// RecordLoginFailure increments the counter and locks the operator in a
// single statement, so concurrent failures cannot lose an increment.
func (s *Store) RecordLoginFailure(ctx context.Context, operatorID string, threshold int, lockUntil time.Time) (int, error) {
	var attempts int
	err := queryRawInto(ctx, s.db, &attempts, `
		UPDATE operators SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE locked_until END
		WHERE id = ?
		RETURNING failed_attempts`,
		threshold, lockUntil.UTC(), operatorID)
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", mapDBError(err))
	}
	return attempts, nil
}

// ResetLoginFailures clears the counter and lock.
func (s *Store) ResetLoginFailures(ctx context.Context, operatorID string) error {
	res, err := execRaw(ctx, s.db,
		`UPDATE operators SET failed_attempts = 0, locked_until = NULL WHERE id = ?`, operatorID)
	if err != nil {
		return fmt.Errorf("reset login failures: %w", mapDBError(err))
	}
	return requireAffected(res)
}

// RecordLoginSuccess clears the counter and lock and stamps the last login.
func (s *Store) RecordLoginSuccess(ctx context.Context, operatorID string, at time.Time) error {
	res, err := execRaw(ctx, s.db,
		`UPDATE operators SET failed_attempts = 0, locked_until = NULL, last_login_at = ? WHERE id = ?`,
		at.UTC(), operatorID)
	if err != nil {
		return fmt.Errorf("record login success: %w", mapDBError(err))
	}
	return requireAffected(res)
}

// DeactivateOperator marks the operator inactive and ends its sessions.
func (s *Store) DeactivateOperator(ctx context.Context, operatorID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := execRaw(ctx, tx, `UPDATE operators SET active = ? WHERE id = ?`, false, operatorID)
		if err != nil {
			return fmt.Errorf("deactivate operator: %w", mapDBError(err))
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := execRaw(ctx, tx,
			`UPDATE sessions SET active = ? WHERE operator_id = ? AND active = ?`,
			false, operatorID, true); err != nil {
			return fmt.Errorf("deactivate sessions: %w", err)
		}
		return nil
	})
}
