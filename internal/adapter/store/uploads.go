package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// --- Uploads ---

// CreateUpload inserts a new upload request.
func (s *Store) CreateUpload(ctx context.Context, u *domain.UploadRequest) error {
	if _, err := s.db.NewInsert().Model(uploadToModel(u)).Exec(ctx); err != nil {
		return fmt.Errorf("create upload: %w", mapDBError(err))
	}
	return nil
}

// GetUpload returns an upload by id.
func (s *Store) GetUpload(ctx context.Context, id string) (*domain.UploadRequest, error) {
	var m uploadModel
	if err := s.db.NewSelect().Model(&m).Where("u.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get upload: %w", mapDBError(err))
	}
	return m.toDomain()
}

// ListPending returns pending and under-review uploads, oldest first, with
// the submitter's username and the number of reviews so far.
func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.PendingUpload, error) {
	var rows []pendingRow
	q := s.db.NewSelect().Model(&rows).
		ColumnExpr("u.*").
		ColumnExpr("o.username AS submitted_by").
		ColumnExpr("(SELECT COUNT(*) FROM knowledge_reviews AS r WHERE r.upload_id = u.id) AS current_reviews").
		Join("JOIN operators AS o ON o.id = u.submitter_id").
		Where("u.status IN (?)", bun.In([]string{
			string(domain.UploadStatusPending),
			string(domain.UploadStatusUnderReview),
		})).
		OrderExpr("u.submitted_at ASC, u.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list pending uploads: %w", mapDBError(err))
	}

	out := make([]domain.PendingUpload, 0, len(rows))
	for i := range rows {
		u, err := rows[i].uploadModel.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PendingUpload{
			UploadRequest:  *u,
			SubmittedBy:    rows[i].SubmittedBy,
			CurrentReviews: rows[i].CurrentReviews,
		})
	}
	return out, nil
}

// ListReviews returns the reviews of an upload in the order they were cast.
func (s *Store) ListReviews(ctx context.Context, uploadID string) ([]domain.Review, error) {
	var rows []reviewModel
	err := s.db.NewSelect().Model(&rows).
		Where("r.upload_id = ?", uploadID).
		OrderExpr("r.reviewed_at ASC, r.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", mapDBError(err))
	}
	out := make([]domain.Review, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// WithUpload loads the upload inside a transaction, locking its row on
// Postgres, and hands it to fn. The transaction commits only if fn
// returns nil.
func (s *Store) WithUpload(ctx context.Context, uploadID string, fn func(tx port.UploadTx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m uploadModel
		q := tx.NewSelect().Model(&m).Where("u.id = ?", uploadID).Limit(1)
		if err := lockForUpdate(q).Scan(ctx); err != nil {
			return fmt.Errorf("load upload: %w", mapDBError(err))
		}
		u, err := m.toDomain()
		if err != nil {
			return err
		}
		return fn(&uploadTx{tx: tx, upload: u})
	})
}

type reviewCounts struct {
	Total    int `bun:"total"`
	Approved int `bun:"approved"`
}

type uploadTx struct {
	tx     bun.Tx
	upload *domain.UploadRequest
}

func (t *uploadTx) Upload() *domain.UploadRequest {
	return t.upload
}

func (t *uploadTx) AddReview(ctx context.Context, r *domain.Review) error {
	var existing int
	if err := queryRawInto(ctx, t.tx, &existing,
		`SELECT COUNT(*) FROM knowledge_reviews WHERE upload_id = ? AND reviewer_id = ?`,
		t.upload.ID, r.ReviewerID); err != nil {
		return fmt.Errorf("check review: %w", err)
	}
	if existing > 0 {
		return port.ErrAlreadyReviewed
	}

	m := &reviewModel{
		ID:         r.ID,
		UploadID:   t.upload.ID,
		ReviewerID: r.ReviewerID,
		Approved:   r.Approved,
		Comment:    r.Comment,
		ReviewedAt: r.ReviewedAt.UTC(),
	}
	if _, err := t.tx.NewInsert().Model(m).Exec(ctx); err != nil {
		err = mapDBError(err)
		if errors.Is(err, port.ErrDuplicate) {
			return port.ErrAlreadyReviewed
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (t *uploadTx) Counts(ctx context.Context) (int, int, error) {
	var counts reviewCounts
	err := queryRawInto(ctx, t.tx, &counts, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN approved THEN 1 ELSE 0 END), 0) AS approved
		FROM knowledge_reviews WHERE upload_id = ?`, t.upload.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("count reviews: %w", err)
	}
	return counts.Total, counts.Approved, nil
}

func (t *uploadTx) SetStatus(ctx context.Context, status domain.UploadStatus, at time.Time) error {
	res, err := execRaw(ctx, t.tx,
		`UPDATE knowledge_uploads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at.UTC(), t.upload.ID)
	if err != nil {
		return fmt.Errorf("set upload status: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	t.upload.Status = status
	t.upload.UpdatedAt = at.UTC()
	return nil
}
