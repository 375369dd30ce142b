package store

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

type operatorModel struct {
	bun.BaseModel `bun:"table:operators,alias:o"`

	ID             string     `bun:"id,pk"`
	Username       string     `bun:"username"`
	PasswordHash   string     `bun:"password_hash"`
	TOTPSecret     string     `bun:"totp_secret"`
	Role           string     `bun:"role"`
	FailedAttempts int        `bun:"failed_attempts"`
	LockedUntil    *time.Time `bun:"locked_until"`
	LastLoginAt    *time.Time `bun:"last_login_at"`
	Active         bool       `bun:"active"`
	CreatedAt      time.Time  `bun:"created_at"`
}

func operatorToModel(op *domain.Operator) *operatorModel {
	return &operatorModel{
		ID:             op.ID,
		Username:       op.Username,
		PasswordHash:   op.PasswordHash,
		TOTPSecret:     op.TOTPSecret,
		Role:           op.Role.String(),
		FailedAttempts: op.FailedAttempts,
		LockedUntil:    utcPtr(op.LockedUntil),
		LastLoginAt:    utcPtr(op.LastLoginAt),
		Active:         op.Active,
		CreatedAt:      op.CreatedAt.UTC(),
	}
}

func (m *operatorModel) toDomain() (*domain.Operator, error) {
	role, err := domain.ParseRole(m.Role)
	if err != nil {
		return nil, fmt.Errorf("operator %s: %w", m.ID, err)
	}
	return &domain.Operator{
		ID:             m.ID,
		Username:       m.Username,
		PasswordHash:   m.PasswordHash,
		TOTPSecret:     m.TOTPSecret,
		Role:           role,
		FailedAttempts: m.FailedAttempts,
		LockedUntil:    utcPtr(m.LockedUntil),
		LastLoginAt:    utcPtr(m.LastLoginAt),
		Active:         m.Active,
		CreatedAt:      m.CreatedAt.UTC(),
	}, nil
}

type sessionModel struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID         string    `bun:"id,pk"`
	OperatorID string    `bun:"operator_id"`
	TokenHash  string    `bun:"token_hash"`
	CreatedAt  time.Time `bun:"created_at"`
	ExpiresAt  time.Time `bun:"expires_at"`
	Active     bool      `bun:"active"`
}

func (m *sessionModel) toDomain() domain.Session {
	return domain.Session{
		ID:         m.ID,
		OperatorID: m.OperatorID,
		TokenHash:  m.TokenHash,
		CreatedAt:  m.CreatedAt.UTC(),
		ExpiresAt:  m.ExpiresAt.UTC(),
		Active:     m.Active,
	}
}

type uploadModel struct {
	bun.BaseModel `bun:"table:knowledge_uploads,alias:u"`

	ID            string    `bun:"id,pk"`
	SubmitterID   string    `bun:"submitter_id"`
	Domain        string    `bun:"domain"`
	ArtifactCount int       `bun:"artifact_count"`
	Description   string    `bun:"description"`
	Priority      string    `bun:"priority"`
	Status        string    `bun:"status"`
	StagingRef    string    `bun:"staging_ref"`
	SubmittedAt   time.Time `bun:"submitted_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

func uploadToModel(u *domain.UploadRequest) *uploadModel {
	return &uploadModel{
		ID:            u.ID,
		SubmitterID:   u.SubmitterID,
		Domain:        u.Domain,
		ArtifactCount: u.ArtifactCount,
		Description:   u.Description,
		Priority:      string(u.Priority),
		Status:        string(u.Status),
		StagingRef:    u.StagingRef,
		SubmittedAt:   u.SubmittedAt.UTC(),
		UpdatedAt:     u.UpdatedAt.UTC(),
	}
}

func (m *uploadModel) toDomain() (*domain.UploadRequest, error) {
	status, err := domain.ParseUploadStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", m.ID, err)
	}
	return &domain.UploadRequest{
		ID:            m.ID,
		SubmitterID:   m.SubmitterID,
		Domain:        m.Domain,
		ArtifactCount: m.ArtifactCount,
		Description:   m.Description,
		Priority:      domain.Priority(m.Priority),
		Status:        status,
		StagingRef:    m.StagingRef,
		SubmittedAt:   m.SubmittedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}, nil
}

// pendingRow is an upload joined with its submitter name and review count.
type pendingRow struct {
	uploadModel `bun:",extend"`

	SubmittedBy    string `bun:"submitted_by,scanonly"`
	CurrentReviews int    `bun:"current_reviews,scanonly"`
}

type reviewModel struct {
	bun.BaseModel `bun:"table:knowledge_reviews,alias:r"`

	ID         string    `bun:"id,pk"`
	UploadID   string    `bun:"upload_id"`
	ReviewerID string    `bun:"reviewer_id"`
	Approved   bool      `bun:"approved"`
	Comment    string    `bun:"comment"`
	ReviewedAt time.Time `bun:"reviewed_at"`
}

func (m *reviewModel) toDomain() domain.Review {
	return domain.Review{
		ID:         m.ID,
		UploadID:   m.UploadID,
		ReviewerID: m.ReviewerID,
		Approved:   m.Approved,
		Comment:    m.Comment,
		ReviewedAt: m.ReviewedAt.UTC(),
	}
}

type auditModel struct {
	bun.BaseModel `bun:"table:audit_logs,alias:a"`

	ID        int64          `bun:"id,pk,autoincrement"`
	ActorID   string         `bun:"actor_id,nullzero"`
	Actor     string         `bun:"actor"`
	Action    string         `bun:"action"`
	Details   map[string]any `bun:"details,type:jsonb"`
	IP        string         `bun:"ip"`
	CreatedAt time.Time      `bun:"created_at"`
}

func (m *auditModel) toDomain() domain.AuditRecord {
	return domain.AuditRecord{
		ID:        m.ID,
		ActorID:   m.ActorID,
		Actor:     m.Actor,
		Action:    m.Action,
		Details:   m.Details,
		IP:        m.IP,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
