package port

import (
	"context"
	"time"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// CredentialStore persists operator identity and lockout counters.
type CredentialStore interface {
	// CreateOperator inserts a provisioned operator.
	CreateOperator(ctx context.Context, op *domain.Operator) error

	// GetOperatorByUsername returns ErrNotFound when no such operator exists.
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)

	// GetOperatorByID returns ErrNotFound when no such operator exists.
	GetOperatorByID(ctx context.Context, id string) (*domain.Operator, error)

	// RecordLoginFailure atomically increments the failed-attempt counter
	// and, when it reaches threshold, sets locked_until to lockUntil.
	// It returns the counter value after the increment.
	RecordLoginFailure(ctx context.Context, operatorID string, threshold int, lockUntil time.Time) (int, error)

	// ResetLoginFailures clears the counter and any lock.
	ResetLoginFailures(ctx context.Context, operatorID string) error

	// RecordLoginSuccess clears the counter and lock and stamps the last login.
	RecordLoginSuccess(ctx context.Context, operatorID string, at time.Time) error

	// DeactivateOperator marks the operator inactive and deactivates every
	// session it holds, in one transaction.
	DeactivateOperator(ctx context.Context, operatorID string) error
}

// SessionStore persists issued sessions.
type SessionStore interface {
	// ReplaceActiveSession deactivates every active session of the owning
	// operator and inserts sess as the sole active one. Concurrent readers
	// observe either the old set or the new one, never a mix.
	ReplaceActiveSession(ctx context.Context, sess *domain.Session) error

	// GetSessionByTokenHash returns ErrNotFound when no row matches.
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)

	// ListActiveSessions returns the active sessions of an operator.
	ListActiveSessions(ctx context.Context, operatorID string) ([]domain.Session, error)

	// DeactivateSession marks one session inactive.
	DeactivateSession(ctx context.Context, sessionID string) error
}

// OperatorStore is what out-of-band operator administration reads and
// writes.
type OperatorStore interface {
	CredentialStore
	ListActiveSessions(ctx context.Context, operatorID string) ([]domain.Session, error)
}

// WorkflowStore persists upload requests and their reviews.
type WorkflowStore interface {
	CreateUpload(ctx context.Context, u *domain.UploadRequest) error
	GetUpload(ctx context.Context, id string) (*domain.UploadRequest, error)
	ListReviews(ctx context.Context, uploadID string) ([]domain.Review, error)

	// ListPending returns uploads still collecting reviews, oldest first.
	ListPending(ctx context.Context, limit int) ([]domain.PendingUpload, error)

	// WithUpload runs fn in a transaction holding a row lock on the upload.
	// Returning an error from fn rolls back everything fn wrote.
	WithUpload(ctx context.Context, uploadID string, fn func(tx UploadTx) error) error
}

// UploadTx is the view of one locked upload inside WorkflowStore.WithUpload.
type UploadTx interface {
	Upload() *domain.UploadRequest

	// AddReview returns ErrAlreadyReviewed when the reviewer already voted.
	AddReview(ctx context.Context, r *domain.Review) error

	// Counts returns total and approving reviews for the upload.
	Counts(ctx context.Context) (total, approved int, err error)

	SetStatus(ctx context.Context, status domain.UploadStatus, at time.Time) error
}

// AuditSink is the append-only record of privileged actions.
type AuditSink interface {
	WriteAudit(ctx context.Context, rec *domain.AuditRecord) error

	// ListAudit returns the newest records first.
	ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}
