package port

import (
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// Sentinel errors used across ports.
var (
	// ErrInvalidCredentials covers unknown user, bad password and bad
	// one-time code. Callers must not be able to tell them apart.
	ErrInvalidCredentials = errors.New("invalid credentials or one-time code")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	// ErrInvalidSession covers bad signature, expired claim and a revoked
	// or missing session row.
	ErrInvalidSession         = errors.New("invalid or expired session")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrNotFound               = errors.New("not found")
	ErrInvalidState           = errors.New("invalid state for operation")
	ErrDeploymentFailure      = errors.New("deployment failed")
	ErrInvalidInput           = errors.New("invalid input")
	ErrAlreadyReviewed        = errors.New("reviewer already reviewed this upload")
	ErrDuplicate              = errors.New("duplicate record")
)

// PermissionError names the capability a caller lacked.
type PermissionError struct {
	Capability domain.Capability
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("insufficient permission: requires %s", e.Capability)
}

// Unwrap lets errors.Is match ErrInsufficientPermission.
func (e *PermissionError) Unwrap() error { return ErrInsufficientPermission }

// LockedError carries the instant the lockout ends.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrAccountLocked.
func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// InvalidStateError reports the status that made an operation invalid.
type InvalidStateError struct {
	Op     string
	Status domain.UploadStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed while upload is %s", e.Op, e.Status)
}

// Unwrap lets errors.Is match ErrInvalidState.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
