package domain

import (
	"fmt"
	"strings"
	"time"
)

// UploadStatus is the workflow state of an UploadRequest.
type UploadStatus string

// Upload status constants.
const (
	UploadStatusPending     UploadStatus = "pending"
	UploadStatusUnderReview UploadStatus = "under_review"
	UploadStatusDeployed    UploadStatus = "deployed"
	UploadStatusRejected    UploadStatus = "rejected"
	UploadStatusRolledBack  UploadStatus = "rolled_back"
)

// ParseUploadStatus validates a stored status value.
func ParseUploadStatus(s string) (UploadStatus, error) {
	switch st := UploadStatus(s); st {
	case UploadStatusPending, UploadStatusUnderReview, UploadStatusDeployed,
		UploadStatusRejected, UploadStatusRolledBack:
		return st, nil
	default:
		return "", fmt.Errorf("unknown upload status %q", s)
	}
}

// Terminal reports whether no further review can change the status.
// Deployed is terminal for review but may still be rolled back.
func (s UploadStatus) Terminal() bool {
	switch s {
	case UploadStatusPending, UploadStatusUnderReview:
		return false
	case UploadStatusDeployed, UploadStatusRejected, UploadStatusRolledBack:
		return true
	default:
		panic(fmt.Sprintf("unhandled upload status %q", string(s)))
	}
}

// Priority tags an upload for reviewers.
type Priority string

// Priority constants.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority parses a priority tag; empty input means medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// UploadRequest is a proposed change to the knowledge corpus.
type UploadRequest struct {
	ID            string       `json:"id"`
	SubmitterID   string       `json:"submitter_id"`
	Domain        string       `json:"knowledge_domain"`
	ArtifactCount int          `json:"files_count"`
	Description   string       `json:"description"`
	Priority      Priority     `json:"priority"`
	Status        UploadStatus `json:"status"`
	StagingRef    string       `json:"-"`
	SubmittedAt   time.Time    `json:"submitted_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// PendingUpload is an UploadRequest awaiting reviews, with its current count.
type PendingUpload struct {
	UploadRequest
	SubmittedBy    string `json:"submitted_by"`
	CurrentReviews int    `json:"current_reviews"`
	Required       int    `json:"required_reviews"`
}

// Review is one reviewer's verdict on an upload. Reviews are immutable.
type Review struct {
	ID         string    `json:"id"`
	UploadID   string    `json:"upload_id"`
	ReviewerID string    `json:"reviewer_id"`
	Approved   bool      `json:"approved"`
	Comment    string    `json:"comments"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Tally is the review count for an upload measured against its quorum rule.
type Tally struct {
	Total      int  `json:"total_reviews"`
	Approved   int  `json:"approved_reviews"`
	Required   int  `json:"required_reviews"`
	AutoDeploy bool `json:"auto_deploy"`
}

// Outcome is the status a tally calls for.
func (t Tally) Outcome() UploadStatus {
	switch {
	case t.Total < t.Required:
		return UploadStatusUnderReview
	case t.Approved >= t.Required:
		return UploadStatusDeployed
	default:
		return UploadStatusRejected
	}
}

// Artifact is an uploaded binary blob with its declared media kind.
type Artifact struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

// StagedArtifact describes an artifact held in the staging area.
type StagedArtifact struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
}

// QualityReport is the advisory assessment produced at submission.
// It never gates workflow state.
type QualityReport struct {
	Domain     string            `json:"domain"`
	Score      float64           `json:"overall_score"`
	Findings   []string          `json:"findings,omitempty"`
	Strategies map[string]float64 `json:"strategies,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	AssessedAt time.Time         `json:"assessed_at"`
}
