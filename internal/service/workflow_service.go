package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// DefaultPendingLimit bounds ListPending when the caller passes no limit.
const DefaultPendingLimit = 50

// WorkflowConfig holds the review policy and upload limits.
type WorkflowConfig struct {
	Policy         domain.QuorumPolicy
	MaxUploadBytes int64
}

// WorkflowService drives uploads through review, deployment and rollback.
//
// Every state change for one upload runs under an in-process lock keyed by
// the upload id and inside a store transaction that row-locks the upload,
// so concurrent reviews observe each other's votes.
type WorkflowService struct {
	store    port.WorkflowStore
	stager   port.ArtifactStager
	deployer port.Deployer
	quality  port.QualityAssessor
	audit    *AuditService
	events   *EventBus
	cfg      WorkflowConfig
	locks    *keyedMutex
	now      func() time.Time
}

// NewWorkflowService creates a new workflow service. quality may be nil.
func NewWorkflowService(
	store port.WorkflowStore,
	stager port.ArtifactStager,
	deployer port.Deployer,
	quality port.QualityAssessor,
	audit *AuditService,
	cfg WorkflowConfig,
) *WorkflowService {
	if cfg.Policy == nil {
		cfg.Policy = domain.DefaultQuorumPolicy()
	}
	return &WorkflowService{
		store:    store,
		stager:   stager,
		deployer: deployer,
		quality:  quality,
		audit:    audit,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// WithEvents publishes status changes on bus.
func (s *WorkflowService) WithEvents(bus *EventBus) *WorkflowService {
	s.events = bus
	return s
}

// SubmitInput is a new upload as received from an operator.
type SubmitInput struct {
	Domain      string
	Description string
	Priority    string
	Artifacts   []domain.Artifact
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	Upload   *domain.UploadRequest   `json:"upload"`
	Rule     domain.QuorumRule       `json:"quorum"`
	Manifest []domain.StagedArtifact `json:"artifacts"`
	Quality  *domain.QualityReport   `json:"quality_assessment,omitempty"`
}

// ReviewResult reports the workflow state after a review or retry.
type ReviewResult struct {
	UploadID   string              `json:"upload_id"`
	Status     domain.UploadStatus `json:"status"`
	Tally      domain.Tally        `json:"tally"`
	Deployment *port.Deployment    `json:"deployment,omitempty"`
}

// RollbackResult reports a completed rollback.
type RollbackResult struct {
	UploadID     string              `json:"upload_id"`
	Status       domain.UploadStatus `json:"status"`
	Deployment   *port.Deployment    `json:"deployment"`
	RolledBackAt time.Time           `json:"rolled_back_at"`
}

// UploadDetail is an upload with its reviews and quorum standing.
type UploadDetail struct {
	Upload  *domain.UploadRequest `json:"upload"`
	Reviews []domain.Review       `json:"reviews"`
	Rule    domain.QuorumRule     `json:"quorum"`
	Tally   domain.Tally          `json:"tally"`
}

// Submit stages a new upload in Pending and runs the advisory quality pass.
func (s *WorkflowService) Submit(ctx context.Context, identity *domain.Identity, in SubmitInput) (*SubmitResult, error) {
	if err := s.require(ctx, identity, domain.CapUploadKnowledge); err != nil {
		return nil, err
	}

	domainName := strings.TrimSpace(in.Domain)
	rule, ok := s.cfg.Policy.Rule(domainName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown knowledge domain %q", port.ErrInvalidInput, in.Domain)
	}
	priority, err := domain.ParsePriority(in.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrInvalidInput, err)
	}
	if len(in.Artifacts) == 0 {
		return nil, fmt.Errorf("%w: at least one artifact is required", port.ErrInvalidInput)
	}
	var size int64
	names := make(map[string]struct{}, len(in.Artifacts))
	for _, a := range in.Artifacts {
		if strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("%w: artifact without a name", port.ErrInvalidInput)
		}
		if _, dup := names[a.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate artifact name %q", port.ErrInvalidInput, a.Name)
		}
		names[a.Name] = struct{}{}
		size += int64(len(a.Data))
	}
	if s.cfg.MaxUploadBytes > 0 && size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: upload of %d bytes exceeds limit of %d", port.ErrInvalidInput, size, s.cfg.MaxUploadBytes)
	}

	now := s.now().UTC()
	upload := &domain.UploadRequest{
		ID:            uuid.NewString(),
		SubmitterID:   identity.OperatorID,
		Domain:        domainName,
		ArtifactCount: len(in.Artifacts),
		Description:   strings.TrimSpace(in.Description),
		Priority:      priority,
		Status:        domain.UploadStatusPending,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	ref, manifest, err := s.stager.Stage(ctx, upload.ID, in.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("stage artifacts: %w", err)
	}
	upload.StagingRef = ref

	if err := s.store.CreateUpload(ctx, upload); err != nil {
		if derr := s.stager.Discard(ctx, ref); derr != nil {
			slog.Error("discard staged artifacts failed", "upload_id", upload.ID, "error", derr)
		}
		return nil, fmt.Errorf("create upload: %w", err)
	}

	result := &SubmitResult{Upload: upload, Rule: rule, Manifest: manifest}
	if s.quality != nil {
		report, err := s.quality.Assess(ctx, domainName, in.Artifacts)
		if err != nil {
			slog.Warn("quality assessment failed", "upload_id", upload.ID, "error", err)
		} else {
			result.Quality = report
		}
	}

	details := map[string]any{
		"upload_id":        upload.ID,
		"knowledge_domain": domainName,
		"files_count":      upload.ArtifactCount,
		"priority":         string(priority),
		"required_reviews": rule.RequiredReviewers,
		"auto_deploy":      rule.AutoDeploy,
	}
	if result.Quality != nil {
		details["quality_score"] = result.Quality.Score
	}
	slog.Info("knowledge upload submitted", "upload_id", upload.ID, "domain", domainName, "by", identity.Username)
	s.audit.RecordAction(ctx, identity, domain.AuditActionUploadSubmitted, details)
	s.publish(identity, upload, nil)

	return result, nil
}

// SubmitReview records the reviewer's vote and applies the quorum rule.
//
// A failed deployment keeps the review and leaves the upload UnderReview;
// the error wraps port.ErrDeploymentFailure.
func (s *WorkflowService) SubmitReview(ctx context.Context, identity *domain.Identity, uploadID string, approve bool, comment string) (*ReviewResult, error) {
	if err := s.require(ctx, identity, domain.CapApproveKnowledge); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	var (
		result    ReviewResult
		upload    domain.UploadRequest
		deployErr error
	)
	err := s.store.WithUpload(ctx, uploadID, func(tx port.UploadTx) error {
		u := tx.Upload()
		if u.Status.Terminal() {
			return &port.InvalidStateError{Op: "review", Status: u.Status}
		}
		rule, ok := s.cfg.Policy.Rule(u.Domain)
		if !ok {
			return fmt.Errorf("no quorum rule for domain %q", u.Domain)
		}

		now := s.now().UTC()
		review := &domain.Review{
			ID:         uuid.NewString(),
			UploadID:   u.ID,
			ReviewerID: identity.OperatorID,
			Approved:   approve,
			Comment:    strings.TrimSpace(comment),
			ReviewedAt: now,
		}
		if err := tx.AddReview(ctx, review); err != nil {
			return err
		}

		total, approved, err := tx.Counts(ctx)
		if err != nil {
			return err
		}
		tally := rule.Tally(total, approved)
		result.Tally = tally

		switch tally.Outcome() {
		case domain.UploadStatusDeployed:
			dep, err := s.deploy(ctx, u, rule)
			if err != nil {
				deployErr = err
				if err := s.setStatus(ctx, tx, domain.UploadStatusUnderReview, now); err != nil {
					return err
				}
				break
			}
			result.Deployment = dep
			if err := tx.SetStatus(ctx, domain.UploadStatusDeployed, now); err != nil {
				return err
			}
		case domain.UploadStatusRejected:
			if err := tx.SetStatus(ctx, domain.UploadStatusRejected, now); err != nil {
				return err
			}
		default:
			if err := s.setStatus(ctx, tx, domain.UploadStatusUnderReview, now); err != nil {
				return err
			}
		}
		upload = *u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("review %s: %w", uploadID, err)
	}

	result.UploadID = upload.ID
	result.Status = upload.Status
	s.auditReview(ctx, identity, &upload, approve, result, deployErr)
	s.publish(identity, &upload, &result.Tally)

	if upload.Status == domain.UploadStatusRejected {
		if err := s.stager.Discard(ctx, upload.StagingRef); err != nil {
			slog.Error("discard staged artifacts failed", "upload_id", upload.ID, "error", err)
		}
	}
	if deployErr != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrDeploymentFailure, deployErr)
	}
	return &result, nil
}

// RetryDeployment deploys an UnderReview upload whose approvals already
// meet quorum. It is the recovery path after a failed deployment.
func (s *WorkflowService) RetryDeployment(ctx context.Context, identity *domain.Identity, uploadID string) (*ReviewResult, error) {
	if err := s.require(ctx, identity, domain.CapApproveKnowledge); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	var (
		result    ReviewResult
		upload    domain.UploadRequest
		deployErr error
	)
	err := s.store.WithUpload(ctx, uploadID, func(tx port.UploadTx) error {
		u := tx.Upload()
		if u.Status != domain.UploadStatusUnderReview {
			return &port.InvalidStateError{Op: "retry deployment", Status: u.Status}
		}
		rule, ok := s.cfg.Policy.Rule(u.Domain)
		if !ok {
			return fmt.Errorf("no quorum rule for domain %q", u.Domain)
		}
		total, approved, err := tx.Counts(ctx)
		if err != nil {
			return err
		}
		tally := rule.Tally(total, approved)
		result.Tally = tally
		if tally.Outcome() != domain.UploadStatusDeployed {
			return &port.InvalidStateError{Op: "retry deployment before quorum", Status: u.Status}
		}

		dep, err := s.deploy(ctx, u, rule)
		if err != nil {
			deployErr = err
			upload = *u
			return nil
		}
		result.Deployment = dep
		if err := tx.SetStatus(ctx, domain.UploadStatusDeployed, s.now().UTC()); err != nil {
			return err
		}
		upload = *u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retry deployment %s: %w", uploadID, err)
	}

	result.UploadID = upload.ID
	result.Status = upload.Status
	details := tallyDetails(&upload, result.Tally)
	details["retry"] = true
	if deployErr != nil {
		details["error"] = deployErr.Error()
		slog.Error("deployment retry failed", "upload_id", upload.ID, "error", deployErr)
		s.audit.RecordAction(ctx, identity, domain.AuditActionDeploymentFailed, details)
		return nil, fmt.Errorf("%w: %v", port.ErrDeploymentFailure, deployErr)
	}
	slog.Info("knowledge deployed on retry", "upload_id", upload.ID, "domain", upload.Domain)
	s.audit.RecordAction(ctx, identity, domain.AuditActionUploadDeployed, details)
	s.publish(identity, &upload, &result.Tally)
	return &result, nil
}

// Rollback reverses a deployed upload. Only Deployed uploads can be rolled
// back.
func (s *WorkflowService) Rollback(ctx context.Context, identity *domain.Identity, uploadID string) (*RollbackResult, error) {
	if err := s.require(ctx, identity, domain.CapEmergencyControls); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	var (
		result      RollbackResult
		upload      domain.UploadRequest
		rollbackErr error
	)
	err := s.store.WithUpload(ctx, uploadID, func(tx port.UploadTx) error {
		u := tx.Upload()
		if u.Status != domain.UploadStatusDeployed {
			return &port.InvalidStateError{Op: "rollback", Status: u.Status}
		}
		upload = *u

		dep, err := s.deployer.Rollback(ctx, u.ID)
		if err != nil {
			rollbackErr = err
			return nil
		}
		now := s.now().UTC()
		if err := tx.SetStatus(ctx, domain.UploadStatusRolledBack, now); err != nil {
			return err
		}
		upload = *u
		result.Deployment = dep
		result.RolledBackAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rollback %s: %w", uploadID, err)
	}

	details := map[string]any{
		"upload_id":        upload.ID,
		"knowledge_domain": upload.Domain,
	}
	if rollbackErr != nil {
		details["error"] = rollbackErr.Error()
		slog.Error("rollback failed", "upload_id", upload.ID, "error", rollbackErr)
		s.audit.RecordAction(ctx, identity, domain.AuditActionRollbackFailed, details)
		return nil, fmt.Errorf("%w: rollback: %v", port.ErrDeploymentFailure, rollbackErr)
	}

	result.UploadID = upload.ID
	result.Status = upload.Status
	slog.Warn("knowledge deployment rolled back", "upload_id", upload.ID, "by", identity.Username)
	s.audit.RecordAction(ctx, identity, domain.AuditActionRollback, details)
	s.publish(identity, &upload, nil)
	return &result, nil
}

// ListPending returns uploads still collecting reviews, oldest first.
func (s *WorkflowService) ListPending(ctx context.Context, identity *domain.Identity, limit int) ([]domain.PendingUpload, error) {
	if identity == nil {
		return nil, port.ErrInvalidSession
	}
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	pending, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	for i := range pending {
		if rule, ok := s.cfg.Policy.Rule(pending[i].Domain); ok {
			pending[i].Required = rule.RequiredReviewers
		}
	}
	return pending, nil
}

// Get returns an upload with its reviews and current tally.
func (s *WorkflowService) Get(ctx context.Context, identity *domain.Identity, uploadID string) (*UploadDetail, error) {
	if identity == nil {
		return nil, port.ErrInvalidSession
	}
	upload, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("get upload %s: %w", uploadID, err)
	}
	reviews, err := s.store.ListReviews(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list reviews %s: %w", uploadID, err)
	}
	rule, _ := s.cfg.Policy.Rule(upload.Domain)

	approved := 0
	for _, r := range reviews {
		if r.Approved {
			approved++
		}
	}
	return &UploadDetail{
		Upload:  upload,
		Reviews: reviews,
		Rule:    rule,
		Tally:   rule.Tally(len(reviews), approved),
	}, nil
}

// Policy returns the quorum table in effect.
func (s *WorkflowService) Policy() domain.QuorumPolicy {
	return s.cfg.Policy
}

// QualityStrategies names the advisory checks run at submission, or none
// when no assessor is configured.
func (s *WorkflowService) QualityStrategies() []string {
	if s.quality == nil {
		return []string{}
	}
	return s.quality.AvailableStrategies()
}

func (s *WorkflowService) require(ctx context.Context, identity *domain.Identity, capability domain.Capability) error {
	err := authorize(identity, capability)
	var perr *port.PermissionError
	if errors.As(err, &perr) {
		s.audit.RecordDenied(ctx, identity, capability, "")
	}
	return err
}

func (s *WorkflowService) deploy(ctx context.Context, u *domain.UploadRequest, rule domain.QuorumRule) (*port.Deployment, error) {
	return s.deployer.Deploy(ctx, port.DeployRequest{
		UploadID:   u.ID,
		Domain:     u.Domain,
		StagingRef: u.StagingRef,
		AutoDeploy: rule.AutoDeploy,
	})
}

// setStatus moves the upload to status unless it is already there.
func (s *WorkflowService) setStatus(ctx context.Context, tx port.UploadTx, status domain.UploadStatus, at time.Time) error {
	if tx.Upload().Status == status {
		return nil
	}
	return tx.SetStatus(ctx, status, at)
}

func (s *WorkflowService) auditReview(ctx context.Context, identity *domain.Identity, upload *domain.UploadRequest, approve bool, result ReviewResult, deployErr error) {
	details := tallyDetails(upload, result.Tally)
	details["approved"] = approve
	s.audit.RecordAction(ctx, identity, domain.AuditActionUploadReviewed, details)

	switch {
	case deployErr != nil:
		failed := tallyDetails(upload, result.Tally)
		failed["error"] = deployErr.Error()
		slog.Error("deployment failed", "upload_id", upload.ID, "error", deployErr)
		s.audit.RecordAction(ctx, identity, domain.AuditActionDeploymentFailed, failed)
	case upload.Status == domain.UploadStatusDeployed:
		slog.Info("knowledge deployed", "upload_id", upload.ID, "domain", upload.Domain)
		s.audit.RecordAction(ctx, identity, domain.AuditActionUploadDeployed, tallyDetails(upload, result.Tally))
	case upload.Status == domain.UploadStatusRejected:
		slog.Info("knowledge upload rejected", "upload_id", upload.ID, "domain", upload.Domain)
		s.audit.RecordAction(ctx, identity, domain.AuditActionUploadRejected, tallyDetails(upload, result.Tally))
	}
}

func (s *WorkflowService) publish(identity *domain.Identity, upload *domain.UploadRequest, tally *domain.Tally) {
	if s.events == nil {
		return
	}
	s.events.Publish(WorkflowEvent{
		UploadID: upload.ID,
		Domain:   upload.Domain,
		Status:   upload.Status,
		Tally:    tally,
		Actor:    identity.Username,
		At:       s.now().UTC(),
	})
}

func tallyDetails(upload *domain.UploadRequest, t domain.Tally) map[string]any {
	return map[string]any{
		"upload_id":        upload.ID,
		"knowledge_domain": upload.Domain,
		"status":           string(upload.Status),
		"total_reviews":    t.Total,
		"approved_reviews": t.Approved,
		"required_reviews": t.Required,
		"auto_deploy":      t.AutoDeploy,
	}
}
