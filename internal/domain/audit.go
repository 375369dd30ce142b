package domain

import "time"

// AuditRecord is one append-only entry in the privileged action log.
type AuditRecord struct {
	ID        int64          `json:"id"`
	ActorID   string         `json:"actor_id,omitempty"`
	Actor     string         `json:"admin_user"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	IP        string         `json:"ip_address,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit action constants.
const (
	AuditActionLogin              = "admin_login"
	AuditActionLoginFailed        = "admin_login_failed"
	AuditActionLoginLocked        = "admin_login_locked"
	AuditActionLogout             = "admin_logout"
	AuditActionOperatorDeactivate = "operator_deactivated"
	AuditActionPermissionDenied   = "permission_denied"
	AuditActionUploadSubmitted    = "knowledge_upload_submitted"
	AuditActionUploadReviewed     = "knowledge_upload_reviewed"
	AuditActionUploadDeployed     = "knowledge_upload_deployed"
	AuditActionUploadRejected     = "knowledge_upload_rejected"
	AuditActionDeploymentFailed   = "knowledge_deployment_failed"
	AuditActionRollback           = "knowledge_deployment_rollback"
	AuditActionRollbackFailed     = "knowledge_rollback_failed"
	AuditActionHTTPRequest        = "http_request"
)
