package port

import (
	"context"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
)

// ArtifactStager holds uploaded artifacts until their upload is decided.
type ArtifactStager interface {
	// Stage stores the artifacts under the upload id and returns an opaque
	// staging reference plus a manifest of what was stored.
	Stage(ctx context.Context, uploadID string, artifacts []domain.Artifact) (string, []domain.StagedArtifact, error)

	// Discard drops staged artifacts. Missing references are not an error.
	Discard(ctx context.Context, ref string) error
}

// DeployRequest asks the deployer to publish a staged upload.
type DeployRequest struct {
	UploadID   string
	Domain     string
	StagingRef string
	AutoDeploy bool
}

// Deployment describes a published upload.
type Deployment struct {
	UploadID  string                  `json:"upload_id"`
	Domain    string                  `json:"domain"`
	Artifacts []domain.StagedArtifact `json:"artifacts"`
	// Replayed is true when the upload was already deployed and the call
	// was a no-op.
	Replayed bool `json:"replayed"`
}

// Deployer applies approved uploads to the knowledge corpus.
// Deploy and Rollback must be idempotent per upload id.
type Deployer interface {
	Deploy(ctx context.Context, req DeployRequest) (*Deployment, error)
	Rollback(ctx context.Context, uploadID string) (*Deployment, error)
}

// QualityAssessor produces the advisory quality report for an upload.
type QualityAssessor interface {
	Assess(ctx context.Context, domain string, artifacts []domain.Artifact) (*domain.QualityReport, error)

	// AvailableStrategies names the checks that contribute to a report.
	AvailableStrategies() []string
}

// CorpusReader serves the live (deployed, not rolled back) knowledge.
type CorpusReader interface {
	ListDeployments(ctx context.Context, domain string) ([]Deployment, error)
	Document(ctx context.Context, domain, uploadID, name string) ([]byte, error)
}
