package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/middleware"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

// KnowledgeHandler handles the upload review workflow endpoints.
type KnowledgeHandler struct {
	workflow *service.WorkflowService
	denials  middleware.DenialRecorder
}

// NewKnowledgeHandler creates a new knowledge workflow handler.
func NewKnowledgeHandler(workflow *service.WorkflowService, denials middleware.DenialRecorder) *KnowledgeHandler {
	return &KnowledgeHandler{workflow: workflow, denials: denials}
}

// Register sets up knowledge workflow routes.
func (h *KnowledgeHandler) Register(router fiber.Router) {
	k := router.Group("/knowledge")
	k.Get("/policy", h.Policy)

	uploads := k.Group("/uploads")
	uploads.Post("/", middleware.RequirePermission(domain.CapUploadKnowledge, h.denials), h.Submit)
	uploads.Get("/pending", h.ListPending)
	uploads.Get("/:id", h.Get)

	canApprove := middleware.RequirePermission(domain.CapApproveKnowledge, h.denials)
	reviewer := middleware.RequireLevel(domain.RoleKnowledgeAdmin)
	uploads.Post("/:id/reviews", canApprove, reviewer, h.Review)
	uploads.Post("/:id/deploy", canApprove, reviewer, h.RetryDeployment)
	uploads.Post("/:id/rollback",
		middleware.RequirePermission(domain.CapEmergencyControls, h.denials),
		middleware.RequireLevel(domain.RoleSuperAdmin),
		h.Rollback,
	)
}

// Submit accepts a multipart upload with one or more "files" parts.
func (h *KnowledgeHandler) Submit(c fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expected multipart form"})
	}

	artifacts, err := readArtifacts(form.File["files"])
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.workflow.Submit(c.Context(), middleware.GetIdentity(c), service.SubmitInput{
		Domain:      formValue(form, "knowledge_domain"),
		Description: formValue(form, "description"),
		Priority:    formValue(form, "priority"),
		Artifacts:   artifacts,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

type reviewRequest struct {
	Approval bool   `json:"approval"`
	Comments string `json:"comments"`
}

// Review records the caller's vote on an upload.
func (h *KnowledgeHandler) Review(c fiber.Ctx) error {
	var body reviewRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.workflow.SubmitReview(c.Context(), middleware.GetIdentity(c), c.Params("id"), body.Approval, body.Comments)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// RetryDeployment re-attempts the deployment of an approved upload.
func (h *KnowledgeHandler) RetryDeployment(c fiber.Ctx) error {
	result, err := h.workflow.RetryDeployment(c.Context(), middleware.GetIdentity(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// Rollback reverses a deployed upload.
func (h *KnowledgeHandler) Rollback(c fiber.Ctx) error {
	result, err := h.workflow.Rollback(c.Context(), middleware.GetIdentity(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// ListPending returns uploads still collecting reviews.
func (h *KnowledgeHandler) ListPending(c fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(service.DefaultPendingLimit)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be an integer"})
	}

	pending, err := h.workflow.ListPending(c.Context(), middleware.GetIdentity(c), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"pending_uploads": pending,
		"count":           len(pending),
	})
}

// Get returns one upload with its reviews.
func (h *KnowledgeHandler) Get(c fiber.Ctx) error {
	detail, err := h.workflow.Get(c.Context(), middleware.GetIdentity(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detail)
}

// Policy returns the quorum rule of every knowledge domain and the quality
// checks applied to new uploads.
func (h *KnowledgeHandler) Policy(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"domains":            h.workflow.Policy(),
		"quality_strategies": h.workflow.QualityStrategies(),
	})
}

func readArtifacts(files []*multipart.FileHeader) ([]domain.Artifact, error) {
	artifacts := make([]domain.Artifact, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		artifacts = append(artifacts, domain.Artifact{
			Name:      fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Data:      data,
		})
	}
	return artifacts, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
