package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type applicationService interface {
	SubmitGrantApplication(ctx context.Context, address string, req models.SubmitApplicationPayload) (*models.GrantApplication, error)
	ListApplications(ctx context.Context, capability *authz.Capability, filter models.ApplicationFilter) ([]models.GrantApplication, error)
	ApproveApplication(ctx context.Context, capability *authz.Capability, applicationID string) (*models.ReviewResult, error)
	RejectApplication(ctx context.Context, capability *authz.Capability, applicationID, note string) (*models.ReviewResult, error)
}

type rejectRequest struct {
	Note string `json:"note"`
}

// ApplicationHandler exposes submission and review of grant applications.
type ApplicationHandler struct {
	service applicationService
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(svc applicationService) *ApplicationHandler {
	return &ApplicationHandler{service: svc}
}

// Submit godoc
// @Summary Submit grant application
// @Tags Applications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.SubmitApplicationPayload true "Application"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	var req models.SubmitApplicationPayload
	if !bindJSON(c, &req, "invalid application payload") {
		return
	}
	app, err := h.service.SubmitGrantApplication(c.Request.Context(), capability.Holder(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusCreated, app)
}

// List godoc
// @Summary List applications for review
// @Description Admins see every application, grant owners those of their own grants
// @Tags Applications
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Param grant_id query string false "Grant ID"
// @Param student_address query string false "Student address"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	filter := models.ApplicationFilter{
		GrantID:        c.Query("grant_id"),
		StudentAddress: c.Query("student_address"),
		Status:         models.ApplicationStatus(c.Query("status")),
	}
	apps, err := h.service.ListApplications(c.Request.Context(), capability, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, apps)
}

// Approve godoc
// @Summary Approve application
// @Description Unknown ids are not an error; the result reports changed=false
// @Tags Applications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/approve [post]
func (h *ApplicationHandler) Approve(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	result, err := h.service.ApproveApplication(c.Request.Context(), capability, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// Reject godoc
// @Summary Reject application
// @Tags Applications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Application ID"
// @Param payload body rejectRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/reject [post]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	var req rejectRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid reject payload") {
		return
	}
	result, err := h.service.RejectApplication(c.Request.Context(), capability, c.Param("id"), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}
