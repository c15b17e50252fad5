package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type studentService interface {
	RegisterStudent(ctx context.Context, address string, req models.RegisterStudentPayload) (*models.StudentProfile, error)
	VerifyStudent(ctx context.Context, capability *authz.Capability, studentAddress string) (*models.StudentProfile, error)
}

// StudentHandler manages student profile endpoints.
type StudentHandler struct {
	service studentService
}

// NewStudentHandler constructs a new student handler.
func NewStudentHandler(svc studentService) *StudentHandler {
	return &StudentHandler{service: svc}
}

// Register godoc
// @Summary Register or update the caller's student profile
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RegisterStudentPayload true "Profile"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Register(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	var req models.RegisterStudentPayload
	if !bindJSON(c, &req, "invalid registration payload") {
		return
	}
	profile, err := h.service.RegisterStudent(c.Request.Context(), capability.Holder(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, profile)
}

// Verify godoc
// @Summary Mark a student's documents verified
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param address path string true "Student wallet address"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{address}/verify [post]
func (h *StudentHandler) Verify(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	profile, err := h.service.VerifyStudent(c.Request.Context(), capability, c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, profile)
}
