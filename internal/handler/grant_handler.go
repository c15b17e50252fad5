package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type grantService interface {
	Grants(ctx context.Context) ([]models.Grant, error)
	Grant(ctx context.Context, id string) (*models.Grant, error)
	CreateGrant(ctx context.Context, capability *authz.Capability, req models.CreateGrantPayload) (*models.Grant, error)
}

// GrantHandler serves the grant catalog.
type GrantHandler struct {
	service grantService
}

// NewGrantHandler constructs the handler.
func NewGrantHandler(svc grantService) *GrantHandler {
	return &GrantHandler{service: svc}
}

// List godoc
// @Summary List grants
// @Tags Grants
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grants [get]
func (h *GrantHandler) List(c *gin.Context) {
	grants, err := h.service.Grants(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, grants)
}

// Get godoc
// @Summary Get grant
// @Tags Grants
// @Produce json
// @Param id path string true "Grant ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grants/{id} [get]
func (h *GrantHandler) Get(c *gin.Context) {
	grant, err := h.service.Grant(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, grant)
}

// Create godoc
// @Summary Create grant
// @Description Opens a grant owned by the caller with remaining funding equal to total funding
// @Tags Grants
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateGrantPayload true "Grant"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /grants [post]
func (h *GrantHandler) Create(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	var req models.CreateGrantPayload
	if !bindJSON(c, &req, "invalid grant payload") {
		return
	}
	grant, err := h.service.CreateGrant(c.Request.Context(), capability, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusCreated, grant)
}
