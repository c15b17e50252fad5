package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type sessionReader interface {
	State(ctx context.Context, address string) (*models.SessionState, error)
	ClearError(ctx context.Context, address string) error
}

// SessionHandler exposes the caller's derived session state.
type SessionHandler struct {
	service sessionReader
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(svc sessionReader) *SessionHandler {
	return &SessionHandler{service: svc}
}

// State godoc
// @Summary Current session state
// @Description Grants, the caller's applications, profile, wallet, stores, registry, loading and error
// @Tags Session
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /session [get]
func (h *SessionHandler) State(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	state, err := h.service.State(c.Request.Context(), capability.Holder())
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, state)
}

// ClearError godoc
// @Summary Dismiss the session error
// @Tags Session
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /session/error [delete]
func (h *SessionHandler) ClearError(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	if err := h.service.ClearError(c.Request.Context(), capability.Holder()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
