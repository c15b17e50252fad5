package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type walletAuthenticator interface {
	Challenge(ctx context.Context, req models.ChallengeRequest) (*models.Challenge, error)
	Connect(ctx context.Context, req models.ConnectRequest) (*models.ConnectResponse, error)
	Disconnect(ctx context.Context, address string)
}

// AuthHandler wires wallet sign-in endpoints to the auth service.
type AuthHandler struct {
	service walletAuthenticator
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc walletAuthenticator) *AuthHandler {
	return &AuthHandler{service: svc}
}

// Challenge godoc
// @Summary Issue sign-in challenge
// @Description Returns a single-use message the wallet must sign
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChallengeRequest true "Wallet identity"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/challenge [post]
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req models.ChallengeRequest
	if !bindJSON(c, &req, "invalid challenge payload") {
		return
	}
	challenge, err := h.service.Challenge(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, challenge)
}

// Connect godoc
// @Summary Connect wallet
// @Description Verifies the signed challenge, resolves the role and opens a session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ConnectRequest true "Signed challenge"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/connect [post]
func (h *AuthHandler) Connect(c *gin.Context) {
	var req models.ConnectRequest
	if !bindJSON(c, &req, "invalid connect payload") {
		return
	}
	res, err := h.service.Connect(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// Disconnect godoc
// @Summary Disconnect wallet
// @Tags Authentication
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /auth/disconnect [post]
func (h *AuthHandler) Disconnect(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	h.service.Disconnect(c.Request.Context(), capability.Holder())
	response.NoContent(c)
}
