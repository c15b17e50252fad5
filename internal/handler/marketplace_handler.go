package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type marketplaceService interface {
	Stores(ctx context.Context) ([]models.EducationalStore, error)
	PurchaseItem(ctx context.Context, address string, req models.PurchaseItemPayload) (*models.StudentWallet, error)
}

// MarketplaceHandler serves the store catalog and wallet purchases.
type MarketplaceHandler struct {
	service marketplaceService
}

// NewMarketplaceHandler constructs the handler.
func NewMarketplaceHandler(svc marketplaceService) *MarketplaceHandler {
	return &MarketplaceHandler{service: svc}
}

// Stores godoc
// @Summary List educational stores
// @Tags Marketplace
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stores [get]
func (h *MarketplaceHandler) Stores(c *gin.Context) {
	stores, err := h.service.Stores(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, stores)
}

// Purchase godoc
// @Summary Purchase a store item with granted funds
// @Description The amount must equal the item price; the updated wallet is returned
// @Tags Marketplace
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.PurchaseItemPayload true "Purchase"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /marketplace/purchases [post]
func (h *MarketplaceHandler) Purchase(c *gin.Context) {
	capability, ok := capabilityFromContext(c)
	if !ok {
		return
	}
	var req models.PurchaseItemPayload
	if !bindJSON(c, &req, "invalid purchase payload") {
		return
	}
	wallet, err := h.service.PurchaseItem(c.Request.Context(), capability.Holder(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, wallet)
}
