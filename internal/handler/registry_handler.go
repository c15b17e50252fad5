package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/middleware"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/pkg/config"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

type registryService interface {
	CachedRegistry(ctx context.Context) (*models.SystemRegistry, bool, error)
}

// NetworkInfo describes the ledger the API is bound to.
type NetworkInfo struct {
	Network   string `json:"network"`
	RPCURL    string `json:"rpc_url"`
	PackageID string `json:"package_id"`
	Mode      string `json:"mode"`
}

// RegistryHandler exposes platform counters and network details.
type RegistryHandler struct {
	service registryService
	network NetworkInfo
}

// NewRegistryHandler constructs the handler.
func NewRegistryHandler(svc registryService, ledgerCfg config.LedgerConfig) *RegistryHandler {
	return &RegistryHandler{
		service: svc,
		network: NetworkInfo{
			Network:   ledgerCfg.Network,
			RPCURL:    ledgerCfg.NodeURL(),
			PackageID: ledgerCfg.PackageID,
			Mode:      ledgerCfg.Mode,
		},
	}
}

// Registry godoc
// @Summary Platform-wide counters
// @Tags Registry
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registry [get]
func (h *RegistryHandler) Registry(c *gin.Context) {
	registry, hit, err := h.service.CachedRegistry(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	respond(c, http.StatusOK, registry)
}

// Network godoc
// @Summary Active network preset
// @Tags Registry
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /network [get]
func (h *RegistryHandler) Network(c *gin.Context) {
	respond(c, http.StatusOK, h.network)
}
