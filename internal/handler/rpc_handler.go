package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/ledger"
)

type rpcDispatcher interface {
	Dispatch(ctx context.Context, req ledger.RPCRequest) ledger.RPCResponse
}

// RPCHandler lets this process act as the ledger node for remote API instances.
type RPCHandler struct {
	dispatcher rpcDispatcher
	token      string
	logger     *zap.Logger
}

// NewRPCHandler constructs the handler. An empty token refuses every call.
func NewRPCHandler(dispatcher rpcDispatcher, token string, logger *zap.Logger) *RPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCHandler{dispatcher: dispatcher, token: token, logger: logger}
}

// Serve handles a single JSON-RPC 2.0 request.
func (h *RPCHandler) Serve(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, ledger.RPCResponse{
			JSONRPC: "2.0",
			Error:   &ledger.RPCError{Code: ledger.RPCInvalidRequest, Message: "unauthorized"},
		})
		return
	}

	var req ledger.RPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, ledger.RPCResponse{
			JSONRPC: "2.0",
			Error:   &ledger.RPCError{Code: ledger.RPCParseError, Message: "parse error"},
		})
		return
	}

	resp := h.dispatcher.Dispatch(c.Request.Context(), req)
	if resp.Error != nil {
		h.logger.Debug("rpc call failed", zap.String("method", req.Method), zap.Int("code", resp.Error.Code), zap.String("message", resp.Error.Message))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RPCHandler) authorized(header string) bool {
	if h.token == "" {
		return false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.token)) == 1
}
