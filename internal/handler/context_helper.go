package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/middleware"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

// capabilityFromContext returns the caller's capability or writes 401.
func capabilityFromContext(c *gin.Context) (*authz.Capability, bool) {
	capability := middleware.Capability(c)
	if capability == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return capability, true
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func respond(c *gin.Context, status int, data interface{}) {
	response.JSON(c, status, data, middleware.Meta(c))
}
