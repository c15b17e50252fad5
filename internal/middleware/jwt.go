package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/logger"
	"github.com/noah-isme/scholarflow-api/pkg/response"
)

const (
	// ContextClaimsKey is the gin context key storing verified wallet claims.
	ContextClaimsKey = "walletClaims"
	// ContextCapabilityKey is the gin context key storing the caller's capability.
	ContextCapabilityKey = "capability"
)

// TokenAuthorizer validates session tokens and turns their claims into capabilities.
type TokenAuthorizer interface {
	ValidateToken(token string) (*models.WalletClaims, error)
	Authorize(claims *models.WalletClaims) (*authz.Capability, error)
}

// JWT protects routes by requiring a valid wallet session token. The role in the
// token is re-checked against the role registry on every request.
func JWT(auth TokenAuthorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		capability, err := auth.Authorize(claims)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextCapabilityKey, capability)
		c.Set(logger.ContextAddressKey, capability.Holder())
		c.Next()
	}
}

// Capability returns the capability attached by JWT, or nil.
func Capability(c *gin.Context) *authz.Capability {
	value, exists := c.Get(ContextCapabilityKey)
	if !exists {
		return nil
	}
	capability, _ := value.(*authz.Capability)
	return capability
}

// Claims returns the verified claims attached by JWT, or nil.
func Claims(c *gin.Context) *models.WalletClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.WalletClaims)
	return claims
}
