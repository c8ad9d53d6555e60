package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/internal/service"
	appErrors "github.com/etapa-dev/sgp-workflow-api/pkg/errors"
	"github.com/etapa-dev/sgp-workflow-api/pkg/response"
)

// ContextClaimsKey is where validated claims live on the gin context.
const ContextClaimsKey = "auth_claims"

// Authenticated validates the bearer token and stores its claims on the
// request context.
func Authenticated(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing bearer token"))
			c.Abort()
			return
		}
		claims, err := tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// RequireRoles rejects callers whose role is not in the allowed set.
// Handler-level checks still re-validate role-specific rules; this guard
// only keeps obviously wrong callers out early.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "insufficient role"))
		c.Abort()
	}
}

// ClaimsFromContext retrieves validated claims, or nil when the request
// skipped authentication.
func ClaimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(ContextClaimsKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
