package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"biliticket/callqueue/pkg/auth"
	"biliticket/callqueue/pkg/response"
)

const ContextKeyServiceClaims = "service_claims"

// ServiceAuth guards mutating queue routes: callers present a bearer token of
// type "service" issued by the same deployment.
func ServiceAuth(authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		claims, err := authManager.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		if claims.TokenType != auth.TokenTypeService {
			response.Unauthorized(c, "invalid token type")
			c.Abort()
			return
		}

		c.Set(ContextKeyServiceClaims, claims)
		c.Next()
	}
}
