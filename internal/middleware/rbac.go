package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/response"
)

// RequireRoles enforces role-based access control for routes.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := SessionFromContext(c)
		if session == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !session.HasRole(roles) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
