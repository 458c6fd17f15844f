package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/internal/service"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/middleware/requestid"
	"github.com/noah-isme/parks-console/pkg/response"
)

// ContextSessionKey is the gin context key storing the caller's session.
const ContextSessionKey = "currentSession"

// JWT protects routes by requiring a valid access token. The token is kept on
// the session so upstream calls run with the caller's credentials.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or invalid authorization header"))
			c.Abort()
			return
		}

		session, err := authService.SessionFromToken(token, requestid.Value(c))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, session)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// SessionFromContext returns the session stored by JWT.
func SessionFromContext(c *gin.Context) *models.Session {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil
	}
	session, _ := value.(*models.Session)
	return session
}
