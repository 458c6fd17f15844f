package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/parks-console/internal/middleware"
	"github.com/noah-isme/parks-console/internal/models"
)

func sessionFromContext(c *gin.Context) *models.Session {
	return middleware.SessionFromContext(c)
}
