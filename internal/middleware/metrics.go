package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/parks-console/internal/service"
)

// ContextPageKey holds the list page a request acted on.
const ContextPageKey = "metricsPage"

const (
	noPage         = "none"
	unmatchedRoute = "unmatched"
)

// SetPage tags the request with the page it served, for routes that address
// a page only through its session id.
func SetPage(c *gin.Context, pageID string) {
	c.Set(ContextPageKey, pageID)
}

// Metrics records request duration and count per route template and page.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, requestPage(c), c.Writer.Status(), duration)
	}
}

func requestPage(c *gin.Context) string {
	if page := c.GetString(ContextPageKey); page != "" {
		return page
	}
	if page := c.Param("page"); page != "" {
		return page
	}
	return noPage
}
