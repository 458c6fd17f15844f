package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parks-console/internal/service"
)

func TestMetricsLabelsRouteAndPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/pages/:page", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/sessions/:id", func(c *gin.Context) {
		SetPage(c, "journal-entries")
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, target := range []string{"/pages/employees", "/sessions/abc-123", "/health", "/missing/route"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	}

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",page="employees",path="/pages/:page",status="200"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",page="journal-entries",path="/sessions/:id",status="200"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",page="none",path="/health",status="200"} 1`)
	assert.Contains(t, body, `http_requests_total{method="GET",page="none",path="unmatched",status="404"} 1`)
	assert.NotContains(t, body, "abc-123")
}
