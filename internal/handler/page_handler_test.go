package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parks-console/internal/definition"
	"github.com/noah-isme/parks-console/internal/dto"
	"github.com/noah-isme/parks-console/internal/middleware"
	"github.com/noah-isme/parks-console/internal/models"
)

type historyStub struct {
	filter models.ImportAuditFilter
	items  []models.ImportAudit
	total  int
	err    error
}

func (h *historyStub) List(ctx context.Context, filter models.ImportAuditFilter) ([]models.ImportAudit, int, error) {
	h.filter = filter
	return h.items, h.total, h.err
}

func pageContext(method, target string, session *models.Session) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	c.Set(middleware.ContextSessionKey, session)
	return c, w
}

func TestPageHandlerListReflectsRoles(t *testing.T) {
	h := NewPageHandler(definition.NewRegistry([]models.PageDefinition{expensesDef()}), nil)

	c, w := pageContext(http.MethodGet, "/pages", &models.Session{UserID: "v", Role: models.RoleViewer})
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []dto.PageSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "expenses", body.Data[0].ID)
	assert.False(t, body.Data[0].CanWrite)
	assert.False(t, body.Data[0].CanImport)

	c, w = pageContext(http.MethodGet, "/pages/expenses", accountant)
	c.Params = gin.Params{{Key: "page", Value: "expenses"}}
	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"can_import":true`)
}

func TestPageHandlerGetUnknown(t *testing.T) {
	h := NewPageHandler(definition.NewRegistry(nil), nil)
	c, w := pageContext(http.MethodGet, "/pages/none", accountant)
	c.Params = gin.Params{{Key: "page", Value: "none"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPageHandlerImports(t *testing.T) {
	history := &historyStub{items: []models.ImportAudit{{ID: "a1", PageID: "expenses"}}, total: 41}
	h := NewPageHandler(definition.NewRegistry([]models.PageDefinition{expensesDef()}), history)

	c, w := pageContext(http.MethodGet, "/pages/expenses/imports?page_number=2&size=20", accountant)
	c.Params = gin.Params{{Key: "page", Value: "expenses"}}
	h.Imports(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ImportAuditFilter{PageID: "expenses", Page: 2, Size: 20}, history.filter)
	var body struct {
		Pagination models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Pagination.TotalPages)

	history.err = errors.New("db down")
	c, w = pageContext(http.MethodGet, "/pages/expenses/imports", accountant)
	c.Params = gin.Params{{Key: "page", Value: "expenses"}}
	h.Imports(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPageHandlerImportsDisabled(t *testing.T) {
	h := NewPageHandler(definition.NewRegistry([]models.PageDefinition{expensesDef()}), nil)
	c, w := pageContext(http.MethodGet, "/pages/expenses/imports", accountant)
	c.Params = gin.Params{{Key: "page", Value: "expenses"}}
	h.Imports(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
