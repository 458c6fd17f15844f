package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parks-console/internal/definition"
	"github.com/noah-isme/parks-console/internal/middleware"
	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/internal/repository"
	"github.com/noah-isme/parks-console/internal/service"
)

// parksAPI is an in-memory stand-in for the upstream REST API.
type parksAPI struct {
	mu            sync.Mutex
	records       []map[string]interface{}
	nextID        int
	failList      bool
	rejectConcept string
}

func newParksAPI(n int) *parksAPI {
	api := &parksAPI{nextID: n + 1}
	for i := 1; i <= n; i++ {
		api.records = append(api.records, map[string]interface{}{
			"id": i, "concept": fmt.Sprintf("Concepto %d", i), "amount": float64(i) * 100, "status": "paid",
		})
	}
	return api
}

func (a *parksAPI) router() http.Handler {
	r := gin.New()
	r.GET("/api/expenses", func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.failList {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "boom"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": a.records})
	})
	r.POST("/api/expenses", func(c *gin.Context) {
		var body map[string]interface{}
		_ = c.ShouldBindJSON(&body)
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.rejectConcept != "" && body["concept"] == a.rejectConcept {
			c.JSON(http.StatusConflict, gin.H{"message": "duplicated concept"})
			return
		}
		body["id"] = a.nextID
		a.nextID++
		a.records = append(a.records, body)
		c.JSON(http.StatusCreated, gin.H{"data": body})
	})
	r.DELETE("/api/expenses/:id", func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, rec := range a.records {
			if fmt.Sprint(rec["id"]) == c.Param("id") {
				a.records = append(a.records[:i], a.records[i+1:]...)
				c.Status(http.StatusNoContent)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	})
	return r
}

func expensesDef() models.PageDefinition {
	return models.PageDefinition{
		ID:       "expenses",
		Title:    "Egresos",
		Resource: "expenses",
		PageSize: 2,
		Fields: []models.FieldSpec{
			{Name: "id", Type: models.FieldNumber},
			{Name: "concept", Label: "Concepto", Type: models.FieldString, Required: true},
			{Name: "amount", Label: "Monto", Type: models.FieldNumber, Required: true, Rules: "gt=0"},
			{Name: "status", Label: "Estado", Type: models.FieldString},
		},
		Filters: []models.FilterSpec{
			{Name: "search", Kind: models.FilterSearch, Fields: []string{"concept"}},
		},
		Columns: []models.ColumnSpec{
			{Header: "Concepto", Field: "concept"},
			{Header: "Monto", Field: "amount", Format: "decimal"},
		},
		Import: &models.ImportSpec{Enabled: true, Required: []string{"concept", "amount"}},
		Roles:  models.RoleSpec{Write: []models.UserRole{models.RoleAccounting}, Import: []models.UserRole{models.RoleAccounting}},
	}
}

type testServer struct {
	api    *parksAPI
	router *gin.Engine
}

func newTestServer(t *testing.T, api *parksAPI, session *models.Session) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	upstream := httptest.NewServer(api.router())
	t.Cleanup(upstream.Close)

	client := repository.NewResourceClient(repository.ResourceClientConfig{BaseURL: upstream.URL}, upstream.Client(), nil, nil)
	cache := service.NewCollectionCache(client, nil, nil, nil, service.CollectionCacheConfig{})
	pages := definition.NewRegistry([]models.PageDefinition{expensesDef()})
	sessions := service.NewSessionService(pages, service.ListDeps{
		Cache:    cache,
		Mutator:  client,
		Importer: service.NewImportService(nil, nil, nil, service.ImportConfig{}),
		Exporter: service.NewExportService(nil, nil, nil, nil),
	}, nil, nil, service.SessionConfig{})
	t.Cleanup(sessions.Shutdown)

	h := NewSessionHandler(sessions, nil, 1024)
	r := gin.New()
	r.Use(middleware.WithResponseMeta(), func(c *gin.Context) {
		c.Set(middleware.ContextSessionKey, session)
		c.Next()
	})
	r.POST("/pages/:page/sessions", h.Mount)
	r.GET("/sessions/:id", h.View)
	r.DELETE("/sessions/:id", h.Unmount)
	r.PUT("/sessions/:id/filters", h.Filters)
	r.PUT("/sessions/:id/page", h.Page)
	r.POST("/sessions/:id/retry", h.Retry)
	r.POST("/sessions/:id/records", h.CreateRecord)
	r.PUT("/sessions/:id/records/:recordId", h.UpdateRecord)
	r.DELETE("/sessions/:id/records/:recordId", h.DeleteRecord)
	r.GET("/sessions/:id/export", h.Export)
	r.POST("/sessions/:id/import", h.BeginImport)
	r.PUT("/sessions/:id/import/mapping", h.UpdateMapping)
	r.POST("/sessions/:id/import/confirm", h.ConfirmImport)
	r.DELETE("/sessions/:id/import", h.CancelImport)
	return &testServer{api: api, router: r}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) mount(t *testing.T) models.PageView {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/pages/expenses/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view models.PageView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	return view
}

func decodeView(t *testing.T, raw json.RawMessage) models.PageView {
	t.Helper()
	var view models.PageView
	require.NoError(t, json.Unmarshal(raw, &view))
	return view
}

var accountant = &models.Session{UserID: "acc-1", Role: models.RoleAccounting, Token: "tkn"}

func TestSessionHandlerMountAndNavigate(t *testing.T) {
	srv := newTestServer(t, newParksAPI(5), accountant)
	view := srv.mount(t)
	assert.Equal(t, models.StatusReady, view.Status)
	assert.Equal(t, 3, view.Pagination.TotalPages)
	require.Len(t, view.Items, 2)

	w, env := srv.do(t, http.MethodPut, "/sessions/"+view.SessionID+"/page", gin.H{"page": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeView(t, env.Data).Items, 1)

	w, env = srv.do(t, http.MethodPut, "/sessions/"+view.SessionID+"/filters", gin.H{"filters": gin.H{"search": gin.H{"value": "concepto 4"}}})
	require.Equal(t, http.StatusOK, w.Code)
	filtered := decodeView(t, env.Data)
	assert.Equal(t, 1, filtered.Pagination.Page)
	assert.Equal(t, 1, filtered.Pagination.TotalCount)

	w, env = srv.do(t, http.MethodPut, "/sessions/"+view.SessionID+"/filters", gin.H{"reset": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decodeView(t, env.Data).Pagination.TotalCount)

	w, _ = srv.do(t, http.MethodPut, "/sessions/"+view.SessionID+"/page", gin.H{"page": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerUnknownPageAndSession(t *testing.T) {
	srv := newTestServer(t, newParksAPI(1), accountant)

	w, env := srv.do(t, http.MethodPost, "/pages/unknown/sessions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, env = srv.do(t, http.MethodGet, "/sessions/nope", nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "SESSION_EXPIRED", env.Error.Code)
}

func TestSessionHandlerFailedMountReturnsView(t *testing.T) {
	api := newParksAPI(2)
	api.failList = true
	srv := newTestServer(t, api, accountant)

	w, env := srv.do(t, http.MethodPost, "/pages/expenses/sessions", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "LOAD_FAILED", env.Error.Code)
	view := decodeView(t, env.Data)
	assert.Equal(t, models.StatusFailed, view.Status)

	api.mu.Lock()
	api.failList = false
	api.mu.Unlock()

	w, env = srv.do(t, http.MethodPost, "/sessions/"+view.SessionID+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusReady, decodeView(t, env.Data).Status)
}

func TestSessionHandlerRecordLifecycle(t *testing.T) {
	srv := newTestServer(t, newParksAPI(2), accountant)
	view := srv.mount(t)
	base := "/sessions/" + view.SessionID

	w, env := srv.do(t, http.MethodPost, base+"/records", gin.H{"concept": "Pago de luz"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "is required", env.Error.Details["amount"])

	w, env = srv.do(t, http.MethodPost, base+"/records", gin.H{"concept": "Pago de luz", "amount": "1200.50"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Record models.Record   `json:"record"`
		View   models.PageView `json:"view"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "3", created.Record.ID())
	assert.Equal(t, 3, created.View.Pagination.TotalCount)

	w, _ = srv.do(t, http.MethodDelete, base+"/records/3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, env = srv.do(t, http.MethodDelete, base+"/records/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, _ = srv.do(t, http.MethodPost, base+"/records", []int{1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerRejectsOtherRoles(t *testing.T) {
	srv := newTestServer(t, newParksAPI(1), &models.Session{UserID: "v", Role: models.RoleViewer})
	view := srv.mount(t)

	w, env := srv.do(t, http.MethodPost, "/sessions/"+view.SessionID+"/records", gin.H{"concept": "x", "amount": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestSessionHandlerExport(t *testing.T) {
	api := newParksAPI(0)
	api.records = []map[string]interface{}{{"id": 1, "concept": "Pago de luz", "amount": 1200.5}}
	srv := newTestServer(t, api, accountant)
	view := srv.mount(t)

	w, _ := srv.do(t, http.MethodGet, "/sessions/"+view.SessionID+"/export?scope=all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "\"Concepto\",\"Monto\"\n\"Pago de luz\",\"1200.50\"", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "expenses-")
	assert.Equal(t, "text/csv;charset=utf-8", w.Header().Get("Content-Type"))

	w, env := srv.do(t, http.MethodGet, "/sessions/"+view.SessionID+"/export?format=xlsx", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func (s *testServer) upload(t *testing.T, sessionID, name, content string, mapping string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if mapping != "" {
		require.NoError(t, writer.WriteField("mapping", mapping))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/import", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestSessionHandlerImportFlow(t *testing.T) {
	api := newParksAPI(1)
	api.rejectConcept = "Duplicado"
	srv := newTestServer(t, api, accountant)
	view := srv.mount(t)

	w, env := srv.upload(t, view.SessionID, "gastos.csv", "Concepto,Monto\nAgua,10\nDuplicado,20\nLuz,abc\n", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview models.ImportPreview
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	assert.Equal(t, models.ImportMapping{"Concepto": "concept", "Monto": "amount"}, preview.Mapping)
	assert.Equal(t, 3, preview.TotalRows)

	w, env = srv.do(t, http.MethodPost, "/sessions/"+view.SessionID+"/import/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Report models.ImportReport `json:"report"`
		View   models.PageView     `json:"view"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.Report.SuccessCount)
	assert.Equal(t, 2, result.Report.FailureCount)
	assert.True(t, result.Report.Fallback)
	assert.Equal(t, "IMPORT_ROW_FAILED", env.Meta["code"])
	assert.Equal(t, models.StatusReady, result.View.Status)
	assert.Equal(t, 2, result.View.Pagination.TotalCount)
}

func TestSessionHandlerImportCancelAndErrors(t *testing.T) {
	srv := newTestServer(t, newParksAPI(1), accountant)
	view := srv.mount(t)

	w, env := srv.upload(t, view.SessionID, "x.csv", "Nombre\nAna\n", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CSV_PARSE_FAILED", env.Error.Code)

	w, env = srv.upload(t, view.SessionID, "gastos.xlsx", "Concepto,Monto\nAgua,1\n", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CSV_PARSE_FAILED", env.Error.Code)

	w, _ = srv.upload(t, view.SessionID, "big.csv", "Concepto,Monto\n"+strings.Repeat("a,1\n", 400), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w, _ = srv.upload(t, view.SessionID, "x.csv", "Descripcion,Importe\nAgua,1\n", `{"Descripcion":"concept","Importe":"amount"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = srv.do(t, http.MethodPut, "/sessions/"+view.SessionID+"/import/mapping", gin.H{"mapping": gin.H{"Descripcion": "nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = srv.do(t, http.MethodDelete, "/sessions/"+view.SessionID+"/import", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusReady, decodeView(t, env.Data).Status)

	w, env = srv.do(t, http.MethodPost, "/sessions/"+view.SessionID+"/import/confirm", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)
}

func TestSessionHandlerUnmount(t *testing.T) {
	srv := newTestServer(t, newParksAPI(1), accountant)
	view := srv.mount(t)

	w, _ := srv.do(t, http.MethodDelete, "/sessions/"+view.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = srv.do(t, http.MethodGet, "/sessions/"+view.SessionID, nil)
	assert.Equal(t, http.StatusGone, w.Code)
}
