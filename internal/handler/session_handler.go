package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/parks-console/internal/dto"
	"github.com/noah-isme/parks-console/internal/middleware"
	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/internal/service"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/response"
)

type pageSessions interface {
	Mount(ctx context.Context, session *models.Session, pageID string) (*service.ListController, error)
	Get(session *models.Session, id string) (*service.ListController, error)
	Unmount(session *models.Session, id string) error
}

// SessionHandler drives mounted list pages.
type SessionHandler struct {
	sessions    pageSessions
	validate    *validator.Validate
	maxFileSize int64
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(sessions pageSessions, validate *validator.Validate, maxFileSize int64) *SessionHandler {
	if validate == nil {
		validate = validator.New()
	}
	if maxFileSize <= 0 {
		maxFileSize = 5 << 20
	}
	return &SessionHandler{sessions: sessions, validate: validate, maxFileSize: maxFileSize}
}

func (h *SessionHandler) controller(c *gin.Context) (*service.ListController, bool) {
	controller, err := h.sessions.Get(sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	middleware.SetPage(c, controller.Definition().ID)
	return controller, true
}

func (h *SessionHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

// Mount godoc
// @Summary Open a list page
// @Description Creates a page session and loads its collection. A failed load still returns the session.
// @Tags Sessions
// @Produce json
// @Param page path string true "Page ID"
// @Success 201 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /pages/{page}/sessions [post]
func (h *SessionHandler) Mount(c *gin.Context) {
	controller, err := h.sessions.Mount(c.Request.Context(), sessionFromContext(c), c.Param("page"))
	if controller == nil {
		response.Error(c, err)
		return
	}
	if err != nil {
		response.Error(c, err, controller.View())
		return
	}
	response.JSON(c, http.StatusCreated, controller.View(), nil, middleware.ExtractMeta(c))
}

// View godoc
// @Summary Render the current page of a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) View(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, controller.View(), nil)
}

// Unmount godoc
// @Summary Close a list page
// @Tags Sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Unmount(c *gin.Context) {
	if err := h.sessions.Unmount(sessionFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Filters godoc
// @Summary Change filter values
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateFiltersRequest true "Filter values"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/filters [put]
func (h *SessionHandler) Filters(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	var req dto.UpdateFiltersRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Reset {
		response.JSON(c, http.StatusOK, controller.ResetFilters(), nil)
		return
	}
	view, err := controller.SetFilters(req.Filters)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Page godoc
// @Summary Move the pager
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.SetPageRequest true "Target page"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/page [put]
func (h *SessionHandler) Page(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	var req dto.SetPageRequest
	if !h.bind(c, &req) {
		return
	}
	response.JSON(c, http.StatusOK, controller.SetPage(req.Page), nil)
}

// Retry godoc
// @Summary Retry a failed load
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/retry [post]
func (h *SessionHandler) Retry(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	if err := controller.Retry(c.Request.Context()); err != nil {
		response.Error(c, err, controller.View())
		return
	}
	response.JSON(c, http.StatusOK, controller.View(), nil)
}

// CreateRecord godoc
// @Summary Create a record
// @Tags Records
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body object true "Record fields"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions/{id}/records [post]
func (h *SessionHandler) CreateRecord(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	payload, ok := bindRecord(c)
	if !ok {
		return
	}
	record, err := controller.Create(c.Request.Context(), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.MutationResponse{Record: record, View: controller.View()})
}

// UpdateRecord godoc
// @Summary Update a record
// @Tags Records
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param recordId path string true "Record ID"
// @Param payload body object true "Record fields"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/records/{recordId} [put]
func (h *SessionHandler) UpdateRecord(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	payload, ok := bindRecord(c)
	if !ok {
		return
	}
	record, err := controller.Update(c.Request.Context(), c.Param("recordId"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MutationResponse{Record: record, View: controller.View()}, nil)
}

// DeleteRecord godoc
// @Summary Delete a record
// @Tags Records
// @Produce json
// @Param id path string true "Session ID"
// @Param recordId path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/records/{recordId} [delete]
func (h *SessionHandler) DeleteRecord(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	if err := controller.Delete(c.Request.Context(), c.Param("recordId")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MutationResponse{View: controller.View()}, nil)
}

func bindRecord(c *gin.Context) (models.Record, bool) {
	var payload models.Record
	if err := c.ShouldBindJSON(&payload); err != nil || payload == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "record payload must be a json object"))
		return nil, false
	}
	return payload, true
}

// Export godoc
// @Summary Download the collection
// @Tags Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param scope query string false "filtered, all or visible"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /sessions/{id}/export [get]
func (h *SessionHandler) Export(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	scope := models.ExportScope(c.DefaultQuery("scope", string(models.ExportFiltered)))
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportCSV))))
	file, err := controller.Export(scope, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.FileName, file.ContentType, file.Payload)
}

// BeginImport godoc
// @Summary Upload a csv for import
// @Description Parses the file, maps its headers and returns a preview. Nothing is created until confirm.
// @Tags Import
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Session ID"
// @Param file formData file true "CSV file"
// @Param mapping formData string false "JSON object mapping headers to fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions/{id}/import [post]
func (h *SessionHandler) BeginImport(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a csv file is required"))
		return
	}
	if header.Size > h.maxFileSize {
		response.Error(c, appErrors.WithStatus(appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", h.maxFileSize)), http.StatusRequestEntityTooLarge))
		return
	}

	if !isCSVUpload(header.Filename, header.Header.Get("Content-Type")) {
		response.Error(c, appErrors.Clone(appErrors.ErrCSVParse, "only .csv files can be imported"))
		return
	}

	var override models.ImportMapping
	if raw := c.PostForm("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &override); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "mapping must be a json object"))
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrCSVParse.Code, appErrors.ErrCSVParse.Status, "could not read the uploaded file"))
		return
	}
	defer file.Close()

	preview, err := controller.BeginImport(header.Filename, file, override)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// UpdateMapping godoc
// @Summary Change the import column mapping
// @Tags Import
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateMappingRequest true "Mapping"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/import/mapping [put]
func (h *SessionHandler) UpdateMapping(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	var req dto.UpdateMappingRequest
	if !h.bind(c, &req) {
		return
	}
	preview, err := controller.UpdateMapping(req.Mapping)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// ConfirmImport godoc
// @Summary Create the previewed rows
// @Description Rows fail independently. Failed rows are listed in the report and flagged in meta.
// @Tags Import
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/import/confirm [post]
func (h *SessionHandler) ConfirmImport(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	report, err := controller.ConfirmImport(c.Request.Context())
	if err != nil {
		response.Error(c, err, controller.View())
		return
	}
	if report.FailureCount > 0 {
		middleware.SetMeta(c, "code", appErrors.ErrImportRowFailed.Code)
	}
	response.JSON(c, http.StatusOK, dto.ImportResultResponse{Report: report, View: controller.View()}, nil, middleware.ExtractMeta(c))
}

// CancelImport godoc
// @Summary Discard the pending import
// @Tags Import
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/import [delete]
func (h *SessionHandler) CancelImport(c *gin.Context) {
	controller, ok := h.controller(c)
	if !ok {
		return
	}
	view, err := controller.CancelImport()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

func isCSVUpload(fileName, contentType string) bool {
	if strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentType), "text/csv")
}
