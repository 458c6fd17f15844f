package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/parks-console/internal/dto"
	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/response"
)

type pageCatalog interface {
	All() []models.PageDefinition
	Get(id string) (models.PageDefinition, bool)
}

type importHistory interface {
	List(ctx context.Context, filter models.ImportAuditFilter) ([]models.ImportAudit, int, error)
}

// PageHandler exposes the page catalogue and import history.
type PageHandler struct {
	pages   pageCatalog
	history importHistory
}

// NewPageHandler builds a new handler. history may be nil when audits are disabled.
func NewPageHandler(pages pageCatalog, history importHistory) *PageHandler {
	return &PageHandler{pages: pages, history: history}
}

// List godoc
// @Summary List admin pages
// @Tags Pages
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /pages [get]
func (h *PageHandler) List(c *gin.Context) {
	session := sessionFromContext(c)
	defs := h.pages.All()
	items := make([]dto.PageSummary, 0, len(defs))
	for _, def := range defs {
		items = append(items, dto.NewPageSummary(def, session))
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Describe a page
// @Tags Pages
// @Produce json
// @Param page path string true "Page ID"
// @Success 200 {object} response.Envelope
// @Router /pages/{page} [get]
func (h *PageHandler) Get(c *gin.Context) {
	def, ok := h.pages.Get(c.Param("page"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "page not found"))
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPageSummary(def, sessionFromContext(c)), nil)
}

// Imports godoc
// @Summary List committed imports of a page
// @Tags Pages
// @Produce json
// @Param page path string true "Page ID"
// @Param page_number query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /pages/{page}/imports [get]
func (h *PageHandler) Imports(c *gin.Context) {
	if h.history == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "import history is not enabled"))
		return
	}
	pageID := c.Param("page")
	if _, ok := h.pages.Get(pageID); !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "page not found"))
		return
	}
	filter := models.ImportAuditFilter{
		PageID: pageID,
		Page:   queryInt(c, "page_number", 1),
		Size:   queryInt(c, "size", 20),
	}
	items, total, err := h.history.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pages := (total + filter.Size - 1) / filter.Size
	if pages < 1 {
		pages = 1
	}
	response.JSON(c, http.StatusOK, items, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.Size,
		TotalCount: total,
		TotalPages: pages,
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
