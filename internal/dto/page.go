package dto

import "github.com/noah-isme/parks-console/internal/models"

// PageSummary describes a list page to the browser.
type PageSummary struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Resource  string              `json:"resource"`
	PageSize  int                 `json:"page_size"`
	Fields    []models.FieldSpec  `json:"fields"`
	Filters   []models.FilterSpec `json:"filters"`
	Columns   []models.ColumnSpec `json:"columns"`
	CanWrite  bool                `json:"can_write"`
	CanImport bool                `json:"can_import"`
}

// NewPageSummary builds the summary shown to the session's user.
func NewPageSummary(def models.PageDefinition, session *models.Session) PageSummary {
	return PageSummary{
		ID:        def.ID,
		Title:     def.Title,
		Resource:  def.Resource,
		PageSize:  def.PageSize,
		Fields:    def.Fields,
		Filters:   def.Filters,
		Columns:   def.Columns,
		CanWrite:  session.HasRole(def.Roles.Write),
		CanImport: def.Import != nil && def.Import.Enabled && session.HasRole(def.Roles.Import),
	}
}

// UpdateFiltersRequest merges filter values into the session.
type UpdateFiltersRequest struct {
	Filters models.FilterSet `json:"filters"`
	Reset   bool             `json:"reset"`
}

// SetPageRequest moves the pager.
type SetPageRequest struct {
	Page int `json:"page" validate:"gte=1"`
}

// UpdateMappingRequest replaces the column mapping of a pending import.
type UpdateMappingRequest struct {
	Mapping models.ImportMapping `json:"mapping" validate:"required,min=1"`
}

// MutationResponse returns the changed record and the refreshed view.
type MutationResponse struct {
	Record models.Record   `json:"record,omitempty"`
	View   models.PageView `json:"view"`
}

// ImportResultResponse returns the import report and the refreshed view.
type ImportResultResponse struct {
	Report *models.ImportReport `json:"report"`
	View   models.PageView      `json:"view"`
}
