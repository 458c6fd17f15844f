package models

import "strings"

// FieldType enumerates declared record field types.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldDate   FieldType = "date"
)

// FilterKind selects how a filter compares against a record.
type FilterKind string

const (
	FilterSearch FilterKind = "search"
	FilterEquals FilterKind = "equals"
	FilterDate   FilterKind = "date"
	FilterRange  FilterKind = "range"
)

// DateGranularity truncates dates before equality checks.
type DateGranularity string

const (
	GranularityDay   DateGranularity = "day"
	GranularityMonth DateGranularity = "month"
	GranularityYear  DateGranularity = "year"
)

// ExportScope selects which slice of the collection is exported.
type ExportScope string

const (
	ExportFiltered ExportScope = "filtered"
	ExportAll      ExportScope = "all"
	ExportVisible  ExportScope = "visible"
)

// PageDefinition declares one admin list page.
type PageDefinition struct {
	ID         string            `yaml:"id" json:"id" validate:"required"`
	Title      string            `yaml:"title" json:"title"`
	Resource   string            `yaml:"resource" json:"resource" validate:"required"`
	Key        string            `yaml:"key" json:"key"`
	Dependents []string          `yaml:"dependents" json:"dependents,omitempty"`
	PageSize   int               `yaml:"page_size" json:"page_size" validate:"gte=0"`
	Sort       *SortSpec         `yaml:"sort" json:"sort,omitempty"`
	Fields     []FieldSpec       `yaml:"fields" json:"fields" validate:"dive"`
	Filters    []FilterSpec      `yaml:"filters" json:"filters" validate:"dive"`
	Columns    []ColumnSpec      `yaml:"columns" json:"columns" validate:"dive"`
	Import     *ImportSpec       `yaml:"import" json:"import,omitempty"`
	Roles      RoleSpec          `yaml:"roles" json:"roles"`
	Labels     map[string]string `yaml:"labels" json:"labels,omitempty"`

	SourceFile string `yaml:"-" json:"-"`
}

// CollectionKey returns the cache key for the page's collection.
func (d PageDefinition) CollectionKey() string {
	if d.Key != "" {
		return d.Key
	}
	return d.Resource
}

// Field returns the declared field with the given name.
func (d PageDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// SortSpec orders the collection before filtering.
type SortSpec struct {
	Field string `yaml:"field" json:"field"`
	Order string `yaml:"order" json:"order"`
}

// Descending reports whether the sort is reverse order.
func (s *SortSpec) Descending() bool {
	return s != nil && (s.Order == "" || strings.EqualFold(s.Order, "desc"))
}

// FieldSpec describes one record field and its form rules.
type FieldSpec struct {
	Name     string    `yaml:"name" json:"name" validate:"required"`
	Label    string    `yaml:"label" json:"label"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Rules    string    `yaml:"rules" json:"rules,omitempty"`
}

// FilterSpec declares one filter control of a list page.
type FilterSpec struct {
	Name        string          `yaml:"name" json:"name" validate:"required"`
	Label       string          `yaml:"label" json:"label"`
	Kind        FilterKind      `yaml:"kind" json:"kind"`
	Fields      []string        `yaml:"fields" json:"fields"`
	Granularity DateGranularity `yaml:"granularity" json:"granularity,omitempty"`
	Options     []Option        `yaml:"options" json:"options,omitempty"`
}

// Option is one selectable value of an enumerated filter.
type Option struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// ColumnSpec declares one exported column.
type ColumnSpec struct {
	Header string            `yaml:"header" json:"header" validate:"required"`
	Field  string            `yaml:"field" json:"field" validate:"required"`
	Format string            `yaml:"format" json:"format,omitempty"`
	Labels map[string]string `yaml:"labels" json:"labels,omitempty"`
}

// ImportSpec configures csv bulk import for a page.
type ImportSpec struct {
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Synonyms []FieldSynonyms   `yaml:"synonyms" json:"synonyms,omitempty"`
	Required []string          `yaml:"required" json:"required,omitempty"`
	Defaults map[string]string `yaml:"defaults" json:"defaults,omitempty"`
}

// FieldSynonyms lists header fragments that map to a target field.
type FieldSynonyms struct {
	Field   string   `yaml:"field" json:"field"`
	Matches []string `yaml:"matches" json:"matches"`
}

// RoleSpec restricts write operations to roles; empty lists allow any authenticated user.
type RoleSpec struct {
	Write  []UserRole `yaml:"write" json:"write,omitempty"`
	Import []UserRole `yaml:"import" json:"import,omitempty"`
}
