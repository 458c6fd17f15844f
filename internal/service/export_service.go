package service

import (
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/export"
)

// ExportFormat is the file type of a download.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// Column extracts one exported cell from a record.
type Column struct {
	Header  string
	Extract func(models.Record) string
}

// ExportFile is a rendered download.
type ExportFile struct {
	FileName    string
	ContentType string
	Payload     []byte
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService turns record slices into csv or pdf downloads.
type ExportService struct {
	csv     csvRenderer
	pdf     pdfRenderer
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs the service.
func NewExportService(csv csvRenderer, pdf pdfRenderer, metrics *MetricsService, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{csv: csv, pdf: pdf, metrics: metrics, logger: logger, now: time.Now}
}

// Export renders records with the page columns.
func (s *ExportService) Export(def models.PageDefinition, records []models.Record, format ExportFormat) (*ExportFile, error) {
	if format == "" {
		format = ExportCSV
	}
	dataset := BuildDataset(records, ColumnsFor(def))
	base := ExportFileName(def.Resource, s.now())

	var (
		payload     []byte
		contentType string
		err         error
	)
	switch format {
	case ExportCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv;charset=utf-8"
	case ExportPDF:
		title := def.Title
		if title == "" {
			title = def.ID
		}
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		s.logger.Error("export render failed", zap.String("page", def.ID), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.metrics.RecordExport(def.Resource, string(format))
	return &ExportFile{
		FileName:    strings.TrimSuffix(base, ".csv") + "." + string(format),
		ContentType: contentType,
		Payload:     payload,
	}, nil
}

// ExportFileName is <resource>-<YYYY-MM-DD>.csv, using the last path segment of the resource.
func ExportFileName(resource string, at time.Time) string {
	name := path.Base(strings.Trim(resource, "/"))
	if name == "." || name == "/" || name == "" {
		name = "export"
	}
	return fmt.Sprintf("%s-%s.csv", name, at.Format("2006-01-02"))
}

// ToCSV renders the records through the columns as quoted csv text.
func ToCSV(records []models.Record, columns []Column) string {
	dataset := BuildDataset(records, columns)
	return export.WriteCSV(dataset.Headers, dataset.Rows)
}

// BuildDataset applies the column extractors to every record.
func BuildDataset(records []models.Record, columns []Column) export.Dataset {
	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.Header
	}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = col.Extract(record)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

// ColumnsFor builds extractors from the page columns, falling back to one
// column per declared field.
func ColumnsFor(def models.PageDefinition) []Column {
	specs := def.Columns
	if len(specs) == 0 {
		for _, field := range def.Fields {
			header := field.Label
			if header == "" {
				header = field.Name
			}
			format := ""
			if field.Type == models.FieldDate {
				format = "date"
			}
			specs = append(specs, models.ColumnSpec{Header: header, Field: field.Name, Format: format})
		}
	}
	columns := make([]Column, len(specs))
	for i, spec := range specs {
		spec := spec
		columns[i] = Column{
			Header: spec.Header,
			Extract: func(record models.Record) string {
				value, ok := record.Lookup(spec.Field)
				if !ok {
					return ""
				}
				return FormatCell(value, spec)
			},
		}
	}
	return columns
}

// FormatCell renders a value according to the column format. Values that do
// not fit the format are written as-is.
func FormatCell(value interface{}, spec models.ColumnSpec) string {
	switch spec.Format {
	case "decimal":
		if n, ok := toNumber(value); ok {
			return fmt.Sprintf("%.2f", n)
		}
	case "integer":
		if n, ok := toNumber(value); ok {
			return fmt.Sprintf("%d", int64(math.Round(n)))
		}
	case "date":
		if t, ok := parseDate(value); ok {
			return t.Format("2006-01-02")
		}
	case "datetime":
		if t, ok := parseDate(value); ok {
			return t.Format("2006-01-02 15:04")
		}
	case "enum":
		if label, ok := spec.Labels[models.Stringify(value)]; ok {
			return label
		}
	case "bool":
		b, ok := value.(bool)
		if !ok {
			break
		}
		key := "false"
		fallback := "No"
		if b {
			key, fallback = "true", "Sí"
		}
		if label, ok := spec.Labels[key]; ok {
			return label
		}
		return fallback
	}
	return models.Stringify(value)
}
