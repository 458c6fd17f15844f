package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/noah-isme/parks-console/internal/models"
	"github.com/noah-isme/parks-console/internal/repository"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/export"
)

// builtinSynonyms pre-map the common contact columns every page shares.
var builtinSynonyms = []models.FieldSynonyms{
	{Field: "fullName", Matches: []string{"nombre", "name"}},
	{Field: "email", Matches: []string{"email", "e-mail", "correo"}},
	{Field: "phone", Matches: []string{"teléfono", "telefono", "phone", "celular", "móvil"}},
	{Field: "address", Matches: []string{"dirección", "direccion", "domicilio", "address"}},
	{Field: "notes", Matches: []string{"notas", "observaciones", "comentarios", "notes"}},
}

type recordCreator interface {
	Create(ctx context.Context, session *models.Session, resource string, payload models.Record) (models.Record, error)
	BulkCreate(ctx context.Context, session *models.Session, resource string, records []models.Record) ([]models.RowResult, error)
}

// ImportDraft is a parsed upload waiting for confirmation.
type ImportDraft struct {
	FileName string
	Headers  []string
	Rows     [][]string
	Mapping  models.ImportMapping
}

// MappedRow is one upload row turned into a record. Row is 1-based over data rows.
type MappedRow struct {
	Row    int
	Record models.Record
}

// ImportConfig tunes uploads.
type ImportConfig struct {
	PreviewRows         int
	FallbackConcurrency int
}

// ImportService parses csv uploads, maps headers to fields and commits rows.
type ImportService struct {
	validator *RecordValidator
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       ImportConfig
}

// NewImportService constructs the service.
func NewImportService(validator *RecordValidator, metrics *MetricsService, logger *zap.Logger, cfg ImportConfig) *ImportService {
	if validator == nil {
		validator = NewRecordValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 5
	}
	if cfg.FallbackConcurrency <= 0 {
		cfg.FallbackConcurrency = 4
	}
	return &ImportService{validator: validator, metrics: metrics, logger: logger, cfg: cfg}
}

// Prepare parses the upload and builds the header mapping. override entries
// replace automatic ones; an empty target unmaps the header. Uploads that
// leave a required field without a column are rejected.
func (s *ImportService) Prepare(def models.PageDefinition, fileName string, r io.Reader, override models.ImportMapping) (*ImportDraft, error) {
	if def.Import == nil || !def.Import.Enabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "import is not enabled for this page")
	}
	table, err := export.ParseCSV(r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCSVParse.Code, appErrors.ErrCSVParse.Status, csvMessage(err))
	}

	mapping := AutoMap(table.Headers, def)
	for header, target := range override {
		if !containsString(table.Headers, header) {
			continue
		}
		mapping[header] = target
	}
	if problems := checkMapping(def, table.Headers, mapping); problems != nil {
		return nil, appErrors.WithDetails(appErrors.ErrCSVParse, problems)
	}

	return &ImportDraft{FileName: fileName, Headers: table.Headers, Rows: table.Rows, Mapping: cleanMapping(mapping)}, nil
}

// Remap replaces the draft mapping after checking it still covers required fields.
func (s *ImportService) Remap(def models.PageDefinition, draft *ImportDraft, mapping models.ImportMapping) error {
	for header := range mapping {
		if !containsString(draft.Headers, header) {
			return appErrors.WithDetails(appErrors.ErrValidation, map[string]string{header: "unknown column"})
		}
	}
	if problems := checkMapping(def, draft.Headers, mapping); problems != nil {
		return appErrors.WithDetails(appErrors.ErrValidation, problems)
	}
	draft.Mapping = cleanMapping(mapping)
	return nil
}

// Preview returns the first rows of the draft for operator review.
func (s *ImportService) Preview(draft *ImportDraft) *models.ImportPreview {
	limit := s.cfg.PreviewRows
	if limit > len(draft.Rows) {
		limit = len(draft.Rows)
	}
	samples := make([]map[string]string, 0, limit)
	for _, row := range draft.Rows[:limit] {
		sample := make(map[string]string, len(draft.Headers))
		for i, header := range draft.Headers {
			sample[header] = row[i]
		}
		samples = append(samples, sample)
	}
	var unmapped []string
	for _, header := range draft.Headers {
		if draft.Mapping[header] == "" {
			unmapped = append(unmapped, header)
		}
	}
	mapping := make(models.ImportMapping, len(draft.Mapping))
	for k, v := range draft.Mapping {
		mapping[k] = v
	}
	return &models.ImportPreview{
		FileName:   draft.FileName,
		Headers:    draft.Headers,
		Mapping:    mapping,
		Unmapped:   unmapped,
		SampleRows: samples,
		TotalRows:  len(draft.Rows),
	}
}

// MapRows builds one record per data row from mapped columns only, applies
// defaults and validates each row on its own.
func (s *ImportService) MapRows(def models.PageDefinition, draft *ImportDraft) ([]MappedRow, []models.RowFailure) {
	var required []string
	var defaults map[string]string
	if def.Import != nil {
		required = def.Import.Required
		defaults = def.Import.Defaults
	}

	rows := make([]MappedRow, 0, len(draft.Rows))
	var failures []models.RowFailure
	for i, row := range draft.Rows {
		number := i + 1
		record := models.Record{}
		var rowFailures []models.RowFailure
		for col, header := range draft.Headers {
			target := draft.Mapping[header]
			if target == "" || col >= len(row) {
				continue
			}
			raw := strings.TrimSpace(row[col])
			if raw == "" {
				continue
			}
			record[target] = raw
			if field, ok := def.Field(target); ok {
				value, err := parseInput(field.Type, raw)
				if err != nil {
					rowFailures = append(rowFailures, models.RowFailure{Row: number, Field: target, Message: err.Error()})
					continue
				}
				record[target] = value
			}
		}
		for name, value := range defaults {
			if _, ok := record[name]; ok {
				continue
			}
			if field, ok := def.Field(name); ok {
				if parsed, err := parseInput(field.Type, value); err == nil {
					record[name] = parsed
					continue
				}
			}
			record[name] = value
		}
		if len(rowFailures) == 0 {
			problems := s.validator.Validate(def, record, required, false)
			for _, field := range sortedKeys(problems) {
				rowFailures = append(rowFailures, models.RowFailure{Row: number, Field: field, Message: problems[field]})
			}
		}
		if len(rowFailures) > 0 {
			failures = append(failures, rowFailures...)
			continue
		}
		rows = append(rows, MappedRow{Row: number, Record: record})
	}
	return rows, failures
}

// Commit creates the valid rows through the bulk endpoint, falling back to
// one create per row when the resource has none. Rows fail independently.
func (s *ImportService) Commit(ctx context.Context, session *models.Session, def models.PageDefinition, draft *ImportDraft, creator recordCreator) (*models.ImportReport, error) {
	rows, failures := s.MapRows(def, draft)
	report := &models.ImportReport{TotalRows: len(draft.Rows)}

	if len(rows) > 0 {
		records := make([]models.Record, len(rows))
		for i, row := range rows {
			records[i] = row.Record
		}
		results, err := creator.BulkCreate(ctx, session, def.Resource, records)
		if errors.Is(err, repository.ErrBulkUnsupported) {
			s.logger.Info("bulk import unavailable, creating rows one by one", zap.String("resource", def.Resource), zap.Int("rows", len(records)))
			report.Fallback = true
			results, err = s.createEach(ctx, session, def.Resource, records, creator)
		}
		if err != nil {
			return nil, err
		}

		reported := make([]bool, len(rows))
		for _, result := range results {
			if result.Row < 0 || result.Row >= len(rows) || reported[result.Row] {
				continue
			}
			reported[result.Row] = true
			if result.Success {
				report.SuccessCount++
				if result.ID != "" {
					report.CreatedIDs = append(report.CreatedIDs, result.ID)
				}
				continue
			}
			failures = append(failures, models.RowFailure{Row: rows[result.Row].Row, Message: result.Error})
		}
		for i, done := range reported {
			if !done {
				failures = append(failures, models.RowFailure{Row: rows[i].Row, Message: "no result reported by server"})
			}
		}
	}

	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Row < failures[j].Row })
	report.Failures = failures
	report.FailureCount = countRows(failures)
	s.metrics.RecordImportRows(def.Resource, report.SuccessCount, report.FailureCount)
	return report, nil
}

func (s *ImportService) createEach(ctx context.Context, session *models.Session, resource string, records []models.Record, creator recordCreator) ([]models.RowResult, error) {
	results := make([]models.RowResult, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FallbackConcurrency)
	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = models.RowResult{Row: i, Error: "cancelled"}
				return nil
			}
			created, err := creator.Create(gctx, session, resource, record)
			if err != nil {
				results[i] = models.RowResult{Row: i, Error: appErrors.FromError(err).Message}
				return nil
			}
			results[i] = models.RowResult{Row: i, Success: true, ID: created.ID()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// AutoMap proposes a field for each header. Exact field names or labels win,
// then page synonyms, then the shared contact synonyms. Each field is taken
// by at most one header, the first that matches.
func AutoMap(headers []string, def models.PageDefinition) models.ImportMapping {
	folder := cases.Fold()
	fold := func(s string) string { return folder.String(strings.TrimSpace(s)) }

	declared := func(name string) bool {
		if len(def.Fields) == 0 {
			return true
		}
		_, ok := def.Field(name)
		return ok
	}

	candidates := make([]models.FieldSynonyms, 0, len(builtinSynonyms))
	if def.Import != nil {
		candidates = append(candidates, def.Import.Synonyms...)
	}
	for _, syn := range builtinSynonyms {
		if declared(syn.Field) {
			candidates = append(candidates, syn)
		}
	}

	mapping := make(models.ImportMapping, len(headers))
	taken := make(map[string]bool)
	for _, header := range headers {
		h := fold(header)
		mapping[header] = ""
		if h == "" {
			continue
		}
		if field := exactField(h, def, fold, taken); field != "" {
			mapping[header] = field
			taken[field] = true
			continue
		}
	match:
		for _, syn := range candidates {
			if taken[syn.Field] {
				continue
			}
			for _, fragment := range syn.Matches {
				if f := fold(fragment); f != "" && strings.Contains(h, f) {
					mapping[header] = syn.Field
					taken[syn.Field] = true
					break match
				}
			}
		}
	}
	return mapping
}

func exactField(header string, def models.PageDefinition, fold func(string) string, taken map[string]bool) string {
	for _, field := range def.Fields {
		if field.Name == "id" || taken[field.Name] {
			continue
		}
		if header == fold(field.Name) || (field.Label != "" && header == fold(field.Label)) {
			return field.Name
		}
	}
	return ""
}

// checkMapping reports required fields with no column and targets mapped twice.
func checkMapping(def models.PageDefinition, headers []string, mapping models.ImportMapping) map[string]string {
	problems := make(map[string]string)
	seen := make(map[string]string)
	for _, header := range headers {
		target := mapping[header]
		if target == "" {
			continue
		}
		if len(def.Fields) > 0 {
			if _, ok := def.Field(target); !ok {
				problems[header] = "unknown field " + target
				continue
			}
		}
		if prev, dup := seen[target]; dup {
			problems[header] = "field " + target + " already mapped from " + prev
			continue
		}
		seen[target] = header
	}
	for _, name := range requiredFields(def) {
		if _, ok := seen[name]; !ok {
			problems[name] = "required column is missing"
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

func requiredFields(def models.PageDefinition) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if def.Import != nil {
		for _, name := range def.Import.Required {
			if _, hasDefault := def.Import.Defaults[name]; !hasDefault {
				add(name)
			}
		}
	}
	for _, field := range def.Fields {
		if !field.Required || field.Name == "id" {
			continue
		}
		if def.Import != nil {
			if _, hasDefault := def.Import.Defaults[field.Name]; hasDefault {
				continue
			}
		}
		add(field.Name)
	}
	return out
}

func cleanMapping(mapping models.ImportMapping) models.ImportMapping {
	out := make(models.ImportMapping, len(mapping))
	for header, target := range mapping {
		out[header] = strings.TrimSpace(target)
	}
	return out
}

func csvMessage(err error) string {
	if errors.Is(err, export.ErrEmptyCSV) {
		return "the uploaded file has no rows"
	}
	return appErrors.ErrCSVParse.Message
}

func countRows(failures []models.RowFailure) int {
	rows := make(map[int]struct{}, len(failures))
	for _, f := range failures {
		rows[f.Row] = struct{}{}
	}
	return len(rows)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
