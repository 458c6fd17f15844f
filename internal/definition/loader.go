// Package definition loads the YAML list-page definitions that configure the
// filter, pager, column and import behaviour of every admin list page.
package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/parks-console/internal/models"
)

const defaultPageSize = 10

var columnFormats = map[string]struct{}{
	"": {}, "text": {}, "decimal": {}, "integer": {}, "date": {}, "datetime": {}, "enum": {}, "bool": {},
}

// Loader reads page definitions from disk.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a Loader.
func NewLoader(validate *validator.Validate) *Loader {
	if validate == nil {
		validate = validator.New()
	}
	return &Loader{validator: validate}
}

// LoadDir parses every *.yaml / *.yml file below dir.
func (l *Loader) LoadDir(dir string) ([]models.PageDefinition, error) {
	var defs []models.PageDefinition
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		def, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning pages directory %s: %w", dir, err)
	}
	return defs, nil
}

// LoadFile parses, normalises and validates a single definition file.
func (l *Loader) LoadFile(path string) (models.PageDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.PageDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := l.Parse(data)
	if err != nil {
		return models.PageDefinition{}, fmt.Errorf("loading %s: %w", path, err)
	}
	def.SourceFile = path
	return def, nil
}

// Parse decodes one YAML document into a validated definition.
func (l *Loader) Parse(data []byte) (models.PageDefinition, error) {
	var def models.PageDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return models.PageDefinition{}, fmt.Errorf("parsing yaml: %w", err)
	}
	normalize(&def)
	if err := l.validator.Struct(def); err != nil {
		return models.PageDefinition{}, fmt.Errorf("invalid page %q: %w", def.ID, err)
	}
	if err := validate(def); err != nil {
		return models.PageDefinition{}, fmt.Errorf("invalid page %q: %w", def.ID, err)
	}
	return def, nil
}

func normalize(def *models.PageDefinition) {
	def.Resource = strings.Trim(def.Resource, "/")
	if def.PageSize == 0 {
		def.PageSize = defaultPageSize
	}
	for i := range def.Fields {
		if def.Fields[i].Type == "" {
			def.Fields[i].Type = models.FieldString
		}
	}
	for i := range def.Filters {
		f := &def.Filters[i]
		if f.Kind == "" {
			f.Kind = models.FilterEquals
		}
		if len(f.Fields) == 0 {
			f.Fields = []string{f.Name}
		}
		if (f.Kind == models.FilterDate || f.Kind == models.FilterRange) && f.Granularity == "" {
			f.Granularity = models.GranularityDay
		}
	}
}

func validate(def models.PageDefinition) error {
	declared := make(map[string]models.FieldSpec, len(def.Fields))
	for _, f := range def.Fields {
		if _, dup := declared[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		switch f.Type {
		case models.FieldString, models.FieldNumber, models.FieldBool, models.FieldDate:
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		declared[f.Name] = f
	}

	names := make(map[string]struct{}, len(def.Filters))
	for _, f := range def.Filters {
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("filter %q declared twice", f.Name)
		}
		names[f.Name] = struct{}{}
		switch f.Kind {
		case models.FilterSearch:
		case models.FilterEquals, models.FilterDate, models.FilterRange:
			if len(f.Fields) != 1 {
				return fmt.Errorf("filter %q must inspect exactly one field", f.Name)
			}
		default:
			return fmt.Errorf("filter %q has unknown kind %q", f.Name, f.Kind)
		}
		switch f.Granularity {
		case "", models.GranularityDay, models.GranularityMonth, models.GranularityYear:
		default:
			return fmt.Errorf("filter %q has unknown granularity %q", f.Name, f.Granularity)
		}
	}

	for _, c := range def.Columns {
		if _, ok := columnFormats[c.Format]; !ok {
			return fmt.Errorf("column %q has unknown format %q", c.Header, c.Format)
		}
	}

	if def.Import != nil {
		for _, name := range def.Import.Required {
			if _, ok := declared[name]; !ok {
				return fmt.Errorf("import requires undeclared field %q", name)
			}
		}
		for _, s := range def.Import.Synonyms {
			if _, ok := declared[s.Field]; !ok {
				return fmt.Errorf("import synonyms target undeclared field %q", s.Field)
			}
		}
	}
	return nil
}
