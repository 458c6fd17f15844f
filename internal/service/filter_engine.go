package service

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/noah-isme/parks-console/internal/models"
)

// FilterEngine evaluates a FilterSet against records. It is pure and safe for
// concurrent use.
type FilterEngine struct {
	specs map[string]models.FilterSpec
}

// NewFilterEngine indexes the declared filters by name.
func NewFilterEngine(specs []models.FilterSpec) *FilterEngine {
	index := make(map[string]models.FilterSpec, len(specs))
	for _, spec := range specs {
		index[spec.Name] = spec
	}
	return &FilterEngine{specs: index}
}

// Matches reports whether the record passes every active filter of the set.
func (e *FilterEngine) Matches(record models.Record, set models.FilterSet) bool {
	var folder *cases.Caser
	for name, value := range set {
		if value.IsUnconstrained() {
			continue
		}
		spec, ok := e.specs[name]
		if !ok {
			spec = models.FilterSpec{Name: name, Kind: models.FilterEquals, Fields: []string{name}}
		}
		var passed bool
		switch spec.Kind {
		case models.FilterSearch:
			if folder == nil {
				c := cases.Fold()
				folder = &c
			}
			passed = matchSearch(folder, record, spec.Fields, value.Value)
		case models.FilterDate:
			passed = matchDate(record, firstField(spec), value.Value, spec.Granularity)
		case models.FilterRange:
			passed = matchRange(record, firstField(spec), value)
		default:
			passed = matchEquals(record, firstField(spec), value.Value)
		}
		if !passed {
			return false
		}
	}
	return true
}

// Apply returns the records passing the set, preserving order.
func (e *FilterEngine) Apply(records []models.Record, set models.FilterSet) []models.Record {
	out := make([]models.Record, 0, len(records))
	for _, record := range records {
		if e.Matches(record, set) {
			out = append(out, record)
		}
	}
	return out
}

// Matches is the functional form of FilterEngine.Matches.
func Matches(record models.Record, specs []models.FilterSpec, set models.FilterSet) bool {
	return NewFilterEngine(specs).Matches(record, set)
}

func firstField(spec models.FilterSpec) string {
	if len(spec.Fields) > 0 {
		return spec.Fields[0]
	}
	return spec.Name
}

// matchSearch ORs a case-insensitive substring test over the fields; missing fields are skipped.
func matchSearch(folder *cases.Caser, record models.Record, fields []string, needle string) bool {
	needle = folder.String(strings.TrimSpace(needle))
	for _, field := range fields {
		value, ok := record.Lookup(field)
		if !ok {
			continue
		}
		if strings.Contains(folder.String(models.Stringify(value)), needle) {
			return true
		}
	}
	return false
}

func matchEquals(record models.Record, field, want string) bool {
	value, ok := record.Lookup(field)
	if !ok {
		return false
	}
	return valuesEqual(value, strings.TrimSpace(want))
}

// valuesEqual compares a record value with a filter value, numerically when both
// sides are numbers so "5" and 5 are equal.
func valuesEqual(value interface{}, want string) bool {
	switch typed := value.(type) {
	case bool:
		b, err := strconv.ParseBool(want)
		return err == nil && b == typed
	case float64, float32, int, int64:
		n, ok := toNumber(want)
		got, _ := toNumber(value)
		return ok && n == got
	case string:
		got := strings.TrimSpace(typed)
		if a, ok := toNumber(got); ok {
			if b, ok := toNumber(want); ok {
				return a == b
			}
		}
		return got == want
	case []interface{}:
		for _, item := range typed {
			if valuesEqual(item, want) {
				return true
			}
		}
		return false
	default:
		return models.Stringify(value) == want
	}
}

func toNumber(value interface{}) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		raw := strings.TrimSpace(typed)
		if raw == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(raw, 64)
		return n, err == nil
	}
	return 0, false
}

func matchDate(record models.Record, field, want string, granularity models.DateGranularity) bool {
	value, ok := record.Lookup(field)
	if !ok {
		return false
	}
	got, ok := parseDate(value)
	if !ok {
		return false
	}
	target, ok := parseDate(want)
	if !ok {
		return false
	}
	return sameDate(got, target, granularity)
}

// matchRange checks an inclusive, day-granular from/to window; either bound may be empty.
func matchRange(record models.Record, field string, window models.FilterValue) bool {
	value, ok := record.Lookup(field)
	if !ok {
		return false
	}
	got, ok := parseDate(value)
	if !ok {
		return false
	}
	day := dayOf(got)
	if from := strings.TrimSpace(window.From); from != "" {
		lower, ok := parseDate(from)
		if !ok || day.Before(dayOf(lower)) {
			return false
		}
	}
	if to := strings.TrimSpace(window.To); to != "" {
		upper, ok := parseDate(to)
		if !ok || day.After(dayOf(upper)) {
			return false
		}
	}
	return true
}
