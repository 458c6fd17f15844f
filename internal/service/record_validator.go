package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
)

// RecordValidator checks record payloads against the declared page fields.
type RecordValidator struct {
	validate *validator.Validate
}

// NewRecordValidator constructs a validator.
func NewRecordValidator(validate *validator.Validate) *RecordValidator {
	if validate == nil {
		validate = validator.New()
	}
	return &RecordValidator{validate: validate}
}

// Coerce converts string inputs of number, bool and date fields to their
// declared types. Values that cannot be converted are kept for Validate to report.
func (v *RecordValidator) Coerce(def models.PageDefinition, record models.Record) models.Record {
	out := record.Clone()
	for _, field := range def.Fields {
		raw, ok := out[field.Name].(string)
		if !ok {
			continue
		}
		if strings.TrimSpace(raw) == "" {
			out[field.Name] = nil
			continue
		}
		if value, err := parseInput(field.Type, raw); err == nil {
			out[field.Name] = value
		}
	}
	return out
}

// Validate returns a message per offending field. partial skips required
// checks for fields absent from the record, as on update.
func (v *RecordValidator) Validate(def models.PageDefinition, record models.Record, required []string, partial bool) map[string]string {
	mustHave := make(map[string]struct{}, len(required))
	for _, name := range required {
		mustHave[name] = struct{}{}
	}
	problems := make(map[string]string)
	for _, field := range def.Fields {
		if field.Name == "id" {
			continue
		}
		value, present := record[field.Name]
		_, listed := mustHave[field.Name]
		if isEmptyValue(value) {
			if (field.Required || listed) && (!partial || present) {
				problems[field.Name] = "is required"
			}
			continue
		}
		if msg := typeProblem(field.Type, value); msg != "" {
			problems[field.Name] = msg
			continue
		}
		if field.Rules == "" {
			continue
		}
		if err := v.validate.Var(value, field.Rules); err != nil {
			problems[field.Name] = ruleMessage(err)
		}
	}
	return problems
}

// Check coerces and validates, returning a VALIDATION_ERROR with per-field details.
func (v *RecordValidator) Check(def models.PageDefinition, record models.Record, partial bool) (models.Record, error) {
	coerced := v.Coerce(def, record)
	if problems := v.Validate(def, coerced, nil, partial); len(problems) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, problems)
	}
	return coerced, nil
}

func isEmptyValue(value interface{}) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	}
	return false
}

func typeProblem(kind models.FieldType, value interface{}) string {
	switch kind {
	case models.FieldNumber:
		switch value.(type) {
		case float64, float32, int, int64:
			return ""
		}
		return "must be a number"
	case models.FieldBool:
		if _, ok := value.(bool); !ok {
			return "must be true or false"
		}
	case models.FieldDate:
		if _, ok := parseDate(value); !ok {
			return "must be a date"
		}
	}
	return ""
}

func ruleMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed %s", fe.Tag())
	}
	return err.Error()
}

// parseInput reads a user-typed string as the declared field type.
func parseInput(kind models.FieldType, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case models.FieldNumber:
		cleaned := strings.NewReplacer("$", "", " ", "").Replace(raw)
		if comma := strings.LastIndex(cleaned, ","); comma >= 0 && strings.Contains(cleaned, ".") {
			// only comma thousands separators before a single decimal point
			if comma > strings.Index(cleaned, ".") || strings.Count(cleaned, ".") > 1 {
				return nil, fmt.Errorf("must be a number")
			}
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return n, nil
	case models.FieldBool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "si", "sí", "y", "s":
			return true, nil
		case "false", "0", "no", "n":
			return false, nil
		}
		return nil, fmt.Errorf("must be true or false")
	case models.FieldDate:
		t, ok := parseDate(raw)
		if !ok {
			return nil, fmt.Errorf("must be a date")
		}
		if strings.ContainsAny(raw, "T:") {
			return raw, nil
		}
		return t.Format("2006-01-02"), nil
	}
	return raw, nil
}
