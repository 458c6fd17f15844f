package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/parks-console/internal/models"
)

// RecordSchema coerces upstream records to the declared field types.
type RecordSchema struct {
	fields map[string]models.FieldType
}

// NewRecordSchema builds a schema from the page fields.
func NewRecordSchema(fields []models.FieldSpec) RecordSchema {
	index := make(map[string]models.FieldType, len(fields))
	for _, f := range fields {
		index[f.Name] = f.Type
	}
	return RecordSchema{fields: index}
}

// DecodeCollection accepts either a bare JSON array or an object carrying the
// array under "data", and checks every element against the schema.
func (s RecordSchema) DecodeCollection(body []byte) (models.Collection, error) {
	raw, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	out := make(models.Collection, 0, len(raw))
	for i, item := range raw {
		record, err := s.Normalize(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, record)
	}
	return out, nil
}

// Normalize checks the record carries an id and coerces declared number and
// bool fields that arrived as strings. Unparseable values are left untouched.
func (s RecordSchema) Normalize(record models.Record) (models.Record, error) {
	if record == nil {
		return nil, fmt.Errorf("record is null")
	}
	if record.ID() == "" {
		return nil, fmt.Errorf("record has no id")
	}
	out := record.Clone()
	for name, kind := range s.fields {
		value, ok := out[name]
		if !ok {
			continue
		}
		raw, isString := value.(string)
		if !isString {
			continue
		}
		raw = strings.TrimSpace(raw)
		switch kind {
		case models.FieldNumber:
			if raw == "" {
				out[name] = nil
				continue
			}
			if n, err := strconv.ParseFloat(raw, 64); err == nil {
				out[name] = n
			}
		case models.FieldBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				out[name] = b
			}
		}
	}
	return out, nil
}

func unwrapEnvelope(body []byte) ([]models.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	switch trimmed[0] {
	case '[':
		var items []models.Record
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		return items, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		raw, ok := envelope["data"]
		if !ok {
			return nil, fmt.Errorf("envelope has no data member")
		}
		data := bytes.TrimSpace(raw)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return []models.Record{}, nil
		}
		var items []models.Record
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode envelope data: %w", err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected response shape")
	}
}

// sortCollection orders records by the page sort; records missing the field sort last.
func sortCollection(records models.Collection, spec *models.SortSpec) models.Collection {
	out := make(models.Collection, len(records))
	copy(out, records)
	if spec == nil || spec.Field == "" {
		return out
	}
	desc := spec.Descending()
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].Lookup(spec.Field)
		b, bok := out[j].Lookup(spec.Field)
		if !aok || !bok {
			return aok && !bok
		}
		cmp := compareValues(a, b)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

func compareValues(a, b interface{}) int {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := parseDate(a); ok {
		if y, ok := parseDate(b); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(models.Stringify(a), models.Stringify(b))
}
