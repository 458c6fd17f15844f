package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one row of an upstream resource collection, decoded from JSON.
type Record map[string]interface{}

// ID returns the backend-assigned identifier rendered as a string.
func (r Record) ID() string {
	value, ok := r["id"]
	if !ok || value == nil {
		return ""
	}
	return Stringify(value)
}

// Lookup resolves a dotted path (e.g. "department.name") into nested objects.
func (r Record) Lookup(path string) (interface{}, bool) {
	if r == nil || path == "" {
		return nil, false
	}
	var current interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		var next interface{}
		var ok bool
		switch typed := current.(type) {
		case map[string]interface{}:
			next, ok = typed[part]
		case Record:
			next, ok = typed[part]
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
		current = next
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Collection is the normalised, ordered list of records for one collection key.
type Collection []Record

// Stringify renders scalar JSON values the way they read in a table cell.
func Stringify(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}
