package models

import "strings"

// FilterAll is the sentinel meaning "no constraint".
const FilterAll = "all"

// FilterValue is the current value of one filter control.
type FilterValue struct {
	Value string `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// IsUnconstrained reports whether the value is the empty or "all" sentinel.
func (v FilterValue) IsUnconstrained() bool {
	value := strings.TrimSpace(v.Value)
	if strings.TrimSpace(v.From) != "" || strings.TrimSpace(v.To) != "" {
		return false
	}
	return value == "" || strings.EqualFold(value, FilterAll)
}

// FilterSet maps filter name to its active value.
type FilterSet map[string]FilterValue

// NewFilterSet returns the initial all-"all" set for the given filters.
func NewFilterSet(specs []FilterSpec) FilterSet {
	set := make(FilterSet, len(specs))
	for _, spec := range specs {
		set[spec.Name] = FilterValue{Value: FilterAll}
	}
	return set
}

// Clone copies the set.
func (s FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets constrain the same way.
func (s FilterSet) Equal(other FilterSet) bool {
	keys := make(map[string]struct{}, len(s)+len(other))
	for k := range s {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}
	for k := range keys {
		a, b := s[k], other[k]
		if a.IsUnconstrained() && b.IsUnconstrained() {
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}
