package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortSpecDescending(t *testing.T) {
	cases := map[string]bool{
		"":     true,
		"desc": true,
		"DESC": true,
		"Desc": true,
		"asc":  false,
		"ASC":  false,
	}
	for order, want := range cases {
		assert.Equal(t, want, (&SortSpec{Field: "date", Order: order}).Descending(), "order %q", order)
	}

	var none *SortSpec
	assert.False(t, none.Descending())
}
