package service

import (
	"strings"
	"time"

	"github.com/noah-isme/parks-console/internal/models"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006",
	"2006-01",
	"2006",
}

// parseDate accepts the date shapes the parks API and csv uploads use.
func parseDate(value interface{}) (time.Time, bool) {
	switch typed := value.(type) {
	case time.Time:
		return typed, !typed.IsZero()
	case *time.Time:
		if typed == nil {
			return time.Time{}, false
		}
		return *typed, !typed.IsZero()
	case string:
		raw := strings.TrimSpace(typed)
		if raw == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func sameDate(a, b time.Time, granularity models.DateGranularity) bool {
	switch granularity {
	case models.GranularityYear:
		return a.Year() == b.Year()
	case models.GranularityMonth:
		return a.Year() == b.Year() && a.Month() == b.Month()
	default:
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		return ay == by && am == bm && ad == bd
	}
}

// dayOf drops the clock, keeping the calendar date in the value's own location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
