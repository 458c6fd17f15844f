package models

import "time"

// ListStatus is the state of a list page session.
type ListStatus string

const (
	StatusIdle       ListStatus = "idle"
	StatusReady      ListStatus = "ready"
	StatusFailed     ListStatus = "failed"
	StatusPreviewing ListStatus = "previewing"
)

// PageView is what a list page renders for the current session state.
type PageView struct {
	SessionID  string         `json:"session_id"`
	PageID     string         `json:"page_id"`
	Status     ListStatus     `json:"status"`
	Loading    bool           `json:"loading"`
	Error      string         `json:"error,omitempty"`
	Filters    FilterSet      `json:"filters"`
	Items      []Record       `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Preview    *ImportPreview `json:"preview,omitempty"`
	LoadedAt   *time.Time     `json:"loaded_at,omitempty"`
}
