package models

import "time"

// ImportMapping maps an uploaded csv header to a target field.
type ImportMapping map[string]string

// ImportPreview is shown to the operator before commit.
type ImportPreview struct {
	FileName   string              `json:"file_name"`
	Headers    []string            `json:"headers"`
	Mapping    ImportMapping       `json:"mapping"`
	Unmapped   []string            `json:"unmapped,omitempty"`
	SampleRows []map[string]string `json:"sample_rows"`
	TotalRows  int                 `json:"total_rows"`
}

// RowFailure explains why one import row was not created.
type RowFailure struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// RowResult is the outcome reported for one row of a bulk create.
type RowResult struct {
	Row     int    `json:"row"`
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ImportReport summarises a committed import.
type ImportReport struct {
	TotalRows    int          `json:"total_rows"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	CreatedIDs   []string     `json:"created_ids,omitempty"`
	Failures     []RowFailure `json:"failures,omitempty"`
	Fallback     bool         `json:"fallback,omitempty"`
}

// ImportAudit is the persisted trace of one committed import.
type ImportAudit struct {
	ID           string    `db:"id" json:"id"`
	PageID       string    `db:"page_id" json:"page_id"`
	Resource     string    `db:"resource" json:"resource"`
	UserID       string    `db:"user_id" json:"user_id"`
	FileName     string    `db:"file_name" json:"file_name"`
	TotalRows    int       `db:"total_rows" json:"total_rows"`
	SuccessCount int       `db:"success_count" json:"success_count"`
	FailureCount int       `db:"failure_count" json:"failure_count"`
	Failures     []byte    `db:"failures" json:"failures,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ImportAuditFilter narrows the import history listing.
type ImportAuditFilter struct {
	PageID string
	UserID string
	Page   int
	Size   int
}
