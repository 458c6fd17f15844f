package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// PageState is the pager position of one list page session.
type PageState struct {
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
}
