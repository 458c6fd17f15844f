package service

const defaultPageSize = 10

// Page is one window of an already filtered collection.
type Page[T any] struct {
	Items       []T `json:"items"`
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
	TotalCount  int `json:"total_count"`
	TotalPages  int `json:"total_pages"`
}

// TotalPages returns ceil(total/pageSize), never less than one.
func TotalPages(totalCount, pageSize int) int {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if totalCount <= 0 {
		return 1
	}
	return (totalCount + pageSize - 1) / pageSize
}

// ClampPage moves currentPage into [1, TotalPages].
func ClampPage(currentPage, totalCount, pageSize int) int {
	if currentPage < 1 {
		return 1
	}
	if last := TotalPages(totalCount, pageSize); currentPage > last {
		return last
	}
	return currentPage
}

// Paginate slices items for currentPage. A page outside the range yields no
// items; callers clamp first when they want the nearest valid page.
func Paginate[T any](items []T, pageSize, currentPage int) Page[T] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	total := len(items)
	page := Page[T]{
		Items:       []T{},
		CurrentPage: currentPage,
		PageSize:    pageSize,
		TotalCount:  total,
		TotalPages:  TotalPages(total, pageSize),
	}
	if currentPage < 1 {
		return page
	}
	start := (currentPage - 1) * pageSize
	if start >= total {
		return page
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	page.Items = items[start:end:end]
	return page
}
