package store

// PaginationParams contains page-based pagination request parameters.
type PaginationParams struct {
	Page  int // 1-based page number (defaults to 1)
	Limit int // Items per page (defaults to 20, capped at 100)
}

// Pagination describes the page returned alongside the items.
type Pagination struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalItems   int  `json:"total_items"`
	ItemsPerPage int  `json:"items_per_page"`
	HasNextPage  bool `json:"has_next_page"`
	HasPrevPage  bool `json:"has_prev_page"`
}

// PaginatedResult contains one page of items and its pagination metadata.
type PaginatedResult[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Normalize clamps the parameters to sane bounds.
func (p *PaginationParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
}

// Offset returns the row offset for the normalized page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// NewPaginatedResult assembles a result page from items and a total count.
func NewPaginatedResult[T any](items []T, params PaginationParams, total int) *PaginatedResult[T] {
	totalPages := (total + params.Limit - 1) / params.Limit
	if totalPages < 1 {
		totalPages = 1
	}
	return &PaginatedResult[T]{
		Items: items,
		Pagination: Pagination{
			CurrentPage:  params.Page,
			TotalPages:   totalPages,
			TotalItems:   total,
			ItemsPerPage: params.Limit,
			HasNextPage:  params.Page < totalPages,
			HasPrevPage:  params.Page > 1,
		},
	}
}
