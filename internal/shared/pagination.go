package shared

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = normalizePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// ListQuery carries the common list parameters: free text search, sort and page.
type ListQuery struct {
	Search   string
	SortBy   string
	SortDesc bool
	Page     int
	PerPage  int
}

// Limit returns the row limit.
func (q ListQuery) Limit() int {
	_, perPage := normalizePage(q.Page, q.PerPage)
	return perPage
}

// Offset returns the row offset.
func (q ListQuery) Offset() int {
	page, perPage := normalizePage(q.Page, q.PerPage)
	return (page - 1) * perPage
}

// ListQueryFromRequest reads q, sort, order, page and per_page from the URL.
func ListQueryFromRequest(r *http.Request) ListQuery {
	values := r.URL.Query()
	page, _ := strconv.Atoi(values.Get("page"))
	perPage, _ := strconv.Atoi(values.Get("per_page"))
	return ListQuery{
		Search:   values.Get("q"),
		SortBy:   values.Get("sort"),
		SortDesc: values.Get("order") == "desc",
		Page:     page,
		PerPage:  perPage,
	}
}

func normalizePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}
