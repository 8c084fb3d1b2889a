package util

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Pagination is a normalized 1-based page request.
type Pagination struct {
	Page   int
	Size   int
	Offset int
}

// Paginate clamps the page to 1 and resets sizes outside 1..MaxPageSize to
// DefaultPageSize.
func Paginate(page, size int) Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	return Pagination{Page: page, Size: size, Offset: (page - 1) * size}
}
