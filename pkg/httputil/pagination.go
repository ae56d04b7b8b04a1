package httputil

import "net/http"

const (
	// DefaultPageSize applies when the client omits page_size
	DefaultPageSize = 20
	// MaxPageSize is the hard ceiling on page_size
	MaxPageSize = 1000
)

// Page describes the requested slice of a list
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset for the page
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// PagedResponse is the wire shape of every list endpoint
type PagedResponse struct {
	Results interface{} `json:"results"`
	Count   int64       `json:"count"`
}

// ParsePage extracts page/page_size query parameters, clamping page to >= 1
// and page_size to [1, maxSize]. Invalid values fall back to defaults.
func ParsePage(r *http.Request, defaultSize, maxSize int) Page {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}

	page, err := ParseQueryInt(r, "page", 1)
	if err != nil || page < 1 {
		page = 1
	}

	size, err := ParseQueryInt(r, "page_size", defaultSize)
	if err != nil || size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}

	return Page{Number: page, Size: size}
}

// WritePage writes a paginated list response
func WritePage(w http.ResponseWriter, results interface{}, count int64) error {
	return WriteJSON(w, http.StatusOK, PagedResponse{Results: results, Count: count})
}
