// Package pagination extracts page-numbered paging parameters from list
// requests.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Params holds one page window of a list query.
type Params struct {
	Page  int
	Limit int
}

// FromContext reads the page and limit query parameters, applying the given
// default and maximum page size. Page numbers start at 1.
func FromContext(c echo.Context, defaultLimit, maxLimit int) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return Params{Page: page, Limit: limit}
}

// Offset converts the page window into a row offset.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// HasMore reports whether rows remain beyond this page.
func (p Params) HasMore(total int) bool {
	return p.Offset()+p.Limit < total
}
