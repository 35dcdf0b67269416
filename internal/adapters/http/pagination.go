package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PaginatedResponse wraps list results with pagination metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination contains offset-based pagination info.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// pageFromQuery reads offset and limit, falling back to def for a missing or
// out-of-range limit.
func pageFromQuery(c *fiber.Ctx, def, ceiling int) Pagination {
	p := Pagination{Offset: c.QueryInt("offset", 0), Limit: c.QueryInt("limit", def)}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > ceiling {
		p.Limit = def
	}
	return p
}

// paginate returns the window of items described by p and records the total.
func paginate[T any](items []T, p *Pagination) []T {
	p.Total = len(items)
	if p.Offset >= p.Total {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > p.Total {
		end = p.Total
	}
	return items[p.Offset:end]
}

// SetLinkHeaders adds RFC 8288 first/prev/next/last links. Query parameters
// other than offset and limit are carried over.
func SetLinkHeaders(c *fiber.Ctx, p Pagination) {
	q := url.Values{}
	for k, v := range c.Queries() {
		if k != "offset" && k != "limit" {
			q.Set(k, v)
		}
	}
	q.Set("limit", strconv.Itoa(p.Limit))

	link := func(offset int, rel string) string {
		q.Set("offset", strconv.Itoa(offset))
		return fmt.Sprintf(`<%s?%s>; rel="%s"`, c.Path(), q.Encode(), rel)
	}

	links := []string{link(0, "first")}
	if p.Offset > 0 {
		links = append(links, link(max(p.Offset-p.Limit, 0), "prev"))
	}
	if p.Offset+p.Limit < p.Total {
		links = append(links, link(p.Offset+p.Limit, "next"))
	}
	links = append(links, link(max(p.Total-p.Limit, 0), "last"))

	c.Set("Link", strings.Join(links, ", "))
}
