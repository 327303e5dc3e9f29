package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"filterspec/internal/metadata"
	"filterspec/internal/sqlquery"
)

const defaultPerPage = 25

// PageRequest is the sort and pagination part of a list request.
type PageRequest struct {
	Sorts   []sqlquery.Sort
	Page    int
	PerPage int
}

// SQLPage converts the request to the limit and offset of a query.
func (p PageRequest) SQLPage() sqlquery.Page {
	return sqlquery.Page{
		Sorts:  p.Sorts,
		Limit:  p.PerPage,
		Offset: (p.Page - 1) * p.PerPage,
	}
}

// ParsePageRequest reads sort=-placed_at,total, page and per_page. The
// endpoint's sort and per_page apply when the request has none; per_page is
// capped at maxPerPage.
func ParsePageRequest(c *fiber.Ctx, ep *metadata.Endpoint, entity *metadata.Entity, maxPerPage int) (PageRequest, error) {
	req := PageRequest{Page: 1, PerPage: defaultPerPage}
	if ep.PerPage > 0 {
		req.PerPage = ep.PerPage
	}

	sortParam := c.Query("sort", ep.Sort)
	if sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			s := sqlquery.Sort{Field: part}
			if strings.HasPrefix(part, "-") {
				s = sqlquery.Sort{Field: part[1:], Desc: true}
			}
			if !entity.HasField(s.Field) && s.Field != entity.PrimaryKeyField() {
				return req, BadRequestError("UNKNOWN_FIELD", fmt.Sprintf("Unknown sort field: %s", s.Field))
			}
			req.Sorts = append(req.Sorts, s)
		}
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			req.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			req.PerPage = v
		}
	}
	if maxPerPage > 0 && req.PerPage > maxPerPage {
		req.PerPage = maxPerPage
	}
	return req, nil
}
