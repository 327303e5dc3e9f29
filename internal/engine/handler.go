package engine

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-multierror"

	"filterspec/internal/compose"
	"filterspec/internal/convert"
	"filterspec/internal/criteria"
	"filterspec/internal/instrument"
	"filterspec/internal/metadata"
	"filterspec/internal/rule"
	"filterspec/internal/sqlquery"
	"filterspec/internal/store"
)

// Handler serves the filtered list endpoints declared in the registry.
type Handler struct {
	store      *store.Store
	registry   *metadata.Registry
	backend    *sqlquery.Backend
	composer   *compose.Composer
	maxPerPage int
	endpoints  []*endpoint
}

type endpoint struct {
	*metadata.Endpoint
	entity *metadata.Entity
	// filter is nil for endpoints that list everything.
	filter *rule.Tree
}

func (ep *endpoint) route() string {
	if ep.Route == "" {
		return "/" + ep.Name
	}
	return ep.Route
}

func NewHandler(s *store.Store, reg *metadata.Registry, composer *compose.Composer, maxPerPage int) *Handler {
	return &Handler{
		store:      s,
		registry:   reg,
		backend:    sqlquery.NewBackend(reg),
		composer:   composer,
		maxPerPage: maxPerPage,
	}
}

// Compile compiles the filter of every endpoint in the registry. Every broken
// endpoint is reported; none is served until all compile.
func (h *Handler) Compile(opts rule.Options) error {
	var errs *multierror.Error
	var endpoints []*endpoint
	for _, ep := range h.registry.AllEndpoints() {
		entity := h.registry.GetEntity(ep.Entity)
		if entity == nil {
			errs = multierror.Append(errs, fmt.Errorf("endpoint %s: unknown entity %q", ep.Name, ep.Entity))
			continue
		}
		compiled := &endpoint{Endpoint: ep, entity: entity}
		if ep.Filter != nil {
			tree, err := rule.Compile(ep.Filter, opts)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("endpoint %s: %w", ep.Name, err))
				continue
			}
			compiled.filter = tree
		}
		endpoints = append(endpoints, compiled)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	h.endpoints = endpoints
	return nil
}

// List handles GET /api<route>.
func (h *Handler) List(ep *endpoint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page, err := ParsePageRequest(c, ep.Endpoint, ep.entity, h.maxPerPage)
		if err != nil {
			return err
		}
		lookup := newRequestLookup(c)
		plan, err := h.resolve(c, ep, lookup)
		if err != nil {
			return err
		}

		q, where, err := h.bind(ep, plan, lookup, compose.Options{})
		if err != nil {
			return err
		}
		sqlStr, args, err := q.SelectSQL(where, page.SQLPage(), h.store.Dialect.Placeholders())
		if err != nil {
			return fmt.Errorf("build %s query: %w", ep.Name, err)
		}

		ctx, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "store", "query.list")
		span.SetEntity(ep.entity.Name, "")
		rows, err := store.QueryRows(ctx, h.store.DB, sqlStr, args...)
		span.SetMetadata("rows", len(rows))
		if err != nil {
			span.SetStatus("error")
			span.End()
			return queryError(h.store, "list "+ep.Name, err)
		}
		span.SetStatus("ok")
		span.End()

		if h.store.Dialect.NeedsBoolFix() {
			store.NormalizeBooleans(rows, booleanColumns(ep.entity, q))
		}
		nestFetched(rows, q)

		total, err := h.count(c, ep, plan, lookup)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"data": rows,
			"meta": fiber.Map{
				"page":     page.Page,
				"per_page": page.PerPage,
				"total":    total,
			},
		})
	}
}

// Count handles GET /api<route>/count.
func (h *Handler) Count(ep *endpoint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lookup := newRequestLookup(c)
		plan, err := h.resolve(c, ep, lookup)
		if err != nil {
			return err
		}
		total, err := h.count(c, ep, plan, lookup)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": fiber.Map{"total": total}})
	}
}

// resolve reads the filter values of the request. A nil plan means the
// endpoint has no filter.
func (h *Handler) resolve(c *fiber.Ctx, ep *endpoint, lookup *requestLookup) (*compose.Plan, error) {
	if ep.filter == nil {
		return nil, nil
	}
	_, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "compose", "filter.resolve")
	defer span.End()
	span.SetEntity(ep.entity.Name, "")

	plan, err := h.composer.Resolve(ep.filter, lookup, compose.Options{})
	if err != nil {
		span.SetStatus("error")
		return nil, filterError(err)
	}
	span.SetStatus("ok")
	span.SetMetadata("present", plan.Present())
	span.SetMetadata("fingerprint", plan.Fingerprint())
	return plan, nil
}

// bind builds a fresh query root for the plan. The list and the count query
// each get their own root and resolution context.
func (h *Handler) bind(ep *endpoint, plan *compose.Plan, lookup *requestLookup, opts compose.Options) (*sqlquery.Query, criteria.Predicate, error) {
	q, err := h.backend.NewQuery(ep.entity.Name)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return q, nil, nil
	}

	rctx := compose.NewContext(h.backend, q, lookup, opts)
	where, present, err := h.composer.Bind(plan, rctx)
	if err != nil {
		return nil, nil, filterError(err)
	}
	if rctx.Distinct() {
		if err := h.backend.Distinct(q); err != nil {
			return nil, nil, err
		}
	}
	if !present {
		where = nil
	}
	return q, where, nil
}

func (h *Handler) count(c *fiber.Ctx, ep *endpoint, plan *compose.Plan, lookup *requestLookup) (int64, error) {
	q, where, err := h.bind(ep, plan, lookup, compose.Options{CountQuery: true})
	if err != nil {
		return 0, err
	}
	sqlStr, args, err := q.CountSQL(where, h.store.Dialect.Placeholders())
	if err != nil {
		return 0, fmt.Errorf("build %s count: %w", ep.Name, err)
	}

	ctx, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "store", "query.count")
	defer span.End()
	span.SetEntity(ep.entity.Name, "")
	total, err := store.QueryCount(ctx, h.store.DB, sqlStr, args...)
	if err != nil {
		span.SetStatus("error")
		return 0, queryError(h.store, "count "+ep.Name, err)
	}
	span.SetStatus("ok")
	return total, nil
}

// booleanColumns names the result columns of boolean fields, fetch join
// columns included.
func booleanColumns(entity *metadata.Entity, q *sqlquery.Query) []string {
	var cols []string
	for _, f := range entity.Fields {
		if f.FilterType().Kind == convert.KindBool {
			cols = append(cols, f.Name)
		}
	}
	for _, j := range q.Joins() {
		if !j.Purpose().Has(criteria.Fetch) {
			continue
		}
		for _, f := range j.Target().Fields {
			if f.FilterType().Kind == convert.KindBool {
				cols = append(cols, j.Alias()+"__"+f.Name)
			}
		}
	}
	return cols
}

// nestFetched moves "<alias>__<field>" columns into a nested object under the
// alias. An outer join without a match yields null.
func nestFetched(rows []map[string]any, q *sqlquery.Query) {
	var aliases []string
	fetched := make(map[string]bool)
	for _, j := range q.Joins() {
		if j.Purpose().Has(criteria.Fetch) {
			aliases = append(aliases, j.Alias())
			fetched[j.Alias()] = true
		}
	}
	if len(aliases) == 0 {
		return
	}

	for _, row := range rows {
		nested := make(map[string]map[string]any, len(aliases))
		for k, v := range row {
			alias, field, ok := strings.Cut(k, "__")
			if !ok || !fetched[alias] {
				continue
			}
			obj := nested[alias]
			if obj == nil {
				obj = make(map[string]any)
				nested[alias] = obj
			}
			obj[field] = v
			delete(row, k)
		}
		for _, alias := range aliases {
			obj := nested[alias]
			if allNil(obj) {
				row[alias] = nil
				continue
			}
			row[alias] = obj
		}
	}
}

func allNil(m map[string]any) bool {
	for _, v := range m {
		if v != nil {
			return false
		}
	}
	return true
}
