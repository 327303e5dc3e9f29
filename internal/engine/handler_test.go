package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"filterspec/internal/cache"
	"filterspec/internal/compose"
	"filterspec/internal/config"
	"filterspec/internal/convert"
	"filterspec/internal/metadata"
	"filterspec/internal/rule"
	"filterspec/internal/source"
	"filterspec/internal/store"
)

const catalogDefinitions = `
entities:
  - name: product
    table: products
    primary_key: {field: id, type: int}
    fields:
      - {name: name, type: string}
      - {name: price, type: decimal}
      - {name: active, type: boolean}
      - {name: region, type: string}
      - {name: category_id, type: int, nullable: true}
  - name: category
    table: categories
    primary_key: {field: id, type: int}
    fields:
      - {name: name, type: string}
  - name: tag
    table: tags
    primary_key: {field: id, type: int}
    fields:
      - {name: label, type: string}
relations:
  - name: category
    type: many_to_one
    source: product
    target: category
    source_key: category_id
    target_key: id
  - name: tags
    type: many_to_many
    source: product
    target: tag
    source_key: id
    target_key: id
    join_table: product_tags
    source_join_key: product_id
    target_join_key: tag_id
endpoints:
  - name: products
    route: /products
    entity: product
    sort: name
    joins:
      - {path: category, alias: cat, kind: left, purpose: both}
    filter:
      and:
        - {path: name, op: starting_with, params: [prefix], case: insensitive}
        - {path: price, op: less_than_or_equal, params: [max_price]}
        - {path: price, op: greater_than_or_equal, body: [filter.min_price]}
        - {path: cat.name, op: equal, params: [category]}
        - joins:
            - {path: tags, alias: t}
          and:
            - {path: t.label, op: in, params: [tag], separator: ","}
  - name: region_products
    route: /regions/:region/products
    entity: product
    filter:
      and:
        - {path: region, op: equal, path_vars: [region]}
        - {path: active, op: equal, headers: [X-Active]}
        - {path: price, op: greater_than, params: [min], on_type_mismatch: exception}
  - name: catalog
    route: /catalog
    entity: product
`

func newTestApp(t *testing.T, opts ...compose.Option) *fiber.App {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Name: "catalog", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)

	reg := metadata.NewRegistry()
	if err := metadata.LoadReader(strings.NewReader(catalogDefinitions), "yaml", reg); err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if err := store.NewMigrator(s).MigrateAll(ctx, reg); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seed := []string{
		"INSERT INTO categories (id, name) VALUES (1, 'fruit'), (2, 'bakery')",
		`INSERT INTO products (id, name, price, active, region, category_id) VALUES
			(1, 'apple', 10, 1, 'EU', 1),
			(2, 'bread', 15, 1, 'EU', 2),
			(3, 'caviar', 99, 0, 'US', NULL),
			(4, 'dates', 5, 1, 'US', 1),
			(5, 'Avocado', 3, 1, 'EU', 1)`,
		"INSERT INTO tags (id, label) VALUES (1, 'sale'), (2, 'fresh')",
		"INSERT INTO product_tags (product_id, tag_id) VALUES (1, 1), (1, 2), (2, 1), (3, 1)",
	}
	for _, stmt := range seed {
		if _, err := store.Exec(ctx, s.DB, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	composer := compose.New(source.NewResolver(nil), convert.New(), opts...)
	h := NewHandler(s, reg, composer, 100)
	if err := h.Compile(rule.Options{Schema: reg}); err != nil {
		t.Fatalf("compile: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, h)
	return app
}

type listResponse struct {
	Data []map[string]any `json:"data"`
	Meta struct {
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
		Total   int `json:"total"`
	} `json:"meta"`
	Error *AppError `json:"error"`
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, listResponse) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return resp.StatusCode, out
}

func get(t *testing.T, app *fiber.App, url string, headers map[string]string) (int, listResponse) {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(t, app, req)
}

func names(rows []map[string]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["name"].(string)
	}
	return out
}

func countOf(t *testing.T, app *fiber.App, url string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("%s: expected 200, got %d", url, resp.StatusCode)
	}
	var out struct {
		Data struct {
			Total int `json:"total"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	return out.Data.Total
}

func TestList_NoValuesListsEverything(t *testing.T) {
	app := newTestApp(t)

	status, out := get(t, app, "/api/products", nil)
	if status != 200 {
		t.Fatalf("expected 200, got %d (%+v)", status, out.Error)
	}
	want := []string{"Avocado", "apple", "bread", "caviar", "dates"}
	if got := names(out.Data); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if out.Meta.Total != 5 || out.Meta.Page != 1 || out.Meta.PerPage != 25 {
		t.Fatalf("unexpected meta %+v", out.Meta)
	}

	// cat is a fetch join: its columns are nested under the alias
	apple := out.Data[1]
	cat, ok := apple["cat"].(map[string]any)
	if !ok || cat["name"] != "fruit" {
		t.Fatalf("expected nested category fruit, got %v", apple["cat"])
	}
	if _, ok := apple["cat__name"]; ok {
		t.Fatal("flat fetch column leaked into the row")
	}
	if out.Data[3]["cat"] != nil {
		t.Fatalf("caviar has no category, got %v", out.Data[3]["cat"])
	}
	if apple["active"] != true {
		t.Fatalf("expected boolean active, got %v (%T)", apple["active"], apple["active"])
	}
}

func TestList_CaseInsensitivePrefix(t *testing.T) {
	app := newTestApp(t)

	_, out := get(t, app, "/api/products?prefix=A", nil)
	if got := strings.Join(names(out.Data), ","); got != "Avocado,apple" {
		t.Fatalf("expected Avocado,apple, got %s", got)
	}
	if out.Meta.Total != 2 {
		t.Fatalf("expected total 2, got %d", out.Meta.Total)
	}
}

func TestList_ToManyJoinIsDistinct(t *testing.T) {
	app := newTestApp(t)

	// apple carries both tags and must appear once
	_, out := get(t, app, "/api/products?tag=sale,fresh", nil)
	if got := strings.Join(names(out.Data), ","); got != "apple,bread,caviar" {
		t.Fatalf("expected apple,bread,caviar, got %s", got)
	}
	if out.Meta.Total != 3 {
		t.Fatalf("expected total 3, got %d", out.Meta.Total)
	}
	if n := countOf(t, app, "/api/products/count?tag=fresh", nil); n != 1 {
		t.Fatalf("expected 1 fresh product, got %d", n)
	}
}

func TestList_JoinFilterAndRange(t *testing.T) {
	app := newTestApp(t)

	_, out := get(t, app, "/api/products?category=fruit&max_price=5", nil)
	if got := strings.Join(names(out.Data), ","); got != "Avocado,dates" {
		t.Fatalf("expected Avocado,dates, got %s", got)
	}
}

func TestList_MismatchIsDroppedByDefault(t *testing.T) {
	app := newTestApp(t)

	status, out := get(t, app, "/api/products?max_price=cheap", nil)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if out.Meta.Total != 5 {
		t.Fatalf("expected the unconvertible value to vanish, got total %d", out.Meta.Total)
	}
}

func TestList_MismatchExceptionIs400(t *testing.T) {
	app := newTestApp(t)

	status, out := get(t, app, "/api/regions/EU/products?min=lots", nil)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if out.Error == nil || out.Error.Code != "INVALID_FILTER_VALUE" {
		t.Fatalf("expected INVALID_FILTER_VALUE, got %+v", out.Error)
	}
	if !strings.Contains(out.Error.Message, "lots") {
		t.Fatalf("expected the rejected value in the message, got %s", out.Error.Message)
	}
}

func TestCount_PathVariableAndHeader(t *testing.T) {
	app := newTestApp(t)

	if n := countOf(t, app, "/api/regions/EU/products/count", nil); n != 3 {
		t.Fatalf("expected 3 EU products, got %d", n)
	}
	if n := countOf(t, app, "/api/regions/US/products/count", map[string]string{"X-Active": "true"}); n != 1 {
		t.Fatalf("expected 1 active US product, got %d", n)
	}
	if n := countOf(t, app, "/api/regions/US/products/count?min=50", nil); n != 1 {
		t.Fatalf("expected 1 US product over 50, got %d", n)
	}
}

func TestCount_CachedPlansKeepTheirValues(t *testing.T) {
	plans := cache.New[*compose.Plan](64, 4)
	app := newTestApp(t, compose.WithCache(plans))

	for round := 0; round < 3; round++ {
		if n := countOf(t, app, "/api/regions/EU/products/count", nil); n != 3 {
			t.Fatalf("round %d: expected 3 EU products, got %d", round, n)
		}
		if n := countOf(t, app, "/api/regions/US/products/count", nil); n != 2 {
			t.Fatalf("round %d: expected 2 US products, got %d", round, n)
		}
		if n := countOf(t, app, "/api/regions/US/products/count", map[string]string{"X-Active": "false"}); n != 1 {
			t.Fatalf("round %d: expected 1 inactive US product, got %d", round, n)
		}
	}
	if hits, _ := plans.Stats(); hits == 0 {
		t.Fatal("expected repeated requests to hit the plan cache")
	}
}

func TestRequestLookup_ValuesOutliveTheRequest(t *testing.T) {
	var kept []string
	app := fiber.New()
	app.Get("/zones/:zone", func(c *fiber.Ctx) error {
		l := newRequestLookup(c)
		path, err := l.Values(rule.SourcePath, "zone")
		if err != nil {
			return err
		}
		header, err := l.Values(rule.SourceHeader, "X-Zone")
		if err != nil {
			return err
		}
		kept = append(kept, path.Items...)
		kept = append(kept, header.Items...)
		return c.SendStatus(fiber.StatusNoContent)
	})

	zones := []string{"east1", "north", "south", "west1"}
	var want []string
	for _, zone := range zones {
		req := httptest.NewRequest("GET", "/zones/"+zone, nil)
		req.Header.Set("X-Zone", "hdr-"+zone)
		if _, err := app.Test(req, -1); err != nil {
			t.Fatalf("request failed: %v", err)
		}
		want = append(want, zone, "hdr-"+zone)
	}
	if strings.Join(kept, " ") != strings.Join(want, " ") {
		t.Fatalf("expected %v, got %v", want, kept)
	}
}

func TestSearch_Body(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/products/search?sort=-price", strings.NewReader(`{"filter": {"min_price": 12}}`))
	req.Header.Set("Content-Type", "application/json")
	_, out := doRequest(t, app, req)
	if got := strings.Join(names(out.Data), ","); got != "caviar,bread" {
		t.Fatalf("expected caviar,bread, got %s", got)
	}

	req = httptest.NewRequest("POST", "/api/products/search", strings.NewReader(`{"filter": {"min_price": [[1]]}}`))
	req.Header.Set("Content-Type", "application/json")
	status, out := doRequest(t, app, req)
	if status != 400 || out.Error == nil || out.Error.Code != "INVALID_PAYLOAD" {
		t.Fatalf("expected 400 INVALID_PAYLOAD, got %d %+v", status, out.Error)
	}
}

func TestList_Pagination(t *testing.T) {
	app := newTestApp(t)

	_, out := get(t, app, "/api/catalog?sort=-price&page=2&per_page=2", nil)
	if got := strings.Join(names(out.Data), ","); got != "apple,dates" {
		t.Fatalf("expected apple,dates, got %s", got)
	}
	if out.Meta.Total != 5 || out.Meta.Page != 2 || out.Meta.PerPage != 2 {
		t.Fatalf("unexpected meta %+v", out.Meta)
	}

	_, out = get(t, app, "/api/catalog?per_page=1000", nil)
	if out.Meta.PerPage != 100 {
		t.Fatalf("expected per_page capped at 100, got %d", out.Meta.PerPage)
	}
}

func TestList_UnknownSortField(t *testing.T) {
	app := newTestApp(t)

	status, out := get(t, app, "/api/catalog?sort=weight", nil)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if out.Error.Code != "UNKNOWN_FIELD" || !strings.Contains(out.Error.Message, "weight") {
		t.Fatalf("unexpected error %+v", out.Error)
	}
}

func TestCompile_ReportsEveryBrokenEndpoint(t *testing.T) {
	reg := metadata.NewRegistry()
	if err := metadata.LoadReader(strings.NewReader(catalogDefinitions), "yaml", reg); err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	reg.LoadEndpoints([]*metadata.Endpoint{
		{Name: "bad_attr", Entity: "product", Filter: rule.New("bad_attr", "product", rule.Cond("weight", rule.Equal, rule.Param("w")))},
		{Name: "bad_alias", Entity: "product", Filter: rule.New("bad_alias", "product", rule.Cond("x.label", rule.Equal, rule.Param("l")))},
		{Name: "fine", Entity: "product"},
	})

	h := NewHandler(nil, reg, compose.New(source.NewResolver(nil), convert.New()), 100)
	err := h.Compile(rule.Options{Schema: reg})
	if err == nil {
		t.Fatal("expected compile error")
	}
	for _, name := range []string{"bad_attr", "bad_alias"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in error, got: %v", name, err)
		}
	}
	if len(h.endpoints) != 0 {
		t.Fatal("no endpoint may be served after a failed compile")
	}
}

func TestErrorHandler_HidesInternalErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return io.ErrUnexpectedEOF
	})

	status, out := get(t, app, "/boom", nil)
	if status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	if out.Error.Code != "INTERNAL_ERROR" || strings.Contains(out.Error.Message, "EOF") {
		t.Fatalf("unexpected error %+v", out.Error)
	}
}
