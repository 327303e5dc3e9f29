package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"filterspec/internal/cache"
	"filterspec/internal/convert"
	"filterspec/internal/criteria"
	"filterspec/internal/criteria/criteriatest"
	"filterspec/internal/rule"
	"filterspec/internal/source"
)

func compile(t *testing.T, root rule.Node, joins ...*rule.Join) *rule.Tree {
	t.Helper()
	tree, err := rule.Compile(rule.New("customers", "customer", root, joins...), rule.Options{})
	require.NoError(t, err)
	return tree
}

func params(kv ...string) *source.Request {
	req := &source.Request{Params: map[string][]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		req.Params[kv[i]] = append(req.Params[kv[i]], kv[i+1])
	}
	return req
}

func newComposer(opts ...Option) *Composer {
	return New(source.NewResolver(nil), convert.New(), opts...)
}

func compose(t *testing.T, c *Composer, tree *rule.Tree, req *source.Request, opts Options) (criteria.Predicate, bool, *Context) {
	t.Helper()
	ctx := NewContext(&criteriatest.Backend{}, &criteriatest.Root{Name: "customer"}, req, opts)
	p, present, err := c.Compose(tree, ctx)
	require.NoError(t, err)
	return p, present, ctx
}

func TestCompose_AbsentLeavesVanish(t *testing.T) {
	tree := compile(t, rule.And(
		rule.Cond("name", rule.Equal, rule.Param("name")),
		rule.Or(
			rule.Cond("city", rule.Equal, rule.Param("city")),
			rule.Cond("zip", rule.Equal, rule.Param("zip")),
		),
		rule.Not(rule.Cond("status", rule.Equal, rule.Param("status"))),
	))
	c := newComposer()

	cases := []struct {
		name    string
		req     *source.Request
		want    criteria.Predicate
		present bool
	}{
		{"nothing", params(), nil, false},
		{"one leaf", params("name", "bob"), "name eq bob", true},
		{"blank is absent", params("name", "", "city", "Oslo"), "city eq Oslo", true},
		{"or collapses", params("city", "Oslo", "status", "closed"), "(city eq Oslo AND NOT (status eq closed))", true},
		{"or keeps both", params("city", "Oslo", "zip", "0150"), "(city eq Oslo OR zip eq 0150)", true},
		{"not alone", params("status", "closed"), "NOT (status eq closed)", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, present, _ := compose(t, c, tree, tc.req, Options{})
			assert.Equal(t, tc.present, present)
			assert.Equal(t, tc.want, p)
		})
	}
}

func TestCompose_ConjunctionAndDisjunction(t *testing.T) {
	a := func() *rule.Leaf { return rule.Cond("a", rule.Equal, rule.Param("a")) }
	b := func() *rule.Leaf { return rule.Cond("b", rule.Equal, rule.Param("b")) }
	cc := func() *rule.Leaf { return rule.Cond("c", rule.Equal, rule.Param("c")) }
	d := func() *rule.Leaf { return rule.Cond("d", rule.Equal, rule.Param("d")) }
	c := newComposer()

	conj := compile(t, rule.Conjunction([][]rule.Node{rule.Group(a(), b()), rule.Group(cc())}, d()))
	p, _, _ := compose(t, c, conj, params("a", "1", "b", "2", "c", "3", "d", "4"), Options{})
	assert.Equal(t, "((a eq 1 OR b eq 2) AND c eq 3 AND d eq 4)", p)
	p, _, _ = compose(t, c, conj, params("a", "1", "d", "4"), Options{})
	assert.Equal(t, "(a eq 1 AND d eq 4)", p)

	disj := compile(t, rule.Disjunction([][]rule.Node{rule.Group(a(), b()), rule.Group(cc())}, d()))
	p, _, _ = compose(t, c, disj, params("a", "1", "b", "2", "c", "3"), Options{})
	assert.Equal(t, "((a eq 1 AND b eq 2) OR c eq 3)", p)
	_, present, _ := compose(t, c, disj, params(), Options{})
	assert.False(t, present)
}

func TestCompose_JoinsAreSharedAndLazy(t *testing.T) {
	tree := compile(t, rule.And(
		rule.Cond("o.total", rule.GreaterThan, rule.Param("min")),
		rule.Cond("o.status", rule.Equal, rule.Param("status")),
		rule.Cond("i.sku", rule.Equal, rule.Param("sku")),
	), rule.NewJoin("orders", "o"), rule.NewJoin("o.items", "i"))
	c := newComposer()
	backend := &criteriatest.Backend{Many: map[string]bool{"orders": true}}

	ctx := NewContext(backend, &criteriatest.Root{}, params("min", "10", "status", "open"), Options{})
	p, present, err := c.Compose(tree, ctx)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "(o.total gt 10 AND o.status eq open)", p)
	require.Len(t, backend.Joins, 1, "one join for both leaves, none for items")
	assert.Len(t, ctx.Joins(), 1)
	assert.True(t, ctx.Distinct())

	backend = &criteriatest.Backend{Many: map[string]bool{"orders": true}}
	ctx = NewContext(backend, &criteriatest.Root{}, params(), Options{})
	_, present, err = c.Compose(tree, ctx)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Empty(t, backend.Joins)
	assert.False(t, ctx.Distinct(), "unused to-many join does not force distinct")
}

func TestCompose_FetchJoinsSkippedForCount(t *testing.T) {
	tree := compile(t,
		rule.Cond("p.country", rule.Equal, rule.Param("country")),
		rule.NewJoin("profile", "p").WithPurpose(criteria.Fetch),
		rule.NewJoin("orders", "o").WithPurpose(criteria.Both),
	)
	c := newComposer()
	backend := &criteriatest.Backend{}
	main := &criteriatest.Root{Name: "customer"}
	count := &criteriatest.Root{Name: "customer"}
	req := params("country", "NO")

	mainCtx := NewContext(backend, main, req, Options{})
	_, _, err := c.Compose(tree, mainCtx)
	require.NoError(t, err)
	countCtx := NewContext(backend, count, req, Options{CountQuery: true})
	_, _, err = c.Compose(tree, countCtx)
	require.NoError(t, err)

	require.Len(t, mainCtx.Joins(), 2)
	assert.Equal(t, "p", mainCtx.Joins()[0].Alias())
	assert.Equal(t, criteria.Both, mainCtx.Joins()[0].(*criteriatest.Join).Purpose, "fetch join promoted by the filter")
	assert.Equal(t, "o", mainCtx.Joins()[1].Alias())

	require.Len(t, countCtx.Joins(), 1)
	assert.Equal(t, "p", countCtx.Joins()[0].Alias())
	assert.Equal(t, criteria.Filter, countCtx.Joins()[0].(*criteriatest.Join).Purpose)

	for _, j := range mainCtx.Joins() {
		assert.Same(t, main, j.QueryRoot())
	}
	assert.Same(t, count, countCtx.Joins()[0].QueryRoot())
}

func TestCompose_InclusiveDateRange(t *testing.T) {
	dt := convert.Type{Kind: convert.KindDateTime}
	tree := compile(t, rule.And(
		rule.Cond("placed_at", rule.LessThanOrEqual, rule.Param("to")).WithType(dt).WithPattern("2006-01-02"),
		rule.Cond("placed_at", rule.GreaterThanOrEqual, rule.Param("from")).WithType(dt).WithPattern("2006-01-02"),
		rule.Cond("placed_at", rule.Between, rule.Param("range")).WithType(dt).WithPattern("2006-01-02"),
		rule.Cond("placed_at", rule.EqualDay, rule.Param("day")).WithType(dt).WithPattern("2006-01-02"),
		rule.Cond("placed_at", rule.GreaterThan, rule.Param("after")).WithType(dt).WithPattern("2006-01-02"),
		rule.Cond("placed_at", rule.LessThan, rule.Param("before")).WithType(dt).WithPattern("2006-01-02"),
	))
	d := "2024-03-05"
	plan, err := newComposer().Resolve(tree, params("to", d, "from", d, "range", d, "range", d, "day", d, "after", d, "before", d), Options{})
	require.NoError(t, err)

	start := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 23, 59, 59, 999999999, time.UTC)
	late := time.Date(2024, 3, 5, 23, 59, 59, 999000000, time.UTC)

	group := plan.root.(*groupNode)
	values := func(i int) []any { return group.children[i].(*leafNode).values }

	le := values(0)[0].(time.Time)
	assert.Equal(t, end, le)
	assert.False(t, late.After(le), "a record late on the day satisfies <= day")

	assert.Equal(t, start, values(1)[0])
	assert.Equal(t, []any{start, end}, values(2))
	assert.Equal(t, []any{start, end}, values(3))
	assert.Equal(t, end, values(4)[0])
	assert.Equal(t, start, values(5)[0])
}

func TestCompose_MismatchPolicies(t *testing.T) {
	gender := convert.Enum("MALE", "FEMALE")
	tree := compile(t, rule.Cond("gender", rule.In, rule.Param("gender")).WithType(gender))
	req := params("gender", "MALE", "gender", "ROBOT")
	c := newComposer()

	p, present, _ := compose(t, c, tree, req, Options{})
	assert.True(t, present)
	assert.Equal(t, "gender in MALE", p)

	p, _, _ = compose(t, c, tree, req, Options{Policy: convert.PolicyIgnore})
	assert.Equal(t, "gender in MALE", p)

	ctx := NewContext(&criteriatest.Backend{}, &criteriatest.Root{}, req, Options{Policy: convert.PolicyException})
	_, _, err := c.Compose(tree, ctx)
	var mismatch *convert.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "ROBOT", mismatch.Value)

	// The leaf's own policy beats the request override.
	strict := compile(t, rule.Cond("gender", rule.Equal, rule.Param("gender")).WithType(gender).WithPolicy(convert.PolicyEmptyResult))
	_, present, _ = compose(t, c, strict, params("gender", "ROBOT"), Options{Policy: convert.PolicyException})
	assert.False(t, present, "single-valued leaf with a rejected value is absent")

	_, present, _ = compose(t, c, tree, params("gender", "ROBOT"), Options{})
	assert.False(t, present, "multi-valued leaf with no survivors is absent")

	exc := newComposer(WithPolicy(convert.PolicyException))
	ctx = NewContext(&criteriatest.Backend{}, &criteriatest.Root{}, req, Options{})
	_, _, err = exc.Compose(tree, ctx)
	assert.ErrorAs(t, err, &mismatch)
}

func TestCompose_BetweenNeedsTwoValues(t *testing.T) {
	tree := compile(t, rule.Cond("age", rule.Between, rule.Param("age")).WithType(convert.Type{Kind: convert.KindInt}).WithSeparator(','))
	c := newComposer()

	p, present, _ := compose(t, c, tree, params("age", "18,30"), Options{})
	assert.True(t, present)
	assert.Equal(t, "age between 18,30", p)

	for _, raw := range []string{"18", "18,30,40", "18,x"} {
		_, present, _ := compose(t, c, tree, params("age", raw), Options{})
		assert.False(t, present, raw)
	}
}

func TestCompose_CaseStrategies(t *testing.T) {
	c := newComposer()

	upper := compile(t, rule.Cond("code", rule.Equal, rule.Param("code")).WithCase(rule.CaseUpper))
	p, _, _ := compose(t, c, upper, params("code", "abc"), Options{})
	assert.Equal(t, "code eq ABC", p)

	lower := compile(t, rule.Cond("code", rule.StartingWith, rule.Param("code")).WithCase(rule.CaseLower))
	p, _, _ = compose(t, c, lower, params("code", "ABC"), Options{})
	assert.Equal(t, "code starts_with abc", p)

	insensitive := compile(t, rule.Cond("name", rule.Like, rule.Param("q")).WithCase(rule.CaseInsensitive))
	p, _, _ = compose(t, c, insensitive, params("q", "Bo"), Options{})
	assert.Equal(t, "name like bo ci", p)

	// the request locale decides how letters fold
	p, _, _ = compose(t, c, insensitive, params("q", "KIZ"), Options{Locale: language.Turkish})
	assert.Equal(t, "name like kız ci", p)
	p, _, _ = compose(t, newComposer(WithLocale(language.Turkish)), insensitive, params("q", "KIZ"), Options{})
	assert.Equal(t, "name like kız ci", p)
}

func TestCompose_FlagOperators(t *testing.T) {
	tree := compile(t, rule.And(
		rule.Cond("deleted_at", rule.IsNull, rule.Param("live")),
		rule.Cond("email", rule.NotNull, rule.Param("has_email")),
		rule.Cond("orders", rule.IsEmpty, rule.Param("no_orders")),
	))
	c := newComposer()

	p, _, _ := compose(t, c, tree, params("live", "true", "has_email", "false", "no_orders", "false"), Options{})
	assert.Equal(t, "(deleted_at is_null AND email is_null AND orders not_empty)", p)

	_, present, _ := compose(t, c, tree, params("live", "maybe"), Options{})
	assert.False(t, present)
}

func TestCompose_ConstantAlwaysApplies(t *testing.T) {
	tree := compile(t, rule.And(
		rule.Cond("tenant", rule.Equal).WithConstant("acme"),
		rule.Cond("name", rule.Equal, rule.Param("name")),
	))
	p, present, _ := compose(t, newComposer(), tree, params(), Options{})
	assert.True(t, present)
	assert.Equal(t, "tenant eq acme", p)
}

func TestCompose_CacheEquivalence(t *testing.T) {
	tree := compile(t, rule.And(
		rule.Cond("age", rule.GreaterThan, rule.Param("age")).WithType(convert.Type{Kind: convert.KindInt}),
		rule.Cond("o.total", rule.Equal, rule.Param("total")),
	), rule.NewJoin("orders", "o"))
	plans := cache.New[*Plan](64, 4)
	cached := newComposer(WithCache(plans))
	plain := newComposer()

	first, err := cached.Resolve(tree, params("age", "7"), Options{})
	require.NoError(t, err)
	second, err := cached.Resolve(tree, params("age", "007"), Options{})
	require.NoError(t, err)
	assert.Same(t, first, second, "equal typed values hit the cache")
	assert.Equal(t, []string(nil), second.Aliases())

	hits, misses := plans.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	req := params("age", "007", "total", "10")
	want, _, _ := compose(t, plain, tree, req, Options{})
	got, _, _ := compose(t, cached, tree, req, Options{})
	again, _, ctx := compose(t, cached, tree, req, Options{})
	assert.Equal(t, want, got)
	assert.Equal(t, want, again)
	assert.Len(t, ctx.Joins(), 1, "a cache hit still creates joins on the new root")
}

func TestCompose_DecimalValuesKeepEveryDigit(t *testing.T) {
	tree := compile(t, rule.Cond("total", rule.Equal, rule.Param("total")).WithType(convert.Decimal))
	c := newComposer(WithCache(cache.New[*Plan](64, 4)))

	a, err := c.Resolve(tree, params("total", "1.50"), Options{})
	require.NoError(t, err)
	b, err := c.Resolve(tree, params("total", "1.5"), Options{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	fine, err := c.Resolve(tree, params("total", "1.5000000000000000000001"), Options{})
	require.NoError(t, err)
	assert.NotSame(t, a, fine)
	assert.NotEqual(t, a.Fingerprint(), fine.Fingerprint())

	p, _, _ := compose(t, c, tree, params("total", "1.5000000000000000000001"), Options{})
	assert.Equal(t, "total eq 1.5000000000000000000001", p)
}

func TestCompose_ContextIsBoundToOneTree(t *testing.T) {
	a := compile(t, rule.Cond("a", rule.Equal, rule.Param("a")))
	b := compile(t, rule.Cond("b", rule.Equal, rule.Param("b")))
	c := newComposer()
	ctx := NewContext(&criteriatest.Backend{}, &criteriatest.Root{}, params(), Options{})

	_, _, err := c.Compose(a, ctx)
	require.NoError(t, err)
	_, _, err = c.Compose(b, ctx)
	assert.Error(t, err)
}

func TestCompose_RejectsUncompiledAndValueRoots(t *testing.T) {
	c := newComposer()
	_, err := c.Resolve(rule.New("raw", "customer", rule.Cond("a", rule.Equal, rule.Param("a"))), params(), Options{})
	assert.Error(t, err)

	tree := compile(t, rule.Cond("a", rule.Equal, rule.Param("a")))
	ctx := NewContext(&criteriatest.Backend{}, nil, params("a", "1"), Options{})
	_, _, err = c.Compose(tree, ctx)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	oslo := time.FixedZone("CET", 3600)
	a := fingerprint([][]any{{"a,b"}, nil, {int64(1), time.Date(2024, 1, 1, 1, 0, 0, 0, oslo)}})
	b := fingerprint([][]any{{"a", "b"}, nil, {int64(1), time.Date(2024, 1, 1, 1, 0, 0, 0, oslo)}})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, fingerprint([][]any{{"a,b"}, nil, {int64(1), time.Date(2024, 1, 1, 1, 0, 0, 0, oslo)}}))
	assert.NotEqual(t, fingerprint([][]any{{int32(1)}}), fingerprint([][]any{{int64(1)}}))
}
