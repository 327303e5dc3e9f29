package rule

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filterspec/internal/convert"
	"filterspec/internal/criteria"
)

type testSchema struct {
	attrs     map[string]convert.Type // "entity.attr"
	relations map[string]string       // "entity.relation" -> target
}

func (s testSchema) AttributeType(entity, attribute string) (convert.Type, error) {
	t, ok := s.attrs[entity+"."+attribute]
	if !ok {
		return convert.Type{}, fmt.Errorf("unknown attribute %s.%s", entity, attribute)
	}
	return t, nil
}

func (s testSchema) RelationTarget(entity, relation string) (string, error) {
	target, ok := s.relations[entity+"."+relation]
	if !ok {
		return "", fmt.Errorf("unknown relation %s.%s", entity, relation)
	}
	return target, nil
}

var schema = testSchema{
	attrs: map[string]convert.Type{
		"customer.name":    convert.String,
		"customer.gender":  convert.Enum("MALE", "FEMALE"),
		"customer.born":    {Kind: convert.KindDate},
		"order.total":      {Kind: convert.KindFloat, Bits: 64},
		"order.placed_at":  {Kind: convert.KindDateTime},
		"order_item.sku":   convert.String,
		"order_item.count": {Kind: convert.KindInt, Bits: 32},
	},
	relations: map[string]string{
		"customer.orders": "order",
		"order.items":     "order_item",
	},
}

type upperEvaluator struct{}

func (upperEvaluator) Literal(raw string) (any, error) {
	if raw == "#{fail}" {
		return nil, errors.New("boom")
	}
	return strings.ToUpper(raw), nil
}

func configErrors(t *testing.T, err error) []*ConfigError {
	t.Helper()
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	var out []*ConfigError
	for _, e := range merr.Errors {
		var ce *ConfigError
		require.ErrorAs(t, e, &ce)
		out = append(out, ce)
	}
	return out
}

func TestCompile_ResolvesTypesAndAliases(t *testing.T) {
	decl := New("customers", "customer",
		And(
			Cond("name", Like, Param("name")),
			Cond("gender", In, Param("gender")),
			Cond("o.total", GreaterThan, Param("min_total")),
			Cond("i.count", Equal, Param("count")),
			Cond("o.placed_at", IsNull, Param("unplaced")),
		).WithJoins(NewJoin("o.items", "i")),
		NewJoin("orders", "o").WithKind(criteria.Left),
	)

	tree, err := Compile(decl, Options{Schema: schema})
	require.NoError(t, err)
	require.True(t, tree.Compiled())

	leaves := tree.Leaves()
	require.Len(t, leaves, 5)
	assert.Equal(t, convert.String, leaves[0].ValueType())
	assert.Equal(t, convert.KindEnum, leaves[1].ValueType().Kind)
	assert.Equal(t, "o", leaves[2].Alias())
	assert.Equal(t, "total", leaves[2].Attribute())
	assert.Equal(t, convert.KindFloat, leaves[2].ValueType().Kind)
	assert.Equal(t, convert.KindInt, leaves[3].ValueType().Kind)
	assert.Equal(t, convert.Bool, leaves[4].ValueType())
	for i, l := range leaves {
		assert.Equal(t, i, l.ID())
	}

	i, ok := tree.Join("i")
	require.True(t, ok)
	assert.Equal(t, "o", i.Parent())
	assert.Equal(t, "items", i.Relation())
	assert.Equal(t, "order_item", i.Entity())
	assert.Equal(t, criteria.Filter, i.Purpose)
	assert.Len(t, tree.AllJoins(), 2)
}

func TestCompile_DeclarationIsNotMutated(t *testing.T) {
	leaf := Cond("name", Equal, Param("name"))
	decl := New("t", "customer", leaf)

	a, err := Compile(decl, Options{Schema: schema})
	require.NoError(t, err)
	b, err := Compile(decl, Options{Schema: schema})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotSame(t, leaf, a.Root)
	assert.NotSame(t, a.Root, b.Root)
}

func TestCompile_ReportsEveryProblem(t *testing.T) {
	decl := New("broken", "customer",
		And(
			Cond("x.name", Equal, Param("name")),
			Cond("missing", Equal, Param("m")),
			Cond("name", Operator("contains"), Param("n")),
			Cond("name", Equal),
			Cond("name", Equal, Body("customer..name")),
			Cond("o.", Equal, Param("p")),
		),
		NewJoin("orders", "o"),
		NewJoin("orders", "o"),
		NewJoin("a.b.c", "deep"),
	)

	_, err := Compile(decl, Options{Schema: schema})
	require.Error(t, err)
	errs := configErrors(t, err)
	assert.Len(t, errs, 8)

	var messages []string
	for _, e := range errs {
		assert.Equal(t, "broken", e.Tree)
		messages = append(messages, e.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, `alias "o" is declared more than once`)
	assert.Contains(t, joined, `cannot parse join path "a.b.c"`)
	assert.Contains(t, joined, `alias "x" is not declared`)
	assert.Contains(t, joined, "unknown attribute customer.missing")
	assert.Contains(t, joined, `unknown operator "contains"`)
	assert.Contains(t, joined, "no value source")
	assert.Contains(t, joined, `body key "customer..name"`)
	assert.Contains(t, joined, `invalid attribute path "o."`)
}

func TestCompile_AliasVisibility(t *testing.T) {
	// o is declared on the first branch only.
	decl := New("scoped", "customer", Or(
		And(Cond("o.total", Equal, Param("t"))).WithJoins(NewJoin("orders", "o")),
		Cond("o.total", Equal, Param("t")),
	))

	_, err := Compile(decl, Options{Schema: schema})
	errs := configErrors(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, `alias "o" is not declared at this node or an ancestor`)
	assert.NotContains(t, errs[0].Message, "unknown attribute")
}

func TestCompile_StructuralErrors(t *testing.T) {
	cases := map[string]Node{
		"empty and":       And(),
		"not two":         &Composite{Kind: KindNot, Children: []Node{Cond("name", Equal, Param("a")), Cond("name", Equal, Param("b"))}},
		"no groups":       Conjunction(nil, Cond("name", Equal, Param("a"))),
		"empty group":     Disjunction([][]Node{{}}),
		"unknown kind":    &Composite{Kind: "xor", Children: []Node{Cond("name", Equal, Param("a"))}},
		"groups on or":    &Composite{Kind: KindOr, Children: []Node{Cond("name", Equal, Param("a"))}, Groups: [][]Node{{Cond("name", Equal, Param("b"))}}},
		"bad join kind":   And(Cond("name", Equal, Param("a"))).WithJoins(NewJoin("orders", "o").WithKind("outer")),
		"bad distinct":    And(Cond("name", Equal, Param("a"))).WithJoins(NewJoin("orders", "o").WithDistinct("maybe")),
		"unknown case":    Cond("name", Equal, Param("a")).WithCase("title"),
		"unknown policy":  Cond("name", Equal, Param("a")).WithPolicy("retry"),
		"unknown relation": Cond("friends", IsEmpty, Param("lonely")),
	}
	for name, root := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(New(name, "customer", root), Options{Schema: schema})
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}

	_, err := Compile(New("nil root", "customer", nil), Options{})
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestCompile_Constants(t *testing.T) {
	decl := New("constants", "customer", And(
		Cond("name", Equal).WithConstant("bob"),
		Cond("gender", Equal).WithConstant("#{fail}"),
	))

	_, err := Compile(decl, Options{Schema: schema, Evaluator: upperEvaluator{}})
	errs := configErrors(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "boom")

	tree, err := Compile(New("c", "customer", Cond("name", Equal).WithConstant("bob")), Options{Schema: schema, Evaluator: upperEvaluator{}})
	require.NoError(t, err)
	v, ok := tree.Leaves()[0].ConstantValue()
	assert.True(t, ok)
	assert.Equal(t, "BOB", v)
}

func TestCompile_TypeOverrides(t *testing.T) {
	tree, err := Compile(New("types", "customer", And(
		Cond("born", Between, Param("born")).WithType(convert.Type{Kind: convert.KindTimestamp}),
		Cond("gender", Like, Param("g")),
		Cond("anything", Equal, Param("x")),
	)), Options{})
	require.NoError(t, err)

	leaves := tree.Leaves()
	assert.Equal(t, convert.KindTimestamp, leaves[0].ValueType().Kind)
	assert.Equal(t, convert.String, leaves[1].ValueType())
	assert.Equal(t, convert.String, leaves[2].ValueType(), "no schema means strings")
}

func TestMerge(t *testing.T) {
	base := New("base", "customer", Cond("o.total", GreaterThan, Param("min")), NewJoin("orders", "o"))
	extra := New("extra", "customer", Cond("name", Equal, Param("name")))

	merged, err := Merge(base, extra)
	require.NoError(t, err)
	assert.Equal(t, "base+extra", merged.Name)
	require.Len(t, merged.Joins, 1)

	tree, err := Compile(merged, Options{Schema: schema})
	require.NoError(t, err)
	root, ok := tree.Root.(*Composite)
	require.True(t, ok)
	assert.Equal(t, KindAnd, root.Kind)
	assert.Len(t, tree.Leaves(), 2)

	// Compiled trees merge too.
	compiled := MustCompile(base, Options{Schema: schema})
	again, err := Merge(compiled, extra)
	require.NoError(t, err)
	_, err = Compile(again, Options{Schema: schema})
	require.NoError(t, err)

	_, err = Merge(base, New("other", "order", Cond("total", Equal, Param("t"))))
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)

	only, err := Merge(nil, extra)
	require.NoError(t, err)
	assert.Equal(t, extra.Root, only.Root)
}

func TestOperatorClassification(t *testing.T) {
	assert.True(t, Between.MultiValued())
	assert.False(t, Equal.MultiValued())
	assert.True(t, NotEmpty.Flag())
	assert.True(t, NotEmpty.OnRelation())
	assert.False(t, IsNull.OnRelation())
	assert.True(t, StartingWith.Textual())
	assert.False(t, Operator("nope").Valid())
}
