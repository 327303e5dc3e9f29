// Package compose turns a compiled rule tree and a request into one backend
// predicate. Conditions without values vanish from the result.
package compose

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"filterspec/internal/cache"
	"filterspec/internal/convert"
	"filterspec/internal/criteria"
	"filterspec/internal/rule"
	"filterspec/internal/source"
)

// Composer resolves and binds filters. It is safe for concurrent use.
type Composer struct {
	resolver  *source.Resolver
	converter *convert.Converter
	cache     *cache.Cache[*Plan]
	policy    convert.Policy
	locale    language.Tag
}

type Option func(*Composer)

// WithCache memoises plans.
func WithCache(c *cache.Cache[*Plan]) Option {
	return func(cp *Composer) { cp.cache = c }
}

// WithPolicy sets the mismatch policy of leaves that declare none.
func WithPolicy(p convert.Policy) Option {
	return func(cp *Composer) { cp.policy = p }
}

// WithLocale sets the locale used for case folding.
func WithLocale(tag language.Tag) Option {
	return func(cp *Composer) { cp.locale = tag }
}

func New(resolver *source.Resolver, converter *convert.Converter, opts ...Option) *Composer {
	c := &Composer{
		resolver:  resolver,
		converter: converter,
		policy:    convert.PolicyEmptyResult,
		locale:    language.Und,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose resolves tree against the context's request and binds the result to
// the context's root. present is false when no condition had a value.
func (c *Composer) Compose(tree *rule.Tree, ctx *Context) (criteria.Predicate, bool, error) {
	plan, err := c.Resolve(tree, ctx.lookup, ctx.opts)
	if err != nil {
		return nil, false, err
	}
	return c.Bind(plan, ctx)
}

// Resolve reads and converts every leaf value and prunes the tree.
func (c *Composer) Resolve(tree *rule.Tree, lookup source.Lookup, opts Options) (*Plan, error) {
	if !tree.Compiled() {
		return nil, fmt.Errorf("filter %q is not compiled", tree.Name)
	}

	leaves := tree.Leaves()
	values := make([][]any, len(leaves))
	for _, leaf := range leaves {
		vs, err := c.leafValues(leaf, lookup, opts)
		if err != nil {
			return nil, errors.Wrapf(scoped(err, tree), "resolve %s", leaf.Path)
		}
		if leaf.Case == rule.CaseInsensitive {
			vs = lowerStrings(cases.Lower(c.localeFor(opts)), vs)
		}
		values[leaf.ID()] = vs
	}

	fp := fingerprint(values)
	if c.cache == nil {
		return buildPlan(tree, values, fp), nil
	}
	plan, _, err := c.cache.GetOrCompute(cache.Key{Tree: tree.ID(), Fingerprint: fp}, func() (*Plan, error) {
		return buildPlan(tree, values, fp), nil
	})
	return plan, err
}

// scoped names the tree in configuration errors raised below the compiler.
func scoped(err error, tree *rule.Tree) error {
	var ce *rule.ConfigError
	if errors.As(err, &ce) && ce.Tree == "" {
		ce.Tree = tree.Name
	}
	return err
}

func (c *Composer) leafValues(leaf *rule.Leaf, lookup source.Lookup, opts Options) ([]any, error) {
	typ := leaf.ValueType()
	pattern := leaf.Pattern
	if pattern == "" && typ.Kind.Temporal() {
		pattern = opts.Pattern
	}
	locale := c.localeFor(opts)

	raws, present, err := c.resolver.Resolve(leaf, lookup, source.Options{
		TimeLayout: c.converter.Layout(typ, pattern),
	})
	if err != nil || !present {
		return nil, err
	}

	switch leaf.Case {
	case rule.CaseUpper:
		raws = fold(cases.Upper(locale), raws)
	case rule.CaseLower:
		raws = fold(cases.Lower(locale), raws)
	}

	policy := leaf.Policy.Or(opts.Policy).Or(c.policy)
	conv := convert.Options{
		Pattern:    pattern,
		IgnoreCase: leaf.Case == rule.CaseInsensitive,
		Locale:     locale,
	}

	switch leaf.Operator {
	case rule.EqualDay:
		return c.bounded(typ, []string{raws[0], raws[0]}, conv, policy)
	case rule.Between:
		if len(raws) != 2 {
			return nil, nil
		}
		return c.bounded(typ, raws, conv, policy)
	case rule.GreaterThanOrEqual, rule.LessThan:
		conv.Bound = convert.BoundStart
	case rule.GreaterThan, rule.LessThanOrEqual:
		conv.Bound = convert.BoundEnd
	}

	values, err := c.converter.ConvertAll(typ, raws, conv, policy)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	if !leaf.Operator.MultiValued() {
		values = values[:1]
	}
	return values, nil
}

// bounded converts a lower and an upper bound. Losing either makes the leaf absent.
func (c *Composer) bounded(typ convert.Type, raws []string, o convert.Options, policy convert.Policy) ([]any, error) {
	out := make([]any, 2)
	for i, bound := range []convert.Bound{convert.BoundStart, convert.BoundEnd} {
		o.Bound = bound
		v, err := c.converter.Convert(typ, raws[i], o)
		if err != nil {
			if policy.Absorbs(err) {
				return nil, nil
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *Composer) localeFor(opts Options) language.Tag {
	if opts.Locale != language.Und {
		return opts.Locale
	}
	return c.locale
}

// lowerStrings folds the string values of a case-insensitive leaf. The backend
// compares them with the lower-cased column.
func lowerStrings(caser cases.Caser, values []any) []any {
	for i, v := range values {
		if s, ok := v.(string); ok {
			values[i] = caser.String(s)
		}
	}
	return values
}

func fold(caser cases.Caser, raws []string) []string {
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = caser.String(raw)
	}
	return out
}

// Bind turns a plan into a backend predicate on the context's root, creating
// only the joins the plan uses plus, outside count queries, fetch joins.
func (c *Composer) Bind(plan *Plan, ctx *Context) (criteria.Predicate, bool, error) {
	reg, err := ctx.bind(plan.tree)
	if err != nil {
		return nil, false, err
	}

	if !ctx.opts.CountQuery {
		for _, j := range plan.tree.AllJoins() {
			if !j.Purpose.Has(criteria.Fetch) {
				continue
			}
			if _, err := reg.Register(j.Alias, criteria.Fetch); err != nil {
				return nil, false, err
			}
		}
	}

	if plan.root == nil {
		return nil, false, nil
	}
	p, err := c.bind(plan.root, ctx)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (c *Composer) bind(n node, ctx *Context) (criteria.Predicate, error) {
	switch n := n.(type) {
	case *leafNode:
		return c.predicate(n, ctx)
	case *notNode:
		p, err := c.bind(n.child, ctx)
		if err != nil {
			return nil, err
		}
		return ctx.backend.Not(p), nil
	case *groupNode:
		ps := make([]criteria.Predicate, 0, len(n.children))
		for _, child := range n.children {
			p, err := c.bind(child, ctx)
			if err != nil {
				return nil, err
			}
			ps = append(ps, p)
		}
		if n.and {
			return ctx.backend.And(ps...), nil
		}
		return ctx.backend.Or(ps...), nil
	}
	return nil, fmt.Errorf("unexpected plan node %T", n)
}

func (c *Composer) predicate(n *leafNode, ctx *Context) (criteria.Predicate, error) {
	leaf := n.leaf
	from, err := ctx.registry.From(leaf.Alias(), criteria.Filter)
	if err != nil {
		return nil, err
	}

	cond := criteria.Condition{
		Values:     n.values,
		IgnoreCase: leaf.Case == rule.CaseInsensitive,
	}
	switch leaf.Operator {
	case rule.Equal:
		cond.Op = criteria.Eq
	case rule.NotEqual:
		cond.Op = criteria.Ne
	case rule.Like:
		cond.Op = criteria.Like
	case rule.NotLike:
		cond.Op = criteria.NotLike
	case rule.StartingWith:
		cond.Op = criteria.StartsWith
	case rule.EndingWith:
		cond.Op = criteria.EndsWith
	case rule.In:
		cond.Op = criteria.In
	case rule.NotIn:
		cond.Op = criteria.NotIn
	case rule.Between, rule.EqualDay:
		cond.Op = criteria.Between
	case rule.GreaterThan:
		cond.Op = criteria.Gt
	case rule.GreaterThanOrEqual:
		cond.Op = criteria.Ge
	case rule.LessThan:
		cond.Op = criteria.Lt
	case rule.LessThanOrEqual:
		cond.Op = criteria.Le
	case rule.IsNull, rule.NotNull:
		cond.Op = flagged(leaf.Operator == rule.IsNull, n.values[0], criteria.IsNull, criteria.IsNotNull)
		cond.Values = nil
	case rule.IsEmpty, rule.NotEmpty:
		cond.Op = flagged(leaf.Operator == rule.IsEmpty, n.values[0], criteria.Empty, criteria.NotEmpty)
		cond.Values = nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", leaf.Operator)
	}
	return ctx.backend.Predicate(from, leaf.Attribute(), cond)
}

// flagged picks the positive form when the value agrees with the operator.
func flagged(positive bool, value any, yes, no criteria.Op) criteria.Op {
	if b, _ := value.(bool); b == positive {
		return yes
	}
	return no
}
