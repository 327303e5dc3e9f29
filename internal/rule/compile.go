package rule

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"filterspec/internal/convert"
	"filterspec/internal/criteria"
)

// ConfigError reports a broken filter declaration.
type ConfigError struct {
	Tree     string
	Location string
	Message  string
}

func (e *ConfigError) Error() string {
	if e.Tree == "" {
		return fmt.Sprintf("filter condition %s: %s", e.Location, e.Message)
	}
	if e.Location == "" {
		return fmt.Sprintf("filter %q: %s", e.Tree, e.Message)
	}
	return fmt.Sprintf("filter %q at %s: %s", e.Tree, e.Location, e.Message)
}

// Schema answers type questions about entities during compilation.
type Schema interface {
	AttributeType(entity, attribute string) (convert.Type, error)
	// RelationTarget returns the entity a relation of entity points to.
	RelationTarget(entity, relation string) (string, error)
}

// Evaluator turns a literal such as "#{expr}" or "${property}" into a value.
// Plain literals are returned unchanged.
type Evaluator interface {
	Literal(raw string) (any, error)
}

type Options struct {
	// Schema resolves attribute types. Without it undeclared types are strings.
	Schema    Schema
	Evaluator Evaluator
}

var treeIDs atomic.Uint64

// Compile validates a declaration and returns an immutable compiled copy.
// Every problem found is reported, aggregated in one error.
func Compile(t *Tree, opts Options) (*Tree, error) {
	c := &compiler{
		opts: opts,
		out: &Tree{
			Name:   t.Name,
			Entity: t.Entity,
			id:     treeIDs.Add(1),
			joins:  make(map[string]*Join),
		},
	}

	scope := make(map[string]*Join)
	for i, decl := range t.Joins {
		if j := c.join(decl, scope, fmt.Sprintf("joins[%d]", i)); j != nil {
			c.out.Joins = append(c.out.Joins, j)
		}
	}
	if t.Root == nil {
		c.fail("root", "tree has no conditions")
	} else {
		c.out.Root = c.node(t.Root, scope, "root")
	}

	if err := c.errs.ErrorOrNil(); err != nil {
		return nil, errors.Wrapf(err, "compile filter %q", t.Name)
	}
	c.out.compiled = true
	return c.out, nil
}

// MustCompile is Compile for trees declared in code.
func MustCompile(t *Tree, opts Options) *Tree {
	out, err := Compile(t, opts)
	if err != nil {
		panic(err)
	}
	return out
}

type compiler struct {
	opts Options
	out  *Tree
	errs *multierror.Error
}

func (c *compiler) fail(loc, format string, args ...any) {
	c.errs = multierror.Append(c.errs, &ConfigError{
		Tree:     c.out.Name,
		Location: loc,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (c *compiler) join(decl *Join, scope map[string]*Join, loc string) *Join {
	if decl == nil {
		c.fail(loc, "missing join")
		return nil
	}
	j := *decl
	if j.Kind == "" {
		j.Kind = criteria.Inner
	}
	if j.Purpose == 0 {
		j.Purpose = criteria.Filter
	}

	ok := true
	if j.Alias == "" {
		c.fail(loc, "join %q has no alias", j.Path)
		ok = false
	} else if _, dup := c.out.joins[j.Alias]; dup {
		c.fail(loc, "alias %q is declared more than once", j.Alias)
		ok = false
	}
	if _, err := criteria.ParseJoinKind(string(j.Kind)); err != nil {
		c.fail(loc, "%v", err)
	}
	if j.Purpose > criteria.Both {
		c.fail(loc, "unknown join purpose %d", j.Purpose)
	}
	switch j.Distinct {
	case DistinctAuto, DistinctAlways, DistinctNever:
	default:
		c.fail(loc, "unknown distinct mode %q", j.Distinct)
	}

	parts := strings.Split(j.Path, ".")
	switch {
	case len(parts) == 1 && parts[0] != "":
		j.relation = parts[0]
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		j.parent, j.relation = parts[0], parts[1]
	default:
		c.fail(loc, "cannot parse join path %q", j.Path)
		return nil
	}

	entity := c.out.Entity
	if j.parent != "" {
		parent, visible := scope[j.parent]
		if !visible {
			c.fail(loc, "join %q starts from undeclared alias %q", j.Alias, j.parent)
			return nil
		}
		entity = parent.entity
	}
	if c.opts.Schema != nil && entity != "" {
		target, err := c.opts.Schema.RelationTarget(entity, j.relation)
		if err != nil {
			c.fail(loc, "join %q: %v", j.Alias, err)
		}
		j.entity = target
	}

	if !ok {
		return nil
	}
	out := &j
	scope[j.Alias] = out
	c.out.joins[j.Alias] = out
	c.out.ordered = append(c.out.ordered, out)
	return out
}

func (c *compiler) node(n Node, scope map[string]*Join, loc string) Node {
	switch n := n.(type) {
	case *Leaf:
		if n == nil {
			break
		}
		return c.leaf(n, scope, loc)
	case *Composite:
		if n == nil {
			break
		}
		return c.composite(n, scope, loc)
	case nil:
	default:
		c.fail(loc, "unsupported node %T", n)
		return nil
	}
	c.fail(loc, "missing node")
	return nil
}

func (c *compiler) composite(n *Composite, scope map[string]*Join, loc string) Node {
	out := &Composite{Kind: n.Kind}

	inner := make(map[string]*Join, len(scope)+len(n.Joins))
	for alias, j := range scope {
		inner[alias] = j
	}
	for i, decl := range n.Joins {
		if j := c.join(decl, inner, fmt.Sprintf("%s.joins[%d]", loc, i)); j != nil {
			out.Joins = append(out.Joins, j)
		}
	}

	switch n.Kind {
	case KindAnd, KindOr:
		if len(n.Children) == 0 {
			c.fail(loc, "%s has no children", n.Kind)
		}
		if len(n.Groups) > 0 {
			c.fail(loc, "%s cannot have groups", n.Kind)
		}
	case KindNot:
		if len(n.Children) != 1 || len(n.Groups) > 0 {
			c.fail(loc, "not takes exactly one child")
		}
	case KindConjunction, KindDisjunction:
		if len(n.Groups) == 0 {
			c.fail(loc, "%s has no groups", n.Kind)
		}
	default:
		c.fail(loc, "unknown composite kind %q", n.Kind)
	}

	for i, child := range n.Children {
		if compiled := c.node(child, inner, fmt.Sprintf("%s.%s[%d]", loc, n.Kind, i)); compiled != nil {
			out.Children = append(out.Children, compiled)
		}
	}
	for g, group := range n.Groups {
		if len(group) == 0 {
			c.fail(loc, "%s group %d is empty", n.Kind, g)
			continue
		}
		compiled := make([]Node, 0, len(group))
		for i, child := range group {
			if cn := c.node(child, inner, fmt.Sprintf("%s.groups[%d][%d]", loc, g, i)); cn != nil {
				compiled = append(compiled, cn)
			}
		}
		out.Groups = append(out.Groups, compiled)
	}
	return out
}

func (c *compiler) leaf(n *Leaf, scope map[string]*Join, loc string) Node {
	out := *n
	out.Sources = append([]Source(nil), n.Sources...)
	out.id = len(c.out.leaves)
	c.out.leaves = append(c.out.leaves, &out)
	loc = fmt.Sprintf("%s(%s)", loc, n.Path)

	if !n.Operator.Valid() {
		c.fail(loc, "unknown operator %q", n.Operator)
	}

	alias, attr, ok := splitPath(n.Path)
	if !ok {
		c.fail(loc, "invalid attribute path %q", n.Path)
	}
	entity := c.out.Entity
	if alias != "" {
		j, visible := scope[alias]
		if !visible {
			c.fail(loc, "alias %q is not declared at this node or an ancestor", alias)
			// the attribute cannot be checked without the joined entity
			ok = false
		} else {
			entity = j.entity
		}
	}
	out.alias, out.attribute = alias, attr

	for _, src := range n.Sources {
		switch src.Kind {
		case SourceParam, SourcePath, SourceHeader:
			if src.Key == "" {
				c.fail(loc, "%s source has no key", src.Kind)
			}
		case SourceBody:
			if !validBodyKey(src.Key) {
				c.fail(loc, "body key %q is not a dotted path", src.Key)
			}
		default:
			c.fail(loc, "unknown source kind %q", src.Kind)
		}
	}
	if len(n.Sources) == 0 && n.Constant == nil && n.Default == nil {
		c.fail(loc, "no value source, constant or default")
	}

	switch n.Case {
	case CaseSensitive, CaseInsensitive, CaseUpper, CaseLower:
	default:
		c.fail(loc, "unknown case strategy %q", n.Case)
	}
	if _, err := convert.ParsePolicy(string(n.Policy)); err != nil {
		c.fail(loc, "%v", err)
	}

	if ok {
		out.typ = c.leafType(n, entity, attr, loc)
	}

	if n.Constant != nil {
		out.constant = *n.Constant
		if c.opts.Evaluator != nil {
			v, err := c.opts.Evaluator.Literal(*n.Constant)
			if err != nil {
				c.fail(loc, "constant %q: %v", *n.Constant, err)
			}
			out.constant = v
		}
	}
	return &out
}

func (c *compiler) leafType(n *Leaf, entity, attr, loc string) convert.Type {
	schema := c.opts.Schema
	known := schema != nil && entity != ""

	if n.Operator.OnRelation() {
		if known {
			if _, err := schema.RelationTarget(entity, attr); err != nil {
				c.fail(loc, "%v", err)
			}
		}
		return convert.Bool
	}

	t := convert.String
	if known {
		found, err := schema.AttributeType(entity, attr)
		if err != nil {
			c.fail(loc, "%v", err)
		}
		t = found
	}
	switch {
	case n.Operator.Flag():
		return convert.Bool
	case n.Type != nil:
		return *n.Type
	case n.Operator.Textual():
		return convert.String
	}
	return t
}

func splitPath(path string) (alias, attr string, ok bool) {
	i := strings.IndexByte(path, '.')
	if i < 0 {
		return "", path, path != ""
	}
	alias, attr = path[:i], path[i+1:]
	return alias, attr, alias != "" && attr != ""
}

func validBodyKey(key string) bool {
	if key == "" {
		return false
	}
	for _, seg := range strings.Split(key, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// Merge combines two declarations: joins are concatenated and the roots are
// AND-ed. The result must be compiled.
func Merge(a, b *Tree) (*Tree, error) {
	switch {
	case a == nil && b == nil:
		return nil, errors.New("merge of two nil trees")
	case a == nil:
		a, b = b, nil
	}
	out := &Tree{Name: a.Name, Entity: a.Entity, Root: a.Root}
	out.Joins = append(out.Joins, a.Joins...)
	if b == nil {
		return out, nil
	}

	if a.Entity != "" && b.Entity != "" && a.Entity != b.Entity {
		return nil, &ConfigError{
			Tree:    a.Name,
			Message: fmt.Sprintf("cannot merge filter on %q with filter on %q", a.Entity, b.Entity),
		}
	}
	if out.Entity == "" {
		out.Entity = b.Entity
	}
	if b.Name != "" && b.Name != a.Name {
		out.Name = a.Name + "+" + b.Name
	}
	out.Joins = append(out.Joins, b.Joins...)
	switch {
	case a.Root == nil:
		out.Root = b.Root
	case b.Root != nil:
		out.Root = And(a.Root, b.Root)
	}
	return out, nil
}
