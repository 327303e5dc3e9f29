package rule

import (
	"filterspec/internal/convert"
	"filterspec/internal/criteria"
)

// New declares a tree. It must be compiled before use.
func New(name, entity string, root Node, joins ...*Join) *Tree {
	return &Tree{Name: name, Entity: entity, Root: root, Joins: joins}
}

func And(children ...Node) *Composite {
	return &Composite{Kind: KindAnd, Children: children}
}

func Or(children ...Node) *Composite {
	return &Composite{Kind: KindOr, Children: children}
}

func Not(child Node) *Composite {
	return &Composite{Kind: KindNot, Children: []Node{child}}
}

// Conjunction builds AND(OR(group...)..., extras...).
func Conjunction(groups [][]Node, extras ...Node) *Composite {
	return &Composite{Kind: KindConjunction, Groups: groups, Children: extras}
}

// Disjunction builds OR(AND(group...)..., extras...).
func Disjunction(groups [][]Node, extras ...Node) *Composite {
	return &Composite{Kind: KindDisjunction, Groups: groups, Children: extras}
}

// Group is shorthand for one group of a conjunction or disjunction.
func Group(nodes ...Node) []Node { return nodes }

// WithJoins attaches join declarations to the node.
func (c *Composite) WithJoins(joins ...*Join) *Composite {
	c.Joins = append(c.Joins, joins...)
	return c
}

// Cond declares a leaf.
func Cond(path string, op Operator, sources ...Source) *Leaf {
	return &Leaf{Path: path, Operator: op, Sources: sources}
}

func (l *Leaf) WithConstant(v string) *Leaf {
	l.Constant = &v
	return l
}

func (l *Leaf) WithDefault(v string) *Leaf {
	l.Default = &v
	return l
}

func (l *Leaf) WithCase(c Case) *Leaf {
	l.Case = c
	return l
}

func (l *Leaf) WithPattern(layout string) *Leaf {
	l.Pattern = layout
	return l
}

func (l *Leaf) WithPolicy(p convert.Policy) *Leaf {
	l.Policy = p
	return l
}

func (l *Leaf) WithSeparator(sep rune) *Leaf {
	l.Separator = sep
	return l
}

func (l *Leaf) WithType(t convert.Type) *Leaf {
	l.Type = &t
	return l
}

// NewJoin declares an inner filter join.
func NewJoin(path, alias string) *Join {
	return &Join{Path: path, Alias: alias, Kind: criteria.Inner, Purpose: criteria.Filter}
}

func (j *Join) WithKind(k criteria.JoinKind) *Join {
	j.Kind = k
	return j
}

func (j *Join) WithPurpose(p criteria.Purpose) *Join {
	j.Purpose = p
	return j
}

func (j *Join) WithDistinct(m DistinctMode) *Join {
	j.Distinct = m
	return j
}
