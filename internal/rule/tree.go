package rule

import (
	"filterspec/internal/convert"
	"filterspec/internal/criteria"
)

// Node is a Leaf or a Composite.
type Node interface {
	node()
}

// SourceKind is where a leaf value may come from.
type SourceKind string

const (
	SourceParam  SourceKind = "param"
	SourcePath   SourceKind = "path"
	SourceHeader SourceKind = "header"
	SourceBody   SourceKind = "body"
)

// Source is one candidate location of a leaf value.
type Source struct {
	Kind SourceKind
	Key  string
}

func Param(key string) Source   { return Source{Kind: SourceParam, Key: key} }
func PathVar(key string) Source { return Source{Kind: SourcePath, Key: key} }
func Header(key string) Source  { return Source{Kind: SourceHeader, Key: key} }
func Body(key string) Source    { return Source{Kind: SourceBody, Key: key} }

// Case controls how string values are compared.
type Case string

const (
	CaseSensitive   Case = ""
	CaseInsensitive Case = "insensitive"
	CaseUpper       Case = "upper"
	CaseLower       Case = "lower"
)

// DistinctMode overrides the distinct decision of a join.
type DistinctMode string

const (
	DistinctAuto   DistinctMode = ""
	DistinctAlways DistinctMode = "always"
	DistinctNever  DistinctMode = "never"
)

// Leaf is a single condition on one attribute.
type Leaf struct {
	// Path is "attr" on the root or "alias.attr" on a declared join.
	Path     string
	Operator Operator
	Sources  []Source
	// Constant, when set, is used instead of any request value.
	Constant *string
	// Default is used when no source yields a value.
	Default *string
	Case    Case
	// Pattern is a Go time layout for temporal attributes.
	Pattern string
	Policy  convert.Policy
	// Separator splits entries of multi-valued leaves. Zero disables splitting.
	Separator rune
	// Type overrides the attribute type looked up in the schema.
	Type *convert.Type

	id        int
	alias     string
	attribute string
	typ       convert.Type
	constant  any
}

func (*Leaf) node() {}

// ID is the position of the leaf in its compiled tree.
func (l *Leaf) ID() int { return l.id }

// Alias is the join alias the leaf reads from, empty for the root.
func (l *Leaf) Alias() string { return l.alias }

// Attribute is the attribute (or relation, for is_empty) on the alias.
func (l *Leaf) Attribute() string { return l.attribute }

// ValueType is the type raw values convert to.
func (l *Leaf) ValueType() convert.Type { return l.typ }

// ConstantValue returns the evaluated constant.
func (l *Leaf) ConstantValue() (any, bool) {
	return l.constant, l.Constant != nil
}

// Kind of a composite node.
type Kind string

const (
	KindAnd Kind = "and"
	KindOr  Kind = "or"
	KindNot Kind = "not"
	// KindConjunction is an AND of OR-groups plus AND-ed extras.
	KindConjunction Kind = "conjunction"
	// KindDisjunction is an OR of AND-groups plus OR-ed extras.
	KindDisjunction Kind = "disjunction"
)

// Composite combines child nodes.
type Composite struct {
	Kind     Kind
	Children []Node
	// Groups are the inner groups of conjunctions and disjunctions.
	Groups [][]Node
	// Joins are visible to this node and its descendants.
	Joins []*Join
}

func (*Composite) node() {}

// Join declares a relationship join usable through its alias.
type Join struct {
	// Path is "relation" from the root or "alias.relation" from another join.
	Path     string
	Alias    string
	Kind     criteria.JoinKind
	Purpose  criteria.Purpose
	Distinct DistinctMode

	parent   string
	relation string
	entity   string
}

// Parent is the alias the join starts from, empty for the root.
func (j *Join) Parent() string { return j.parent }

// Relation is the relationship name on the parent.
func (j *Join) Relation() string { return j.relation }

// Entity is the target entity, empty without a schema.
func (j *Join) Entity() string { return j.entity }

// Tree is a named filter over one entity.
type Tree struct {
	Name   string
	Entity string
	Root   Node
	// Joins are declared at tree level and visible everywhere.
	Joins []*Join

	id       uint64
	compiled bool
	joins    map[string]*Join
	ordered  []*Join
	leaves   []*Leaf
}

// ID identifies a compiled tree. Two compilations never share an ID.
func (t *Tree) ID() uint64 { return t.id }

func (t *Tree) Compiled() bool { return t.compiled }

// Join returns the compiled join declared under alias.
func (t *Tree) Join(alias string) (*Join, bool) {
	j, ok := t.joins[alias]
	return j, ok
}

// AllJoins returns every join in declaration order.
func (t *Tree) AllJoins() []*Join { return t.ordered }

// Leaves returns the leaves in ID order.
func (t *Tree) Leaves() []*Leaf { return t.leaves }
