// Package criteria defines the contract between the filter engine and a query
// building backend. The engine never looks inside the values it gets back.
package criteria

import (
	"fmt"
	"strings"
)

// JoinKind is the SQL-style join type of a relationship join.
type JoinKind string

const (
	Inner JoinKind = "inner"
	Left  JoinKind = "left"
	Right JoinKind = "right"
)

// ParseJoinKind parses a join kind name. Empty means Inner.
func ParseJoinKind(s string) (JoinKind, error) {
	switch k := JoinKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return Inner, nil
	case Inner, Left, Right:
		return k, nil
	}
	return "", fmt.Errorf("unknown join kind %q", s)
}

// Purpose says why a join exists. Purposes combine with Merge.
type Purpose uint8

const (
	Filter Purpose = 1 << iota
	Fetch
	Both = Filter | Fetch
)

func ParsePurpose(s string) (Purpose, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "filter":
		return Filter, nil
	case "fetch":
		return Fetch, nil
	case "both":
		return Both, nil
	}
	return 0, fmt.Errorf("unknown join purpose %q", s)
}

func (p Purpose) Has(other Purpose) bool { return p&other == other }

func (p Purpose) Merge(other Purpose) Purpose { return p | other }

func (p Purpose) String() string {
	switch p {
	case Filter:
		return "filter"
	case Fetch:
		return "fetch"
	case Both:
		return "both"
	}
	return fmt.Sprintf("purpose(%d)", uint8(p))
}

// Op is a primitive comparison the backend knows how to express.
type Op string

const (
	Eq         Op = "eq"
	Ne         Op = "ne"
	Lt         Op = "lt"
	Le         Op = "le"
	Gt         Op = "gt"
	Ge         Op = "ge"
	Like       Op = "like"
	NotLike    Op = "not_like"
	StartsWith Op = "starts_with"
	EndsWith   Op = "ends_with"
	In         Op = "in"
	NotIn      Op = "not_in"
	Between    Op = "between"
	IsNull     Op = "is_null"
	IsNotNull  Op = "is_not_null"
	// Empty and NotEmpty test a to-many relationship for members.
	Empty    Op = "empty"
	NotEmpty Op = "not_empty"
)

// Condition is one comparison on an attribute.
type Condition struct {
	Op     Op
	Values []any
	// IgnoreCase asks the backend to compare the lower-cased attribute. String
	// values arrive already lower-cased with the request locale.
	IgnoreCase bool
}

// From is anything attributes can be read from: a root or a join.
type From interface {
	// QueryRoot returns the root the From belongs to.
	QueryRoot() Root
}

// Root is the backend's per-query root. Implementations must be pointers:
// roots are compared by identity.
type Root interface {
	From
	Entity() string
}

// Join is a backend relationship join.
type Join interface {
	From
	Alias() string
	// ToMany reports whether the join can multiply root rows.
	ToMany() bool
}

// Predicate is a backend boolean expression. The engine treats it as opaque.
type Predicate any

// Backend builds joins and predicates for one query language.
type Backend interface {
	// Join creates a join of relation from parent under alias.
	Join(parent From, relation, alias string, kind JoinKind, purpose Purpose) (Join, error)
	// Promote widens the purpose of an existing join, for example to fetch
	// the columns of a join that was created for filtering.
	Promote(j Join, purpose Purpose) error
	// Predicate compares the attribute of from with cond.
	Predicate(from From, attribute string, cond Condition) (Predicate, error)
	And(ps ...Predicate) Predicate
	Or(ps ...Predicate) Predicate
	Not(p Predicate) Predicate
	// Distinct marks the root's query as returning distinct rows.
	Distinct(root Root) error
}
