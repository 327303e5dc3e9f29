// Package criteriatest provides a recording backend for tests. Predicates are
// rendered as readable strings.
package criteriatest

import (
	"fmt"
	"strings"

	"filterspec/internal/criteria"
)

type Root struct {
	Name     string
	Distinct bool
}

func (r *Root) QueryRoot() criteria.Root { return r }
func (r *Root) Entity() string           { return r.Name }

type Join struct {
	Parent   criteria.From
	Relation string
	Kind     criteria.JoinKind
	Purpose  criteria.Purpose

	root  *Root
	alias string
	many  bool
}

func (j *Join) QueryRoot() criteria.Root { return j.root }
func (j *Join) Alias() string            { return j.alias }
func (j *Join) ToMany() bool             { return j.many }

// Backend records every join it creates.
type Backend struct {
	// Many lists the relations that are to-many.
	Many       map[string]bool
	Joins      []*Join
	Promotions int
}

func (b *Backend) Join(parent criteria.From, relation, alias string, kind criteria.JoinKind, purpose criteria.Purpose) (criteria.Join, error) {
	root, ok := parent.QueryRoot().(*Root)
	if !ok {
		return nil, fmt.Errorf("unexpected root %T", parent.QueryRoot())
	}
	j := &Join{
		Parent:   parent,
		Relation: relation,
		Kind:     kind,
		Purpose:  purpose,
		root:     root,
		alias:    alias,
		many:     b.Many[relation],
	}
	b.Joins = append(b.Joins, j)
	return j, nil
}

func (b *Backend) Promote(j criteria.Join, purpose criteria.Purpose) error {
	fj, ok := j.(*Join)
	if !ok {
		return fmt.Errorf("unexpected join %T", j)
	}
	fj.Purpose = purpose
	b.Promotions++
	return nil
}

func (b *Backend) Predicate(from criteria.From, attribute string, cond criteria.Condition) (criteria.Predicate, error) {
	name := attribute
	if j, ok := from.(*Join); ok {
		name = j.alias + "." + attribute
	}
	values := make([]string, len(cond.Values))
	for i, v := range cond.Values {
		values[i] = fmt.Sprint(v)
	}
	s := fmt.Sprintf("%s %s %s", name, cond.Op, strings.Join(values, ","))
	if cond.IgnoreCase {
		s += " ci"
	}
	return strings.TrimSpace(s), nil
}

func (b *Backend) And(ps ...criteria.Predicate) criteria.Predicate { return b.join(" AND ", ps) }
func (b *Backend) Or(ps ...criteria.Predicate) criteria.Predicate  { return b.join(" OR ", ps) }

func (b *Backend) Not(p criteria.Predicate) criteria.Predicate {
	return fmt.Sprintf("NOT (%v)", p)
}

func (b *Backend) Distinct(root criteria.Root) error {
	r, ok := root.(*Root)
	if !ok {
		return fmt.Errorf("unexpected root %T", root)
	}
	r.Distinct = true
	return nil
}

func (b *Backend) join(sep string, ps []criteria.Predicate) criteria.Predicate {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprint(p)
	}
	return "(" + strings.Join(parts, sep) + ")"
}
