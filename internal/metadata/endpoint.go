package metadata

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"filterspec/internal/convert"
	"filterspec/internal/criteria"
	"filterspec/internal/rule"
)

// Endpoint is a list endpoint filtered by a declared rule tree.
type Endpoint struct {
	Name   string
	Route  string
	Entity string
	// Filter is the declaration; it is compiled at startup.
	Filter  *rule.Tree
	Sort    string
	PerPage int
}

type EndpointDefinition struct {
	Name    string           `mapstructure:"name"`
	Route   string           `mapstructure:"route"`
	Entity  string           `mapstructure:"entity"`
	Sort    string           `mapstructure:"sort"`
	PerPage int              `mapstructure:"per_page"`
	Joins   []JoinDefinition `mapstructure:"joins"`
	Filter  *NodeDefinition  `mapstructure:"filter"`
}

type JoinDefinition struct {
	Path     string `mapstructure:"path"`
	Alias    string `mapstructure:"alias"`
	Kind     string `mapstructure:"kind"`
	Purpose  string `mapstructure:"purpose"`
	Distinct string `mapstructure:"distinct"`
}

// NodeDefinition is one node of a filter. Exactly one of the composite keys
// is set, or the leaf keys are.
type NodeDefinition struct {
	And         []NodeDefinition  `mapstructure:"and"`
	Or          []NodeDefinition  `mapstructure:"or"`
	Not         *NodeDefinition   `mapstructure:"not"`
	Conjunction *GroupsDefinition `mapstructure:"conjunction"`
	Disjunction *GroupsDefinition `mapstructure:"disjunction"`
	Joins       []JoinDefinition  `mapstructure:"joins"`

	Path           string   `mapstructure:"path"`
	Op             string   `mapstructure:"op"`
	Params         []string `mapstructure:"params"`
	PathVars       []string `mapstructure:"path_vars"`
	Headers        []string `mapstructure:"headers"`
	Body           []string `mapstructure:"body"`
	Constant       *string  `mapstructure:"constant"`
	Default        *string  `mapstructure:"default"`
	Case           string   `mapstructure:"case"`
	Pattern        string   `mapstructure:"pattern"`
	OnTypeMismatch string   `mapstructure:"on_type_mismatch"`
	Separator      string   `mapstructure:"separator"`
	Type           string   `mapstructure:"type"`
	Enum           []string `mapstructure:"enum"`
}

type GroupsDefinition struct {
	Groups [][]NodeDefinition `mapstructure:"groups"`
	Extra  []NodeDefinition   `mapstructure:"extra"`
}

// Endpoint builds the endpoint and its filter declaration.
func (d EndpointDefinition) Endpoint() (*Endpoint, error) {
	joins, err := buildJoins(d.Joins)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", d.Name, err)
	}
	var root rule.Node
	if d.Filter != nil {
		if root, err = d.Filter.Node(); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", d.Name, err)
		}
	}
	ep := &Endpoint{
		Name:    d.Name,
		Route:   d.Route,
		Entity:  d.Entity,
		Sort:    d.Sort,
		PerPage: d.PerPage,
	}
	if root != nil {
		ep.Filter = rule.New(d.Name, d.Entity, root, joins...)
	}
	return ep, nil
}

// Node converts the definition to a rule node.
func (n *NodeDefinition) Node() (rule.Node, error) {
	set := 0
	for _, present := range []bool{
		n.And != nil, n.Or != nil, n.Not != nil, n.Conjunction != nil, n.Disjunction != nil,
		n.Path != "" || n.Op != "",
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("node must be exactly one of and, or, not, conjunction, disjunction or a condition")
	}

	if n.Path != "" || n.Op != "" {
		if len(n.Joins) > 0 {
			return nil, fmt.Errorf("condition %s cannot declare joins", n.Path)
		}
		return n.leaf()
	}

	joins, err := buildJoins(n.Joins)
	if err != nil {
		return nil, err
	}
	var c *rule.Composite
	switch {
	case n.And != nil:
		children, err := nodes(n.And)
		if err != nil {
			return nil, err
		}
		c = rule.And(children...)
	case n.Or != nil:
		children, err := nodes(n.Or)
		if err != nil {
			return nil, err
		}
		c = rule.Or(children...)
	case n.Not != nil:
		child, err := n.Not.Node()
		if err != nil {
			return nil, err
		}
		c = rule.Not(child)
	case n.Conjunction != nil:
		groups, extra, err := n.Conjunction.build()
		if err != nil {
			return nil, err
		}
		c = rule.Conjunction(groups, extra...)
	default:
		groups, extra, err := n.Disjunction.build()
		if err != nil {
			return nil, err
		}
		c = rule.Disjunction(groups, extra...)
	}
	return c.WithJoins(joins...), nil
}

func (n *NodeDefinition) leaf() (rule.Node, error) {
	l := rule.Cond(n.Path, rule.Operator(strings.ToLower(n.Op)))
	for _, k := range n.PathVars {
		l.Sources = append(l.Sources, rule.PathVar(k))
	}
	for _, k := range n.Headers {
		l.Sources = append(l.Sources, rule.Header(k))
	}
	for _, k := range n.Body {
		l.Sources = append(l.Sources, rule.Body(k))
	}
	for _, k := range n.Params {
		l.Sources = append(l.Sources, rule.Param(k))
	}
	l.Constant = n.Constant
	l.Default = n.Default
	l.Case = rule.Case(strings.ToLower(n.Case))
	if l.Case == "sensitive" {
		l.Case = rule.CaseSensitive
	}
	l.Pattern = n.Pattern
	l.Policy = convert.Policy(strings.ToLower(n.OnTypeMismatch))

	if n.Separator != "" {
		if utf8.RuneCountInString(n.Separator) != 1 {
			return nil, fmt.Errorf("condition %s: separator %q must be one character", n.Path, n.Separator)
		}
		l.Separator, _ = utf8.DecodeRuneInString(n.Separator)
	}
	if n.Type != "" {
		t := convert.ParseType(n.Type)
		if t.Kind == convert.KindEnum {
			t.Enum = n.Enum
		}
		l.Type = &t
	} else if len(n.Enum) > 0 {
		t := convert.Enum(n.Enum...)
		l.Type = &t
	}
	return l, nil
}

func (g *GroupsDefinition) build() ([][]rule.Node, []rule.Node, error) {
	groups := make([][]rule.Node, 0, len(g.Groups))
	for _, defs := range g.Groups {
		group, err := nodes(defs)
		if err != nil {
			return nil, nil, err
		}
		groups = append(groups, group)
	}
	extra, err := nodes(g.Extra)
	if err != nil {
		return nil, nil, err
	}
	return groups, extra, nil
}

func nodes(defs []NodeDefinition) ([]rule.Node, error) {
	out := make([]rule.Node, 0, len(defs))
	for i := range defs {
		n, err := defs[i].Node()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func buildJoins(defs []JoinDefinition) ([]*rule.Join, error) {
	joins := make([]*rule.Join, 0, len(defs))
	for _, d := range defs {
		kind, err := criteria.ParseJoinKind(d.Kind)
		if err != nil {
			return nil, err
		}
		purpose, err := criteria.ParsePurpose(d.Purpose)
		if err != nil {
			return nil, err
		}
		joins = append(joins, rule.NewJoin(d.Path, d.Alias).
			WithKind(kind).
			WithPurpose(purpose).
			WithDistinct(distinctMode(d.Distinct)))
	}
	return joins, nil
}

func distinctMode(s string) rule.DistinctMode {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "auto" {
		return rule.DistinctAuto
	}
	return rule.DistinctMode(s)
}
