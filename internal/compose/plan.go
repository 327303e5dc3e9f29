package compose

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"filterspec/internal/rule"
)

// Plan is a rule tree pruned to the leaves that have values, with the values
// already converted. It holds no backend objects and can be bound to any
// number of resolution contexts.
type Plan struct {
	tree        *rule.Tree
	root        node
	fingerprint string
	aliases     []string
}

func (p *Plan) Tree() *rule.Tree { return p.tree }

// Present is false when every leaf was absent.
func (p *Plan) Present() bool { return p.root != nil }

func (p *Plan) Fingerprint() string { return p.fingerprint }

// Aliases lists the joins the filter reads from, in first-use order.
func (p *Plan) Aliases() []string { return p.aliases }

type node interface{}

type leafNode struct {
	leaf   *rule.Leaf
	values []any
}

type groupNode struct {
	and      bool
	children []node
}

type notNode struct {
	child node
}

// buildPlan prunes tree against the per-leaf values. A nil entry in values
// marks an absent leaf.
func buildPlan(tree *rule.Tree, values [][]any, fp string) *Plan {
	p := &Plan{tree: tree, fingerprint: fp}
	p.root = p.prune(tree.Root, values)
	return p
}

func (p *Plan) prune(n rule.Node, values [][]any) node {
	switch n := n.(type) {
	case *rule.Leaf:
		vs := values[n.ID()]
		if vs == nil {
			return nil
		}
		if alias := n.Alias(); alias != "" && !contains(p.aliases, alias) {
			p.aliases = append(p.aliases, alias)
		}
		return &leafNode{leaf: n, values: vs}
	case *rule.Composite:
		switch n.Kind {
		case rule.KindAnd:
			return group(true, p.pruneAll(n.Children, values))
		case rule.KindOr:
			return group(false, p.pruneAll(n.Children, values))
		case rule.KindNot:
			child := p.prune(n.Children[0], values)
			if child == nil {
				return nil
			}
			return &notNode{child: child}
		case rule.KindConjunction, rule.KindDisjunction:
			outer := n.Kind == rule.KindConjunction
			parts := make([]node, 0, len(n.Groups)+len(n.Children))
			for _, g := range n.Groups {
				parts = append(parts, group(!outer, p.pruneAll(g, values)))
			}
			parts = append(parts, p.pruneAll(n.Children, values)...)
			return group(outer, parts)
		}
	}
	return nil
}

func (p *Plan) pruneAll(nodes []rule.Node, values [][]any) []node {
	out := make([]node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, p.prune(n, values))
	}
	return out
}

// group drops absent children. No children is absent, one child stands alone.
func group(and bool, children []node) node {
	kept := children[:0]
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &groupNode{and: and, children: kept}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fingerprint encodes the typed values of every leaf. Equal typed values give
// equal fingerprints whatever their raw spelling was.
func fingerprint(values [][]any) string {
	var b strings.Builder
	for _, vs := range values {
		if vs == nil {
			b.WriteString("-;")
			continue
		}
		for i, v := range vs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonical(v))
		}
		b.WriteByte(';')
	}
	return b.String()
}

func canonical(v any) string {
	switch v := v.(type) {
	case time.Time:
		return "time=" + v.Format(time.RFC3339Nano)
	case uuid.UUID:
		return "uuid=" + v.String()
	case *apd.Decimal:
		return "decimal=" + v.Text('f')
	case string:
		return "string=" + strconv.Quote(v)
	}
	return fmt.Sprintf("%T=%s", v, strconv.Quote(fmt.Sprint(v)))
}
