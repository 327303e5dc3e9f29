package compose

import (
	"fmt"

	"golang.org/x/text/language"

	"filterspec/internal/convert"
	"filterspec/internal/criteria"
	"filterspec/internal/join"
	"filterspec/internal/rule"
	"filterspec/internal/source"
)

// Options are per-request overrides.
type Options struct {
	// Pattern replaces the default layout of temporal leaves without their own.
	Pattern string
	// Policy replaces the composer's mismatch policy for leaves without their own.
	Policy convert.Policy
	// Locale replaces the composer's locale for case folding.
	Locale language.Tag
	// CountQuery skips fetch joins.
	CountQuery bool
}

// Context carries the state of one resolution against one backend root.
// It belongs to a single request.
type Context struct {
	backend criteria.Backend
	root    criteria.Root
	lookup  source.Lookup
	opts    Options

	registry *join.Registry
}

// NewContext prepares a resolution against root. Roots are compared by
// pointer identity, so the main query and its count query need one context each.
func NewContext(backend criteria.Backend, root criteria.Root, lookup source.Lookup, opts Options) *Context {
	return &Context{backend: backend, root: root, lookup: lookup, opts: opts}
}

func (c *Context) bind(tree *rule.Tree) (*join.Registry, error) {
	if c.registry == nil {
		reg, err := join.New(c.backend, c.root, tree)
		if err != nil {
			return nil, err
		}
		c.registry = reg
		return reg, nil
	}
	if c.registry.Tree() != tree {
		return nil, fmt.Errorf("resolution context is bound to filter %q", c.registry.Tree().Name)
	}
	return c.registry, nil
}

// Distinct reports whether a used join requires distinct rows.
func (c *Context) Distinct() bool {
	return c.registry != nil && c.registry.Distinct()
}

// Joins returns the joins created so far, in creation order.
func (c *Context) Joins() []criteria.Join {
	if c.registry == nil {
		return nil
	}
	return c.registry.Joins()
}

func (c *Context) Root() criteria.Root { return c.root }

func (c *Context) Options() Options { return c.opts }
