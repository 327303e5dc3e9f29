// Package join de-duplicates relationship joins within one filter resolution.
package join

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"filterspec/internal/criteria"
	"filterspec/internal/rule"
)

var (
	// ErrRootIdentity is returned for roots that have no pointer identity.
	ErrRootIdentity = errors.New("query root must be a non-nil pointer")
	// ErrForeignRoot is returned when a join belongs to another root.
	ErrForeignRoot = errors.New("join belongs to a different query root")
)

// key identifies a join within the registry's root.
type key struct {
	path  string
	alias string
}

type entry struct {
	join    criteria.Join
	purpose criteria.Purpose
}

// Registry hands out one backend join per alias for a single root. It is
// owned by one request and is not safe for concurrent use.
type Registry struct {
	backend criteria.Backend
	root    criteria.Root
	tree    *rule.Tree

	joins    map[key]*entry
	order    []criteria.Join
	distinct bool
}

// New binds a registry to root. The tree supplies the join declarations.
func New(backend criteria.Backend, root criteria.Root, tree *rule.Tree) (*Registry, error) {
	if err := checkIdentity(root); err != nil {
		return nil, err
	}
	return &Registry{
		backend: backend,
		root:    root,
		tree:    tree,
		joins:   make(map[key]*entry),
	}, nil
}

// checkIdentity accepts only non-nil pointer roots. Interface values holding
// pointers compare by address, so roots that are structurally equal but live
// at different addresses stay distinct.
func checkIdentity(root criteria.Root) error {
	if root == nil {
		return ErrRootIdentity
	}
	v := reflect.ValueOf(root)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return errors.Wrapf(ErrRootIdentity, "got %T", root)
	}
	return nil
}

func (r *Registry) Root() criteria.Root { return r.root }

func (r *Registry) Tree() *rule.Tree { return r.tree }

// From returns the root for an empty alias and the registered join otherwise.
func (r *Registry) From(alias string, purpose criteria.Purpose) (criteria.From, error) {
	if alias == "" {
		return r.root, nil
	}
	return r.Register(alias, purpose)
}

// Register returns the join for alias, creating it on first use. A repeated
// registration with a new purpose promotes the existing join.
func (r *Registry) Register(alias string, purpose criteria.Purpose) (criteria.Join, error) {
	decl, ok := r.tree.Join(alias)
	if !ok {
		return nil, fmt.Errorf("alias %q is not declared in filter %q", alias, r.tree.Name)
	}
	k := key{path: decl.Path, alias: alias}

	if e, ok := r.joins[k]; ok {
		if !e.purpose.Has(purpose) {
			merged := e.purpose.Merge(purpose)
			if err := r.backend.Promote(e.join, merged); err != nil {
				return nil, errors.Wrapf(err, "promote join %q", alias)
			}
			e.purpose = merged
		}
		return e.join, nil
	}

	var parent criteria.From = r.root
	if decl.Parent() != "" {
		p, err := r.Register(decl.Parent(), criteria.Filter)
		if err != nil {
			return nil, err
		}
		parent = p
	}

	j, err := r.backend.Join(parent, decl.Relation(), alias, decl.Kind, purpose)
	if err != nil {
		return nil, errors.Wrapf(err, "join %q", alias)
	}
	if err := r.owns(j); err != nil {
		return nil, err
	}

	r.joins[k] = &entry{join: j, purpose: purpose}
	r.order = append(r.order, j)
	switch decl.Distinct {
	case rule.DistinctAlways:
		r.distinct = true
	case rule.DistinctAuto:
		if j.ToMany() {
			r.distinct = true
		}
	}
	return j, nil
}

// Owns fails with ErrForeignRoot when from was built on another root.
func (r *Registry) Owns(from criteria.From) error {
	return r.owns(from)
}

func (r *Registry) owns(from criteria.From) error {
	root := from.QueryRoot()
	if err := checkIdentity(root); err != nil {
		return err
	}
	if root != r.root {
		return ErrForeignRoot
	}
	return nil
}

// Distinct reports whether a used join requires distinct results.
func (r *Registry) Distinct() bool { return r.distinct }

// Joins returns the created joins in creation order.
func (r *Registry) Joins() []criteria.Join { return r.order }
