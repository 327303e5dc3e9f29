package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"filterspec/internal/rule"
)

// precedence of request source kinds, after the constant and before the default.
var precedence = []rule.SourceKind{
	rule.SourcePath,
	rule.SourceHeader,
	rule.SourceBody,
	rule.SourceParam,
}

// Options tune one resolution.
type Options struct {
	// TimeLayout renders time values produced by expression literals.
	TimeLayout string
}

// Resolver finds the raw values of a leaf. It holds no per-request state.
type Resolver struct {
	eval rule.Evaluator
}

func NewResolver(eval rule.Evaluator) *Resolver {
	return &Resolver{eval: eval}
}

// Resolve returns the raw values for leaf. present is false when the leaf has
// no value at all and should vanish from the filter.
func (r *Resolver) Resolve(leaf *rule.Leaf, lookup Lookup, opts Options) (values []string, present bool, err error) {
	if v, ok := leaf.ConstantValue(); ok {
		values = r.finish(leaf, stringify(v, opts.TimeLayout))
		return values, len(values) > 0, nil
	}

	for _, kind := range precedence {
		items, err := r.collect(leaf, lookup, kind)
		if err != nil {
			return nil, false, err
		}
		if values = r.finish(leaf, items); len(values) > 0 {
			return values, true, nil
		}
	}

	if leaf.Default == nil {
		return nil, false, nil
	}
	var v any = *leaf.Default
	if r.eval != nil {
		if v, err = r.eval.Literal(*leaf.Default); err != nil {
			return nil, false, &rule.ConfigError{
				Location: leaf.Path,
				Message:  fmt.Sprintf("default %q: %v", *leaf.Default, err),
			}
		}
	}
	values = r.finish(leaf, stringify(v, opts.TimeLayout))
	return values, len(values) > 0, nil
}

// collect gathers the values of every key of one kind, in declaration order.
func (r *Resolver) collect(leaf *rule.Leaf, lookup Lookup, kind rule.SourceKind) ([]string, error) {
	var items []string
	for _, src := range leaf.Sources {
		if src.Kind != kind {
			continue
		}
		v, err := lookup.Values(kind, src.Key)
		if err != nil {
			if errors.Is(err, ErrCompositeValue) {
				return nil, &rule.ConfigError{Location: leaf.Path, Message: err.Error()}
			}
			return nil, err
		}
		if v.Array && !leaf.Operator.MultiValued() {
			return nil, &rule.ConfigError{
				Location: leaf.Path,
				Message:  fmt.Sprintf("body key %q holds an array but %s takes one value", src.Key, leaf.Operator),
			}
		}
		items = append(items, v.Items...)
	}
	return items, nil
}

// finish drops blank entries, splits multi-valued entries on the separator and
// keeps only the first value of single-valued leaves.
func (r *Resolver) finish(leaf *rule.Leaf, items []string) []string {
	multi := leaf.Operator.MultiValued()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if multi && leaf.Separator != 0 && strings.ContainsRune(item, leaf.Separator) {
			for _, part := range strings.Split(item, string(leaf.Separator)) {
				if !blank(part) {
					out = append(out, part)
				}
			}
			continue
		}
		if !blank(item) {
			out = append(out, item)
		}
	}
	if !multi && len(out) > 1 {
		out = out[:1]
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func stringify(v any, layout string) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, elem := range v {
			out = append(out, stringify(elem, layout)...)
		}
		return out
	case time.Time:
		if layout == "" {
			layout = time.RFC3339Nano
		}
		return []string{v.Format(layout)}
	}
	return []string{fmt.Sprint(v)}
}
