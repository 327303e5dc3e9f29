// Package expression evaluates the literal forms allowed in filter constants
// and defaults: "#{expr}" runs an expr-lang program, "${key}" and
// "${key:default}" read a configuration property.
package expression

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/viper"
)

// Evaluator runs expression literals against the configured properties.
// Compiled programs are cached by expression string.
type Evaluator struct {
	props *viper.Viper
	env   map[string]any

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator snapshots the properties of v. A nil v means no properties.
func NewEvaluator(v *viper.Viper) *Evaluator {
	if v == nil {
		v = viper.New()
	}
	return &Evaluator{
		props: v,
		env:   map[string]any{"props": v.AllSettings()},
		cache: make(map[string]*vm.Program),
	}
}

// Literal evaluates raw if it is an expression or property literal and
// returns it unchanged otherwise.
func (e *Evaluator) Literal(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "#{") && strings.HasSuffix(s, "}"):
		return e.Evaluate(s[2 : len(s)-1])
	case strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}"):
		return e.property(s[2 : len(s)-1])
	}
	return raw, nil
}

// Evaluate runs an expr-lang expression. The environment exposes the
// properties as props, for example props.filters.region.
func (e *Evaluator) Evaluate(expression string) (any, error) {
	prog, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	result, err := expr.Run(prog, e.env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return result, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prog, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.Env(e.env))
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func (e *Evaluator) property(ref string) (any, error) {
	key, def, hasDefault := strings.Cut(ref, ":")
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty property reference")
	}
	if e.props.IsSet(key) {
		return e.props.Get(key), nil
	}
	if hasDefault {
		return def, nil
	}
	return nil, fmt.Errorf("property %q is not set", key)
}
