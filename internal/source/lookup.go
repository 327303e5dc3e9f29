// Package source pulls the raw values of a filter leaf out of a request.
package source

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"filterspec/internal/rule"
)

// Value is what one key of one source kind holds.
type Value struct {
	Items []string
	// Array is set when the items came from a JSON array in the body.
	Array bool
}

// Lookup reads keyed values from a request.
type Lookup interface {
	Values(kind rule.SourceKind, key string) (Value, error)
}

// ErrMalformedBody is returned for bodies that are not JSON or hold nested arrays.
var ErrMalformedBody = errors.New("malformed request body")

// ErrCompositeValue is returned when a body key points at an object, or at an
// array where a single value is expected.
var ErrCompositeValue = errors.New("body value is not a scalar")

// Body is a decoded JSON request body.
type Body struct {
	doc any
}

// ParseBody decodes a JSON document. Numbers keep their literal text.
func ParseBody(data []byte) (*Body, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Body{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(ErrMalformedBody, err.Error())
	}
	return &Body{doc: doc}, nil
}

// Values follows a dotted key through nested objects.
func (b *Body) Values(key string) (Value, error) {
	if b == nil || b.doc == nil {
		return Value{}, nil
	}
	cur := b.doc
	for _, seg := range strings.Split(key, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return Value{}, nil
		}
		if cur, ok = obj[seg]; !ok {
			return Value{}, nil
		}
	}

	switch v := cur.(type) {
	case nil:
		return Value{}, nil
	case map[string]any:
		return Value{}, errors.Wrapf(ErrCompositeValue, "body key %q holds an object", key)
	case []any:
		items := make([]string, 0, len(v))
		for _, elem := range v {
			switch elem.(type) {
			case []any, map[string]any:
				return Value{}, errors.Wrapf(ErrMalformedBody, "body key %q holds a nested array", key)
			case nil:
				continue
			}
			items = append(items, scalar(elem))
		}
		return Value{Items: items, Array: true}, nil
	}
	return Value{Items: []string{scalar(cur)}}, nil
}

func scalar(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return fmt.Sprint(v)
}

// Request is a Lookup over plain maps. HTTP adapters and tests build one.
type Request struct {
	Params   map[string][]string
	PathVars map[string]string
	Headers  http.Header
	Body     *Body
}

func (r *Request) Values(kind rule.SourceKind, key string) (Value, error) {
	switch kind {
	case rule.SourceParam:
		return Value{Items: r.Params[key]}, nil
	case rule.SourcePath:
		if v, ok := r.PathVars[key]; ok {
			return Value{Items: []string{v}}, nil
		}
		return Value{}, nil
	case rule.SourceHeader:
		return Value{Items: r.Headers.Values(key)}, nil
	case rule.SourceBody:
		return r.Body.Values(key)
	}
	return Value{}, fmt.Errorf("unknown source kind %q", kind)
}
