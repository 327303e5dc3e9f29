package engine

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"filterspec/internal/rule"
	"filterspec/internal/source"
)

// requestLookup reads filter values from a fiber request. The body is decoded
// on first use. Every value is copied out of the request buffers, which
// fasthttp reuses once the handler returns: resolved plans outlive the request
// in the resolution cache.
type requestLookup struct {
	c       *fiber.Ctx
	headers map[string][]string
	body    *source.Body
	bodyErr error
	parsed  bool
}

func newRequestLookup(c *fiber.Ctx) *requestLookup {
	return &requestLookup{c: c}
}

func (l *requestLookup) Values(kind rule.SourceKind, key string) (source.Value, error) {
	switch kind {
	case rule.SourceParam:
		var items []string
		for _, v := range l.c.Context().QueryArgs().PeekMulti(key) {
			items = append(items, string(v))
		}
		return source.Value{Items: items}, nil
	case rule.SourcePath:
		if v := l.c.Params(key); v != "" {
			return source.Value{Items: []string{utils.CopyString(v)}}, nil
		}
		return source.Value{}, nil
	case rule.SourceHeader:
		if l.headers == nil {
			l.headers = l.c.GetReqHeaders()
		}
		var items []string
		for _, v := range l.headers[http.CanonicalHeaderKey(key)] {
			items = append(items, utils.CopyString(v))
		}
		return source.Value{Items: items}, nil
	case rule.SourceBody:
		if !l.parsed {
			l.body, l.bodyErr = source.ParseBody(bytes.Clone(l.c.Body()))
			l.parsed = true
		}
		if l.bodyErr != nil {
			return source.Value{}, l.bodyErr
		}
		return l.body.Values(key)
	}
	return source.Value{}, fmt.Errorf("unknown source kind %q", kind)
}
