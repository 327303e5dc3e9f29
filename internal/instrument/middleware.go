package instrument

import (
	"math/rand"

	"github.com/gofiber/fiber/v2"

	"filterspec/internal/config"
)

// Middleware traces each request: it propagates or generates the X-Trace-ID,
// opens a root HTTP span and puts the instrumenter in the user context so the
// filter engine can add child spans.
func Middleware(cfg config.InstrumentationConfig, buffer *EventBuffer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || buffer == nil {
			return c.Next()
		}
		if cfg.SamplingRate < 1.0 && rand.Float64() >= cfg.SamplingRate {
			return c.Next()
		}

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		instrumenter := NewInstrumenter(buffer)
		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), instrumenter)
		ctx, span := instrumenter.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// auth runs after this middleware, so the user is only known now
		if userID := getUserID(c.UserContext()); userID != "" {
			span.SetMetadata("user_id", userID)
		}

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if se, ok := err.(interface{ HTTPStatus() int }); ok {
				status = se.HTTPStatus()
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		span.SetMetadata("status_code", status)
		if status >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}
