package instrument

import "context"

// NoopInstrumenter discards everything. Used when instrumentation is disabled
// or the request is sampled out.
type NoopInstrumenter struct{}

func (n *NoopInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

func (n *NoopInstrumenter) EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any) {
}

type NoopSpan struct{}

func (NoopSpan) End()                              {}
func (NoopSpan) SetStatus(status string)           {}
func (NoopSpan) SetMetadata(key string, value any) {}
func (NoopSpan) SetEntity(entity, recordID string) {}
func (NoopSpan) TraceID() string                   { return "" }
func (NoopSpan) SpanID() string                    { return "" }
