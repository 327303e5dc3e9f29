package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// Instrumenter starts spans around filter resolution and query execution.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any)
}

// Span is a timed operation. End is idempotent.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetEntity(entity, recordID string)
	TraceID() string
	SpanID() string
}

// Event is one finished span or business event.
type Event struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Entity       string         `json:"entity,omitempty"`
	RecordID     string         `json:"record_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	DurationMs   float64        `json:"duration_ms"`
	Status       string         `json:"status,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newUUID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func WithParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func getParentSpanID(ctx context.Context) string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		return v
	}
	return ""
}

func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context,
// or a NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func getUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// BufferedInstrumenter enqueues finished spans to an EventBuffer.
type BufferedInstrumenter struct {
	buffer *EventBuffer
}

func NewInstrumenter(buffer *EventBuffer) *BufferedInstrumenter {
	return &BufferedInstrumenter{buffer: buffer}
}

// StartSpan creates a span that is a child of the span in ctx, if any.
// The returned context carries the new span as parent.
func (i *BufferedInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	span := &span{
		traceID:      GetTraceID(ctx),
		spanID:       newUUID(),
		parentSpanID: getParentSpanID(ctx),
		source:       source,
		component:    component,
		action:       action,
		userID:       getUserID(ctx),
		startTime:    time.Now(),
		metadata:     make(map[string]any),
		buffer:       i.buffer,
	}
	return WithParentSpanID(ctx, span.spanID), span
}

// EmitBusinessEvent records a one-shot event with no duration.
func (i *BufferedInstrumenter) EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any) {
	i.buffer.Enqueue(Event{
		TraceID:      GetTraceID(ctx),
		SpanID:       newUUID(),
		ParentSpanID: getParentSpanID(ctx),
		EventType:    "business",
		Source:       "business",
		Component:    "api",
		Action:       action,
		Entity:       entity,
		RecordID:     recordID,
		UserID:       getUserID(ctx),
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	})
}

type span struct {
	mu           sync.Mutex
	traceID      string
	spanID       string
	parentSpanID string
	source       string
	component    string
	action       string
	entity       string
	recordID     string
	userID       string
	status       string
	startTime    time.Time
	metadata     map[string]any
	buffer       *EventBuffer
	ended        bool
}

func (s *span) TraceID() string { return s.traceID }
func (s *span) SpanID() string  { return s.spanID }

func (s *span) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *span) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

func (s *span) SetEntity(entity, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = entity
	s.recordID = recordID
}

func (s *span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	s.buffer.Enqueue(Event{
		TraceID:      s.traceID,
		SpanID:       s.spanID,
		ParentSpanID: s.parentSpanID,
		EventType:    "system",
		Source:       s.source,
		Component:    s.component,
		Action:       s.action,
		Entity:       s.entity,
		RecordID:     s.recordID,
		UserID:       s.userID,
		DurationMs:   float64(time.Since(s.startTime).Microseconds()) / 1000.0,
		Status:       s.status,
		Metadata:     s.metadata,
		CreatedAt:    s.startTime,
	})
}
