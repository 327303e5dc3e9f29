package instrument

import (
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Sink receives a batch of finished events.
type Sink func(batch []Event)

// EventBuffer collects events in memory and hands them to a sink on a timer
// or when full.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	sink    Sink
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	stop    sync.Once
}

// NewEventBuffer starts the flush loop. A non-positive interval disables the
// timer; the buffer then flushes only when full or stopped.
func NewEventBuffer(sink Sink, maxSize int, flushInterval time.Duration) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 1
	}
	eb := &EventBuffer{
		sink:    sink,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	if flushInterval > 0 {
		eb.ticker = time.NewTicker(flushInterval)
		go eb.run()
	}
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event. A full buffer is flushed synchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	full := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if full {
		eb.Flush()
	}
}

func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	eb.sink(batch)
}

// Stop halts the timer and flushes remaining events.
func (eb *EventBuffer) Stop() {
	eb.stop.Do(func() {
		if eb.ticker != nil {
			eb.ticker.Stop()
		}
		close(eb.done)
		eb.Flush()
	})
}

// LogSink writes every event as one JSON line. Spans slower than slowMs are
// also reported with a WARN line; zero disables the check.
func LogSink(logger *log.Logger, slowMs int) Sink {
	if logger == nil {
		logger = log.Default()
	}
	return func(batch []Event) {
		for _, e := range batch {
			if slowMs > 0 && e.EventType == "system" && e.DurationMs >= float64(slowMs) {
				logger.Printf("WARN: slow %s.%s %s %.1fms trace=%s", e.Source, e.Component, e.Action, e.DurationMs, e.TraceID)
			}
			b, err := json.Marshal(e)
			if err != nil {
				logger.Printf("ERROR: encode event %s: %v", e.SpanID, err)
				continue
			}
			logger.Printf("EVENT: %s", b)
		}
	}
}
