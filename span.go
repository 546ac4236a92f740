package spanz

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType string

const (
	spanKey spanKeyType = "spanz"
)

// Tag is a single key/value annotation on a span.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Span represents a single unit of work in a trace.
// Spans returned by Store queries are copies owned by the caller.
//
//nolint:govet // Field order follows the JSON and journal layout
type Span struct {
	TraceID      string        `json:"trace_id"`
	SpanID       string        `json:"span_id"`
	ParentSpanID string        `json:"parent_span_id,omitempty"`
	Name         string        `json:"operation_name"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"-"`
	Status       Status        `json:"status"`
	Errored      bool          `json:"errored"`
	Tags         []Tag         `json:"tags,omitempty"`
}

// MarshalJSON renders the duration as whole milliseconds.
func (s Span) MarshalJSON() ([]byte, error) {
	type alias Span
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}{alias: alias(s), DurationMS: s.DurationMs()})
}

// UnmarshalJSON reads the millisecond duration written by MarshalJSON.
func (s *Span) UnmarshalJSON(data []byte) error {
	type alias Span
	aux := struct {
		*alias
		DurationMS int64 `json:"duration_ms"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Duration = time.Duration(aux.DurationMS) * time.Millisecond
	return nil
}

// Finished reports whether the span has an end time.
func (s Span) Finished() bool {
	return !s.EndTime.IsZero()
}

// DurationMs returns the span duration in whole milliseconds.
func (s Span) DurationMs() int64 {
	return s.Duration.Milliseconds()
}

// TagValues returns every value recorded under key, in insertion order.
func (s Span) TagValues(key string) []string {
	var values []string
	for _, tag := range s.Tags {
		if tag.Key == key {
			values = append(values, tag.Value)
		}
	}
	return values
}

// clone returns a deep copy so callers never share the tag slice.
func (s *Span) clone() Span {
	c := *s
	if s.Tags != nil {
		c.Tags = make([]Tag, len(s.Tags))
		copy(c.Tags, s.Tags)
	}
	return c
}

// ActiveSpan is the caller's handle on a span owned by a Store.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span     *Span
	store    *Store
	mu       sync.Mutex // Protects span and finished.
	finished bool
}

// AddTag appends a key-value pair to the span.
// Duplicate keys are kept in order. No-op if the span is already finished.
func (a *ActiveSpan) AddTag(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.span.Tags = append(a.span.Tags, Tag{Key: key, Value: value})
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	// Immutable after creation.
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() string {
	return a.span.SpanID
}

// ParentSpanID returns the parent span ID, empty for root spans.
func (a *ActiveSpan) ParentSpanID() string {
	return a.span.ParentSpanID
}

// Name returns the operation name.
func (a *ActiveSpan) Name() string {
	return a.span.Name
}

// Status returns the current lifecycle state.
func (a *ActiveSpan) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.Status
}

// Errored reports whether an error was recorded on the span.
func (a *ActiveSpan) Errored() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.Errored
}

// IsFinished reports whether FinishTrace has completed for this span.
func (a *ActiveSpan) IsFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// Snapshot returns a copy of the span in its current state.
func (a *ActiveSpan) Snapshot() Span {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.clone()
}

// Finish completes the span through its owning store.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.store.FinishTrace(a)
}

// Context returns a copy of parent carrying this span.
// Spans started from the returned context with Store.StartSpan become its children.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, spanKey, a)
}

// SpanFromContext extracts the current span from a context.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}

	if span, ok := ctx.Value(spanKey).(*ActiveSpan); ok {
		return span
	}

	return nil
}
