package spanz

import (
	"sync"
)

// History is the append-only list of finished spans, in finish order.
// Safe for concurrent use by multiple goroutines.
//
// Unlike a buffering exporter, History never drops a span: every Append is
// retained until Reset.
type History struct {
	spans []Span
	mu    sync.Mutex
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		spans: make([]Span, 0, 32),
	}
}

// Append records a finished span. The span is copied.
func (h *History) Append(span *Span) {
	if span == nil {
		return
	}
	spanCopy := span.clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.spans = append(h.spans, spanCopy)
}

// Snapshot returns a point-in-time deep copy of every recorded span.
// The returned slice is safe to modify without affecting the history.
func (h *History) Snapshot() []Span {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]Span, len(h.spans))
	for i := range h.spans {
		result[i] = h.spans[i].clone()
	}
	return result
}

// ByTraceID returns copies of the spans belonging to traceID, in finish order.
func (h *History) ByTraceID(traceID string) []Span {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]Span, 0)
	for i := range h.spans {
		if h.spans[i].TraceID == traceID {
			result = append(result, h.spans[i].clone())
		}
	}
	return result
}

// Count returns the number of recorded spans.
func (h *History) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spans)
}

// Reset removes every recorded span.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Shrink oversized buffers instead of keeping them around.
	if cap(h.spans) > 256 {
		h.spans = make([]Span, 0, 32)
		return
	}
	h.spans = h.spans[:0]
}
