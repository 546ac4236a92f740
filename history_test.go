package spanz

import (
	"fmt"
	"sync"
	"testing"
)

func TestHistoryAppendAndSnapshot(t *testing.T) {
	history := NewHistory()

	span := Span{SpanID: "test-span-1", TraceID: "test-trace-1", Name: "test-operation"}
	history.Append(&span)

	if history.Count() != 1 {
		t.Errorf("Expected 1 span, got %d", history.Count())
	}

	spans := history.Snapshot()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span in snapshot, got %d", len(spans))
	}
	if spans[0].SpanID != "test-span-1" {
		t.Errorf("Expected span ID 'test-span-1', got %s", spans[0].SpanID)
	}

	// Snapshot does not drain.
	if history.Count() != 1 {
		t.Errorf("Expected history to keep 1 span after snapshot, got %d", history.Count())
	}
}

func TestHistoryAppendCopies(t *testing.T) {
	history := NewHistory()

	span := Span{SpanID: "s", Tags: []Tag{{"k", "v"}}}
	history.Append(&span)
	span.Tags[0].Value = "changed"
	span.Name = "changed"

	got := history.Snapshot()[0]
	if got.Tags[0].Value != "v" || got.Name != "" {
		t.Errorf("Expected history copy to be independent, got %+v", got)
	}
}

func TestHistoryAppendNil(t *testing.T) {
	history := NewHistory()
	history.Append(nil)

	if history.Count() != 0 {
		t.Errorf("Expected nil span to be ignored, got %d", history.Count())
	}
}

func TestHistoryGrowth(t *testing.T) {
	history := NewHistory()

	numSpans := 2000
	for i := 0; i < numSpans; i++ {
		span := Span{SpanID: fmt.Sprintf("span-%d", i)}
		history.Append(&span)
	}

	spans := history.Snapshot()
	if len(spans) != numSpans {
		t.Fatalf("Expected %d spans, got %d", numSpans, len(spans))
	}
	for i, span := range spans {
		if span.SpanID != fmt.Sprintf("span-%d", i) {
			t.Fatalf("Expected insertion order at %d, got %s", i, span.SpanID)
		}
	}
}

func TestHistoryByTraceID(t *testing.T) {
	history := NewHistory()
	for i, trace := range []string{"a", "b", "a", "c", "a"} {
		span := Span{TraceID: trace, SpanID: fmt.Sprint(i)}
		history.Append(&span)
	}

	spans := history.ByTraceID("a")
	if len(spans) != 3 {
		t.Fatalf("Expected 3 spans for trace a, got %d", len(spans))
	}
	for i, expected := range []string{"0", "2", "4"} {
		if spans[i].SpanID != expected {
			t.Errorf("Expected span %s at %d, got %s", expected, i, spans[i].SpanID)
		}
	}

	missing := history.ByTraceID("zzz")
	if missing == nil || len(missing) != 0 {
		t.Errorf("Expected empty non-nil slice for unknown trace, got %v", missing)
	}
}

func TestHistoryReset(t *testing.T) {
	history := NewHistory()
	for i := 0; i < 300; i++ {
		span := Span{SpanID: fmt.Sprint(i)}
		history.Append(&span)
	}

	history.Reset()

	if history.Count() != 0 {
		t.Errorf("Expected 0 spans after reset, got %d", history.Count())
	}

	span := Span{SpanID: "after"}
	history.Append(&span)
	if history.Count() != 1 {
		t.Errorf("Expected history to be usable after reset, got %d", history.Count())
	}
}

func TestHistoryConcurrentAppendAndSnapshot(t *testing.T) {
	history := NewHistory()

	var wg sync.WaitGroup
	numWriters := 10
	spansPerWriter := 100

	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < spansPerWriter; i++ {
				span := Span{
					SpanID:  fmt.Sprintf("%d-%d", w, i),
					TraceID: fmt.Sprint(w),
					Tags:    []Tag{{"writer", fmt.Sprint(w)}},
				}
				history.Append(&span)
			}
		}(w)
	}

	// Readers snapshot while writers append.
	for r := 0; r < 5; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				for _, span := range history.Snapshot() {
					if len(span.Tags) != 1 || span.Tags[0].Value != span.TraceID {
						t.Errorf("Observed partially written span %+v", span)
						return
					}
				}
			}
		}()
	}

	wg.Wait()

	if history.Count() != numWriters*spansPerWriter {
		t.Errorf("Expected %d spans, got %d", numWriters*spansPerWriter, history.Count())
	}
}
