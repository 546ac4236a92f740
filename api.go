// Package spanz provides a small, process-local trace collector.
//
// spanz records hierarchical spans, keeps track of which spans are still
// open, persists finished spans to an append-only journal and answers
// queries by trace identity. It is meant for applications that want to see
// where time goes inside one process without running a tracing backend.
//
// Core Components:
//   - Store: owns the active registry, the finished history and the journal.
//   - ActiveSpan: handle callers use to tag a span before finishing it.
//   - Span: immutable-after-finish record of one unit of work.
//   - Tracer: scoped helpers that pair start and finish on every exit path.
//   - Journal: durable sink for finished spans, one text line per span.
//
// Basic Usage:
//
//	journal := spanz.NewFileJournal("traces.log")
//	store := spanz.NewStore(journal, logger)
//	defer store.Close()
//
//	span := store.StartTrace("get-user")
//	span.AddTag("user.id", "42")
//	child := store.StartChildTrace("db-query", span.TraceID(), span.SpanID())
//	store.FinishTrace(child)
//	store.FinishTrace(span)
//
//	tracer := spanz.NewTracer(store)
//	err := tracer.Trace("sync-cache", func() error {
//		return refresh()
//	})
//
// Thread Safety:
//
// Store and Tracer are safe for concurrent use by multiple goroutines.
// ActiveSpan methods are safe for concurrent use. Span values returned by
// queries are copies and may be modified freely.
//
// Status:
//
// A span starts as STARTED, becomes ERROR when an error is recorded and
// FINISHED when it is finished. The Errored flag keeps the fact that an
// error happened after the span is finished.
//
// Resource Cleanup:
//
// A span that is never finished stays in the active registry. Use Tracer
// helpers or defer FinishTrace. Call store.Close() to stop background
// goroutines and close the journal. Call store.Clear() to reset the
// in-memory view; the journal is never truncated.
package spanz

// Key represents a span operation name.
type Key = string

// Status is the lifecycle state of a span.
type Status string

// Span lifecycle states.
const (
	StatusStarted  Status = "STARTED"
	StatusError    Status = "ERROR"
	StatusFinished Status = "FINISHED"
)

// Tag keys written by the store and the tracer.
const (
	ErrorTag  = "error"
	ResultTag = "result"
)
