package spanz

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/zoobzio/clockz"
)

// Tracer wraps a Store with helpers that run a unit of work as one span.
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	store    *Store
	clock    clockz.Clock
	simulate func(minDelay, maxDelay time.Duration)
}

// NewTracer creates a tracer recording into store.
func NewTracer(store *Store) *Tracer {
	return &Tracer{
		store: store,
		clock: clockz.RealClock,
	}
}

// WithClock sets the clock SimulateWork waits on and returns the tracer.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	t.clock = clock
	return t
}

// WithSimulator replaces SimulateWork, typically with a no-op in tests.
func (t *Tracer) WithSimulator(simulate func(minDelay, maxDelay time.Duration)) *Tracer {
	t.simulate = simulate
	return t
}

// Store returns the underlying store.
func (t *Tracer) Store() *Store {
	return t.store
}

// Trace runs fn as a root span named operation.
// The span is finished on every exit path. An error returned by fn is
// recorded on the span and returned unchanged; a panic is recorded and
// re-raised with its original value.
func (t *Tracer) Trace(operation Key, fn func() error) error {
	return t.TraceContext(context.Background(), operation, func(context.Context) error {
		return fn()
	})
}

// TraceContext is Trace for code that propagates spans through ctx.
// The span is a child of the span carried by ctx, if any, and fn receives a
// context carrying the new span.
func (t *Tracer) TraceContext(ctx context.Context, operation Key, fn func(ctx context.Context) error) error {
	ctx, span := t.store.StartSpan(ctx, operation)
	defer t.store.FinishTrace(span)
	defer recordPanic(t.store, span)

	if err := fn(ctx); err != nil {
		t.store.AddError(span, err.Error())
		return err
	}
	return nil
}

// TraceValue runs fn as a root span named operation and returns its result.
// On success the span is tagged result=success. Failures behave as in Trace.
func TraceValue[T any](t *Tracer, operation Key, fn func() (T, error)) (T, error) {
	return TraceValueContext(context.Background(), t, operation, func(context.Context) (T, error) {
		return fn()
	})
}

// TraceValueContext is TraceValue for code that propagates spans through ctx.
func TraceValueContext[T any](ctx context.Context, t *Tracer, operation Key, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := t.store.StartSpan(ctx, operation)
	defer t.store.FinishTrace(span)
	defer recordPanic(t.store, span)

	result, err := fn(ctx)
	if err != nil {
		t.store.AddError(span, err.Error())
		return result, err
	}
	span.AddTag(ResultTag, "success")
	return result, nil
}

// recordPanic must be deferred directly so recover sees the panic.
func recordPanic(store *Store, span *ActiveSpan) {
	if r := recover(); r != nil {
		store.AddError(span, panicMessage(r))
		panic(r)
	}
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}

// StartTrace starts a root span. Pair it with FinishTrace.
func (t *Tracer) StartTrace(operation Key) *ActiveSpan {
	return t.store.StartTrace(operation)
}

// StartChild starts a span inside parent's trace.
func (t *Tracer) StartChild(operation Key, parent *ActiveSpan) *ActiveSpan {
	if parent == nil {
		return t.store.StartTrace(operation)
	}
	return t.store.StartChildTrace(operation, parent.TraceID(), parent.SpanID())
}

// FinishTrace finishes span. Extra calls are ignored.
func (t *Tracer) FinishTrace(span *ActiveSpan) {
	t.store.FinishTrace(span)
}

// AddTag appends a tag to span.
func (*Tracer) AddTag(span *ActiveSpan, key, value string) {
	if span == nil {
		return
	}
	span.AddTag(key, value)
}

// AddError records message as an error on span.
func (t *Tracer) AddError(span *ActiveSpan, message string) {
	t.store.AddError(span, message)
}

// SimulateWork blocks for a random duration in [minDelay, maxDelay).
// When maxDelay <= minDelay it blocks for minDelay.
func (t *Tracer) SimulateWork(minDelay, maxDelay time.Duration) {
	if t.simulate != nil {
		t.simulate(minDelay, maxDelay)
		return
	}

	delay := minDelay
	if maxDelay > minDelay {
		delay += rand.N(maxDelay - minDelay)
	}
	if delay <= 0 {
		return
	}
	<-t.clock.After(delay)
}
