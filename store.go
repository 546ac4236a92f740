package spanz

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// SpanHandler is called with a copy of every finished span.
type SpanHandler func(span Span)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Store owns span lifecycle: the active registry, the finished history and
// the journal. Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Store struct {
	active          map[string]*ActiveSpan
	history         *History
	journal         Journal
	logger          *zap.Logger
	clock           clockz.Clock
	handlers        []handlerEntry
	panicHook       func(handlerID uint64, r any)
	workers         *workerPool
	traceIDPool     *IDPool
	spanIDPool      *IDPool
	activeLock      sync.RWMutex
	handlersLock    sync.RWMutex
	idPoolOnce      sync.Once
	closed          atomic.Bool
	nextID          atomic.Uint64
	droppedNotices  atomic.Uint64
	persistFailures atomic.Uint64
}

// NewStore creates a store persisting finished spans to journal.
// A nil journal disables persistence; a nil logger disables diagnostics.
func NewStore(journal Journal, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		active:   make(map[string]*ActiveSpan),
		history:  NewHistory(),
		journal:  journal,
		logger:   logger,
		clock:    clockz.RealClock,
		handlers: make([]handlerEntry, 0),
	}
}

// WithClock sets the clock used for span timestamps and returns the store.
// Call before the store is shared.
func (s *Store) WithClock(clock clockz.Clock) *Store {
	s.clock = clock
	return s
}

// ensureIDPools starts the ID pools on first use. A closed store never
// starts them; IDs are then generated on demand.
func (s *Store) ensureIDPools() {
	s.idPoolOnce.Do(func() {
		if s.closed.Load() {
			return
		}
		poolSize := runtime.NumCPU() * 16
		s.traceIDPool = NewIDPool(poolSize, NewShortID)
		s.spanIDPool = NewIDPool(poolSize, NewShortID)
	})
}

func (s *Store) newTraceID() string {
	s.ensureIDPools()
	if s.traceIDPool == nil {
		return NewShortID()
	}
	return s.traceIDPool.Get()
}

func (s *Store) newSpanID() string {
	s.ensureIDPools()
	if s.spanIDPool == nil {
		return NewShortID()
	}
	return s.spanIDPool.Get()
}

// newSpan registers a span under traceID as given; it never invents one.
func (s *Store) newSpan(operation Key, traceID, parentSpanID string) *ActiveSpan {
	span := &ActiveSpan{
		span: &Span{
			TraceID:      traceID,
			SpanID:       s.newSpanID(),
			ParentSpanID: parentSpanID,
			Name:         operation,
			StartTime:    s.clock.Now(),
			Status:       StatusStarted,
		},
		store: s,
	}

	s.activeLock.Lock()
	s.active[span.span.SpanID] = span
	s.activeLock.Unlock()

	return span
}

// StartTrace starts a root span with a fresh trace ID.
func (s *Store) StartTrace(operation Key) *ActiveSpan {
	span := s.newSpan(operation, s.newTraceID(), "")
	s.logger.Info("trace started",
		zap.String("operation", operation),
		zap.String("trace_id", span.TraceID()),
		zap.String("span_id", span.SpanID()),
	)
	return span
}

// StartChildTrace starts a span inside an existing trace.
// The parent is not required to still be active. parentTraceID is used
// verbatim, even when empty.
func (s *Store) StartChildTrace(operation Key, parentTraceID, parentSpanID string) *ActiveSpan {
	span := s.newSpan(operation, parentTraceID, parentSpanID)
	s.logger.Info("child trace started",
		zap.String("operation", operation),
		zap.String("trace_id", span.TraceID()),
		zap.String("span_id", span.SpanID()),
		zap.String("parent_span_id", parentSpanID),
	)
	return span
}

// StartSpan starts a child of the span carried by ctx, or a root span when
// ctx carries none. The returned context carries the new span.
func (s *Store) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}

	var span *ActiveSpan
	if parent := SpanFromContext(ctx); parent != nil {
		span = s.StartChildTrace(operation, parent.TraceID(), parent.SpanID())
	} else {
		span = s.StartTrace(operation)
	}
	return span.Context(ctx), span
}

// AddError records an error tag and marks the span as errored.
// No-op if the span is already finished.
func (s *Store) AddError(span *ActiveSpan, message string) {
	if span == nil {
		return
	}

	span.mu.Lock()
	if span.finished {
		span.mu.Unlock()
		return
	}
	span.span.Tags = append(span.span.Tags, Tag{Key: ErrorTag, Value: message})
	span.span.Status = StatusError
	span.span.Errored = true
	span.mu.Unlock()

	s.logger.Warn("trace error",
		zap.String("operation", span.Name()),
		zap.String("trace_id", span.TraceID()),
		zap.String("span_id", span.SpanID()),
		zap.String("error", message),
	)
}

// FinishTrace completes the span: it computes the duration, moves the span
// from the active registry to the history and appends it to the journal.
// Only the first call for a span has any effect.
func (s *Store) FinishTrace(span *ActiveSpan) {
	if span == nil {
		return
	}

	span.mu.Lock()
	if span.finished {
		span.mu.Unlock()
		return
	}
	span.finished = true
	span.span.EndTime = s.clock.Now()
	span.span.Duration = span.span.EndTime.Sub(span.span.StartTime)
	if span.span.Duration < 0 {
		span.span.Duration = 0
	}
	span.span.Status = StatusFinished
	finished := span.span.clone()
	span.mu.Unlock()

	s.activeLock.Lock()
	delete(s.active, finished.SpanID)
	s.activeLock.Unlock()

	s.history.Append(&finished)

	fields := []zap.Field{
		zap.String("operation", finished.Name),
		zap.String("trace_id", finished.TraceID),
		zap.String("span_id", finished.SpanID),
		zap.Int64("duration_ms", finished.DurationMs()),
		zap.String("status", string(finished.Status)),
		zap.Bool("errored", finished.Errored),
	}
	if finished.ParentSpanID != "" {
		fields = append(fields, zap.String("parent_span_id", finished.ParentSpanID))
	}
	s.logger.Info("trace finished", fields...)

	s.persist(&finished)
	s.executeHandlers(finished)
}

// persist writes the span to the journal. Failures are logged and counted,
// never returned.
func (s *Store) persist(span *Span) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(span); err != nil {
		s.persistFailures.Add(1)
		s.logger.Error("failed to persist trace",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.SpanID),
			zap.Error(err),
		)
	}
}

// ListAllFinished returns every finished span since the last Clear, in finish order.
func (s *Store) ListAllFinished() []Span {
	return s.history.Snapshot()
}

// ListByTraceID returns the finished spans of one trace, in finish order.
// Unknown trace IDs yield an empty slice.
func (s *Store) ListByTraceID(traceID string) []Span {
	return s.history.ByTraceID(traceID)
}

// CountActive returns the number of started but unfinished spans.
func (s *Store) CountActive() int {
	s.activeLock.RLock()
	defer s.activeLock.RUnlock()
	return len(s.active)
}

// CountTotalFinished returns the number of finished spans since the last Clear.
func (s *Store) CountTotalFinished() int {
	return s.history.Count()
}

// Clear empties the active registry and the history.
// The journal is left untouched.
func (s *Store) Clear() {
	s.activeLock.Lock()
	s.active = make(map[string]*ActiveSpan)
	s.activeLock.Unlock()

	s.history.Reset()
	s.logger.Info("traces cleared")
}

// PersistFailures returns the number of journal writes that failed.
func (s *Store) PersistFailures() uint64 {
	return s.persistFailures.Load()
}

// OnSpanComplete registers a synchronous handler called when spans finish.
func (s *Store) OnSpanComplete(handler SpanHandler) uint64 {
	return s.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans finish.
func (s *Store) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return s.registerHandler(handler, true)
}

// registerHandler returns 0 for a nil handler; real IDs start at 1.
func (s *Store) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}
	entry := handlerEntry{id: s.nextID.Add(1), handler: handler, async: async}

	s.handlersLock.Lock()
	s.handlers = append(s.handlers, entry)
	count := len(s.handlers)
	s.handlersLock.Unlock()

	s.logger.Debug("span handler registered",
		zap.Uint64("handler_id", entry.id),
		zap.Bool("async", async),
		zap.Int("handlers", count),
	)
	return entry.id
}

// RemoveHandler unregisters the handler with the given ID and reports
// whether it was registered. Spans already being delivered may still reach it.
func (s *Store) RemoveHandler(id uint64) bool {
	s.handlersLock.Lock()
	before := len(s.handlers)
	s.handlers = slices.DeleteFunc(s.handlers, func(e handlerEntry) bool { return e.id == id })
	removed := len(s.handlers) < before
	s.handlersLock.Unlock()

	if removed {
		s.logger.Debug("span handler removed", zap.Uint64("handler_id", id))
	}
	return removed
}

// SetPanicHook sets a function to be called when a handler panics.
func (s *Store) SetPanicHook(hook func(handlerID uint64, r any)) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.panicHook = hook
}

// executeHandlers calls all registered handlers with the finished span.
func (s *Store) executeHandlers(span Span) {
	s.handlersLock.RLock()
	if len(s.handlers) == 0 {
		s.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(s.handlers))
	copy(handlers, s.handlers)
	workers := s.workers
	s.handlersLock.RUnlock()

	for _, h := range handlers {
		// Each handler gets its own copy of the tags.
		spanCopy := span.clone()
		if h.async {
			entry := h
			if workers != nil {
				queued := workers.submit(func() {
					s.safeCall(entry, spanCopy)
				})
				if !queued {
					s.droppedNotices.Add(1)
					s.logger.Debug("span notification dropped",
						zap.Uint64("handler_id", entry.id),
						zap.String("trace_id", spanCopy.TraceID),
						zap.String("span_id", spanCopy.SpanID),
					)
				}
			} else {
				go s.safeCall(entry, spanCopy)
			}
		} else {
			s.safeCall(h, spanCopy)
		}
	}
}

func (s *Store) safeCall(entry handlerEntry, span Span) {
	defer func() {
		if r := recover(); r != nil {
			s.handlersLock.RLock()
			hook := s.panicHook
			s.handlersLock.RUnlock()

			s.logger.Error("span handler panicked",
				zap.Uint64("handler_id", entry.id),
				zap.Any("panic", r),
			)
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
// Notifications that do not fit in the queue are dropped and counted;
// the history and the journal are never affected.
func (s *Store) EnableWorkerPool(workers, queueSize int) error {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()

	if s.workers != nil {
		return errors.New("worker pool already enabled")
	}
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	s.workers = &workerPool{
		tasks: make(chan func(), queueSize),
		stop:  make(chan struct{}),
	}

	s.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.workers.run()
	}

	return nil
}

// DroppedNotifications returns the number of async handler calls dropped
// because the worker queue was full.
func (s *Store) DroppedNotifications() uint64 {
	return s.droppedNotices.Load()
}

// Close stops handler workers and ID pools and closes the journal.
// The in-memory history stays readable.
func (s *Store) Close() error {
	s.handlersLock.Lock()
	s.handlers = nil
	workers := s.workers
	s.workers = nil
	s.handlersLock.Unlock()

	// Wait for in-flight async handlers.
	if workers != nil {
		workers.shutdown()
	}

	// Waits out a concurrent first start; pools are never created after this.
	s.closed.Store(true)
	s.idPoolOnce.Do(func() {})
	if s.traceIDPool != nil {
		s.traceIDPool.Close()
	}
	if s.spanIDPool != nil {
		s.spanIDPool.Close()
	}

	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// workerPool manages a fixed number of workers for async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks    chan func()
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

// drain runs whatever was queued before stop.
func (w *workerPool) drain() {
	for {
		select {
		case task := <-w.tasks:
			task()
		default:
			return
		}
	}
}

// submit queues task without blocking the finishing goroutine and reports
// whether it fit.
func (w *workerPool) submit(task func()) bool {
	select {
	case w.tasks <- task:
		return true
	default:
		return false
	}
}

// shutdown stops the workers after the queue drains. Safe to call twice.
func (w *workerPool) shutdown() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}
