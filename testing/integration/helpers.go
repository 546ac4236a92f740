package integration

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/spanz"
)

// Harness wires a store to a journal file in a temp dir.
// Simulated work is disabled so tests run at full speed.
type Harness struct {
	Store       *spanz.Store
	Tracer      *spanz.Tracer
	JournalPath string
	t           *testing.T
}

// NewHarness creates a store journaling to a fresh file. The store is closed
// when the test ends.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.log")
	store := spanz.NewStore(spanz.NewFileJournal(path), nil)
	t.Cleanup(func() { _ = store.Close() })

	return &Harness{
		Store:       store,
		Tracer:      spanz.NewTracer(store).WithSimulator(func(time.Duration, time.Duration) {}),
		JournalPath: path,
		t:           t,
	}
}

// JournalSpans reads every record written so far.
func (h *Harness) JournalSpans() []spanz.Span {
	h.t.Helper()
	f, err := os.Open(h.JournalPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		h.t.Fatalf("Failed to open journal: %v", err)
	}
	defer f.Close()

	spans, err := spanz.ReadJournal(f)
	if err != nil {
		h.t.Fatalf("Journal is not parseable: %v", err)
	}
	return spans
}

// AssertJournalMatchesHistory verifies every finished span was journaled once.
// The journal is compared by span ID since concurrent finishes may interleave.
func (h *Harness) AssertJournalMatchesHistory() {
	h.t.Helper()
	history := h.Store.ListAllFinished()
	journal := h.JournalSpans()

	if len(journal) != len(history) {
		h.t.Errorf("Expected %d journal records, got %d", len(history), len(journal))
	}

	seen := make(map[string]int, len(journal))
	for i := range journal {
		seen[journal[i].SpanID]++
	}
	for i := range history {
		if n := seen[history[i].SpanID]; n != 1 {
			h.t.Errorf("Span %s (%s) journaled %d times", history[i].SpanID, history[i].Name, n)
		}
	}
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     spanz.Span
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from flat span list.
func BuildSpanTree(spans []spanz.Span) []*SpanTree {
	nodeMap := make(map[string]*SpanTree)
	roots := make([]*SpanTree, 0)

	for i := range spans {
		span := spans[i]
		nodeMap[span.SpanID] = &SpanTree{
			Span:     span,
			Children: make([]*SpanTree, 0),
		}
	}

	for i := range spans {
		span := spans[i]
		node := nodeMap[span.SpanID]
		if span.ParentSpanID == "" {
			roots = append(roots, node)
		} else if parent, exists := nodeMap[span.ParentSpanID]; exists {
			parent.Children = append(parent.Children, node)
		} else {
			// Parent not finished (or cleared); treat as a root of its own.
			roots = append(roots, node)
		}
	}

	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	indent := strings.Repeat("  ", depth)
	marker := ""
	if node.Span.Errored {
		marker = " !"
	}
	fmt.Fprintf(sb, "%s%s (%dms)%s\n", indent, node.Span.Name, node.Span.DurationMs(), marker)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byID   map[string]spanz.Span
	byName map[string][]spanz.Span
	trees  []*SpanTree
	spans  []spanz.Span
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []spanz.Span) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byID:   make(map[string]spanz.Span),
		byName: make(map[string][]spanz.Span),
	}

	for i := range spans {
		span := spans[i]
		a.byID[span.SpanID] = span
		a.byName[span.Name] = append(a.byName[span.Name], span)
	}

	a.trees = BuildSpanTree(spans)
	return a
}

// GetSpansByName retrieves all spans with given name.
func (a *TraceAnalyzer) GetSpansByName(name string) []spanz.Span {
	return a.byName[name]
}

// CountTrees returns number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// Trees returns the root nodes.
func (a *TraceAnalyzer) Trees() []*SpanTree {
	return a.trees
}

// VerifyChain checks if spans form a valid parent-child chain.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return fmt.Errorf("chain requires at least 2 spans")
	}

	var prev *spanz.Span
	for i, name := range names {
		spans := a.GetSpansByName(name)
		if len(spans) == 0 {
			return fmt.Errorf("span '%s' not found", name)
		}

		// For simplicity, use first match.
		span := spans[0]

		if prev != nil {
			if span.ParentSpanID != prev.SpanID {
				return fmt.Errorf("broken chain: %s is not child of %s", name, names[i-1])
			}
			if span.TraceID != prev.TraceID {
				return fmt.Errorf("broken chain: %s left trace %s", name, prev.TraceID)
			}
		}

		prev = &span
	}

	return nil
}

// MockService simulates a downstream dependency that traces its calls.
type MockService struct {
	tracer       *spanz.Tracer
	name         string
	mu           sync.Mutex
	requestCount int
	failureRate  float64
}

// NewMockService creates a simulated service.
func NewMockService(name string, tracer *spanz.Tracer) *MockService {
	return &MockService{
		name:   name,
		tracer: tracer,
	}
}

// SetFailureRate configures error probability (0.0-1.0).
func (m *MockService) SetFailureRate(rate float64) {
	m.mu.Lock()
	m.failureRate = rate
	m.mu.Unlock()
}

// Requests returns how many calls the service received.
func (m *MockService) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Call runs operation as a span under the span carried by ctx.
// next, when non-nil, runs inside the span with a context carrying it.
func (m *MockService) Call(ctx context.Context, operation string, next func(context.Context) error) error {
	m.mu.Lock()
	m.requestCount++
	count := m.requestCount
	shouldFail := rand.Float64() < m.failureRate
	m.mu.Unlock()

	return m.tracer.TraceContext(ctx, m.name+"."+operation, func(ctx context.Context) error {
		span := spanz.SpanFromContext(ctx)
		span.AddTag("service", m.name)
		span.AddTag("request_id", fmt.Sprintf("%d", count))

		m.tracer.SimulateWork(time.Millisecond, 5*time.Millisecond)

		if shouldFail {
			return fmt.Errorf("%s: simulated failure", m.name)
		}
		if next != nil {
			return next(ctx)
		}
		return nil
	})
}
