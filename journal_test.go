package spanz

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func sampleSpan() Span {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return Span{
		TraceID:      "a1b2c3d4",
		SpanID:       "e5f6a7b8",
		ParentSpanID: "11223344",
		Name:         "database-query",
		StartTime:    start,
		EndTime:      start.Add(42 * time.Millisecond),
		Duration:     42 * time.Millisecond,
		Status:       StatusFinished,
		Errored:      true,
		Tags: []Tag{
			{"query", "SELECT * FROM users WHERE id=42"},
			{"error", "timeout"},
		},
	}
}

func assertSameSpan(t *testing.T, expected, got Span) {
	t.Helper()
	if got.TraceID != expected.TraceID || got.SpanID != expected.SpanID || got.ParentSpanID != expected.ParentSpanID {
		t.Errorf("Expected ids %s/%s/%s, got %s/%s/%s",
			expected.TraceID, expected.SpanID, expected.ParentSpanID,
			got.TraceID, got.SpanID, got.ParentSpanID)
	}
	if got.Name != expected.Name {
		t.Errorf("Expected name %q, got %q", expected.Name, got.Name)
	}
	if !got.StartTime.Equal(expected.StartTime.Truncate(time.Millisecond)) {
		t.Errorf("Expected start %v, got %v", expected.StartTime, got.StartTime)
	}
	if !got.EndTime.Equal(expected.EndTime.Truncate(time.Millisecond)) {
		t.Errorf("Expected end %v, got %v", expected.EndTime, got.EndTime)
	}
	if got.DurationMs() != expected.DurationMs() {
		t.Errorf("Expected %dms, got %dms", expected.DurationMs(), got.DurationMs())
	}
	if got.Status != expected.Status || got.Errored != expected.Errored {
		t.Errorf("Expected %s errored=%t, got %s errored=%t", expected.Status, expected.Errored, got.Status, got.Errored)
	}
	if len(got.Tags) != len(expected.Tags) {
		t.Fatalf("Expected tags %v, got %v", expected.Tags, got.Tags)
	}
	for i := range expected.Tags {
		if got.Tags[i] != expected.Tags[i] {
			t.Errorf("Expected tag %v, got %v", expected.Tags[i], got.Tags[i])
		}
	}
}

func TestSpanString(t *testing.T) {
	span := sampleSpan()

	expected := "[a1b2c3d4] e5f6a7b8 parent=11223344 | 2024-03-01T09:30:00.000Z -> 2024-03-01T09:30:00.042Z" +
		" | database-query (42ms) | FINISHED errored=true | query=SELECT * FROM users WHERE id=42, error=timeout"
	if got := span.String(); got != expected {
		t.Errorf("Expected record\n%s\ngot\n%s", expected, got)
	}
}

func TestSpanStringUnfinishedRoot(t *testing.T) {
	span := Span{
		TraceID:   "a1b2c3d4",
		SpanID:    "e5f6a7b8",
		Name:      "pending",
		StartTime: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Status:    StatusStarted,
	}

	record := span.String()
	if !strings.Contains(record, "parent=- |") {
		t.Errorf("Expected parent placeholder, got %s", record)
	}
	if !strings.Contains(record, "-> ... |") {
		t.Errorf("Expected end time placeholder, got %s", record)
	}

	parsed, err := ParseRecord(record)
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if parsed.ParentSpanID != "" || !parsed.EndTime.IsZero() || parsed.Status != StatusStarted {
		t.Errorf("Expected unfinished root span, got %+v", parsed)
	}
}

func TestParseRecordRoundTrip(t *testing.T) {
	span := sampleSpan()

	parsed, err := ParseRecord(span.String())
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	assertSameSpan(t, span, parsed)
}

func TestParseRecordAwkwardValues(t *testing.T) {
	span := sampleSpan()
	span.Name = "weird | name (with parens)"
	span.Tags = []Tag{
		{"error", "line one\nline two"},
		{"list", "a, b, c"},
		{"quoted", `say "hi"`},
		{"k=v", "x"},
		{"empty", ""},
		{"pipe", "left | right"},
	}

	record := span.String()
	if strings.Contains(record, "\n") {
		t.Fatalf("Expected single-line record, got %q", record)
	}

	parsed, err := ParseRecord(record)
	if err != nil {
		t.Fatalf("ParseRecord failed on %q: %v", record, err)
	}
	assertSameSpan(t, span, parsed)
}

func TestParseRecordAwkwardIDs(t *testing.T) {
	cases := map[string]struct{ trace, span, parent string }{
		"newline in trace":   {"abc\ndef", "e5f6a7b8", "11223344"},
		"bracket in trace":   {"a] b", "e5f6a7b8", "11223344"},
		"trailing bracket":   {"abc]", "e5f6a7b8", ""},
		"empty trace":        {"", "e5f6a7b8", "11223344"},
		"parent marker span": {"a1b2c3d4", "x parent=y", "11223344"},
		"dash parent":        {"a1b2c3d4", "e5f6a7b8", "-"},
		"pipe in parent":     {"a1b2c3d4", "e5f6a7b8", "left | right"},
		"quote in parent":    {"a1b2c3d4", "e5f6a7b8", `"p"`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			span := sampleSpan()
			span.TraceID = tc.trace
			span.SpanID = tc.span
			span.ParentSpanID = tc.parent

			record := span.String()
			if strings.Contains(record, "\n") {
				t.Fatalf("Expected single-line record, got %q", record)
			}
			parsed, err := ParseRecord(record)
			if err != nil {
				t.Fatalf("ParseRecord failed on %q: %v", record, err)
			}
			if parsed.TraceID != tc.trace || parsed.SpanID != tc.span || parsed.ParentSpanID != tc.parent {
				t.Errorf("Expected ids %q/%q/%q, got %q/%q/%q from %q",
					tc.trace, tc.span, tc.parent, parsed.TraceID, parsed.SpanID, parsed.ParentSpanID, record)
			}
		})
	}
}

func TestStoreJournalsCallerSuppliedIDs(t *testing.T) {
	var out strings.Builder
	store := NewStore(NewWriterJournal(&out), nil)
	defer store.Close()

	child := store.StartChildTrace("op", "abc\ndef", "-")
	store.FinishTrace(child)

	spans, err := ReadJournal(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("ReadJournal failed on %q: %v", out.String(), err)
	}
	if len(spans) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(spans))
	}
	if spans[0].TraceID != "abc\ndef" {
		t.Errorf("Expected trace id %q, got %q", "abc\ndef", spans[0].TraceID)
	}
	if spans[0].ParentSpanID != "-" {
		t.Errorf("Expected parent %q, got %q", "-", spans[0].ParentSpanID)
	}
}

func TestParseRecordMalformed(t *testing.T) {
	record := sampleSpan()
	good := record.String()

	cases := map[string]string{
		"empty":          "",
		"no bracket":     strings.TrimPrefix(good, "["),
		"bad start time": strings.Replace(good, "2024-03-01T09:30:00.000Z", "yesterday", 1),
		"bad duration":   strings.Replace(good, "(42ms)", "(fast)", 1),
		"bad status":     strings.Replace(good, "FINISHED", "DONE", 1),
		"bad errored":    strings.Replace(good, "errored=true", "errored=maybe", 1),
		"truncated":      good[:40],
		"bad tag":        strings.Replace(good, "error=timeout", "errortimeout", 1),
	}

	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRecord(line); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("Expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestFileJournalAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.log")
	journal := NewFileJournal(path)

	first := sampleSpan()
	second := sampleSpan()
	second.SpanID = "99999999"
	second.Errored = false
	second.Tags = nil

	if err := journal.Append(&first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := journal.Append(&second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Appending after close reopens without truncating.
	third := sampleSpan()
	third.SpanID = "77777777"
	if err := journal.Append(&third); err != nil {
		t.Fatalf("Append after close failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	spans, err := ReadJournal(f)
	if err != nil {
		t.Fatalf("ReadJournal failed: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(spans))
	}
	assertSameSpan(t, first, spans[0])
	assertSameSpan(t, second, spans[1])
	assertSameSpan(t, third, spans[2])

	if journal.Path() != path {
		t.Errorf("Expected path %s, got %s", path, journal.Path())
	}
}

func TestFileJournalUnwritable(t *testing.T) {
	journal := NewFileJournal(filepath.Join(t.TempDir(), "missing-dir", "traces.log"))

	span := sampleSpan()
	if err := journal.Append(&span); err == nil {
		t.Error("Expected error writing into a missing directory")
	}
}

func TestFileJournalConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.log")
	journal := NewFileJournal(path)

	var wg sync.WaitGroup
	numWriters := 20
	perWriter := 25
	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				span := sampleSpan()
				span.SpanID = NewShortID()
				if err := journal.Append(&span); err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if err := journal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	spans, err := ReadJournal(f)
	if err != nil {
		t.Fatalf("Expected every record to parse, got %v", err)
	}
	if len(spans) != numWriters*perWriter {
		t.Errorf("Expected %d records, got %d", numWriters*perWriter, len(spans))
	}
}

func TestReadJournalReportsLine(t *testing.T) {
	record := sampleSpan()
	good := record.String()
	input := good + "\n\n" + "garbage\n"

	spans, err := ReadJournal(strings.NewReader(input))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("Expected ErrMalformedRecord, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("Expected error to name line 3, got %v", err)
	}
	if len(spans) != 1 {
		t.Errorf("Expected the good record before the failure, got %d", len(spans))
	}
}

func TestWriterJournal(t *testing.T) {
	var b strings.Builder
	journal := NewWriterJournal(&b)

	span := sampleSpan()
	if err := journal.Append(&span); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Errorf("Expected no-op close, got %v", err)
	}

	if b.String() != span.String()+"\n" {
		t.Errorf("Expected one record line, got %q", b.String())
	}
}

func TestStoreWritesFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.log")
	store := NewStore(NewFileJournal(path), nil)

	span := store.StartTrace("get-user")
	span.AddTag("user.id", "42")
	store.FinishTrace(span)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	spans, err := ReadJournal(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("ReadJournal failed: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(spans))
	}
	assertSameSpan(t, store.ListAllFinished()[0], spans[0])
}
