package spanz

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// RecordTimeLayout is the timestamp format used in journal records.
const RecordTimeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	noParent    = "-"
	noEndTime   = "..."
	tagSep      = ", "
	fieldSep    = " | "
	maxLineSize = 1 << 20
)

// ErrMalformedRecord is returned when a journal line cannot be parsed.
var ErrMalformedRecord = errors.New("malformed journal record")

// Journal is the durable sink for finished spans.
// Implementations must be safe for concurrent use and must not interleave records.
type Journal interface {
	Append(span *Span) error
	Close() error
}

// String renders the span as a single journal line:
//
//	[trace] span parent=id | start -> end | name (Nms) | STATUS errored=bool | k=v, k=v
func (s Span) String() string {
	var b strings.Builder

	parent := noParent
	if s.ParentSpanID != "" {
		parent = quoteID(s.ParentSpanID, fieldSep)
	}
	end := noEndTime
	if s.Finished() {
		end = s.EndTime.Format(RecordTimeLayout)
	}

	fmt.Fprintf(&b, "[%s] %s parent=%s | %s -> %s | %s (%dms) | %s errored=%t | ",
		quoteID(s.TraceID, "] "),
		quoteID(s.SpanID, " parent="),
		parent,
		s.StartTime.Format(RecordTimeLayout),
		end,
		quoteIfNeeded(s.Name, fieldSep, " ("),
		s.DurationMs(),
		s.Status,
		s.Errored,
	)

	for i, tag := range s.Tags {
		if i > 0 {
			b.WriteString(tagSep)
		}
		b.WriteString(quoteIfNeeded(tag.Key, "=", tagSep))
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(tag.Value, tagSep))
	}

	return b.String()
}

// quoteIfNeeded Go-quotes s when it would break the single-line layout.
func quoteIfNeeded(s string, separators ...string) string {
	if strings.ContainsAny(s, "\"\n\r") {
		return strconv.Quote(s)
	}
	for _, sep := range separators {
		if strings.Contains(s, sep) {
			return strconv.Quote(s)
		}
	}
	return s
}

// quoteID quotes ids that are empty, collide with the no-parent marker or
// contain a separator.
func quoteID(id string, separators ...string) string {
	if id == "" || id == noParent {
		return strconv.Quote(id)
	}
	return quoteIfNeeded(id, separators...)
}

// readToken reads a possibly quoted token from the front of s.
// Unquoted tokens end at stop, or at the end of s.
func readToken(s, stop string) (token, rest string, err error) {
	if strings.HasPrefix(s, `"`) {
		quoted, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		token, err = strconv.Unquote(quoted)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return token, s[len(quoted):], nil
	}
	if i := strings.Index(s, stop); i >= 0 {
		return s[:i], s[i:], nil
	}
	return s, "", nil
}

// readField reads a possibly quoted token terminated by sep and drops sep.
func readField(s, sep, field string) (token, rest string, err error) {
	token, rest, err = readToken(s, sep)
	if err != nil {
		return "", "", err
	}
	rest, ok := strings.CutPrefix(rest, sep)
	if !ok {
		return "", "", fmt.Errorf("%w: missing %s", ErrMalformedRecord, field)
	}
	return token, rest, nil
}

func cutField(s, sep, field string) (before, after string, err error) {
	before, after, ok := strings.Cut(s, sep)
	if !ok {
		return "", "", fmt.Errorf("%w: missing %s", ErrMalformedRecord, field)
	}
	return before, after, nil
}

// ParseRecord parses a line written by Span.String.
func ParseRecord(line string) (Span, error) {
	var span Span

	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "[")
	if !ok {
		return span, fmt.Errorf("%w: missing trace id", ErrMalformedRecord)
	}

	var err error
	var parent, start, end, ms, status, errored string
	if span.TraceID, rest, err = readField(rest, "] ", "trace id"); err != nil {
		return span, err
	}
	if span.SpanID, rest, err = readField(rest, " parent=", "span id"); err != nil {
		return span, err
	}
	quotedParent := strings.HasPrefix(rest, `"`)
	if parent, rest, err = readField(rest, fieldSep, "parent id"); err != nil {
		return span, err
	}
	if quotedParent || parent != noParent {
		span.ParentSpanID = parent
	}
	if start, rest, err = cutField(rest, " -> ", "start time"); err != nil {
		return span, err
	}
	if end, rest, err = cutField(rest, fieldSep, "end time"); err != nil {
		return span, err
	}
	if span.StartTime, err = time.Parse(RecordTimeLayout, start); err != nil {
		return span, fmt.Errorf("%w: start time: %v", ErrMalformedRecord, err)
	}
	if end != noEndTime {
		if span.EndTime, err = time.Parse(RecordTimeLayout, end); err != nil {
			return span, fmt.Errorf("%w: end time: %v", ErrMalformedRecord, err)
		}
	}

	if span.Name, rest, err = readToken(rest, " ("); err != nil {
		return span, err
	}
	if rest, ok = strings.CutPrefix(rest, " ("); !ok {
		return span, fmt.Errorf("%w: missing duration", ErrMalformedRecord)
	}
	if ms, rest, err = cutField(rest, "ms)"+fieldSep, "duration"); err != nil {
		return span, err
	}
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return span, fmt.Errorf("%w: duration: %v", ErrMalformedRecord, err)
	}
	span.Duration = time.Duration(millis) * time.Millisecond

	if status, rest, err = cutField(rest, " errored=", "status"); err != nil {
		return span, err
	}
	switch Status(status) {
	case StatusStarted, StatusError, StatusFinished:
		span.Status = Status(status)
	default:
		return span, fmt.Errorf("%w: unknown status %q", ErrMalformedRecord, status)
	}
	if errored, rest, err = cutField(rest, fieldSep, "errored flag"); err != nil {
		return span, err
	}
	if span.Errored, err = strconv.ParseBool(errored); err != nil {
		return span, fmt.Errorf("%w: errored flag: %v", ErrMalformedRecord, err)
	}

	span.Tags, err = parseTags(rest)
	return span, err
}

func parseTags(s string) ([]Tag, error) {
	var tags []Tag
	for s != "" {
		key, rest, err := readToken(s, "=")
		if err != nil {
			return nil, err
		}
		rest, ok := strings.CutPrefix(rest, "=")
		if !ok {
			return nil, fmt.Errorf("%w: tag %q has no value", ErrMalformedRecord, key)
		}
		value, rest, err := readToken(rest, tagSep)
		if err != nil {
			return nil, err
		}
		tags = append(tags, Tag{Key: key, Value: value})

		if rest != "" {
			if rest, ok = strings.CutPrefix(rest, tagSep); !ok {
				return nil, fmt.Errorf("%w: unexpected %q after tag %q", ErrMalformedRecord, rest, key)
			}
		}
		s = rest
	}
	return tags, nil
}

// ReadJournal parses every record in r. Blank lines are skipped.
func ReadJournal(r io.Reader) ([]Span, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var spans []Span
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		span, err := ParseRecord(line)
		if err != nil {
			return spans, fmt.Errorf("line %d: %w", lineNo, err)
		}
		spans = append(spans, span)
	}
	if err := scanner.Err(); err != nil {
		return spans, fmt.Errorf("read journal: %w", err)
	}
	return spans, nil
}

// FileJournal appends records to a file, one line per span.
// Safe for concurrent use; writes are serialized.
type FileJournal struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// NewFileJournal creates a journal writing to path.
// The file is created on first append and never truncated.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

// Path returns the journal file path.
func (j *FileJournal) Path() string {
	return j.path
}

// Append writes span as a single line.
func (j *FileJournal) Append(span *Span) error {
	line := span.String() + "\n"

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open journal %s: %w", j.path, err)
		}
		j.file = f
	}

	if _, err := j.file.WriteString(line); err != nil {
		return fmt.Errorf("write journal %s: %w", j.path, err)
	}
	return nil
}

// Close flushes and closes the file. A later Append reopens it.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := multierr.Append(j.file.Sync(), j.file.Close())
	j.file = nil
	if err != nil {
		return fmt.Errorf("close journal %s: %w", j.path, err)
	}
	return nil
}

// WriterJournal appends records to an io.Writer such as os.Stdout.
type WriterJournal struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterJournal creates a journal writing to w.
func NewWriterJournal(w io.Writer) *WriterJournal {
	return &WriterJournal{w: w}
}

// Append writes span as a single line.
func (j *WriterJournal) Append(span *Span) error {
	line := span.String() + "\n"

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := io.WriteString(j.w, line); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Close is a no-op; the writer belongs to the caller.
func (*WriterJournal) Close() error {
	return nil
}
